package external

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"quora/internal/types"
)

// SESAPI is the part of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClientConfig configures an SESClient.
type SESClientConfig struct {
	// ConfigSetName enables SES event publishing; optional.
	ConfigSetName string
	Logger        *slog.Logger
}

// SESClient sends mail through AWS SES v2 using simple content. Retries are
// left to the SDK.
type SESClient struct {
	api           SESAPI
	configSetName string
	logger        *slog.Logger
}

func NewSESClient(awsCfg aws.Config, cfg SESClientConfig) *SESClient {
	return NewSESClientWithAPI(sesv2.NewFromConfig(awsCfg), cfg)
}

func NewSESClientWithAPI(api SESAPI, cfg SESClientConfig) *SESClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SESClient{
		api:           api,
		configSetName: cfg.ConfigSetName,
		logger:        logger,
	}
}

func utf8Content(s string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

// Send delivers input. Threading headers are passed through as custom
// message headers in a stable order.
func (s *SESClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	msg := &sestypes.Message{
		Subject: utf8Content(input.Subject),
		Body:    &sestypes.Body{},
		Headers: sesHeaders(input.Headers),
	}
	if input.BodyHTML != "" {
		msg.Body.Html = utf8Content(input.BodyHTML)
	}
	if input.BodyText != "" {
		msg.Body.Text = utf8Content(input.BodyText)
	}

	req := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatSender(input.From)),
		Destination:      &sestypes.Destination{ToAddresses: []string{input.To}},
		Content:          &sestypes.EmailContent{Simple: msg},
	}
	if s.configSetName != "" {
		req.ConfigurationSetName = aws.String(s.configSetName)
	}
	if input.ReferenceID != "" {
		req.EmailTags = []sestypes.MessageTag{
			{Name: aws.String("ReferenceID"), Value: aws.String(input.ReferenceID)},
		}
	}

	out, err := s.api.SendEmail(ctx, req)
	if err != nil {
		return "", mapSESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

func sesHeaders(h map[string]string) []sestypes.MessageHeader {
	if len(h) == 0 {
		return nil
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]sestypes.MessageHeader, 0, len(names))
	for _, name := range names {
		out = append(out, sestypes.MessageHeader{Name: aws.String(name), Value: aws.String(h[name])})
	}
	return out
}

// formatSender renders "Name <address>" with RFC 5322 quoting.
func formatSender(from types.SenderIdentity) string {
	if from.Name == "" {
		return from.Address
	}
	return (&mail.Address{Name: from.Name, Address: from.Address}).String()
}

func mapSESError(err error) error {
	var rejected *sestypes.MessageRejected
	var throttled *sestypes.TooManyRequestsException
	var paused *sestypes.SendingPausedException
	var badRequest *sestypes.BadRequestException

	switch {
	case errors.As(err, &rejected):
		return types.NewAppError(types.ErrCodeEmailBlocked, "SES rejected message", err)
	case errors.As(err, &badRequest):
		return types.NewAppError(types.ErrCodeEmailBlocked, "SES refused message", err)
	case errors.As(err, &throttled):
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "SES rate limit exceeded", err)
	case errors.As(err, &paused):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "SES sending paused", err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "SES send failed", err)
	}
}

var _ EmailProvider = (*SESClient)(nil)
