package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"quora/internal/types"
)

const sendGridAPIBase = "https://api.sendgrid.com"

// SendGridClientConfig configures a SendGridClient.
type SendGridClientConfig struct {
	APIKey  string
	BaseURL string // defaults to the public API
	Logger  *slog.Logger
}

// SendGridClient sends mail through the SendGrid v3 mail/send endpoint.
type SendGridClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// NewSendGridClient wraps httpClient in a BaseClient named "sendgrid".
func NewSendGridClient(httpClient *http.Client, cfg SendGridClientConfig) *SendGridClient {
	base := NewBaseClient(httpClient, "sendgrid", DefaultRetryPolicy(), "quora-mailer/1.0")
	return NewSendGridClientWithBase(base, cfg)
}

// NewSendGridClientWithBase uses a caller-built BaseClient.
func NewSendGridClientWithBase(base *BaseClient, cfg SendGridClientConfig) *SendGridClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridMail struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	Headers          map[string]string         `json:"headers,omitempty"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

// buildMail maps input to the mail/send body. SendGrid requires text/plain
// to precede text/html.
func buildMail(input types.SendInput) sendGridMail {
	m := sendGridMail{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: input.To}}}},
		From:             sendGridAddress{Email: input.From.Address, Name: input.From.Name},
		Subject:          input.Subject,
		Headers:          input.Headers,
	}
	if input.BodyText != "" {
		m.Content = append(m.Content, sendGridContent{Type: "text/plain", Value: input.BodyText})
	}
	if input.BodyHTML != "" {
		m.Content = append(m.Content, sendGridContent{Type: "text/html", Value: input.BodyHTML})
	}
	if input.ReferenceID != "" {
		m.CustomArgs = map[string]string{"reference_id": input.ReferenceID}
	}
	return m
}

// Send posts the message and returns the X-Message-Id of the 202 response.
func (s *SendGridClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	body, err := json.Marshal(buildMail(input))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode SendGrid payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build SendGrid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return resp.Header.Get("X-Message-Id"), nil
	}
	return "", s.responseError(resp)
}

type sendGridErrors struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func (s *SendGridClient) responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	detail := strings.TrimSpace(string(raw))
	var parsed sendGridErrors
	if json.Unmarshal(raw, &parsed) == nil && len(parsed.Errors) > 0 {
		detail = parsed.Errors[0].Message
	}

	if resp.StatusCode == http.StatusForbidden {
		return types.NewAppError(types.ErrCodeEmailBlocked, "SendGrid blocked delivery: "+detail, nil)
	}
	s.logger.Warn("SendGrid rejected request", "status", resp.StatusCode, "detail", detail)
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, fmt.Sprintf("SendGrid error (%d): %s", resp.StatusCode, detail), nil)
}

var _ EmailProvider = (*SendGridClient)(nil)
