package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/google/uuid"

	"quora/internal/config"
	"quora/internal/types"
)

// NewEmailProvider builds the provider selected by cfg.Provider. awsCfg is
// only used for "ses".
func NewEmailProvider(cfg config.EmailConfig, awsCfg aws.Config, logger *slog.Logger) (EmailProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case "ses":
		return NewSESClient(awsCfg, SESClientConfig{ConfigSetName: cfg.ConfigSetName, Logger: logger}), nil
	case "sendgrid":
		return NewSendGridClient(&http.Client{Timeout: cfg.Timeout}, SendGridClientConfig{
			APIKey: cfg.SendGridAPIKey.Unmask(),
			Logger: logger,
		}), nil
	case "log":
		return NewLogEmailProvider(logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// LogEmailProvider logs messages instead of sending them and keeps the
// last ones in memory. Used in local development.
type LogEmailProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []types.SendInput
}

func NewLogEmailProvider(logger *slog.Logger) *LogEmailProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmailProvider{logger: logger}
}

const logProviderKeep = 100

func (p *LogEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	id := "log-" + uuid.NewString()
	p.logger.InfoContext(ctx, "Email not sent (log provider)",
		"message_id", id,
		"to", input.To,
		"subject", input.Subject,
		"reference_id", input.ReferenceID,
	)

	p.mu.Lock()
	p.sent = append(p.sent, input)
	if len(p.sent) > logProviderKeep {
		p.sent = p.sent[len(p.sent)-logProviderKeep:]
	}
	p.mu.Unlock()
	return id, nil
}

// Sent returns a copy of the retained messages, oldest first.
func (p *LogEmailProvider) Sent() []types.SendInput {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.SendInput(nil), p.sent...)
}

var _ EmailProvider = (*LogEmailProvider)(nil)
