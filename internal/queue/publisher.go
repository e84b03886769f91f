package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"quora/internal/config"
	"quora/internal/types"
)

// NopPublisher drops every event. Used when EVENTS_BACKEND=none.
type NopPublisher struct{}

// Publish implements types.EventPublisher.
func (NopPublisher) Publish(context.Context, types.Event) error { return nil }

// NewEventPublisher builds the publisher selected by EVENTS_BACKEND. The
// returned close func releases any producer connection and is never nil.
func NewEventPublisher(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (types.EventPublisher, func(), error) {
	switch cfg.Events.Backend {
	case "sqs":
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		return NewSQSEventPublisher(client, cfg.AWS.EventQueueURL, logger), func() {}, nil
	case "nsq":
		p, err := NewNSQEventPublisher(cfg.Events.NSQDAddr, cfg.Events.NSQTopic, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	case "none", "":
		return NopPublisher{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("queue: unknown events backend %q", cfg.Events.Backend)
	}
}
