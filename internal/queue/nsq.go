package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"quora/internal/types"
)

// NSQPublisher is the subset of *nsq.Producer used here.
type NSQPublisher interface {
	Publish(topic string, body []byte) error
	Stop()
}

// NSQEventPublisher publishes events to an nsqd topic for self-hosted
// deployments without SQS.
type NSQEventPublisher struct {
	producer NSQPublisher
	topic    string
	logger   *slog.Logger
}

// NewNSQEventPublisher connects a producer to nsqdAddr.
func NewNSQEventPublisher(nsqdAddr, topic string, logger *slog.Logger) (*NSQEventPublisher, error) {
	cfg := nsq.NewConfig()
	p, err := nsq.NewProducer(nsqdAddr, cfg)
	if err != nil {
		return nil, fmt.Errorf("queue: failed to create nsq producer: %w", err)
	}
	return NewNSQEventPublisherWithProducer(p, topic, logger), nil
}

// NewNSQEventPublisherWithProducer wraps an existing producer.
func NewNSQEventPublisherWithProducer(producer NSQPublisher, topic string, logger *slog.Logger) *NSQEventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NSQEventPublisher{producer: producer, topic: topic, logger: logger}
}

// Publish implements types.EventPublisher. go-nsq does not take a context;
// a cancelled context short-circuits before the network call.
func (p *NSQEventPublisher) Publish(ctx context.Context, event types.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.RequestID == "" {
		event.RequestID = types.GetRequestID(ctx)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal event: %w", err)
	}
	if err := p.producer.Publish(p.topic, body); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamEvents,
			fmt.Sprintf("failed to publish %s event", event.Type), err)
	}

	p.logger.DebugContext(ctx, "event published",
		"event_id", event.ID,
		"event_type", string(event.Type),
		"topic", p.topic,
	)
	return nil
}

// Close stops the underlying producer.
func (p *NSQEventPublisher) Close() {
	if p.producer != nil {
		p.producer.Stop()
	}
}

var _ types.EventPublisher = (*NSQEventPublisher)(nil)
