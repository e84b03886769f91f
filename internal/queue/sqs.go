// Package queue publishes forum events to the configured event sink.
// Publishing is fire-and-forget from the caller's point of view: services
// log a failed Publish and carry on.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"quora/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSEventPublisher sends each event as a JSON message to one queue.
// The event type travels as a message attribute so consumers can filter
// without decoding the body.
type SQSEventPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewSQSEventPublisher creates a publisher targeting queueURL.
func NewSQSEventPublisher(client SQSSender, queueURL string, logger *slog.Logger) *SQSEventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSEventPublisher{client: client, queueURL: queueURL, logger: logger}
}

// Publish implements types.EventPublisher.
func (p *SQSEventPublisher) Publish(ctx context.Context, event types.Event) error {
	if event.RequestID == "" {
		event.RequestID = types.GetRequestID(ctx)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Type)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamEvents,
			fmt.Sprintf("failed to send %s event", event.Type), err)
	}

	p.logger.DebugContext(ctx, "event published",
		"event_id", event.ID,
		"event_type", string(event.Type),
		"queue_url", p.queueURL,
	)
	return nil
}

var _ types.EventPublisher = (*SQSEventPublisher)(nil)
