// Package core holds the pieces shared by the mail cron jobs: the per-run
// cache of users and course context, the mailer that hands rendered
// messages to the provider, and run metrics.
package core

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"quora/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// MetricPublisher records the outcome of one cron run. Implementations
// never fail the run; publishing errors are logged.
type MetricPublisher interface {
	PublishRun(ctx context.Context, job string, counts map[string]int, elapsed time.Duration)
}

// NopMetrics discards everything. Used when ENABLE_METRICS=false and in tests.
type NopMetrics struct{}

// PublishRun implements MetricPublisher.
func (NopMetrics) PublishRun(context.Context, string, map[string]int, time.Duration) {}

// CloudWatchCronMetrics emits one datum per counter plus RunDuration, all
// dimensioned by Job, in a single PutMetricData call.
type CloudWatchCronMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ MetricPublisher = (*CloudWatchCronMetrics)(nil)

// NewCloudWatchCronMetrics publishes to namespace, or types.MetricNamespace
// when empty.
func NewCloudWatchCronMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchCronMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchCronMetrics{client: client, namespace: namespace, logger: logger}
}

// PublishRun implements MetricPublisher.
func (m *CloudWatchCronMetrics) PublishRun(ctx context.Context, job string, counts map[string]int, elapsed time.Duration) {
	dims := []cwtypes.Dimension{{Name: aws.String(types.DimJob), Value: aws.String(job)}}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make([]cwtypes.MetricDatum, 0, len(names)+1)
	for _, name := range names {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(float64(counts[name])),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		})
	}
	data = append(data, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricRunDuration),
		Value:      aws.Float64(float64(elapsed.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: dims,
	})

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.WarnContext(ctx, "failed to publish run metrics",
			"job", job,
			"error", err,
		)
	}
}
