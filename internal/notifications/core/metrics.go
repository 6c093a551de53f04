package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"courier/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchNotificationMetrics emits worker metrics to AWS CloudWatch.
//
// Metrics emitted:
//   - JobOutcome: Dims {Outcome}, once per processed message
//   - DeliveryAttempt: Dims {Provider, Result}, once per transport call
//   - DeliveryLatency: Dims {Provider}, transport call duration in ms
//   - DeadLettered: no dims
//   - QueueLag: no dims, enqueue-to-processing delay in ms
var _ NotificationMetrics = (*CloudWatchNotificationMetrics)(nil)

type CloudWatchNotificationMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchNotificationMetrics creates metrics publishing to namespace.
// An empty namespace uses types.MetricNamespace.
func NewCloudWatchNotificationMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchNotificationMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchNotificationMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordOutcome emits JobOutcome with the Outcome dimension.
func (m *CloudWatchNotificationMetrics) RecordOutcome(ctx context.Context, outcome Outcome) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricJobOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimOutcome), Value: aws.String(string(outcome))},
		},
	}, "outcome", string(outcome))
}

// RecordAttempt emits DeliveryAttempt and DeliveryLatency in one call.
func (m *CloudWatchNotificationMetrics) RecordAttempt(ctx context.Context, provider string, result MetricResult, latency time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryAttempt),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimProvider), Value: aws.String(provider)},
			{Name: aws.String(types.DimResult), Value: aws.String(string(result))},
		},
	}, "provider", provider, "result", string(result))

	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryLatency),
		Value:      aws.Float64(float64(latency.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimProvider), Value: aws.String(provider)},
		},
	}, "provider", provider, "duration_ms", latency.Milliseconds())
}

// RecordDeadLetter emits DeadLettered.
func (m *CloudWatchNotificationMetrics) RecordDeadLetter(ctx context.Context) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeadLettered),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
	})
}

// RecordQueueLag emits the time between enqueue and processing start.
func (m *CloudWatchNotificationMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricQueueLag),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	}, "lag_ms", lag.Milliseconds())
}

func (m *CloudWatchNotificationMetrics) put(ctx context.Context, datum cwtypes.MetricDatum, logArgs ...any) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		args := append([]any{"error", err.Error(), "metric", aws.ToString(datum.MetricName)}, logArgs...)
		m.logger.Error("failed to record metric", args...)
	}
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

var _ NotificationMetrics = NoopMetrics{}

func (NoopMetrics) RecordOutcome(context.Context, Outcome)                             {}
func (NoopMetrics) RecordAttempt(context.Context, string, MetricResult, time.Duration) {}
func (NoopMetrics) RecordDeadLetter(context.Context)                                   {}
func (NoopMetrics) RecordQueueLag(context.Context, time.Duration)                      {}
