package types

// Telemetry metric names. All metrics backends use these constants.
const (
	MetricJobOutcome      = "JobOutcome"
	MetricDeliveryAttempt = "DeliveryAttempt"
	MetricDeliveryLatency = "DeliveryLatency"
	MetricDeadLettered    = "DeadLettered"
	MetricQueueLag        = "QueueLag"

	DimOutcome  = "Outcome"
	DimResult   = "Result"
	DimProvider = "Provider"

	// MetricNamespace is the CloudWatch default when none is configured.
	MetricNamespace = "Courier"
)
