// Package core holds the per-message delivery pipeline of the email worker:
// job decoding, the idempotency gate, the recipient skip policy, the delivery
// gateway with its bounded retry loop, dead-letter routing and the outcome
// metrics. Transport-specific code lives in internal/external and
// broker-specific code in internal/queue.
package core

import (
	"context"
	"time"

	"courier/internal/types"
)

// Outcome is the terminal classification of one processed message. Every
// message ends in exactly one Outcome.
type Outcome string

const (
	// OutcomeMalformed: the body failed to decode or validate. Dead-lettered.
	OutcomeMalformed Outcome = "MALFORMED"
	// OutcomeDuplicate: already DELIVERED or SKIPPED. Nothing sent.
	OutcomeDuplicate Outcome = "DUPLICATE"
	// OutcomeNoContact: the user is unknown or has no usable address.
	OutcomeNoContact Outcome = "NO_CONTACT"
	// OutcomeOptedOut: the user disabled email notifications.
	OutcomeOptedOut Outcome = "OPTED_OUT"
	// OutcomeResolveFailed: the user service failed. Requeued.
	OutcomeResolveFailed Outcome = "RESOLVE_FAILED"
	// OutcomeRenderFailed: the template service failed. Requeued.
	OutcomeRenderFailed Outcome = "RENDER_FAILED"
	// OutcomeDelivered: the transport accepted the message.
	OutcomeDelivered Outcome = "DELIVERED"
	// OutcomeFailed: delivery attempts were exhausted, or a store write failed.
	OutcomeFailed Outcome = "FAILED"
)

// Outcomes lists every Outcome, for metric pre-registration.
var Outcomes = []Outcome{
	OutcomeMalformed, OutcomeDuplicate, OutcomeNoContact, OutcomeOptedOut,
	OutcomeResolveFailed, OutcomeRenderFailed, OutcomeDelivered, OutcomeFailed,
}

// Status-report texts sent to the API gateway.
const (
	ReasonDuplicate  = "Duplicate notification"
	ReasonNoContact  = "No email address on file"
	ReasonOptedOut   = "Email notifications disabled"
	DefaultFromName  = "Courier"
	dlqPublishBudget = 10 * time.Second
)

// StatusStore is the idempotency record. Implemented by *status.Store.
type StatusStore interface {
	IsDuplicate(ctx context.Context, notificationID string) (bool, error)
	Set(ctx context.Context, notificationID string, status types.NotificationStatus) error
}

// RecipientResolver looks up the recipient. Implemented by
// *external.UserServiceClient.
type RecipientResolver interface {
	FetchUser(ctx context.Context, userID string) (types.UserProfile, error)
}

// TemplateRenderer renders subject and body. Implemented by
// *external.TemplateServiceClient.
type TemplateRenderer interface {
	Render(ctx context.Context, in types.TemplateRenderRequest) (types.TemplateRenderResult, error)
}

// StatusReporter forwards status changes to the API gateway. Implementations
// must not block beyond their own timeout and never fail.
type StatusReporter interface {
	Report(ctx context.Context, notificationID string, status types.NotificationStatus, errText string)
}

// MailTransport sends one message. Implemented by every
// external.EmailProvider.
type MailTransport interface {
	Send(ctx context.Context, input types.SendInput) (types.SendResult, error)
}

// DeadLetterPublisher writes an encoded dead-letter record to the broker.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, body []byte) error
}

// DeadLetterSink accepts failed jobs. Implemented by *DeadLetterRouter.
type DeadLetterSink interface {
	Push(ctx context.Context, original []byte, errText string)
}

// MetricResult is the result dimension of a delivery attempt.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
)

// NotificationMetrics abstracts the telemetry backend. Implementations log
// and swallow their own errors.
type NotificationMetrics interface {
	RecordOutcome(ctx context.Context, outcome Outcome)
	RecordAttempt(ctx context.Context, provider string, result MetricResult, latency time.Duration)
	RecordDeadLetter(ctx context.Context)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// RetryPolicy defines the exponential backoff parameters for delivery retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// MailRetryPolicy is the default gateway policy: 5 attempts, waits of 1s,
// 2s, 4s and 8s between them, capped at 60s.
var MailRetryPolicy = RetryPolicy{
	MaxAttempts:   5,
	BaseDelay:     1 * time.Second,
	MaxDelay:      60 * time.Second,
	BackoffFactor: 2.0,
}

// CalculateNextRetry computes the delay before retry n (0-based):
// delay = min(BaseDelay * BackoffFactor^n, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
		if delay >= float64(policy.MaxDelay) {
			return policy.MaxDelay
		}
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay || d < 0 {
		d = policy.MaxDelay
	}
	return d
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error
