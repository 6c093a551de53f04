package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"courier/internal/notifications/email"
	"courier/internal/types"
)

// DeliveryRequest is one message handed to the gateway. Original is the raw
// queue body, embedded verbatim in the dead-letter record on exhaustion.
type DeliveryRequest struct {
	NotificationID string
	To             string
	Content        types.RenderedContent
	Original       []byte
}

// DeliveryResult reports what the gateway did. LastError is set only when
// Delivered is false.
type DeliveryResult struct {
	Delivered         bool
	Attempts          int
	LastError         string
	StatusCode        int
	ProviderMessageID string
}

// GatewayConfig configures a DeliveryGateway. Zero values take defaults:
// MailRetryPolicy, SleepContext, NoopMetrics and time.Now.
type GatewayConfig struct {
	Transport   MailTransport
	DeadLetters DeadLetterSink
	Provider    string
	From        types.EmailAddress
	Policy      RetryPolicy
	Sleep       SleepFunc
	Metrics     NotificationMetrics
	Logger      types.Logger
	Now         func() time.Time
}

// DeliveryGateway sends a rendered message through the configured transport
// with a bounded retry loop. When every attempt fails the original job is
// pushed to the dead-letter queue.
type DeliveryGateway struct {
	transport   MailTransport
	deadLetters DeadLetterSink
	provider    string
	from        types.EmailAddress
	policy      RetryPolicy
	sleep       SleepFunc
	metrics     NotificationMetrics
	logger      types.Logger
	now         func() time.Time
}

// NewDeliveryGateway creates a gateway from cfg.
func NewDeliveryGateway(cfg GatewayConfig) *DeliveryGateway {
	g := &DeliveryGateway{
		transport:   cfg.Transport,
		deadLetters: cfg.DeadLetters,
		provider:    cfg.Provider,
		from:        cfg.From,
		policy:      cfg.Policy,
		sleep:       cfg.Sleep,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if g.policy.MaxAttempts <= 0 {
		g.policy = MailRetryPolicy
	}
	if g.sleep == nil {
		g.sleep = SleepContext
	}
	if g.metrics == nil {
		g.metrics = NoopMetrics{}
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.from.Name == "" {
		g.from.Name = DefaultFromName
	}
	return g
}

// AttemptDelivery calls the transport up to policy.MaxAttempts times. Before
// attempt n (n >= 1) it waits CalculateNextRetry(policy, n-1). An attempt
// succeeds when the transport returns no error and a 2xx status.
//
// Exhaustion is not an error: the result carries Delivered=false and the
// last failure text, and the dead-letter record has already been pushed. The
// returned error is non-nil only when ctx is canceled, in which case nothing
// is dead-lettered.
func (g *DeliveryGateway) AttemptDelivery(ctx context.Context, req DeliveryRequest) (DeliveryResult, error) {
	input := types.SendInput{
		To:          req.To,
		From:        g.from,
		Subject:     req.Content.Subject,
		BodyHTML:    req.Content.Body,
		ReferenceID: req.NotificationID,
	}
	logger := g.logger.With("notification_id", req.NotificationID, "provider", g.provider)

	var result DeliveryResult
	for attempt := 0; attempt < g.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, CalculateNextRetry(g.policy, attempt-1)); err != nil {
				return result, err
			}
		}

		start := g.now()
		res, err := g.transport.Send(ctx, input)
		latency := g.now().Sub(start)
		result.Attempts = attempt + 1
		result.StatusCode = res.StatusCode

		if err == nil && res.Succeeded() {
			g.metrics.RecordAttempt(ctx, g.provider, MetricSuccess, latency)
			result.Delivered = true
			result.LastError = ""
			result.ProviderMessageID = res.ProviderMessageID
			logger.Info("email delivered",
				"attempt", result.Attempts,
				"status_code", res.StatusCode,
				"provider_message_id", res.ProviderMessageID,
			)
			return result, nil
		}
		g.metrics.RecordAttempt(ctx, g.provider, MetricFailed, latency)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}

		result.LastError = attemptError(err, res.StatusCode)
		logger.Warn("delivery attempt failed",
			"attempt", result.Attempts,
			"max_attempts", g.policy.MaxAttempts,
			"status_code", res.StatusCode,
			"failure", string(email.ClassifyFailure(err, res.StatusCode)),
			"error", result.LastError,
		)
	}

	logger.Error("delivery attempts exhausted",
		"attempts", result.Attempts,
		"error", result.LastError,
	)
	g.deadLetters.Push(ctx, req.Original, result.LastError)
	return result, nil
}

func attemptError(err error, statusCode int) string {
	if err != nil {
		return describeError(err)
	}
	return fmt.Sprintf("mail transport returned status %d", statusCode)
}

// describeError returns the AppError message when there is one, so reports
// and dead-letter records do not carry the internal code prefix.
func describeError(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}

// SleepContext waits for d, returning early with ctx.Err() on cancellation.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
