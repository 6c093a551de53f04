package core

import (
	"context"
	"errors"
	"time"

	"courier/internal/notifications/email"
	"courier/internal/types"
)

// Deliverer is the gateway as seen by the orchestrator.
type Deliverer interface {
	AttemptDelivery(ctx context.Context, req DeliveryRequest) (DeliveryResult, error)
}

var _ Deliverer = (*DeliveryGateway)(nil)

// OrchestratorConfig wires the orchestrator's collaborators. Metrics defaults
// to NoopMetrics.
type OrchestratorConfig struct {
	Store       StatusStore
	Users       RecipientResolver
	Templates   TemplateRenderer
	Gateway     Deliverer
	Reporter    StatusReporter
	DeadLetters DeadLetterSink
	Metrics     NotificationMetrics
	Logger      types.Logger
}

// Orchestrator runs the per-message state machine:
//
//	RECEIVED -> DEDUP_CHECKED -> {SKIPPED_DUP | RESOLVING}
//	  -> {SKIPPED_NO_CONTACT | SKIPPED_PREF | RENDERING}
//	  -> DELIVERING -> {DELIVERED | FAILED}
//
// Handle is safe for concurrent use; the status store is the only shared state.
type Orchestrator struct {
	store       StatusStore
	users       RecipientResolver
	templates   TemplateRenderer
	gateway     Deliverer
	reporter    StatusReporter
	deadLetters DeadLetterSink
	metrics     NotificationMetrics
	logger      types.Logger
}

// NewOrchestrator creates an Orchestrator from cfg.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		store:       cfg.Store,
		users:       cfg.Users,
		templates:   cfg.Templates,
		gateway:     cfg.Gateway,
		reporter:    cfg.Reporter,
		deadLetters: cfg.DeadLetters,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
	if o.metrics == nil {
		o.metrics = NoopMetrics{}
	}
	return o
}

// Handle processes one queue message body and returns its Outcome.
//
// A nil error means the message reached a terminal state and must be
// acknowledged. A non-nil error means it must be requeued; this covers
// collaborator failures, status store failures and context cancellation.
// Malformed bodies are dead-lettered and return a nil error.
func (o *Orchestrator) Handle(ctx context.Context, body []byte) (outcome Outcome, err error) {
	defer func() {
		if outcome != "" {
			o.metrics.RecordOutcome(ctx, outcome)
		}
	}()

	job, err := DecodeJob(body)
	if err != nil {
		o.logger.Warn("malformed job, routing to dead-letter queue",
			"error", describeError(err),
			"size_bytes", len(body),
		)
		o.deadLetters.Push(ctx, body, describeError(err))
		return OutcomeMalformed, nil
	}

	ctx = types.WithRequestID(ctx, job.NotificationID)
	logger := o.logger.With(
		"notification_id", job.NotificationID,
		"user_id", job.UserID,
		"template_code", job.TemplateCode,
	)
	ctx = types.WithLogger(ctx, logger)

	dup, err := o.store.IsDuplicate(ctx, job.NotificationID)
	if err != nil {
		logger.Error("idempotency check failed", "error", err.Error())
		return OutcomeFailed, err
	}
	if dup {
		logger.Info("duplicate notification, skipping")
		o.reporter.Report(ctx, job.NotificationID, types.StatusPending, ReasonDuplicate)
		return OutcomeDuplicate, nil
	}

	user, err := o.resolve(ctx, job.UserID)
	if err != nil {
		return o.fail(ctx, logger, job.NotificationID, OutcomeResolveFailed, err)
	}

	decision := EvaluateRecipient(user)
	if decision.Decision != PolicyDeliver {
		return o.skip(ctx, logger, job.NotificationID, decision)
	}

	rendered, err := o.templates.Render(ctx, types.TemplateRenderRequest{
		TemplateCode:     job.TemplateCode,
		NotificationType: types.NotificationTypeEmail,
		Variables:        types.StringifyVariables(job.Variables),
	})
	if err != nil {
		return o.fail(ctx, logger, job.NotificationID, OutcomeRenderFailed, err)
	}

	result, err := o.gateway.AttemptDelivery(ctx, DeliveryRequest{
		NotificationID: job.NotificationID,
		To:             decision.Address,
		Content:        rendered.ToContent(),
		Original:       body,
	})
	if err != nil {
		return o.fail(ctx, logger, job.NotificationID, OutcomeFailed, err)
	}

	if !result.Delivered {
		if err := o.store.Set(ctx, job.NotificationID, types.StatusFailed); err != nil {
			logger.Error("failed to record FAILED status", "error", err.Error())
			return OutcomeFailed, err
		}
		o.reporter.Report(ctx, job.NotificationID, types.StatusFailed, result.LastError)
		return OutcomeFailed, nil
	}

	if err := o.store.Set(ctx, job.NotificationID, types.StatusDelivered); err != nil {
		// The mail went out; a redelivery may send it again.
		logger.Error("failed to record DELIVERED status", "error", err.Error())
		return OutcomeFailed, err
	}
	o.reporter.Report(ctx, job.NotificationID, types.StatusDelivered, "")
	logger.Info("notification delivered",
		"to", email.RedactEmail(decision.Address),
		"attempts", result.Attempts,
	)
	return OutcomeDelivered, nil
}

// resolve fetches the user. An unknown user yields a nil profile so the
// policy treats it as having no contact address.
func (o *Orchestrator) resolve(ctx context.Context, userID string) (*types.UserProfile, error) {
	user, err := o.users.FetchUser(ctx, userID)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundUser {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (o *Orchestrator) skip(ctx context.Context, logger types.Logger, notificationID string, decision PolicyResult) (Outcome, error) {
	outcome := decision.Outcome()
	if err := o.store.Set(ctx, notificationID, types.StatusSkipped); err != nil {
		logger.Error("failed to record SKIPPED status", "error", err.Error(), "outcome", string(outcome))
		return outcome, err
	}
	logger.Info("notification skipped", "outcome", string(outcome), "reason", decision.Reason)
	o.reporter.Report(ctx, notificationID, types.StatusFailed, decision.Reason)
	return outcome, nil
}

// fail records FAILED, reports it and returns cause so the message is
// requeued. On cancellation nothing is written.
func (o *Orchestrator) fail(ctx context.Context, logger types.Logger, notificationID string, outcome Outcome, cause error) (Outcome, error) {
	if isCancellation(ctx, cause) {
		logger.Warn("processing interrupted by shutdown", "stage", string(outcome), "error", cause.Error())
		return outcome, cause
	}

	reason := describeError(cause)
	logger.Error("notification processing failed",
		"stage", string(outcome),
		"error", reason,
		"error_code", string(types.CodeOf(cause)),
	)

	if err := o.store.Set(ctx, notificationID, types.StatusFailed); err != nil {
		logger.Error("failed to record FAILED status", "error", err.Error())
	}
	o.reporter.Report(ctx, notificationID, types.StatusFailed, reason)
	return outcome, cause
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// QueueLag returns the time since enqueuedAt, or zero when it is unknown or
// in the future.
func QueueLag(enqueuedAt, now time.Time) time.Duration {
	if enqueuedAt.IsZero() || now.Before(enqueuedAt) {
		return 0
	}
	return now.Sub(enqueuedAt)
}
