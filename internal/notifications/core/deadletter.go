package core

import (
	"context"
	"encoding/json"
	"time"

	"courier/internal/types"
)

var _ DeadLetterSink = (*DeadLetterRouter)(nil)

// DeadLetterRouter wraps a failed job into a types.DeadLetterRecord and hands
// it to the publisher. Push never fails: publish errors are logged and the
// record is dropped.
type DeadLetterRouter struct {
	publisher DeadLetterPublisher
	metrics   NotificationMetrics
	logger    types.Logger
	timeout   time.Duration
}

// NewDeadLetterRouter creates a router. A nil metrics uses NoopMetrics.
func NewDeadLetterRouter(publisher DeadLetterPublisher, metrics NotificationMetrics, logger types.Logger) *DeadLetterRouter {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &DeadLetterRouter{
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		timeout:   dlqPublishBudget,
	}
}

// Push publishes {original_message, error}. The publish runs detached from
// ctx cancellation so records are not lost during shutdown.
func (r *DeadLetterRouter) Push(ctx context.Context, original []byte, errText string) {
	body, err := json.Marshal(types.NewDeadLetterRecord(original, errText))
	if err != nil {
		r.logger.Error("failed to encode dead-letter record", "error", err.Error())
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.publisher.PublishDeadLetter(pubCtx, body); err != nil {
		r.logger.Error("dead-letter publish failed, record dropped",
			"error", err.Error(),
			"reason", errText,
			"size_bytes", len(body),
		)
		return
	}
	r.metrics.RecordDeadLetter(ctx)
}
