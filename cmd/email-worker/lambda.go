package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/sync/errgroup"

	notifcore "courier/internal/notifications/core"
	"courier/internal/queue"
)

// isLambdaEnvironment reports whether the process runs inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// sqsBatchHandler runs an SQS batch through the orchestrator. Records are
// processed concurrently, at most limit at a time. Records whose handler
// returned an error are reported as batch item failures so SQS redelivers
// only those.
type sqsBatchHandler struct {
	handler queue.Handler
	limit   int
	metrics notifcore.NotificationMetrics
	logger  *slog.Logger
	now     func() time.Time
}

func newSQSBatchHandler(handler queue.Handler, limit int, metrics notifcore.NotificationMetrics, logger *slog.Logger) *sqsBatchHandler {
	if limit <= 0 {
		limit = 10
	}
	if metrics == nil {
		metrics = notifcore.NoopMetrics{}
	}
	return &sqsBatchHandler{
		handler: handler,
		limit:   limit,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Handle is registered with lambda.Start.
func (h *sqsBatchHandler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	var (
		mu       sync.Mutex
		response events.SQSEventResponse
	)

	// A plain Group: one failed record must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(h.limit)

	for _, record := range event.Records {
		record := record
		g.Go(func() error {
			if sent, ok := sentTimestamp(record); ok {
				h.metrics.RecordQueueLag(ctx, notifcore.QueueLag(sent, h.now()))
			}

			outcome, err := h.handler.Handle(ctx, []byte(record.Body))
			if err != nil {
				h.logger.Warn("sqs record will be retried",
					"message_id", record.MessageId,
					"outcome", string(outcome),
					"error", err.Error(),
				)
				mu.Lock()
				response.BatchItemFailures = append(response.BatchItemFailures,
					events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
				)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return response, nil
}

// sentTimestamp parses the millisecond-epoch SentTimestamp attribute.
func sentTimestamp(record events.SQSMessage) (time.Time, bool) {
	raw, ok := record.Attributes["SentTimestamp"]
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
