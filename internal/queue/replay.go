package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"courier/internal/notifications/core"
	"courier/internal/types"
)

// InspectChannel is the subset of *amqp.Channel used by operator tooling.
type InspectChannel interface {
	QueueInspect(name string) (amqp.Queue, error)
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
}

var _ InspectChannel = (*amqp.Channel)(nil)

// Depth returns the number of ready messages in queue.
func Depth(ch InspectChannel, queue string) (int, error) {
	q, err := ch.QueueInspect(queue)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeUpstreamBroker, fmt.Sprintf("failed to inspect %s", queue), err)
	}
	return q.Messages, nil
}

// ReplayResult summarizes a replay run.
type ReplayResult struct {
	Replayed int
	Skipped  int
}

// Replayer moves dead-letter records back onto the email queue.
type Replayer struct {
	ch        InspectChannel
	publisher *Publisher
	from      string
	to        string
	logger    *slog.Logger
}

// NewReplayer creates a replayer reading from the dead-letter queue and
// publishing the embedded original jobs to the email queue.
func NewReplayer(ch InspectChannel, publisher *Publisher, from, to string, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{ch: ch, publisher: publisher, from: from, to: to, logger: logger}
}

// Replay republishes up to limit records (limit <= 0 means all ready
// records). Records whose original message is not a valid job are left on
// the dead-letter queue and counted as skipped. Each replayed record is
// acknowledged only after its job has been published.
func (r *Replayer) Replay(ctx context.Context, limit int) (ReplayResult, error) {
	var (
		result  ReplayResult
		skipped []amqp.Delivery
	)
	defer func() {
		// Held until the end so Get does not hand the same record back.
		for _, d := range skipped {
			if err := d.Nack(false, true); err != nil {
				r.logger.Warn("failed to return skipped record", "delivery_tag", d.DeliveryTag, "error", err.Error())
			}
		}
	}()

	for limit <= 0 || result.Replayed < limit {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		d, ok, err := r.ch.Get(r.from, false)
		if err != nil {
			return result, types.NewAppError(types.ErrCodeUpstreamBroker, fmt.Sprintf("failed to read %s", r.from), err)
		}
		if !ok {
			break
		}

		job, reason := originalJob(d.Body)
		if job == nil {
			r.logger.Warn("skipping dead-letter record", "delivery_tag", d.DeliveryTag, "reason", reason)
			skipped = append(skipped, d)
			result.Skipped++
			continue
		}

		pubCtx := types.WithRequestID(ctx, job.NotificationID)
		if err := r.publisher.Publish(pubCtx, r.to, job.raw); err != nil {
			if nackErr := d.Nack(false, true); nackErr != nil {
				r.logger.Error("failed to return record after publish error", "error", nackErr.Error())
			}
			return result, err
		}
		if err := d.Ack(false); err != nil {
			return result, types.NewAppError(types.ErrCodeUpstreamBroker, "failed to ack replayed record", err)
		}
		result.Replayed++
		r.logger.Info("dead-letter record replayed", "notification_id", job.NotificationID)
	}
	return result, nil
}

type replayJob struct {
	NotificationID string
	raw            []byte
}

// originalJob extracts a replayable job from a dead-letter record body.
func originalJob(body []byte) (*replayJob, string) {
	var rec types.DeadLetterRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, "record is not valid JSON"
	}
	if len(rec.OriginalMessage) == 0 || rec.OriginalMessage[0] != '{' {
		return nil, "original message is not a job object"
	}
	job, err := core.DecodeJob(rec.OriginalMessage)
	if err != nil {
		return nil, err.Error()
	}
	return &replayJob{NotificationID: job.NotificationID, raw: []byte(rec.OriginalMessage)}, ""
}
