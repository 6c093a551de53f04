package external

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"courier/internal/types"
)

// DefaultReportTimeout bounds a single status report.
const DefaultReportTimeout = 10 * time.Second

// StatusReporter posts status updates to the API gateway. It never returns an
// error: failures are logged and dropped.
type StatusReporter struct {
	base     *BaseClient
	endpoint string
	timeout  time.Duration
	logger   *slog.Logger
}

// StatusReporterConfig configures a StatusReporter.
type StatusReporterConfig struct {
	Endpoint string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// NewStatusReporter creates a StatusReporter. The BaseClient should not
// retry; a lost report is acceptable.
func NewStatusReporter(base *BaseClient, cfg StatusReporterConfig) *StatusReporter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultReportTimeout
	}
	return &StatusReporter{
		base:     base,
		endpoint: cfg.Endpoint,
		timeout:  timeout,
		logger:   logger,
	}
}

// Report sends {notification_id, status, error?}. The status is sent as its
// lowercase wire token and an empty errText is omitted.
func (r *StatusReporter) Report(ctx context.Context, notificationID string, status types.NotificationStatus, errText string) {
	payload := types.StatusUpdate{
		NotificationID: notificationID,
		Status:         status.Wire(),
		Error:          errText,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to marshal status update",
			"notification_id", notificationID,
			"error", err.Error(),
		)
		return
	}

	// Reports go out even while the worker drains after cancellation.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to build status update request",
			"notification_id", notificationID,
			"error", err.Error(),
		)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.base.Do(req)
	if err != nil {
		if code := StatusCodeOf(err); code != 0 {
			r.logger.WarnContext(ctx, "status update rejected",
				"notification_id", notificationID,
				"status_code", code,
			)
			return
		}
		r.logger.ErrorContext(ctx, "failed to report status",
			"notification_id", notificationID,
			"error", err.Error(),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		r.logger.WarnContext(ctx, "status update rejected",
			"notification_id", notificationID,
			"status_code", resp.StatusCode,
			"body", string(snippet),
		)
		return
	}

	r.logger.DebugContext(ctx, "status reported",
		"notification_id", notificationID,
		"status", payload.Status,
	)
}
