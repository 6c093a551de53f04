package external

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"courier/internal/types"
)

// maxEnvelopeBytes caps how much of a collaborator response is read.
const maxEnvelopeBytes = 1 << 20

// Envelope is the response wrapper shared by the user and template services:
//
//	{"success": bool, "message": "...", "data": {...}, "error": "...", "meta": ...}
type Envelope[T any] struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    *T              `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Meta    json.RawMessage `json:"meta,omitempty"`
}

// Unwrap returns the payload or an upstream_rejected error when the envelope
// reports failure or carries no data. fallback names the operation in the
// error when the service gave no reason.
func (e Envelope[T]) Unwrap(fallback string) (T, error) {
	var zero T
	if !e.Success || e.Data == nil {
		reason := e.Error
		if reason == "" {
			reason = e.Message
		}
		if reason == "" {
			reason = fallback
		}
		return zero, types.NewAppError(types.ErrCodeUpstreamRejected, reason, nil)
	}
	return *e.Data, nil
}

// decodeEnvelope reads and unwraps an envelope from resp. The body is consumed
// but not closed.
func decodeEnvelope[T any](resp *http.Response, fallback string) (T, error) {
	var zero T

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
	if err != nil {
		return zero, types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to read response body", err)
	}

	var env Envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return zero, types.NewAppErrorWithDetails(
				types.ErrCodeUpstreamRejected,
				fmt.Sprintf("%s: upstream returned status %d", fallback, resp.StatusCode),
				nil,
				map[string]any{"status_code": resp.StatusCode},
			)
		}
		return zero, types.NewAppError(
			types.ErrCodeInternalDecode,
			fmt.Sprintf("%s: response is not a valid envelope", fallback),
			err,
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// A non-2xx response is a rejection even if the body claims success.
		env.Success = false
		if env.Error == "" && env.Message == "" {
			env.Error = fmt.Sprintf("%s: upstream returned status %d", fallback, resp.StatusCode)
		}
	}

	return env.Unwrap(fallback)
}
