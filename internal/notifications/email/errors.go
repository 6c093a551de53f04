// Package email holds recipient-address helpers and the classification of
// mail transport failures shared by the delivery gateway and the transports.
package email

import (
	"context"
	"errors"

	"courier/internal/types"
)

// ErrRecipientBlocked indicates the provider has the recipient on a
// suppression list.
var ErrRecipientBlocked = errors.New("recipient blocked by provider")

// IsBlocklistError checks for ErrRecipientBlocked or an AppError with
// ErrCodeEmailBlocked.
func IsBlocklistError(err error) bool {
	if errors.Is(err, ErrRecipientBlocked) {
		return true
	}
	return types.CodeOf(err) == types.ErrCodeEmailBlocked
}

// FailureKind labels a failed delivery attempt for logs and metrics.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureBlocked     FailureKind = "blocked"
	FailureRateLimited FailureKind = "rate_limited"
	FailureRejected    FailureKind = "rejected"
	FailureUnavailable FailureKind = "unavailable"
	FailureCanceled    FailureKind = "canceled"
	FailureOther       FailureKind = "error"
)

// ClassifyFailure maps a transport error to a FailureKind. A nil error with a
// non-2xx status is a rejection.
func ClassifyFailure(err error, statusCode int) FailureKind {
	if err == nil {
		if statusCode >= 200 && statusCode <= 299 {
			return FailureNone
		}
		return FailureRejected
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FailureCanceled
	}
	if IsBlocklistError(err) {
		return FailureBlocked
	}
	switch types.CodeOf(err) {
	case types.ErrCodeUpstreamRateLimited:
		return FailureRateLimited
	case types.ErrCodeUpstreamUnavailable:
		return FailureUnavailable
	case types.ErrCodeUpstreamEmailProvider:
		return FailureRejected
	}
	return FailureOther
}
