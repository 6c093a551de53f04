package external

import (
	"context"

	"courier/internal/types"
)

// EmailProvider is an outbound mail transport. Implementations send
// pre-rendered content and report the transport's status code; they do not
// retry. A non-nil error or a status outside 2xx is a failed attempt.
type EmailProvider interface {
	Send(ctx context.Context, input types.SendInput) (types.SendResult, error)
}

// Compile-time assertions.
var (
	_ EmailProvider = (*SendGridClient)(nil)
	_ EmailProvider = (*SESClient)(nil)
	_ EmailProvider = (*SMTPClient)(nil)
	_ EmailProvider = (*StubEmailProvider)(nil)
)
