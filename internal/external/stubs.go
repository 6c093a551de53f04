package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"courier/internal/notifications/email"
	"courier/internal/types"
)

// StubEmailProvider logs each message instead of sending it. Used when
// EMAIL_PROVIDER=stub or when APP_ENV=local and no credentials are set.
type StubEmailProvider struct {
	logger *slog.Logger
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (types.SendResult, error) {
	s.logger.InfoContext(ctx, "stub: Send email called",
		"to", email.RedactEmail(input.To),
		"subject", input.Subject,
		"from", input.From.Address,
		"notification_id", input.ReferenceID,
	)
	return types.SendResult{
		StatusCode:        http.StatusAccepted,
		ProviderMessageID: fmt.Sprintf("msg_stub_%s", input.ReferenceID),
	}, nil
}
