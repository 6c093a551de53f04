package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/textproto"

	"gopkg.in/gomail.v2"

	"courier/internal/types"
)

// SMTPSender is satisfied by *gomail.Dialer.
type SMTPSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPClientConfig configures an SMTPClient.
type SMTPClientConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Logger   *slog.Logger
}

// SMTPClient sends mail through an SMTP relay.
type SMTPClient struct {
	sender SMTPSender
	logger *slog.Logger
}

// NewSMTPClient creates an SMTPClient backed by a gomail dialer.
func NewSMTPClient(cfg SMTPClientConfig) *SMTPClient {
	return NewSMTPClientWithSender(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg.Logger)
}

// NewSMTPClientWithSender creates an SMTPClient with a custom sender.
func NewSMTPClientWithSender(sender SMTPSender, logger *slog.Logger) *SMTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPClient{sender: sender, logger: logger}
}

// Send delivers one message. An accepted message is reported as 200. gomail
// has no context support, so cancellation abandons the in-flight dial rather
// than interrupting it.
func (c *SMTPClient) Send(ctx context.Context, input types.SendInput) (types.SendResult, error) {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", input.From.Address, input.From.Name)
	m.SetHeader("To", input.To)
	m.SetHeader("Subject", input.Subject)
	if input.ReferenceID != "" {
		m.SetHeader("X-Notification-Id", input.ReferenceID)
	}
	m.SetBody("text/html", input.BodyHTML)

	done := make(chan error, 1)
	go func() { done <- c.sender.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return types.SendResult{}, ctx.Err()
	case err := <-done:
		if err != nil {
			return types.SendResult{}, mapSMTPError(err)
		}
		return types.SendResult{StatusCode: http.StatusOK}, nil
	}
}

// mapSMTPError classifies relay replies: 5xx replies are permanent rejections,
// everything else is treated as an unavailable relay.
func mapSMTPError(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		details := map[string]any{"smtp_code": tpErr.Code}
		if tpErr.Code >= 500 {
			return types.NewAppErrorWithDetails(
				types.ErrCodeUpstreamEmailProvider,
				fmt.Sprintf("SMTP relay rejected message (%d): %s", tpErr.Code, tpErr.Msg),
				err,
				details,
			)
		}
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("SMTP relay deferred message (%d): %s", tpErr.Code, tpErr.Msg),
			err,
			details,
		)
	}
	return types.NewAppError(
		types.ErrCodeUpstreamUnavailable,
		fmt.Sprintf("SMTP send failed: %v", err),
		err,
	)
}
