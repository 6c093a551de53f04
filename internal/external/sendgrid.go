package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"courier/internal/types"
)

// sendGridAPIBase is the default SendGrid API base URL.
const sendGridAPIBase = "https://api.sendgrid.com"

// SendGridClientConfig holds the configuration for creating a SendGridClient.
type SendGridClientConfig struct {
	APIKey  string
	BaseURL string // defaults to sendGridAPIBase
	Logger  *slog.Logger
}

// SendGridClient sends mail through the SendGrid v3 Mail Send API with inline
// subject and HTML content.
type SendGridClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// NewSendGridClient creates a SendGridClient whose BaseClient sends each
// request once and never opens its breaker. The delivery gateway owns retries.
func NewSendGridClient(httpClient *http.Client, cfg SendGridClientConfig) *SendGridClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	base := NewMailTransportBaseClient(httpClient, "sendgrid", "Courier/1.0")
	return NewSendGridClientWithBase(base, cfg)
}

// NewSendGridClientWithBase creates a SendGridClient with a pre-configured
// BaseClient.
func NewSendGridClientWithBase(base *BaseClient, cfg SendGridClientConfig) *SendGridClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sendGridAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SendGridClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Send posts one message to /v3/mail/send. SendGrid answers 202 Accepted with
// the message id in X-Message-Id.
//
// Error mapping:
//   - 403 Forbidden -> types.ErrCodeEmailBlocked
//   - 429 / 5xx -> BaseClient (ErrCodeUpstreamRateLimited / ErrCodeUpstreamUnavailable)
//   - Other 4xx -> types.ErrCodeUpstreamEmailProvider
func (s *SendGridClient) Send(ctx context.Context, input types.SendInput) (types.SendResult, error) {
	body, err := json.Marshal(s.buildMailPayload(input))
	if err != nil {
		return types.SendResult{}, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal SendGrid mail payload",
			err,
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return types.SendResult{}, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create SendGrid mail send request",
			err,
		)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.base.Do(req)
	if err != nil {
		return types.SendResult{StatusCode: StatusCodeOf(err)}, s.wrapSendGridError(err)
	}
	defer resp.Body.Close()

	result := types.SendResult{StatusCode: resp.StatusCode}
	if result.Succeeded() {
		result.ProviderMessageID = resp.Header.Get("X-Message-Id")
		return result, nil
	}

	return result, s.handleErrorResponse(resp)
}

type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (s *SendGridClient) buildMailPayload(input types.SendInput) sendGridMailPayload {
	// SendGrid rejects empty content values.
	html := input.BodyHTML
	if html == "" {
		html = " "
	}

	payload := sendGridMailPayload{
		Personalizations: []sendGridPersonalization{
			{To: []sendGridAddress{{Email: input.To}}},
		},
		From: sendGridAddress{
			Email: input.From.Address,
			Name:  input.From.Name,
		},
		Subject: input.Subject,
		Content: []sendGridContent{{Type: "text/html", Value: html}},
	}

	if input.ReferenceID != "" {
		payload.CustomArgs = map[string]string{"notification_id": input.ReferenceID}
	}
	return payload
}

type sendGridErrorResponse struct {
	Errors []sendGridErrorDetail `json:"errors"`
}

type sendGridErrorDetail struct {
	Message string `json:"message"`
	Field   string `json:"field"`
	Help    string `json:"help"`
}

func (s *SendGridClient) handleErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("mail transport returned status %d and an unreadable body", resp.StatusCode),
			readErr,
		)
	}

	var sgErr sendGridErrorResponse
	errMsg := string(body)
	if jsonErr := json.Unmarshal(body, &sgErr); jsonErr == nil && len(sgErr.Errors) > 0 {
		errMsg = sgErr.Errors[0].Message
	}

	return mapSendGridError(resp.StatusCode, errMsg)
}

func mapSendGridError(statusCode int, message string) error {
	details := map[string]any{"status_code": statusCode}
	switch {
	case statusCode == http.StatusForbidden:
		return types.NewAppErrorWithDetails(
			types.ErrCodeEmailBlocked,
			fmt.Sprintf("mail transport returned status 403: %s", message),
			nil,
			details,
		)
	default:
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("mail transport returned status %d: %s", statusCode, message),
			nil,
			details,
		)
	}
}

func (s *SendGridClient) wrapSendGridError(err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("SendGrid request failed: %v", err),
		err,
	)
}
