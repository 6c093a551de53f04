package external

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"courier/internal/types"
)

// UserServiceClient looks up recipient profiles in the user service.
type UserServiceClient struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

// UserServiceClientConfig configures a UserServiceClient.
type UserServiceClientConfig struct {
	BaseURL string
	Logger  *slog.Logger
}

// NewUserServiceClient creates a client for GET {BaseURL}/api/v1/users/{id}.
func NewUserServiceClient(base *BaseClient, cfg UserServiceClientConfig) *UserServiceClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &UserServiceClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  logger,
	}
}

// FetchUser returns the user's profile. A 404 yields ErrCodeNotFoundUser.
// A profile without an email address is a successful result.
func (c *UserServiceClient) FetchUser(ctx context.Context, userID string) (types.UserProfile, error) {
	reqURL := fmt.Sprintf("%s/api/v1/users/%s", c.baseURL, url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return types.UserProfile{}, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create user lookup request",
			err,
		)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.DebugContext(ctx, "fetching user details", "user_id", userID)

	resp, err := c.base.Do(req)
	if err != nil {
		return types.UserProfile{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return types.UserProfile{}, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundUser,
			"user not found",
			nil,
			map[string]any{"user_id": userID},
		)
	}

	return decodeEnvelope[types.UserProfile](resp, "user lookup failed")
}
