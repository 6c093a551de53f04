package external

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"courier/internal/types"
)

// TemplateServiceClient renders notification templates.
type TemplateServiceClient struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

// TemplateServiceClientConfig configures a TemplateServiceClient.
type TemplateServiceClientConfig struct {
	BaseURL string
	Logger  *slog.Logger
}

// NewTemplateServiceClient creates a client for
// POST {BaseURL}/api/v1/templates/render.
func NewTemplateServiceClient(base *BaseClient, cfg TemplateServiceClientConfig) *TemplateServiceClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateServiceClient{
		base:    base,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:  logger,
	}
}

// Render asks the template service to render the template. Either field of
// the result may be nil; defaults are applied by TemplateRenderResult.ToContent.
func (c *TemplateServiceClient) Render(ctx context.Context, in types.TemplateRenderRequest) (types.TemplateRenderResult, error) {
	if in.Variables == nil {
		in.Variables = map[string]string{}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return types.TemplateRenderResult{}, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal render request",
			err,
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/templates/render", bytes.NewReader(body))
	if err != nil {
		return types.TemplateRenderResult{}, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create render request",
			err,
		)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return types.TemplateRenderResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return types.TemplateRenderResult{}, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundTemplate,
			"template not found",
			nil,
			map[string]any{"template_code": in.TemplateCode},
		)
	}

	return decodeEnvelope[types.TemplateRenderResult](resp, "template render failed")
}
