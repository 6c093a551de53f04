package external

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"

	"courier/internal/config"
	"courier/internal/types"
)

// ClientRegistry holds every outbound client the worker uses.
type ClientRegistry struct {
	Users     *UserServiceClient
	Templates *TemplateServiceClient
	Reporter  *StatusReporter
	Email     EmailProvider

	// Provider is the transport actually selected, after stub fallback.
	Provider types.EmailProviderName
}

// RegistryOption injects dependencies that config alone cannot provide.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	awsCfg   *aws.Config
	sesAPI   SESAPI
	smtp     SMTPSender
	sleepFn  SleepFunc
	httpDoer *http.Client
}

// WithAWSConfig provides the AWS config used by the SES transport.
func WithAWSConfig(cfg aws.Config) RegistryOption {
	return func(rc *registryConfig) { rc.awsCfg = &cfg }
}

// WithSESAPI overrides the SES API client.
func WithSESAPI(api SESAPI) RegistryOption {
	return func(rc *registryConfig) { rc.sesAPI = api }
}

// WithSMTPSender overrides the SMTP dialer.
func WithSMTPSender(s SMTPSender) RegistryOption {
	return func(rc *registryConfig) { rc.smtp = s }
}

// WithHTTPClient overrides the HTTP client shared by the HTTP-based clients.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(rc *registryConfig) { rc.httpDoer = c }
}

// WithRetrySleep overrides the sleep used by BaseClient retries.
func WithRetrySleep(fn SleepFunc) RegistryOption {
	return func(rc *registryConfig) { rc.sleepFn = fn }
}

// NewClientRegistry builds the collaborator clients and the mail transport
// named by cfg.Email.Provider. In local mode a sendgrid provider without an
// API key falls back to the stub transport.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger, opts ...RegistryOption) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rc := &registryConfig{sleepFn: SleepContext}
	for _, opt := range opts {
		opt(rc)
	}

	httpClient := rc.httpDoer
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Services.Timeout}
	}
	baseOpts := []BaseClientOption{WithSleepFunc(rc.sleepFn)}
	userAgent := fmt.Sprintf("courier/%s", cfg.Build.Version)

	reg := &ClientRegistry{
		Users: NewUserServiceClient(
			NewBaseClient(httpClient, "user-service", DefaultRetryPolicy(), userAgent, baseOpts...),
			UserServiceClientConfig{BaseURL: cfg.Services.UserServiceURL, Logger: logger.With("client", "user-service")},
		),
		Templates: NewTemplateServiceClient(
			NewBaseClient(httpClient, "template-service", DefaultRetryPolicy(), userAgent, baseOpts...),
			TemplateServiceClientConfig{BaseURL: cfg.Services.TemplateServiceURL, Logger: logger.With("client", "template-service")},
		),
		Reporter: NewStatusReporter(
			NewBaseClient(httpClient, "status-reporter", NoRetryPolicy(), userAgent, baseOpts...),
			StatusReporterConfig{
				Endpoint: cfg.Services.StatusUpdateURL,
				Timeout:  cfg.Services.StatusReportTimeout,
				Logger:   logger.With("client", "status-reporter"),
			},
		),
	}

	provider := cfg.Email.Provider
	if provider == types.ProviderSendGrid && !cfg.Email.SendGridAPIKey.IsSet() && cfg.UseStubs() {
		provider = types.ProviderStub
	}

	transportLogger := logger.With("client", string(provider))
	switch provider {
	case types.ProviderSendGrid:
		mailHTTP := &http.Client{Timeout: cfg.Email.SendTimeout}
		reg.Email = NewSendGridClientWithBase(
			NewMailTransportBaseClient(mailHTTP, "sendgrid", userAgent, baseOpts...),
			SendGridClientConfig{
				APIKey:  cfg.Email.SendGridAPIKey.Unmask(),
				BaseURL: cfg.Email.SendGridURL,
				Logger:  transportLogger,
			},
		)
	case types.ProviderSES:
		sesCfg := SESClientConfig{ConfigSetName: cfg.Email.SESConfigSet, Logger: transportLogger}
		switch {
		case rc.sesAPI != nil:
			reg.Email = NewSESClientWithAPI(rc.sesAPI, sesCfg)
		case rc.awsCfg != nil:
			reg.Email = NewSESClient(*rc.awsCfg, sesCfg)
		default:
			return nil, fmt.Errorf("external: EMAIL_PROVIDER=ses requires an AWS config")
		}
	case types.ProviderSMTP:
		if rc.smtp != nil {
			reg.Email = NewSMTPClientWithSender(rc.smtp, transportLogger)
		} else {
			reg.Email = NewSMTPClient(SMTPClientConfig{
				Host:     cfg.Email.SMTPHost,
				Port:     cfg.Email.SMTPPort,
				Username: cfg.Email.SMTPUser,
				Password: cfg.Email.SMTPPassword.Unmask(),
				Logger:   transportLogger,
			})
		}
	case types.ProviderStub:
		reg.Email = NewStubEmailProvider(transportLogger.With("mode", "stub"))
	default:
		return nil, fmt.Errorf("external: unknown email provider %q", provider)
	}
	reg.Provider = provider

	logger.Info("external clients initialized",
		"environment", cfg.Environment,
		"email_provider", string(provider),
	)
	return reg, nil
}
