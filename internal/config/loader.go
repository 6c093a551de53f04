package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"courier/internal/types"
)

// ConfigError is the diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// loaderDeps holds the injectable steps of the loader so tests can skip the
// dotenv file.
type loaderDeps struct {
	loadDotenv func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{loadDotenv: func() error { return godotenv.Load() }}
}

// LoadConfig loads and validates the configuration:
//  1. Sets the process timezone to UTC.
//  2. Loads a .env file if present. Existing variables are not overridden.
//  3. Processes envconfig tags.
//  4. Populates Build from linker-injected variables.
//  5. Runs struct validation and the cross-field rules in Validate.
func LoadConfig() (*Config, error) {
	return loadConfigWithDeps(defaultDeps())
}

func loadConfigWithDeps(deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// Missing .env is the normal case outside local development.
	_ = deps.loadDotenv()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// Validate enforces rules that depend on more than one field.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case types.StorePostgres:
		if !c.Store.DatabaseURL.IsSet() {
			return fmt.Errorf("DATABASE_URL is required when STATUS_STORE=postgres")
		}
	case types.StoreRedis:
		if !c.Store.RedisURL.IsSet() {
			return fmt.Errorf("REDIS_URL is required when STATUS_STORE=redis")
		}
	}

	switch c.Email.Provider {
	case types.ProviderSendGrid:
		if !c.Email.SendGridAPIKey.IsSet() && c.Environment != "local" {
			return fmt.Errorf("SENDGRID_API_KEY is required when EMAIL_PROVIDER=sendgrid")
		}
	case types.ProviderSMTP:
		if c.Email.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when EMAIL_PROVIDER=smtp")
		}
	}

	if c.Delivery.InitialDelay <= 0 {
		return fmt.Errorf("DELIVERY_INITIAL_DELAY must be positive")
	}
	if c.Delivery.MaxDelay < c.Delivery.InitialDelay {
		return fmt.Errorf("DELIVERY_MAX_DELAY must not be shorter than DELIVERY_INITIAL_DELAY")
	}
	return nil
}

// UseStubs reports whether collaborators without credentials should fall back
// to logging stubs. Only local runs may do so.
func (c *Config) UseStubs() bool {
	return c.Environment == "local"
}
