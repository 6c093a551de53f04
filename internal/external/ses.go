package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"courier/internal/types"
)

// SESAPI is the subset of the SES v2 client used by SESClient.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClientConfig holds the configuration for creating an SESClient.
type SESClientConfig struct {
	// ConfigSetName is the optional SES configuration set.
	ConfigSetName string
	Logger        *slog.Logger
}

// SESClient sends mail with AWS SES v2 using IAM credentials.
type SESClient struct {
	api           SESAPI
	configSetName string
	logger        *slog.Logger
}

// NewSESClient creates an SESClient from an AWS config. SDK-level retries are
// disabled; the delivery gateway owns the retry loop.
func NewSESClient(awsCfg aws.Config, cfg SESClientConfig) *SESClient {
	api := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		o.RetryMaxAttempts = 1
	})
	return NewSESClientWithAPI(api, cfg)
}

// NewSESClientWithAPI creates an SESClient with a pre-configured SESAPI.
func NewSESClientWithAPI(api SESAPI, cfg SESClientConfig) *SESClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SESClient{
		api:           api,
		configSetName: cfg.ConfigSetName,
		logger:        logger,
	}
}

// Send transmits one message with simple (inline) content. SES has no status
// code of its own; an accepted message is reported as 200.
func (s *SESClient) Send(ctx context.Context, input types.SendInput) (types.SendResult, error) {
	fromAddr := input.From.Address
	if input.From.Name != "" {
		fromAddr = fmt.Sprintf("%s <%s>", input.From.Name, input.From.Address)
	}

	emailInput := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddr),
		Destination: &sestypes.Destination{
			ToAddresses: []string{input.To},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{
					Data:    aws.String(input.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &sestypes.Body{
					Html: &sestypes.Content{
						Data:    aws.String(input.BodyHTML),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	if s.configSetName != "" {
		emailInput.ConfigurationSetName = aws.String(s.configSetName)
	}

	if input.ReferenceID != "" {
		emailInput.EmailTags = []sestypes.MessageTag{
			{
				Name:  aws.String("NotificationID"),
				Value: aws.String(input.ReferenceID),
			},
		}
	}

	result, err := s.api.SendEmail(ctx, emailInput)
	if err != nil {
		return types.SendResult{}, mapSESError(err)
	}

	out := types.SendResult{StatusCode: http.StatusOK}
	if result.MessageId != nil {
		out.ProviderMessageID = *result.MessageId
	}
	return out, nil
}

// mapSESError translates AWS SES errors into AppErrors.
func mapSESError(err error) error {
	var msgRejected *sestypes.MessageRejected
	if errors.As(err, &msgRejected) {
		return types.NewAppError(
			types.ErrCodeEmailBlocked,
			fmt.Sprintf("SES rejected message: %v", err),
			err,
		)
	}

	var tooManyReqs *sestypes.TooManyRequestsException
	if errors.As(err, &tooManyReqs) {
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("SES rate limit exceeded: %v", err),
			err,
		)
	}

	var sendingPaused *sestypes.SendingPausedException
	if errors.As(err, &sendingPaused) {
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("SES account sending paused: %v", err),
			err,
		)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("SES error: %v", err),
		err,
	)
}
