package core

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"courier/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var _ DeadLetterPublisher = (*SQSDeadLetterPublisher)(nil)

// SQSDeadLetterPublisher writes dead-letter records to an SQS queue. It is
// the dead-letter destination when the worker runs as a Lambda SQS consumer,
// where there is no AMQP channel to publish on.
type SQSDeadLetterPublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewSQSDeadLetterPublisher creates a publisher targeting queueURL.
func NewSQSDeadLetterPublisher(client SQSSender, queueURL string, logger types.Logger) *SQSDeadLetterPublisher {
	return &SQSDeadLetterPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// PublishDeadLetter sends body as-is. The notification id, when present in
// the request context, is attached as a message attribute so operators can
// filter the queue without decoding bodies.
func (p *SQSDeadLetterPublisher) PublishDeadLetter(ctx context.Context, body []byte) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if id := types.GetRequestID(ctx); id != "" {
		input.MessageAttributes = map[string]sqstypes.MessageAttributeValue{
			"notification_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(id),
			},
		}
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamBroker,
			fmt.Sprintf("dead-letter publish to %s failed", p.queueURL), err)
	}

	p.logger.Info("dead-letter record published",
		"queue_url", p.queueURL,
		"message_id", aws.ToString(out.MessageId),
	)
	return nil
}
