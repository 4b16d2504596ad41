package sqsmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/mq"
)

// SQSMessageQueue carries room lifecycle messages from relay instances to the
// retention worker.
type SQSMessageQueue struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSMessageQueue resolves queueName to its URL. In dev mode a missing
// queue is created so a fresh local emulator works out of the box.
func NewSQSMessageQueue(ctx context.Context, devMode bool, sqsEndpoint string, queueName string) (*SQSMessageQueue, error) {
	client, err := newSQSClient(ctx, devMode, sqsEndpoint)
	if err != nil {
		return nil, err
	}

	queueURL, err := resolveQueueURL(ctx, client, queueName, devMode)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "mq.sqs").Str("queue", queueName).Msg("room closed queue ready")

	return &SQSMessageQueue{client: client, queueURL: queueURL}, nil
}

func (q *SQSMessageQueue) Send(ctx context.Context, msg mq.Message) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(msg.Body),
	}
	if msg.Kind != "" {
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			kindAttribute: stringAttribute(msg.Kind),
		}
	}

	_, err := q.client.SendMessage(ctx, input)
	return err
}

// Receive long-polls for one message. A nil message with a nil error means
// the poll came back empty.
func (q *SQSMessageQueue) Receive(ctx context.Context, visibilityTimeout int32) (*mq.Message, error) {
	resp, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.queueURL),
		MaxNumberOfMessages:   1,
		WaitTimeSeconds:       longPollSeconds,
		VisibilityTimeout:     visibilityTimeout,
		MessageAttributeNames: []string{kindAttribute},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return fromSQS(resp.Messages[0]), nil
}

func (q *SQSMessageQueue) Delete(ctx context.Context, msg *mq.Message) error {
	if msg == nil || msg.Id == "" {
		return errors.New("cannot delete a message without a receipt handle")
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.Id),
	})
	return err
}

func resolveQueueURL(ctx context.Context, client *sqs.Client, queueName string, create bool) (string, error) {
	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err == nil {
		return aws.ToString(out.QueueUrl), nil
	}

	var missing *types.QueueDoesNotExist
	if !errors.As(err, &missing) || !create {
		return "", fmt.Errorf("queue %q not available: %w", queueName, err)
	}

	created, err := client.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(queueName)})
	if err != nil {
		return "", fmt.Errorf("failed to create queue %q: %w", queueName, err)
	}
	log.Info().Str("module", "mq.sqs").Str("queue", queueName).Msg("created queue")
	return aws.ToString(created.QueueUrl), nil
}
