package sqsmq

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/Suraj08832/collabstudy/mq"
)

const (
	kindAttribute   = "Kind"
	longPollSeconds = 20
)

// newSQSClient targets sqsEndpoint with static dummy credentials in dev mode
// and the default AWS credential chain otherwise.
func newSQSClient(ctx context.Context, devMode bool, sqsEndpoint string) (*sqs.Client, error) {
	if !devMode {
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return sqs.NewFromConfig(cfg), nil
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")),
	)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if sqsEndpoint != "" {
			o.BaseEndpoint = aws.String(sqsEndpoint)
		}
	}), nil
}

func stringAttribute(value string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(value),
	}
}

// fromSQS keeps the receipt handle as the message id; it is what Delete needs.
func fromSQS(m types.Message) *mq.Message {
	out := &mq.Message{
		Id:   aws.ToString(m.ReceiptHandle),
		Body: aws.ToString(m.Body),
	}
	if attr, ok := m.MessageAttributes[kindAttribute]; ok {
		out.Kind = aws.ToString(attr.StringValue)
	}
	return out
}
