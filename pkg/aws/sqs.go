package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the part of the SQS client used here.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
}

// SQSConsumer receives and acknowledges messages on one queue.
type SQSConsumer struct {
	client   SQSAPI
	queueURL string
}

// NewSQSClient builds the SDK client from cfg.
func NewSQSClient(cfg aws.Config) *sqs.Client {
	return sqs.NewFromConfig(cfg)
}

func NewSQSConsumerWithAPI(api SQSAPI, queueURL string) *SQSConsumer {
	return &SQSConsumer{client: api, queueURL: queueURL}
}

func (c *SQSConsumer) QueueURL() string { return c.queueURL }

// Receive long-polls for up to ten messages.
func (c *SQSConsumer) Receive(ctx context.Context, waitSeconds int32) ([]types.Message, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     waitSeconds,
		VisibilityTimeout:   30,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}
	return out.Messages, nil
}

func (c *SQSConsumer) Delete(ctx context.Context, receiptHandle *string) error {
	if receiptHandle == nil || *receiptHandle == "" {
		return nil
	}
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	}); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// GetQueueURL retrieves the URL for a queue name
func GetQueueURL(ctx context.Context, api SQSAPI, queueName string) (string, error) {
	result, err := api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: &queueName})
	if err != nil {
		return "", fmt.Errorf("failed to get queue URL: %w", err)
	}
	return aws.ToString(result.QueueUrl), nil
}
