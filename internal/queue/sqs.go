package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/atendelab/zapdesk/pkg/logging"
)

// SQSAPI is the subset of the SQS client the queue needs.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSClient is the AWS-hosted queue backend. Parking failed messages is left
// to the queue's redrive policy; Fail only logs.
type SQSClient struct {
	client   SQSAPI
	queueURL string
	logger   *logging.Logger
}

func NewSQSClient(client SQSAPI, queueURL string, logger *logging.Logger) *SQSClient {
	if client == nil {
		panic("queue: sqs client required")
	}
	if queueURL == "" {
		panic("queue: sqs queue url required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSClient{client: client, queueURL: queueURL, logger: logger}
}

func (c *SQSClient) Send(ctx context.Context, body string, delay time.Duration) error {
	delaySecs := int32(delay / time.Second)
	if delaySecs < 0 {
		delaySecs = 0
	}
	// SQS caps per-message delay at 15 minutes.
	if delaySecs > 900 {
		delaySecs = 900
	}
	_, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(c.queueURL),
		MessageBody:  aws.String(body),
		DelaySeconds: delaySecs,
	})
	if err != nil {
		return fmt.Errorf("queue: sqs send: %w", err)
	}
	return nil
}

func (c *SQSClient) Receive(ctx context.Context, maxMessages, waitSeconds int) ([]Message, error) {
	if maxMessages <= 0 || maxMessages > 10 {
		maxMessages = 10
	}
	if waitSeconds < 0 || waitSeconds > 20 {
		waitSeconds = 20
	}
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("queue: sqs receive: %w", err)
	}
	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, Message{
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return messages, nil
}

func (c *SQSClient) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("queue: sqs delete: %w", err)
	}
	return nil
}

func (c *SQSClient) Fail(ctx context.Context, body, reason string) error {
	c.logger.Error("task parked, awaiting redrive", "reason", reason, "body", body)
	return nil
}
