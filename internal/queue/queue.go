package queue

import (
	"context"
	"time"
)

// Message is one delivery from the broker. ReceiptHandle is whatever the
// backend needs to acknowledge it.
type Message struct {
	Body          string
	ReceiptHandle string
}

// Client is the broker abstraction the webhook handler and the worker share.
// Delivery is at-least-once and unordered; consumers own idempotency.
type Client interface {
	// Send enqueues a message body, optionally delayed.
	Send(ctx context.Context, body string, delay time.Duration) error

	// Receive fetches up to maxMessages, waiting up to waitSeconds when the
	// queue is empty.
	Receive(ctx context.Context, maxMessages, waitSeconds int) ([]Message, error)

	// Delete acknowledges a delivered message.
	Delete(ctx context.Context, receiptHandle string) error

	// Fail parks a message that exhausted its attempts.
	Fail(ctx context.Context, body, reason string) error
}
