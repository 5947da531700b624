package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryClient is an in-process queue for tests and single-node development.
type MemoryClient struct {
	ch chan string

	mu     sync.Mutex
	failed []FailedMessage
}

// FailedMessage is a parked message kept for inspection.
type FailedMessage struct {
	Body   string
	Reason string
}

func NewMemoryClient(capacity int) *MemoryClient {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryClient{ch: make(chan string, capacity)}
}

func (c *MemoryClient) Send(ctx context.Context, body string, delay time.Duration) error {
	if delay > 0 {
		time.AfterFunc(delay, func() {
			select {
			case c.ch <- body:
			default:
			}
		})
		return nil
	}
	select {
	case c.ch <- body:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *MemoryClient) Receive(ctx context.Context, maxMessages, waitSeconds int) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	wait := time.Duration(waitSeconds) * time.Second
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}

	var out []Message
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for len(out) < maxMessages {
		select {
		case body := <-c.ch:
			out = append(out, Message{Body: body, ReceiptHandle: body})
			// Drain whatever else is ready without blocking again.
			for len(out) < maxMessages {
				select {
				case more := <-c.ch:
					out = append(out, Message{Body: more, ReceiptHandle: more})
				default:
					return out, nil
				}
			}
		case <-timer.C:
			return out, nil
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, nil
}

func (c *MemoryClient) Delete(ctx context.Context, receiptHandle string) error {
	return nil
}

func (c *MemoryClient) Fail(ctx context.Context, body, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, FailedMessage{Body: body, Reason: reason})
	return nil
}

// Failed returns a copy of the parked messages.
func (c *MemoryClient) Failed() []FailedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FailedMessage, len(c.failed))
	copy(out, c.failed)
	return out
}

// Len reports how many messages are ready.
func (c *MemoryClient) Len() int {
	return len(c.ch)
}
