package queue

import (
	"context"
	"time"

	"github.com/atendelab/zapdesk/pkg/logging"
)

// Publisher enqueues tasks and owns the retry policy: bounded attempts with
// exponential backoff, then parking.
type Publisher struct {
	client      Client
	maxAttempts int
	retryDelay  time.Duration
	logger      *logging.Logger
}

func NewPublisher(client Client, maxAttempts int, retryDelay time.Duration, logger *logging.Logger) *Publisher {
	if client == nil {
		panic("queue: client cannot be nil")
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{client: client, maxAttempts: maxAttempts, retryDelay: retryDelay, logger: logger}
}

// Publish enqueues a fresh task.
func (p *Publisher) Publish(ctx context.Context, t *Task) error {
	body, err := t.Encode()
	if err != nil {
		return err
	}
	return p.client.Send(ctx, body, 0)
}

// Retry re-enqueues a failed task with exponential backoff, or parks it when
// the attempt budget is spent. Returns true when the task was re-enqueued.
func (p *Publisher) Retry(ctx context.Context, t *Task, reason string) (bool, error) {
	t.Attempts++
	if t.Attempts >= p.maxAttempts {
		return false, p.Park(ctx, t, reason)
	}
	body, err := t.Encode()
	if err != nil {
		return false, err
	}
	delay := p.retryDelay << (t.Attempts - 1)
	if err := p.client.Send(ctx, body, delay); err != nil {
		return false, err
	}
	p.logger.Warn("task scheduled for retry", "task_id", t.ID, "kind", t.Kind, "attempt", t.Attempts, "delay", delay, "reason", reason)
	return true, nil
}

// Park moves a task to the failed store.
func (p *Publisher) Park(ctx context.Context, t *Task, reason string) error {
	body, err := t.Encode()
	if err != nil {
		return err
	}
	p.logger.Error("task parked after exhausting retries", "task_id", t.ID, "kind", t.Kind, "attempts", t.Attempts, "reason", reason)
	return p.client.Fail(ctx, body, reason)
}
