package worker

import (
	"context"
	"sync"
	"time"

	"github.com/atendelab/zapdesk/internal/apperr"
	"github.com/atendelab/zapdesk/internal/observability/metrics"
	"github.com/atendelab/zapdesk/internal/queue"
	"github.com/atendelab/zapdesk/pkg/logging"
)

// Worker drains the task queue with a fixed pool of consumers. Transient
// failures go back through the publisher's retry schedule; everything else is
// parked with its reason.
type Worker struct {
	client      queue.Client
	publisher   *queue.Publisher
	processor   *Processor
	count       int
	batchSize   int
	waitSeconds int
	metrics     *metrics.Metrics
	logger      *logging.Logger

	wg sync.WaitGroup
}

func New(client queue.Client, publisher *queue.Publisher, processor *Processor, count, batchSize, waitSeconds int, m *metrics.Metrics, logger *logging.Logger) *Worker {
	if client == nil {
		panic("worker: queue client cannot be nil")
	}
	if publisher == nil {
		panic("worker: publisher cannot be nil")
	}
	if processor == nil {
		panic("worker: processor cannot be nil")
	}
	if count <= 0 {
		count = 1
	}
	if batchSize <= 0 {
		batchSize = 5
	}
	if waitSeconds <= 0 {
		waitSeconds = 2
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		client:      client,
		publisher:   publisher,
		processor:   processor,
		count:       count,
		batchSize:   batchSize,
		waitSeconds: waitSeconds,
		metrics:     m,
		logger:      logger,
	}
}

// Start launches the consumer goroutines. They run until ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.count; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.run(ctx, id)
		}(i)
	}
	w.logger.Info("worker pool started", "consumers", w.count)
}

// Wait blocks until every consumer has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, id int) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("consumer stopping", "consumer", id)
			return
		default:
		}

		messages, err := w.client.Receive(ctx, w.batchSize, w.waitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive tasks", "consumer", id, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handle(ctx, msg)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	task, err := queue.DecodeTask(msg.Body)
	if err != nil {
		w.logger.Error("undecodable task", "error", err)
		if err := w.client.Fail(ctx, msg.Body, err.Error()); err != nil {
			w.logger.Error("failed to park undecodable task", "error", err)
		}
		w.ack(ctx, msg)
		return
	}

	start := time.Now()
	procErr := w.processor.Process(ctx, task)
	w.metrics.TaskDuration(task.Kind, time.Since(start))

	switch {
	case procErr == nil:
		w.metrics.Task(task.Kind, "processed")
	case apperr.IsTransient(procErr):
		retried, err := w.publisher.Retry(ctx, task, procErr.Error())
		if err != nil {
			w.logger.Error("failed to schedule retry", "task_id", task.ID, "error", err)
		}
		if retried {
			w.metrics.Task(task.Kind, "retried")
		} else {
			w.metrics.Task(task.Kind, "parked")
		}
	default:
		w.logger.Error("task failed permanently", "task_id", task.ID, "kind", task.Kind, "error", procErr)
		if err := w.publisher.Park(ctx, task, procErr.Error()); err != nil {
			w.logger.Error("failed to park task", "task_id", task.ID, "error", err)
		}
		w.metrics.Task(task.Kind, "parked")
	}

	w.ack(ctx, msg)
}

func (w *Worker) ack(ctx context.Context, msg queue.Message) {
	if err := w.client.Delete(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Error("failed to acknowledge task", "error", err)
	}
}
