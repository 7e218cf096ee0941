package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

// DeliverArgs is the River job that carries one event to the publisher.
type DeliverArgs struct {
	Event Event `json:"event"`
}

func (DeliverArgs) Kind() string { return "deliver_notification" }

// InsertFunc enqueues a delivery job. main wires it to the River client.
type InsertFunc func(ctx context.Context, args DeliverArgs) error

// Queue is the Notifier backed by River: Notify only enqueues, a worker delivers.
type Queue struct {
	insert InsertFunc
}

func NewQueue(insert InsertFunc) *Queue {
	return &Queue{insert: insert}
}

func (q *Queue) Notify(ctx context.Context, e Event) error {
	if err := q.insert(ctx, DeliverArgs{Event: e}); err != nil {
		return fmt.Errorf("enqueue %s: %w", e.Type, err)
	}
	return nil
}

type DeliverWorker struct {
	river.WorkerDefaults[DeliverArgs]
	publisher Publisher
	log       *slog.Logger
}

func NewDeliverWorker(p Publisher, log *slog.Logger) *DeliverWorker {
	if log == nil {
		log = slog.Default()
	}
	return &DeliverWorker{publisher: p, log: log}
}

// Work returns publisher errors so River retries the delivery with backoff.
func (w *DeliverWorker) Work(ctx context.Context, job *river.Job[DeliverArgs]) error {
	e := job.Args.Event
	if err := w.publisher.Publish(ctx, e); err != nil {
		w.log.Warn("notification delivery failed", "type", e.Type, "key", e.Key(), "attempt", job.Attempt, "error", err)
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func (w *DeliverWorker) Timeout(*river.Job[DeliverArgs]) time.Duration {
	return 30 * time.Second
}
