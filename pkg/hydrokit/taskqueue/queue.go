// Package taskqueue provides the fanout task queue that carries bus records
// between worker processes.
//
// A task with fanout n is handed to at most one consumption per worker id
// and to at most n consumptions in total. It is removed after n deliveries
// or once it expires. Fanout 1 gives ordinary job semantics.
package taskqueue

import (
	"context"
	"errors"
	"time"
)

// Task is a unit of work in the queue.
type Task struct {
	// ID is assigned by Enqueue when empty.
	ID string

	// Type routes tasks to consumers. Consumers with an empty type accept all.
	Type string

	// Priority orders claims: higher first, then FIFO.
	Priority int

	// ExecuteAfter delays the task. Zero means immediately.
	ExecuteAfter time.Time

	// ExpireAt removes the task even if some workers never claimed it.
	// Zero means never.
	ExpireAt time.Time

	// Fanout is the number of distinct workers that receive the task.
	// Values below 1 are treated as 1.
	Fanout int

	// Payload is opaque to the queue.
	Payload []byte

	// CreatedAt is set by Enqueue.
	CreatedAt time.Time
}

// Handler processes a claimed task.
type Handler func(ctx context.Context, task *Task) error

// Source hands out tasks to a specific worker.
type Source interface {
	// Claim returns the next eligible task for workerID, or nil when none is
	// ready. taskType filters by Type unless empty.
	Claim(ctx context.Context, workerID int, taskType string) (*Task, error)
}

// Queue is the collaborator the bus replicates through.
// Implementations must be safe for concurrent use.
type Queue interface {
	Source

	// Enqueue stores task and returns its id.
	Enqueue(ctx context.Context, task *Task) (string, error)

	// Consume starts a Consumer that claims tasks for cfg.WorkerID.
	Consume(ctx context.Context, cfg ConsumerConfig, h Handler) (*Consumer, error)

	// Pending returns the number of tasks not yet fully delivered.
	Pending(ctx context.Context) (int, error)

	// Close releases resources. Further calls return ErrQueueClosed.
	Close() error
}

// Sentinel errors.
var (
	ErrQueueClosed = errors.New("task queue closed")
	ErrNilTask     = errors.New("task queue: nil task")
)

// Option configures a queue.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the queue's time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// normalize fills the defaults Enqueue guarantees.
func normalize(t *Task, id string, now time.Time) {
	if t.ID == "" {
		t.ID = id
	}
	if t.Fanout < 1 {
		t.Fanout = 1
	}
	if t.ExecuteAfter.IsZero() {
		t.ExecuteAfter = now
	}
	t.CreatedAt = now
}
