package taskqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memTask struct {
	task      Task
	seq       uint64
	delivered map[int]struct{}
}

// MemoryQueue is an in-process Queue. Several consumers with different
// worker ids simulate a worker pool on a single process.
type MemoryQueue struct {
	opts   options
	mu     sync.Mutex
	tasks  []*memTask
	seq    uint64
	closed bool
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(opts ...Option) *MemoryQueue {
	return &MemoryQueue{opts: buildOptions(opts)}
}

// Enqueue implements Queue. The task is copied.
func (q *MemoryQueue) Enqueue(_ context.Context, task *Task) (string, error) {
	if task == nil {
		return "", ErrNilTask
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	t := *task
	t.Payload = append([]byte(nil), task.Payload...)
	normalize(&t, uuid.NewString(), q.opts.now())

	q.seq++
	q.tasks = append(q.tasks, &memTask{task: t, seq: q.seq, delivered: make(map[int]struct{})})
	return t.ID, nil
}

// Claim implements Source.
func (q *MemoryQueue) Claim(_ context.Context, workerID int, taskType string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	now := q.opts.now()
	q.reapLocked(now)

	var best *memTask
	bestIdx := -1
	for i, mt := range q.tasks {
		if taskType != "" && mt.task.Type != taskType {
			continue
		}
		if mt.task.ExecuteAfter.After(now) {
			continue
		}
		if _, seen := mt.delivered[workerID]; seen {
			continue
		}
		if best == nil || mt.task.Priority > best.task.Priority ||
			(mt.task.Priority == best.task.Priority && mt.seq < best.seq) {
			best, bestIdx = mt, i
		}
	}
	if best == nil {
		return nil, nil
	}

	best.delivered[workerID] = struct{}{}
	out := best.task
	out.Payload = append([]byte(nil), best.task.Payload...)
	if len(best.delivered) >= best.task.Fanout {
		q.tasks = append(q.tasks[:bestIdx], q.tasks[bestIdx+1:]...)
	}
	return &out, nil
}

// reapLocked drops expired tasks. Caller holds q.mu.
func (q *MemoryQueue) reapLocked(now time.Time) {
	kept := q.tasks[:0]
	for _, mt := range q.tasks {
		if !mt.task.ExpireAt.IsZero() && !now.Before(mt.task.ExpireAt) {
			continue
		}
		kept = append(kept, mt)
	}
	for i := len(kept); i < len(q.tasks); i++ {
		q.tasks[i] = nil
	}
	q.tasks = kept
}

// Consume implements Queue.
func (q *MemoryQueue) Consume(ctx context.Context, cfg ConsumerConfig, h Handler) (*Consumer, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, ErrQueueClosed
	}
	return NewConsumer(ctx, q, cfg, h), nil
}

// Pending implements Queue.
func (q *MemoryQueue) Pending(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrQueueClosed
	}
	q.reapLocked(q.opts.now())
	return len(q.tasks), nil
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.tasks = nil
	return nil
}
