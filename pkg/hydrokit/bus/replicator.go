package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	hkerrors "github.com/randalmurphal/hydrokit/pkg/hydrokit/errors"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/hook"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/observability"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/taskqueue"
)

// DefaultRecordTTL bounds how long a record waits for slow or dead workers.
const DefaultRecordTTL = time.Minute

// Replicator broadcasts events to every worker of the pool. A publish is
// delivered to local listeners at once and written to the task queue with a
// fanout equal to the pool size; each worker consumes its copy and
// re-delivers it locally, except the sender, which drops its own echo.
type Replicator struct {
	hooks    *hook.Registry
	queue    taskqueue.Queue
	workerID int
	poolSize func() int
	ttl      time.Duration
	poll     time.Duration
	logger   *slog.Logger
	metrics  observability.MetricsRecorder

	mu       sync.Mutex
	consumer *taskqueue.Consumer
	degraded sync.Once
}

// Option configures a Replicator.
type Option func(*Replicator)

// WithQueue sets the task queue. Without one, publishing is local-only.
func WithQueue(q taskqueue.Queue) Option {
	return func(r *Replicator) {
		r.queue = q
	}
}

// WithWorkerID sets this process's worker id.
func WithWorkerID(id int) Option {
	return func(r *Replicator) {
		r.workerID = id
	}
}

// WithPoolSize sets the function read at each publish to size the fanout.
func WithPoolSize(fn func() int) Option {
	return func(r *Replicator) {
		if fn != nil {
			r.poolSize = fn
		}
	}
}

// WithRecordTTL sets how long an undelivered record is kept.
func WithRecordTTL(ttl time.Duration) Option {
	return func(r *Replicator) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithPollInterval sets the consumer's idle poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(r *Replicator) {
		r.poll = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Replicator) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(r *Replicator) {
		if m != nil {
			r.metrics = m
		}
	}
}

// New creates a Replicator dispatching through hooks.
func New(hooks *hook.Registry, opts ...Option) *Replicator {
	r := &Replicator{
		hooks:    hooks,
		poolSize: func() int { return 1 },
		ttl:      DefaultRecordTTL,
		metrics:  observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WorkerID returns this process's worker id.
func (r *Replicator) WorkerID() int {
	return r.workerID
}

// PublishOption adjusts a single Publish.
type PublishOption func(*publishOptions)

type publishOptions struct {
	replica bool
}

// AsReplica marks a publish as the local re-delivery of a record that came
// from the queue. It is not enqueued again.
func AsReplica() PublishOption {
	return func(o *publishOptions) {
		o.replica = true
	}
}

// Publish delivers payload to local listeners of event in parallel, then
// enqueues it for the rest of the pool. Errors from both steps are joined.
func (r *Replicator) Publish(ctx context.Context, event string, payload any, opts ...PublishOption) error {
	var po publishOptions
	for _, opt := range opts {
		opt(&po)
	}

	localErr := r.hooks.Parallel(ctx, event, payload)
	if po.replica {
		return localErr
	}

	if r.queue == nil {
		r.degraded.Do(func() {
			if r.logger != nil {
				r.logger.Debug("no task queue configured, bus is local-only")
			}
		})
		return localErr
	}

	return errors.Join(localErr, r.enqueue(ctx, event, payload))
}

func (r *Replicator) enqueue(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: encode %s payload: %w", event, err)
	}

	now := time.Now()
	rec := Record{
		ID:        uuid.NewString(),
		Kind:      Kind,
		Event:     event,
		Payload:   data,
		SenderID:  r.workerID,
		Fanout:    r.poolSize(),
		CreatedAt: now,
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("bus: encode record: %w", err)
	}

	id, err := r.queue.Enqueue(ctx, &taskqueue.Task{
		ID:       rec.ID,
		Type:     Kind,
		Fanout:   rec.Fanout,
		ExpireAt: now.Add(r.ttl),
		Payload:  body,
	})
	if err != nil {
		observability.LogReplicationError(r.logger, event, err)
		return fmt.Errorf("bus: enqueue %s: %w", event, err)
	}

	r.metrics.RecordReplication(ctx, event, observability.DirectionSent)
	observability.LogReplicated(r.logger, event, id, rec.Fanout)
	return nil
}

// PostInit starts consuming bus records for this worker. Without a queue it
// does nothing.
func (r *Replicator) PostInit(ctx context.Context) error {
	if r.queue == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumer != nil {
		return nil
	}

	c, err := r.queue.Consume(ctx, taskqueue.ConsumerConfig{
		WorkerID:     r.workerID,
		Type:         Kind,
		PollInterval: r.poll,
		Logger:       r.logger,
	}, r.handle)
	if err != nil {
		return hkerrors.Degraded(err, "start bus consumer")
	}
	r.consumer = c
	return nil
}

func (r *Replicator) handle(ctx context.Context, task *taskqueue.Task) error {
	var rec Record
	if err := json.Unmarshal(task.Payload, &rec); err != nil {
		observability.LogReplicationError(r.logger, "", err)
		return nil
	}
	if rec.Kind != Kind {
		return nil
	}
	if rec.SenderID == r.workerID {
		r.metrics.RecordReplication(ctx, rec.Event, observability.DirectionEcho)
		return nil
	}

	var payload any
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			observability.LogReplicationError(r.logger, rec.Event, err)
			return nil
		}
	}

	r.metrics.RecordReplication(ctx, rec.Event, observability.DirectionReceived)
	return r.Publish(ctx, rec.Event, payload, AsReplica())
}

// Close stops the consumer started by PostInit.
func (r *Replicator) Close() {
	r.mu.Lock()
	c := r.consumer
	r.consumer = nil
	r.mu.Unlock()

	if c != nil {
		c.Stop()
	}
}
