package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how often an idle consumer checks for work.
const DefaultPollInterval = 100 * time.Millisecond

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	// WorkerID identifies the consuming worker for fanout bookkeeping.
	WorkerID int

	// Type filters tasks. Empty accepts every type.
	Type string

	// PollInterval paces claims while idle. Zero uses DefaultPollInterval.
	PollInterval time.Duration

	// StopOnError stops the consumer after the first handler error.
	StopOnError bool

	// Logger receives handler and claim failures. Nil discards them.
	Logger *slog.Logger
}

// Consumer claims tasks from a Source and runs a Handler on each, one at a time.
type Consumer struct {
	source  Source
	cfg     ConsumerConfig
	handler Handler
	logger  *slog.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewConsumer starts consuming from src until ctx ends or Stop is called.
func NewConsumer(ctx context.Context, src Source, cfg ConsumerConfig, h Handler) *Consumer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Consumer{
		source:  src,
		cfg:     cfg,
		handler: h,
		logger:  logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if c.drain(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain claims and handles tasks until none is ready. It reports whether the
// consumer should stop.
func (c *Consumer) drain(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return true
		}

		task, err := c.source.Claim(ctx, c.cfg.WorkerID, c.cfg.Type)
		if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) {
			return true
		}
		if err != nil {
			c.logger.Warn("task claim failed",
				slog.Int("worker_id", c.cfg.WorkerID),
				slog.String("error", err.Error()),
			)
			return false
		}
		if task == nil {
			return false
		}

		if err := c.handle(ctx, task); err != nil {
			c.logger.Error("task handler failed",
				slog.String("task_id", task.ID),
				slog.String("type", task.Type),
				slog.Int("worker_id", c.cfg.WorkerID),
				slog.String("error", err.Error()),
			)
			if c.cfg.StopOnError {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
				return true
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panic: %v", r)
		}
	}()
	return c.handler(ctx, task)
}

// Stop halts the consumer and waits for the in-flight task. Safe to call
// more than once.
func (c *Consumer) Stop() {
	c.stopOnce.Do(c.cancel)
	<-c.done
}

// Done is closed once the consumer has stopped.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Err returns the handler error that stopped the consumer, if any.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
