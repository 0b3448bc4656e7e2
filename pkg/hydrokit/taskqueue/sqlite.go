package taskqueue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	hkerrors "github.com/randalmurphal/hydrokit/pkg/hydrokit/errors"
)

// SQLiteQueue is a Queue backed by one SQLite file shared by every worker
// process of the pool. Per-(task, worker) delivery rows enforce that a
// worker never receives the same task twice.
type SQLiteQueue struct {
	db     *sql.DB
	opts   options
	retry  hkerrors.RetryConfig
	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*SQLiteQueue)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT    NOT NULL UNIQUE,
	type          TEXT    NOT NULL,
	priority      INTEGER NOT NULL DEFAULT 0,
	execute_after INTEGER NOT NULL,
	expire_at     INTEGER NOT NULL DEFAULT 0,
	fanout        INTEGER NOT NULL,
	delivered     INTEGER NOT NULL DEFAULT 0,
	payload       BLOB    NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks(type, priority DESC, seq);
CREATE TABLE IF NOT EXISTS deliveries (
	task_id      TEXT    NOT NULL,
	worker_id    INTEGER NOT NULL,
	delivered_at INTEGER NOT NULL,
	PRIMARY KEY (task_id, worker_id)
);
`

// NewSQLiteQueue opens (or creates) the queue database at path.
// Use ":memory:" for a private in-process queue.
func NewSQLiteQueue(path string, opts ...Option) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection per process; other processes contend through SQLite's
	// file locks and busy_timeout.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteQueue{
		db:    db,
		opts:  buildOptions(opts),
		retry: hkerrors.DefaultRetry,
	}, nil
}

// Enqueue implements Queue.
func (q *SQLiteQueue) Enqueue(ctx context.Context, task *Task) (string, error) {
	if task == nil {
		return "", ErrNilTask
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	t := *task
	normalize(&t, uuid.NewString(), q.opts.now())

	res := hkerrors.WithRetry(ctx, q.retry, func(ctx context.Context) (struct{}, error) {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO tasks (id, type, priority, execute_after, expire_at, fanout, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.Type, t.Priority, unixNano(t.ExecuteAfter), unixNano(t.ExpireAt),
			t.Fanout, nonNil(t.Payload), unixNano(t.CreatedAt))
		return struct{}{}, classify(err, "enqueue task")
	})
	if res.Err != nil {
		return "", res.Err
	}
	return t.ID, nil
}

// Claim implements Source.
func (q *SQLiteQueue) Claim(ctx context.Context, workerID int, taskType string) (*Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	res := hkerrors.WithRetry(ctx, q.retry, func(ctx context.Context) (*Task, error) {
		return q.claimOnce(ctx, workerID, taskType)
	})
	return res.Value, res.Err
}

func (q *SQLiteQueue) claimOnce(ctx context.Context, workerID int, taskType string) (*Task, error) {
	now := unixNano(q.opts.now())

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err, "begin claim")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	// Writing first takes the write lock up front, so the read below cannot
	// be invalidated by a concurrent claimer in another process.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tasks WHERE expire_at > 0 AND expire_at <= ?`, now); err != nil {
		return nil, classify(err, "reap expired tasks")
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM deliveries WHERE task_id NOT IN (SELECT id FROM tasks)`); err != nil {
		return nil, classify(err, "reap deliveries")
	}

	var (
		t                          Task
		executeAfter, expire, made int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, type, priority, execute_after, expire_at, fanout, payload, created_at
		FROM tasks t
		WHERE (? = '' OR type = ?)
		  AND execute_after <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM deliveries d WHERE d.task_id = t.id AND d.worker_id = ?
		  )
		ORDER BY priority DESC, seq ASC
		LIMIT 1
	`, taskType, taskType, now, workerID).Scan(
		&t.ID, &t.Type, &t.Priority, &executeAfter, &expire, &t.Fanout, &t.Payload, &made,
	)
	if err == sql.ErrNoRows {
		return nil, classify(tx.Commit(), "commit reap")
	}
	if err != nil {
		return nil, classify(err, "select task")
	}
	t.ExecuteAfter = fromUnixNano(executeAfter)
	t.ExpireAt = fromUnixNano(expire)
	t.CreatedAt = fromUnixNano(made)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO deliveries (task_id, worker_id, delivered_at) VALUES (?, ?, ?)`,
		t.ID, workerID, now); err != nil {
		return nil, classify(err, "record delivery")
	}

	var delivered int
	if err := tx.QueryRowContext(ctx,
		`UPDATE tasks SET delivered = delivered + 1 WHERE id = ? RETURNING delivered`,
		t.ID).Scan(&delivered); err != nil {
		return nil, classify(err, "count delivery")
	}
	if delivered >= t.Fanout {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, t.ID); err != nil {
			return nil, classify(err, "reap task")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM deliveries WHERE task_id = ?`, t.ID); err != nil {
			return nil, classify(err, "reap task deliveries")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err, "commit claim")
	}
	return &t, nil
}

// Consume implements Queue.
func (q *SQLiteQueue) Consume(ctx context.Context, cfg ConsumerConfig, h Handler) (*Consumer, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	return NewConsumer(ctx, q, cfg, h), nil
}

// Pending implements Queue. Expired tasks are not counted.
func (q *SQLiteQueue) Pending(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return 0, ErrQueueClosed
	}

	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE expire_at = 0 OR expire_at > ?`,
		unixNano(q.opts.now())).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// Close implements Queue.
func (q *SQLiteQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	return q.db.Close()
}

// classify wraps err and marks lock contention as transient so WithRetry
// tries again.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return hkerrors.Transient(err, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
