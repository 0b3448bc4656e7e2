package benchmarks

import (
	"context"
	"testing"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/bus"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/hook"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/taskqueue"
)

// BenchmarkPublish_LocalOnly publishes without a queue.
func BenchmarkPublish_LocalOnly(b *testing.B) {
	r := bus.New(registry(b, 1))
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.Publish(ctx, "bench", i)
	}
}

// BenchmarkPublish_MemoryQueue publishes and enqueues for a pool of 4.
func BenchmarkPublish_MemoryQueue(b *testing.B) {
	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	r := bus.New(hook.New(),
		bus.WithQueue(q),
		bus.WithPoolSize(func() int { return 4 }),
	)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.Publish(ctx, "bench", map[string]any{"i": i})
	}
}

// BenchmarkPublish_SQLite publishes through an on-disk queue.
func BenchmarkPublish_SQLite(b *testing.B) {
	q, err := taskqueue.NewSQLiteQueue(b.TempDir() + "/queue.db")
	if err != nil {
		b.Fatal(err)
	}
	defer q.Close()
	r := bus.New(hook.New(),
		bus.WithQueue(q),
		bus.WithPoolSize(func() int { return 4 }),
	)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.Publish(ctx, "bench", i)
	}
}
