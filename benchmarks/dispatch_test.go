package benchmarks

import (
	"context"
	"fmt"
	"testing"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/hook"
)

// noop does minimal work to measure dispatch overhead.
func noop(context.Context, ...any) (any, error) {
	return nil, nil
}

func registry(b *testing.B, listeners int) *hook.Registry {
	b.Helper()
	r := hook.New()
	for i := 0; i < listeners; i++ {
		if _, err := r.On("bench", fmt.Sprintf("l%d", i), noop); err != nil {
			b.Fatal(err)
		}
	}
	return r
}

// BenchmarkSubscribe measures listener registration.
func BenchmarkSubscribe(b *testing.B) {
	r := hook.New(hook.WithMaxListeners(b.N + 1))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.On("bench", "l", noop)
	}
}

// BenchmarkParallel_1 dispatches to one listener.
func BenchmarkParallel_1(b *testing.B) {
	benchmarkParallel(b, 1)
}

// BenchmarkParallel_10 dispatches to 10 listeners.
func BenchmarkParallel_10(b *testing.B) {
	benchmarkParallel(b, 10)
}

// BenchmarkParallel_100 dispatches to 100 listeners.
func BenchmarkParallel_100(b *testing.B) {
	benchmarkParallel(b, 100)
}

func benchmarkParallel(b *testing.B, n int) {
	r := registry(b, n)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.Parallel(ctx, "bench", i)
	}
}

// BenchmarkSerial_10 dispatches to 10 listeners one at a time.
func BenchmarkSerial_10(b *testing.B) {
	r := registry(b, 10)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.Serial(ctx, "bench", i)
	}
}

// BenchmarkBail_10 runs a bail chain where nothing answers.
func BenchmarkBail_10(b *testing.B) {
	r := registry(b, 10)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = r.Bail(ctx, "bench", i)
	}
}

// BenchmarkNoListeners measures dispatch of an event nobody listens to.
func BenchmarkNoListeners(b *testing.B) {
	r := hook.New()
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.Parallel(ctx, "nobody", i)
	}
}
