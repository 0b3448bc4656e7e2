// Package observability provides logging, metrics and tracing for the
// hydrokit kernel.
//
// Features:
//   - Structured logging via slog helpers that tolerate a nil logger
//   - Metrics via OpenTelemetry, exportable to Prometheus
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds process identity to a logger.
//
// Example:
//
//	logger = EnrichLogger(logger, 2, "0")
//	logger.Info("ready") // includes worker_id, instance
func EnrichLogger(logger *slog.Logger, workerID int, instance string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.Int("worker_id", workerID),
		slog.String("instance", instance),
	)
}

// LogDispatch logs a hook dispatch. Emitted only when bus tracing is on.
func LogDispatch(logger *slog.Logger, mode, event string, listeners int) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch",
		slog.String("mode", mode),
		slog.String("event", event),
		slog.Int("listeners", listeners),
	)
}

// LogListenerError logs a listener failure during dispatch.
func LogListenerError(logger *slog.Logger, event, listener string, err error) {
	if logger == nil {
		return
	}
	logger.Error("listener failed",
		slog.String("event", event),
		slog.String("listener", listener),
		slog.String("error", err.Error()),
	)
}

// LogListenerOverflow warns that an event has more listeners than expected.
func LogListenerOverflow(logger *slog.Logger, event string, count, max int) {
	if logger == nil {
		return
	}
	logger.Warn("possible listener leak",
		slog.String("event", event),
		slog.Int("listeners", count),
		slog.Int("max", max),
	)
}

// LogReplicated logs a bus record handed to the task queue.
func LogReplicated(logger *slog.Logger, event, taskID string, fanout int) {
	if logger == nil {
		return
	}
	logger.Debug("bus record enqueued",
		slog.String("event", event),
		slog.String("task_id", taskID),
		slog.Int("fanout", fanout),
	)
}

// LogReplicationError logs a failure to enqueue or decode a bus record.
func LogReplicationError(logger *slog.Logger, event string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("bus replication failed",
		slog.String("event", event),
		slog.String("error", err.Error()),
	)
}

// LogPackageExpanded logs a successfully expanded package.
func LogPackageExpanded(logger *slog.Logger, name, dir string, sizeBytes int64) {
	if logger == nil {
		return
	}
	logger.Info("package expanded",
		slog.String("package", name),
		slog.String("dir", dir),
		slog.Int64("size_bytes", sizeBytes),
	)
}

// LogPackageSkipped logs a package left out of expansion (corrupt, wrong OS).
func LogPackageSkipped(logger *slog.Logger, file, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("package skipped",
		slog.String("file", file),
		slog.String("reason", reason),
	)
}

// LogModuleLoaded logs a module that finished loading.
func LogModuleLoaded(logger *slog.Logger, path, kind string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("module loaded",
		slog.String("path", path),
		slog.String("kind", kind),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogTransformRetry warns that a module used top-level await and was
// reloaded with dynamic imports rewritten to require.
func LogTransformRetry(logger *slog.Logger, path string) {
	if logger == nil {
		return
	}
	logger.Warn("top-level await rewritten to require; please update the module",
		slog.String("path", path),
	)
}

// LogCacheRejected logs a code-cache blob the runtime refused.
func LogCacheRejected(logger *slog.Logger, path string, err error) {
	if logger == nil {
		return
	}
	logger.Error("code cache rejected",
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
}

// LogAddonFailed logs an add-on that failed a load phase and will be skipped.
func LogAddonFailed(logger *slog.Logger, addon, phase string, err error) {
	if logger == nil {
		return
	}
	logger.Error("addon failed",
		slog.String("addon", addon),
		slog.String("phase", phase),
		slog.String("error", err.Error()),
	)
}

// LogPhase logs completion of a host load phase.
func LogPhase(logger *slog.Logger, phase string, loaded, failed int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("load phase complete",
		slog.String("phase", phase),
		slog.Int("loaded", loaded),
		slog.Int("failed", failed),
		slog.Float64("duration_ms", durationMs),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
