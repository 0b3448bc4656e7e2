package hydrokit

import (
	"io"
	"log/slog"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/config"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/observability"
)

// NewLogger returns the process logger: JSON at info level in production,
// text at debug level in development. Worker identity is attached to every
// record.
func NewLogger(w io.Writer, e config.Env) *slog.Logger {
	var handler slog.Handler
	if e.Development() {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return observability.EnrichLogger(slog.New(handler), e.WorkerID, e.Instance)
}
