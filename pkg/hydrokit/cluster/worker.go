package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/host"
)

// InheritedListener returns the socket the primary handed down, or binds
// addr when the process was started on its own.
func InheritedListener(addr string) (net.Listener, error) {
	if v := os.Getenv(EnvListenFD); v != "" {
		fd, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("cluster: %s=%q: %w", EnvListenFD, v, err)
		}
		f := os.NewFile(uintptr(fd), "listener")
		defer f.Close()
		ln, err := net.FileListener(f)
		if err != nil {
			return nil, fmt.Errorf("cluster: inherited listener: %w", err)
		}
		return ln, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("cluster: listen %s: %w", addr, err)
	}
	return ln, nil
}

// Worker runs one Kernel and serves its admin surface.
type Worker struct {
	Kernel   *hydrokit.Kernel
	Listener net.Listener

	// ShutdownTimeout bounds draining HTTP requests on stop.
	ShutdownTimeout time.Duration

	started time.Time
	report  *host.Report
}

// Run loads add-ons, starts the kernel and serves HTTP until ctx ends,
// then shuts everything down.
func (w *Worker) Run(ctx context.Context) error {
	k := w.Kernel
	w.started = time.Now()
	if w.ShutdownTimeout == 0 {
		w.ShutdownTimeout = 5 * time.Second
	}

	report, err := k.Load(ctx)
	if err != nil {
		_ = k.Close(context.Background())
		return err
	}
	w.report = report
	if len(report.Failed) > 0 {
		k.Logger.Warn("add-ons failed to load", "failed", report.FailedNames())
	}

	if err := k.Start(ctx); err != nil {
		_ = k.Close(context.Background())
		return err
	}

	srv := &http.Server{
		Handler:           w.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(w.Listener)
	}()
	k.Logger.Info("worker ready", "addr", w.Listener.Addr().String())

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), w.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	if cerr := k.Close(shutdownCtx); cerr != nil && err == nil {
		err = cerr
	}
	k.Logger.Info("worker stopped")
	return err
}
