package hydrokit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/addon"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/bus"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/config"
	hkerrors "github.com/randalmurphal/hydrokit/pkg/hydrokit/errors"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/hook"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/host"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/module"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/observability"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/taskqueue"
)

// Kernel is everything one worker process runs: the hook registry, the bus
// replicating it across the pool, the script loader and the add-on host.
type Kernel struct {
	Env      config.Env
	Settings config.Settings
	Logger   *slog.Logger
	Metrics  observability.MetricsRecorder
	Spans    observability.SpanManager

	Hooks   *hook.Registry
	Bus     *bus.Replicator
	Modules *module.Loader
	App     *host.App
	Host    *host.Host

	queue      taskqueue.Queue
	ownsQueue  bool
	prometheus *observability.Prometheus
	closeOnce  sync.Once
	closeErr   error
}

// NewKernel wires a Kernel from the environment and options. A task queue
// that cannot be opened degrades the bus to local-only delivery.
func NewKernel(opts ...Option) (*Kernel, error) {
	c := defaultKernelConfig()
	for _, opt := range opts {
		opt(&c)
	}

	var e config.Env
	if c.env != nil {
		e = *c.env
	} else {
		var err error
		if e, err = config.ReadEnv(); err != nil {
			return nil, err
		}
	}

	k := &Kernel{
		Env:      e,
		Settings: config.SettingsFrom(c.cfg, e),
		Logger:   c.logger,
		Metrics:  observability.NoopMetrics{},
		Spans:    observability.NewSpanManager(),
	}
	if k.Logger == nil {
		k.Logger = NewLogger(os.Stderr, e)
	}

	if c.prometheus {
		p, err := observability.SetupPrometheus()
		if err != nil {
			k.Logger.Warn("metrics disabled", "error", err)
		} else {
			k.prometheus = p
			k.Metrics = observability.NewMetricsRecorder()
		}
	}

	k.queue = c.queue
	if k.queue == nil && e.QueuePath != "" {
		q, err := taskqueue.NewSQLiteQueue(e.QueuePath)
		if err != nil {
			k.Logger.Warn("bus replication unavailable",
				"path", e.QueuePath,
				"error", hkerrors.Degraded(err, "open task queue"))
		} else {
			k.queue = q
			k.ownsQueue = true
		}
	}

	k.Hooks = hook.New(
		hook.WithLogger(k.Logger),
		hook.WithMetrics(k.Metrics),
		hook.WithMaxListeners(k.Settings.MaxListeners),
		hook.WithShowBus(k.Settings.ShowBus),
	)

	busOpts := []bus.Option{
		bus.WithWorkerID(e.WorkerID),
		bus.WithPoolSize(func() int { return e.PoolSize }),
		bus.WithRecordTTL(k.Settings.RecordTTL),
		bus.WithPollInterval(k.Settings.PollInterval),
		bus.WithLogger(k.Logger),
		bus.WithMetrics(k.Metrics),
	}
	if k.queue != nil {
		busOpts = append(busOpts, bus.WithQueue(k.queue))
	}
	k.Bus = bus.New(k.Hooks, busOpts...)

	k.Modules = module.New(
		module.WithLogger(k.Logger),
		module.WithMetrics(k.Metrics),
		module.WithSpans(k.Spans),
		module.WithDumpCode(e.DumpCode),
	)

	k.App = host.NewApp(
		host.WithHooks(k.Hooks),
		host.WithBus(k.Bus),
		host.WithModules(k.Modules),
		host.WithLogger(k.Logger),
		host.WithLocale(k.Settings.Locale),
	)

	manifest := c.manifest
	if manifest == nil {
		m, err := addon.ReadManifest(k.Settings.ScratchDir)
		if err != nil {
			k.Logger.Warn("no add-on manifest, loading plugins only", "error", err)
		} else {
			manifest = m
		}
	}

	k.Host = host.New(k.App,
		host.WithManifest(manifest),
		host.WithPlugins(c.plugins...),
		host.WithSpans(k.Spans),
		host.WithStaticDir(k.Settings.StaticDir),
	)
	return k, nil
}

// Load runs the add-on load phases.
func (k *Kernel) Load(ctx context.Context) (*host.Report, error) {
	return k.Host.Load(ctx)
}

// Start begins bus consumption and dispatches the start-up events.
func (k *Kernel) Start(ctx context.Context) error {
	return k.Host.Start(ctx)
}

// MetricsHandler serves the Prometheus scrape endpoint, or nil when
// metrics are disabled.
func (k *Kernel) MetricsHandler() http.Handler {
	if k.prometheus == nil {
		return nil
	}
	return k.prometheus.Handler()
}

// Queue returns the task queue the bus replicates through, if any.
func (k *Kernel) Queue() taskqueue.Queue {
	return k.queue
}

// Close dispatches app/exit, stops the bus and loader, and releases the
// queue and meter provider. Later calls return the first result.
func (k *Kernel) Close(ctx context.Context) error {
	k.closeOnce.Do(func() {
		var errs []error
		if err := k.Host.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		if k.ownsQueue {
			if err := k.queue.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close task queue: %w", err))
			}
		}
		if k.prometheus != nil {
			if err := k.prometheus.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
			}
		}
		k.closeErr = errors.Join(errs...)
	})
	return k.closeErr
}

// Expand unpacks the package files of the first usable root in s into the
// scratch directory and writes its manifest.
func Expand(ctx context.Context, s config.Settings, logger *slog.Logger) (*addon.Manifest, error) {
	l := &addon.Loader{
		Roots:      s.PackageRoots,
		ScratchDir: s.ScratchDir,
		Logger:     logger,
		Spans:      observability.NewSpanManager(),
	}
	return l.Expand(ctx)
}
