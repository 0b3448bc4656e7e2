package hydrokit

import (
	"log/slog"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/addon"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/config"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/host"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/taskqueue"
)

// kernelConfig holds what NewKernel needs beyond the environment.
type kernelConfig struct {
	cfg        config.Config
	env        *config.Env
	logger     *slog.Logger
	queue      taskqueue.Queue
	manifest   *addon.Manifest
	plugins    []host.Plugin
	prometheus bool
}

func defaultKernelConfig() kernelConfig {
	return kernelConfig{
		cfg:        config.New(nil),
		prometheus: true,
	}
}

// Option configures a Kernel.
type Option func(*kernelConfig)

// WithConfig sets the file configuration (hydrokit.yaml).
//
// Example:
//
//	cfg, _ := config.LoadOptional("hydrokit.yaml")
//	k, err := hydrokit.NewKernel(ctx, hydrokit.WithConfig(cfg))
func WithConfig(cfg config.Config) Option {
	return func(c *kernelConfig) {
		c.cfg = cfg
	}
}

// WithEnv replaces the process environment. Default: config.ReadEnv().
func WithEnv(e config.Env) Option {
	return func(c *kernelConfig) {
		c.env = &e
	}
}

// WithLogger sets the base logger. Default: NewLogger for the environment.
func WithLogger(logger *slog.Logger) Option {
	return func(c *kernelConfig) {
		c.logger = logger
	}
}

// WithQueue sets the task queue used for bus replication instead of
// opening the SQLite file named by the environment.
func WithQueue(q taskqueue.Queue) Option {
	return func(c *kernelConfig) {
		c.queue = q
	}
}

// WithManifest sets the add-ons to load instead of reading
// manifest.json from the scratch directory.
func WithManifest(m *addon.Manifest) Option {
	return func(c *kernelConfig) {
		c.manifest = m
	}
}

// WithPlugins adds compiled-in plugins on top of the registered ones.
func WithPlugins(ps ...host.Plugin) Option {
	return func(c *kernelConfig) {
		c.plugins = append(c.plugins, ps...)
	}
}

// WithoutPrometheus keeps the global meter provider untouched and records
// no metrics.
func WithoutPrometheus() Option {
	return func(c *kernelConfig) {
		c.prometheus = false
	}
}
