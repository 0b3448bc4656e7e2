package config

import (
	"path/filepath"
	"time"
)

// Settings are the kernel knobs read from hydrokit.yaml and the environment.
type Settings struct {
	// Workers is the worker pool size. Zero means one worker per CPU.
	Workers int

	// Listen is the address the primary binds and hands to workers.
	Listen string

	// PackageRoots are tried in order; the first existing, non-empty one wins.
	PackageRoots []string

	// ScratchDir receives expanded packages.
	ScratchDir string

	// StaticDir receives the public files of loaded add-ons.
	StaticDir string

	// QueuePath is the shared task-queue database.
	QueuePath string

	// PollInterval paces queue consumers.
	PollInterval time.Duration

	// RecordTTL bounds how long a bus record waits for slow workers.
	RecordTTL time.Duration

	// MaxListeners is the per-event listener count above which a warning is logged.
	MaxListeners int

	// ShowBus logs every dispatch at debug level.
	ShowBus bool

	// Locale is the fallback language for translations.
	Locale string
}

// Defaults.
const (
	DefaultListen       = "127.0.0.1:8888"
	DefaultPollInterval = 100 * time.Millisecond
	DefaultRecordTTL    = time.Minute
	DefaultMaxListeners = 2048
	DefaultLocale       = "en"
)

// SettingsFrom reads kernel settings from cfg, filling defaults, then
// applies environment overrides from e.
func SettingsFrom(cfg Config, e Env) Settings {
	home := cfg.String("home", ".hydro")
	s := Settings{
		Workers:      cfg.Int("workers", 0),
		Listen:       cfg.String("listen", DefaultListen),
		PackageRoots: cfg.StringSlice("packages.roots", []string{filepath.Join(home, "addons"), "addons"}),
		ScratchDir:   cfg.String("packages.scratch", filepath.Join(home, "tmp", "addons")),
		StaticDir:    cfg.String("static", filepath.Join(home, "static")),
		QueuePath:    cfg.String("queue.path", filepath.Join(home, "queue.db")),
		PollInterval: cfg.Duration("queue.poll_interval", DefaultPollInterval),
		RecordTTL:    cfg.Duration("queue.record_ttl", DefaultRecordTTL),
		MaxListeners: cfg.Int("bus.max_listeners", DefaultMaxListeners),
		ShowBus:      cfg.Bool("bus.show", false),
		Locale:       cfg.String("locale", DefaultLocale),
	}

	if e.ScratchDir != "" {
		s.ScratchDir = e.ScratchDir
	}
	if e.QueuePath != "" {
		s.QueuePath = e.QueuePath
	}
	if e.ShowBus {
		s.ShowBus = true
	}
	return s
}
