package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Environment markers.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Env is the process environment read once at startup.
type Env struct {
	// Instance names this process for diagnostics and log files only.
	// It is never used to assign worker ids.
	Instance string `env:"HYDRO_INSTANCE" envDefault:"0"`

	// WorkerID is assigned by the primary when it spawns the worker.
	WorkerID int `env:"HYDRO_WORKER_ID" envDefault:"0"`

	// PoolSize is the number of worker processes in the pool.
	PoolSize int `env:"HYDRO_POOL_SIZE" envDefault:"1"`

	// QueuePath is the shared task-queue database. Empty disables replication.
	QueuePath string `env:"HYDRO_QUEUE_PATH"`

	// ScratchDir overrides the directory packages are expanded into.
	ScratchDir string `env:"HYDRO_SCRATCH_DIR"`

	// ConfigFile points at an optional hydrokit.yaml / hydrokit.json.
	ConfigFile string `env:"HYDRO_CONFIG"`

	// Environment is production or development.
	Environment string `env:"HYDRO_ENV" envDefault:"production"`

	// DumpCode names a file (by basename) whose transformed code is logged.
	DumpCode string `env:"HYDRO_LOADER_DUMP_CODE"`

	// ShowBus logs every hook dispatch at debug level.
	ShowBus bool `env:"HYDRO_SHOW_BUS"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ReadEnv parses the process environment into an Env.
func ReadEnv() (Env, error) {
	var e Env
	if err := ParseEnv(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}

// Development reports whether the development marker is set.
func (e Env) Development() bool {
	return e.Environment == EnvDevelopment
}

var falsy = map[string]bool{"0": true, "false": true, "off": true, "disabled": true, "no": true}

// DebugRequested reports whether args carry a --debug flag that is not
// explicitly set to a falsy value ("--debug", "--debug=1" enable it;
// "--debug=false", "--debug=off" do not).
func DebugRequested(args []string) bool {
	for _, arg := range args {
		if !strings.HasPrefix(arg, "--debug") {
			continue
		}
		rest := strings.TrimPrefix(arg, "--debug")
		if rest == "" {
			return true
		}
		if !strings.HasPrefix(rest, "=") {
			continue
		}
		return !falsy[strings.ToLower(strings.TrimPrefix(rest, "="))]
	}
	return false
}

// ApplyDebugFlag sets the environment marker from args: development when
// --debug is requested, otherwise production unless HYDRO_ENV is already set.
// It returns the resulting marker.
func ApplyDebugFlag(args []string) string {
	if DebugRequested(args) {
		os.Setenv("HYDRO_ENV", EnvDevelopment)
		os.Setenv("DEV", "on")
		return EnvDevelopment
	}
	if current := os.Getenv("HYDRO_ENV"); current != "" {
		return current
	}
	os.Setenv("HYDRO_ENV", EnvProduction)
	return EnvProduction
}
