/*
Package config reads kernel configuration.

Three sources feed a running kernel:

  - hydrokit.yaml (or .json), loaded into a Config with typed, defaulting accessors
  - HYDRO_* environment variables, parsed into Env
  - the --debug command-line flag, which sets the development marker

# Config

Config wraps a map[string]any. Accessors never fail: a missing key or a
type mismatch returns the supplied default. Dotted keys walk nested maps.

	cfg, err := config.LoadOptional("hydrokit.yaml")
	poll := cfg.Duration("queue.poll_interval", 100*time.Millisecond)

SettingsFrom folds a Config and an Env into the Settings the kernel uses.

# Debug flag

"--debug" and "--debug=<anything truthy>" set HYDRO_ENV=development and
DEV=on. Falsy values are 0, false, off, disabled and no. Without the flag
HYDRO_ENV defaults to production.

Config is safe for concurrent reads once built.
*/
package config
