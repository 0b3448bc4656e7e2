package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/config"
)

var (
	configPath string
	debugFlag  string

	rootCmd = &cobra.Command{
		Use:           "hydrokit",
		Short:         "Extensibility kernel for a pooled add-on server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cmd.Flags().Changed("debug") {
				config.ApplyDebugFlag([]string{"--debug=" + debugFlag})
			} else {
				config.ApplyDebugFlag(nil)
			}
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Expand packages and run the worker pool",
		RunE:  runServe, // cmd_serve.go
	}
	workerCmd = &cobra.Command{
		Use:    "worker",
		Short:  "Run one worker process (started by serve)",
		Hidden: true,
		RunE:   runWorker, // cmd_serve.go
	}

	expandCmd = &cobra.Command{
		Use:   "expand",
		Short: "Expand package files into the scratch directory",
		RunE:  runExpand, // cmd_addon.go
	}
	packCmd = &cobra.Command{
		Use:   "pack <dir>",
		Short: "Build a .hydro package from a source directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runPack, // cmd_addon.go
	}

	compileCmd = &cobra.Command{
		Use:   "compile <file.lua>",
		Short: "Precompile a module into a code cache file",
		Args:  cobra.ExactArgs(1),
		RunE:  runCompile, // cmd_module.go
	}
	inspectCmd = &cobra.Command{
		Use:   "inspect <file.hbc>",
		Short: "Print the header of a code cache file",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect, // cmd_module.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $HYDRO_CONFIG or hydrokit.yaml)")
	rootCmd.PersistentFlags().StringVar(&debugFlag, "debug", "", "run in the development environment")
	rootCmd.PersistentFlags().Lookup("debug").NoOptDefVal = "true"

	serveCmd.Flags().Int("workers", 0, "worker processes (default: config, else one per CPU)")
	serveCmd.Flags().String("listen", "", "listen address (default: config, else "+config.DefaultListen+")")
	packCmd.Flags().StringP("output", "o", "", "output file (default <id>"+".hydro)")
	compileCmd.Flags().StringP("output", "o", "", "output file (default: input with .hbc)")

	rootCmd.AddCommand(serveCmd, workerCmd, expandCmd, packCmd, compileCmd, inspectCmd)
}

// runtimeConfig is what every command derives from files and environment.
type runtimeConfig struct {
	cfg      config.Config
	env      config.Env
	settings config.Settings
	logger   *slog.Logger
}

func loadRuntime() (*runtimeConfig, error) {
	env, err := config.ReadEnv()
	if err != nil {
		return nil, err
	}
	path := configPath
	if path == "" {
		path = env.ConfigFile
	}
	if path == "" {
		path = "hydrokit.yaml"
	}
	cfg, err := config.LoadOptional(path)
	if err != nil {
		return nil, err
	}
	return &runtimeConfig{
		cfg:      cfg,
		env:      env,
		settings: config.SettingsFrom(cfg, env),
		logger:   hydrokit.NewLogger(os.Stderr, env),
	}, nil
}

// signalContext ends on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
