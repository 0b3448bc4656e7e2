package main

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/cluster"
)

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
		rt.settings.Workers = n
	}
	if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
		rt.settings.Listen = addr
	}

	ctx, stop := signalContext()
	defer stop()

	p := &cluster.Primary{
		Settings: rt.settings,
		Env:      rt.env,
		Logger:   rt.logger,
		Watch:    rt.env.Development(),
	}
	return p.Run(ctx)
}

func runWorker(_ *cobra.Command, _ []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	if rt.env.Development() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signalContext()
	defer stop()

	k, err := hydrokit.NewKernel(
		hydrokit.WithConfig(rt.cfg),
		hydrokit.WithEnv(rt.env),
		hydrokit.WithLogger(rt.logger),
	)
	if err != nil {
		return err
	}
	ln, err := cluster.InheritedListener(rt.settings.Listen)
	if err != nil {
		_ = k.Close(ctx)
		return err
	}

	w := &cluster.Worker{Kernel: k, Listener: ln}
	return w.Run(ctx)
}
