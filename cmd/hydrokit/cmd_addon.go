package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/addon"
)

func runExpand(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	m, err := hydrokit.Expand(ctx, rt.settings, rt.logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "root: %s\n", m.Root)
	for _, e := range m.Addons {
		fmt.Fprintf(out, "  %-24s %s (%d bytes)\n", e.ID, e.Dir, e.Size)
	}
	for _, s := range m.Skipped {
		fmt.Fprintf(out, "  skipped %s: %s\n", s.File, s.Reason)
	}
	return nil
}

func runPack(cmd *cobra.Command, args []string) error {
	pkg, err := addon.PackDir(args[0])
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		out = pkg.ID + addon.DefaultExtension
	}
	if err := addon.WriteFile(out, pkg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "packed %s into %s\n", pkg.ID, out)
	return nil
}
