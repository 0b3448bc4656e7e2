package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/module"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/module/codecache"
)

func runCompile(cmd *cobra.Command, args []string) error {
	src := args[0]
	if filepath.Ext(src) != module.SourceExt {
		return fmt.Errorf("%w: %s", module.ErrUnsupportedExtension, src)
	}

	ld := module.New()
	defer ld.Close()
	blob, err := ld.CompileFile(src)
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		out = strings.TrimSuffix(src, module.SourceExt) + module.CacheExt
	}
	if err := os.WriteFile(out, blob, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "compiled %s into %s (%d bytes)\n", src, out, len(blob))
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	blob, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	h, err := codecache.ParseHeader(blob)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, h.String())
	fmt.Fprintf(out, "payload: %d bytes\n", len(blob)-codecache.HeaderSize)

	patched, err := codecache.Patch(blob, codecache.Reference(), runtime.Version())
	if err == nil {
		_, err = codecache.Compile(codecache.Placeholder(h.SourceLength), patched)
	}
	if err != nil {
		fmt.Fprintf(out, "loadable: no (%v)\n", err)
		return nil
	}
	fmt.Fprintln(out, "loadable: yes")
	return nil
}
