package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCompileAndInspect(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "handler.lua")
	require.NoError(t, os.WriteFile(src, []byte("--!hydro\nexport function ping() return \"pong\" end\n"), 0o644))

	out, err := execute(t, "compile", src)
	require.NoError(t, err)
	assert.Contains(t, out, "handler.hbc")

	out, err = execute(t, "inspect", filepath.Join(dir, "handler.hbc"))
	require.NoError(t, err)
	assert.Contains(t, out, "source_length=")
	assert.Contains(t, out, "loadable: yes")
}

func TestCompileRejectsOtherExtensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	_, err := execute(t, "compile", path)
	assert.Error(t, err)
}

func TestInspectMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.hbc")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))
	_, err := execute(t, "inspect", path)
	assert.Error(t, err)
}

func TestPackAndExpand(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "package.yaml"), []byte("id: demo\nname: Demo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "handler.lua"), []byte("return {}\n"), 0o644))

	home := t.TempDir()
	roots := filepath.Join(home, "addons")
	require.NoError(t, os.MkdirAll(roots, 0o755))
	out, err := execute(t, "pack", src, "-o", filepath.Join(roots, "demo.hydro"))
	require.NoError(t, err)
	assert.Contains(t, out, "packed demo")

	cfg := filepath.Join(home, "hydrokit.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("home: "+home+"\npackages:\n  roots: ["+roots+"]\n"), 0o644))
	t.Setenv("HYDRO_SCRATCH_DIR", "")

	out, err = execute(t, "expand", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "demo")
	assert.DirExists(t, filepath.Join(home, "tmp", "addons", "demo"))
}
