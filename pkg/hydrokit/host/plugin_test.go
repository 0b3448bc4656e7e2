package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegister(t *testing.T) {
	p := PluginFunc("test-register", PhaseLib, func(context.Context, *App) error { return nil })
	Register(p)
	defer unregister("test-register")

	var names []string
	for _, r := range Registered() {
		names = append(names, r.Name())
	}
	assert.Contains(t, names, "test-register")

	assert.Panics(t, func() { Register(p) })
	assert.Panics(t, func() { Register(nil) })
}

func TestPhaseOf(t *testing.T) {
	noop := func(context.Context, *App) error { return nil }
	assert.Equal(t, PhaseService, phaseOf(PluginFunc("a", "", noop)))
	assert.Equal(t, PhaseModel, phaseOf(PluginFunc("b", PhaseModel, noop)))
}
