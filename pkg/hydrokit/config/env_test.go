package config_test

import (
	"os"
	"testing"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEnv(t *testing.T) {
	t.Setenv("HYDRO_INSTANCE", "")
	os.Unsetenv("HYDRO_INSTANCE")
	t.Setenv("HYDRO_WORKER_ID", "3")
	t.Setenv("HYDRO_POOL_SIZE", "4")
	t.Setenv("HYDRO_QUEUE_PATH", "/tmp/q.db")
	t.Setenv("HYDRO_ENV", "development")

	e, err := config.ReadEnv()
	require.NoError(t, err)

	assert.Equal(t, "0", e.Instance)
	assert.Equal(t, 3, e.WorkerID)
	assert.Equal(t, 4, e.PoolSize)
	assert.Equal(t, "/tmp/q.db", e.QueuePath)
	assert.True(t, e.Development())
}

func TestReadEnvInvalid(t *testing.T) {
	t.Setenv("HYDRO_WORKER_ID", "three")

	_, err := config.ReadEnv()
	assert.ErrorContains(t, err, "parse env")
}

func TestDebugRequested(t *testing.T) {
	tests := []struct {
		args []string
		want bool
	}{
		{nil, false},
		{[]string{"serve"}, false},
		{[]string{"serve", "--debug"}, true},
		{[]string{"--debug=1"}, true},
		{[]string{"--debug=yes"}, true},
		{[]string{"--debug=0"}, false},
		{[]string{"--debug=false"}, false},
		{[]string{"--debug=OFF"}, false},
		{[]string{"--debug=disabled"}, false},
		{[]string{"--debug=no"}, false},
		{[]string{"--debugger"}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, config.DebugRequested(tt.args), "%v", tt.args)
	}
}

func TestApplyDebugFlag(t *testing.T) {
	t.Setenv("HYDRO_ENV", "")
	t.Setenv("DEV", "")

	os.Unsetenv("HYDRO_ENV")
	assert.Equal(t, config.EnvProduction, config.ApplyDebugFlag(nil))
	assert.Equal(t, config.EnvProduction, os.Getenv("HYDRO_ENV"))

	assert.Equal(t, config.EnvDevelopment, config.ApplyDebugFlag([]string{"--debug"}))
	assert.Equal(t, "on", os.Getenv("DEV"))

	// An existing marker survives when the flag is absent.
	assert.Equal(t, config.EnvDevelopment, config.ApplyDebugFlag(nil))
}
