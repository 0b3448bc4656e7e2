package cluster

import (
	"bytes"
	"context"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/addon"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/config"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/taskqueue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newKernel(t *testing.T, q taskqueue.Queue) *hydrokit.Kernel {
	t.Helper()
	opts := []hydrokit.Option{
		hydrokit.WithConfig(config.New(map[string]any{"home": t.TempDir()})),
		hydrokit.WithEnv(config.Env{Instance: "0", WorkerID: 1, PoolSize: 3}),
		hydrokit.WithLogger(hydrokit.NewLogger(&bytes.Buffer{}, config.Env{})),
		hydrokit.WithManifest(&addon.Manifest{}),
		hydrokit.WithoutPrometheus(),
	}
	if q != nil {
		opts = append(opts, hydrokit.WithQueue(q))
	}
	k, err := hydrokit.NewKernel(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close(context.Background()) })
	return k
}
