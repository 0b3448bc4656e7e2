package cluster

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherDebouncesChanges(t *testing.T) {
	root := t.TempDir()
	var calls atomic.Int32
	w, err := newWatcher([]string{root, filepath.Join(root, "missing")}, nil, func() {
		calls.Add(1)
	})
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.hydro"), []byte{byte(i)}, 0o644))
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(2 * watchDebounce)
	assert.Equal(t, int32(1), calls.Load())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
