package taskqueue_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit/taskqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteQueue_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	q1, err := taskqueue.NewSQLiteQueue(path)
	require.NoError(t, err)
	_, err = q1.Enqueue(ctx, &taskqueue.Task{ID: "t1", Type: "bus", Fanout: 2, Payload: []byte("kept")})
	require.NoError(t, err)
	task, err := q1.Claim(ctx, 0, "bus")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.NoError(t, q1.Close())

	q2, err := taskqueue.NewSQLiteQueue(path)
	require.NoError(t, err)
	defer q2.Close()

	again, err := q2.Claim(ctx, 0, "bus")
	require.NoError(t, err)
	assert.Nil(t, again, "delivery rows survive reopen")

	other, err := q2.Claim(ctx, 1, "bus")
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, []byte("kept"), other.Payload)
}

// TestSQLiteQueue_SharedFile opens one handle per simulated worker process.
func TestSQLiteQueue_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	var handles []*taskqueue.SQLiteQueue
	for i := 0; i < 3; i++ {
		q, err := taskqueue.NewSQLiteQueue(path)
		require.NoError(t, err)
		defer q.Close()
		handles = append(handles, q)
	}

	_, err := handles[0].Enqueue(ctx, &taskqueue.Task{Type: "bus", Fanout: 3})
	require.NoError(t, err)

	for worker, q := range handles {
		task, err := q.Claim(ctx, worker, "bus")
		require.NoError(t, err)
		assert.NotNil(t, task, "worker %d", worker)
	}

	n, err := handles[2].Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLiteQueue_InvalidPath(t *testing.T) {
	_, err := taskqueue.NewSQLiteQueue("/nonexistent/path/queue.db")
	assert.Error(t, err)
}

func TestSQLiteQueue_Memory(t *testing.T) {
	q, err := taskqueue.NewSQLiteQueue(":memory:")
	require.NoError(t, err)
	defer q.Close()

	_, err = q.Enqueue(context.Background(), &taskqueue.Task{Type: "job"})
	require.NoError(t, err)
	n, err := q.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
