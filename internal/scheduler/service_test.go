package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqueue/internal/queue"
	"docqueue/internal/store/memory"
)

func TestPurgeAllRemovesDoneMessages(t *testing.T) {
	ctx := context.Background()
	m := queue.NewManager(memory.New(), queue.ManagerConfig{})

	for _, name := range []string{"a", "b"} {
		q, err := m.Get(ctx, name)
		require.NoError(t, err)
		_, err = q.EnqueueBatch(ctx, []any{1, 2})
		require.NoError(t, err)
		d, ok, err := q.Lease(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		_, err = q.Ack(ctx, d.Ack)
		require.NoError(t, err)
	}

	s, err := NewService(m, "@every 1h", time.Second)
	require.NoError(t, err)
	s.PurgeAll(ctx)

	for _, name := range []string{"a", "b"} {
		q, err := m.Get(ctx, name)
		require.NoError(t, err)
		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Done)
		assert.EqualValues(t, 1, stats.Size)
	}
}

func TestNewServiceRejectsBadSpec(t *testing.T) {
	_, err := NewService(queue.NewManager(memory.New(), queue.ManagerConfig{}), "nope", time.Second)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, err := NewService(queue.NewManager(memory.New(), queue.ManagerConfig{}), "@every 1h", time.Second)
	require.NoError(t, err)
	s.Start()
	s.Stop()
}

func TestNextRunTime(t *testing.T) {
	from := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	next, err := NextRunTime("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC), next)

	assert.NoError(t, ValidateCronExpression("@every 5m"))
	assert.Error(t, ValidateCronExpression("61 * * * *"))
}
