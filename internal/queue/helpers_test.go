package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"docqueue/internal/domain"
	"docqueue/internal/store"
	"docqueue/internal/store/memory"
	"docqueue/internal/store/sqlite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// backends returns a fresh store per backend so every behaviour runs against
// both the in-process and the SQL adapter.
func backends(t *testing.T) map[string]func(t *testing.T) store.Store {
	t.Helper()
	return map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store { return memory.New() },
		"sqlite": func(t *testing.T) store.Store {
			s, err := sqlite.Open(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close(context.Background()) })
			return s
		},
	}
}

func newQueue(t *testing.T, st store.Store, name string, cfg Config, clk *fakeClock) *Queue {
	t.Helper()
	q, err := New(st, name, cfg, WithClock(clk.Now))
	require.NoError(t, err)
	require.NoError(t, q.EnsureIndexes(context.Background()))
	return q
}

func sequenceTokens(tokens ...string) func() string {
	var (
		mu sync.Mutex
		i  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		if i < len(tokens) {
			i++
			return tokens[i-1]
		}
		i++
		return fmt.Sprintf("tok-%d", i)
	}
}

// failingInserts wraps a store and fails every InsertMany.
type failingInserts struct {
	store.Store
}

var errInsert = errors.New("insert refused")

func (f failingInserts) InsertMany(ctx context.Context, collection string, msgs []domain.Message) ([]string, error) {
	return nil, errInsert
}
