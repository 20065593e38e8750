package queue

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"docqueue/internal/store"
)

// ManagerConfig is shared by every queue a Manager creates.
type ManagerConfig struct {
	Visibility time.Duration
	Delay      time.Duration
	// DeadLetterSuffix enables dead-lettering: queue "jobs" gets sink "jobs"+suffix.
	DeadLetterSuffix string
	MaxRetries       int
}

// Manager hands out queues by name over one store, creating them and their
// indexes on first use.
type Manager struct {
	store store.Store
	cfg   ManagerConfig
	opts  []Option

	mu     sync.Mutex
	queues map[string]*Queue
}

func NewManager(st store.Store, cfg ManagerConfig, opts ...Option) *Manager {
	return &Manager{store: st, cfg: cfg, opts: opts, queues: map[string]*Queue{}}
}

// Get returns the named queue, creating it if needed.
func (m *Manager) Get(ctx context.Context, name string) (*Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	suffix := m.cfg.DeadLetterSuffix
	return m.get(ctx, name, suffix != "" && !strings.HasSuffix(name, suffix))
}

func (m *Manager) get(ctx context.Context, name string, withSink bool) (*Queue, error) {
	if q, ok := m.queues[name]; ok {
		return q, nil
	}
	cfg := Config{Visibility: m.cfg.Visibility, Delay: m.cfg.Delay}
	if withSink {
		sink, err := m.get(ctx, name+m.cfg.DeadLetterSuffix, false)
		if err != nil {
			return nil, err
		}
		cfg.DeadLetter = &DeadLetter{Sink: sink, MaxRetries: m.cfg.MaxRetries}
	}
	q, err := New(m.store, name, cfg, m.opts...)
	if err != nil {
		return nil, err
	}
	if err := q.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	m.queues[name] = q
	log.Info().Str("queue", name).Bool("dead_letter", withSink).Msg("queue opened")
	return q, nil
}

// List returns the names of the queues opened so far, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.queues))
	for name := range m.queues {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
