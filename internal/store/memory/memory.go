// Package memory is an in-process store.Store used by tests and single-process runs.
package memory

import (
	"context"
	"strconv"
	"sync"

	"docqueue/internal/domain"
	"docqueue/internal/store"
)

type Store struct {
	mu   sync.Mutex
	seq  int64
	cols map[string][]*domain.Message
}

func New() *Store {
	return &Store{cols: map[string][]*domain.Message{}}
}

var _ store.Store = (*Store)(nil)

// Records are kept in insertion order, so the first match is also the oldest.
func (s *Store) FindOneAndUpdate(ctx context.Context, collection string, f store.Filter, u store.Update, opts store.FindOptions) (domain.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.cols[collection] {
		if !f.Matches(*m) {
			continue
		}
		if u.SetAck != "" && s.ackTaken(collection, u.SetAck, m) {
			return domain.Message{}, false, store.ErrDuplicateAck
		}
		before := *m
		u.Apply(m)
		if opts.ReturnNew {
			return *m, true, nil
		}
		return before, true, nil
	}
	return domain.Message{}, false, nil
}

func (s *Store) ackTaken(collection, ack string, self *domain.Message) bool {
	for _, m := range s.cols[collection] {
		if m != self && m.Ack == ack {
			return true
		}
	}
	return false
}

func (s *Store) InsertMany(ctx context.Context, collection string, msgs []domain.Message) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		s.seq++
		m.ID = strconv.FormatInt(s.seq, 10)
		rec := m
		s.cols[collection] = append(s.cols[collection], &rec)
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (s *Store) DeleteMany(ctx context.Context, collection string, f store.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		kept    []*domain.Message
		removed int64
	)
	for _, m := range s.cols[collection] {
		if f.Matches(*m) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.cols[collection] = kept
	return removed, nil
}

func (s *Store) Count(ctx context.Context, collection string, f store.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.cols[collection] {
		if f.Matches(*m) {
			n++
		}
	}
	return n, nil
}

// EnsureIndexes is a no-op; ack uniqueness is checked on every update.
func (s *Store) EnsureIndexes(ctx context.Context, collection string) error { return nil }

func (s *Store) Close(ctx context.Context) error { return nil }

// Snapshot returns copies of every record in collection, oldest first.
func (s *Store) Snapshot(collection string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Message, 0, len(s.cols[collection]))
	for _, m := range s.cols[collection] {
		out = append(out, *m)
	}
	return out
}
