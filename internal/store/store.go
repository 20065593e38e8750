// Package store defines the atomic document store seam the queue is built on.
// Adapters only need single-document atomicity for FindOneAndUpdate.
package store

import (
	"context"
	"errors"
	"time"

	"docqueue/internal/domain"
)

// ErrDuplicateAck is returned when an update would give two records the same ack token.
var ErrDuplicateAck = errors.New("duplicate ack token")

type Store interface {
	// FindOneAndUpdate atomically locates one record matching f, applies u and
	// returns it. The bool is false when nothing matched.
	FindOneAndUpdate(ctx context.Context, collection string, f Filter, u Update, opts FindOptions) (domain.Message, bool, error)
	InsertMany(ctx context.Context, collection string, msgs []domain.Message) ([]string, error)
	DeleteMany(ctx context.Context, collection string, f Filter) (int64, error)
	Count(ctx context.Context, collection string, f Filter) (int64, error)
	// EnsureIndexes creates the (deleted, visible) index and the unique ack index.
	EnsureIndexes(ctx context.Context, collection string) error
	Close(ctx context.Context) error
}

// Presence constrains an optional field.
type Presence int

const (
	Any Presence = iota
	Absent
	Present
)

// Filter is a conjunction; zero-valued fields are unconstrained.
type Filter struct {
	Ack               string
	AckPresence       Presence
	Deleted           Presence
	VisibleAtOrBefore time.Time
	VisibleAfter      time.Time
}

// Matches evaluates the filter in process. Adapters that cannot push the
// predicate down to the store use it directly.
func (f Filter) Matches(m domain.Message) bool {
	if f.Ack != "" && m.Ack != f.Ack {
		return false
	}
	if !presenceMatches(f.AckPresence, m.Ack != "") {
		return false
	}
	if !presenceMatches(f.Deleted, m.Deleted != nil) {
		return false
	}
	if !f.VisibleAtOrBefore.IsZero() && m.Visible.After(f.VisibleAtOrBefore) {
		return false
	}
	if !f.VisibleAfter.IsZero() && !m.Visible.After(f.VisibleAfter) {
		return false
	}
	return true
}

func presenceMatches(p Presence, present bool) bool {
	switch p {
	case Absent:
		return !present
	case Present:
		return present
	default:
		return true
	}
}

// Update lists field mutations; zero-valued fields are left alone.
type Update struct {
	IncTries   int
	SetAck     string
	SetVisible time.Time
	SetDeleted time.Time
}

// Apply mutates m in place.
func (u Update) Apply(m *domain.Message) {
	m.Tries += u.IncTries
	if u.SetAck != "" {
		m.Ack = u.SetAck
	}
	if !u.SetVisible.IsZero() {
		m.Visible = u.SetVisible
	}
	if !u.SetDeleted.IsZero() {
		at := u.SetDeleted
		m.Deleted = &at
	}
}

type FindOptions struct {
	// SortByID picks the oldest matching record.
	SortByID bool
	// ReturnNew returns the record after the update instead of before.
	ReturnNew bool
}
