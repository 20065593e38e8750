// Package queue implements the lease protocol on top of a store.Store. A Queue
// holds no mutable state of its own: every transition is a single atomic call
// against the store, so any number of processes can share one collection.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"docqueue/internal/domain"
	"docqueue/internal/store"
)

// claims that hit a duplicate ack token are retried with a fresh token this many times.
const maxTokenAttempts = 3

// latestVisible is the last instant every adapter can store. SQLite keeps
// timestamps as int64 unix nanoseconds.
var latestVisible = time.Unix(0, math.MaxInt64)

// visibleAt returns now+d, refusing instants past latestVisible.
func visibleAt(op string, now time.Time, d time.Duration) (time.Time, error) {
	at := now.Add(d)
	if at.After(latestVisible) {
		return time.Time{}, invalid("%s: %s from now is past %s", op, d, latestVisible.UTC().Format(time.RFC3339))
	}
	return at, nil
}

type Queue struct {
	store    store.Store
	name     string
	cfg      Config
	now      func() time.Time
	newToken func() string
}

// New builds a queue over the named collection of st.
func New(st store.Store, name string, cfg Config, opts ...Option) (*Queue, error) {
	if st == nil {
		return nil, invalid("store is required")
	}
	if err := validation.Validate(name, validation.Required); err != nil {
		return nil, invalid("queue name: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, invalid("queue %s: %v", name, err)
	}
	q := &Queue{
		store:    st,
		name:     name,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		newToken: randomToken,
	}
	for _, o := range opts {
		o(q)
	}
	return q, nil
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (q *Queue) Name() string { return q.name }

// EnsureIndexes prepares the collection. Safe to call repeatedly.
func (q *Queue) EnsureIndexes(ctx context.Context) error {
	return q.store.EnsureIndexes(ctx, q.name)
}

func (q *Queue) callOptions(opts []CallOption) callOptions {
	o := callOptions{delay: q.cfg.Delay, visibility: q.cfg.Visibility}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Enqueue stores one payload and returns its id.
func (q *Queue) Enqueue(ctx context.Context, payload any, opts ...CallOption) (string, error) {
	ids, err := q.insert(ctx, []any{payload}, opts)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// EnqueueBatch stores payloads in order and returns their ids in the same
// order. The batch is not atomic across documents.
func (q *Queue) EnqueueBatch(ctx context.Context, payloads []any, opts ...CallOption) ([]string, error) {
	if len(payloads) == 0 {
		return nil, invalid("enqueue: batch payload must not be empty")
	}
	return q.insert(ctx, payloads, opts)
}

func (q *Queue) insert(ctx context.Context, payloads []any, opts []CallOption) ([]string, error) {
	o := q.callOptions(opts)
	if o.delay < 0 {
		return nil, invalid("enqueue: negative delay %s", o.delay)
	}
	visible, err := visibleAt("enqueue", q.now(), o.delay)
	if err != nil {
		return nil, err
	}

	msgs := make([]domain.Message, 0, len(payloads))
	for i, p := range payloads {
		raw, err := domain.EncodePayload(p)
		if err != nil {
			return nil, invalid("enqueue: payload %d: %v", i, err)
		}
		msgs = append(msgs, domain.Message{Payload: raw, Visible: visible})
	}
	ids, err := q.store.InsertMany(ctx, q.name, msgs)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("queue", q.name).Int("count", len(ids)).Dur("delay", o.delay).Msg("enqueued")
	return ids, nil
}

// Lease claims the oldest available message. The bool is false when nothing
// is available. Messages over the dead-letter retry budget are forwarded to
// the sink, acknowledged here, and skipped.
func (q *Queue) Lease(ctx context.Context, opts ...CallOption) (domain.Delivery, bool, error) {
	o := q.callOptions(opts)
	if o.visibility <= 0 {
		return domain.Delivery{}, false, invalid("lease: visibility must be positive")
	}
	if _, err := visibleAt("lease", q.now(), o.visibility); err != nil {
		return domain.Delivery{}, false, err
	}

	for swept := 0; swept < q.cfg.MaxDeadLetterSweep; swept++ {
		d, ok, err := q.claim(ctx, o.visibility)
		if err != nil || !ok {
			return domain.Delivery{}, false, err
		}
		if !q.overBudget(d) {
			log.Debug().Str("queue", q.name).Str("id", d.ID).Int("tries", d.Tries).Msg("leased")
			return d, true, nil
		}
		if err := q.forward(ctx, d); err != nil {
			return domain.Delivery{}, false, err
		}
	}

	log.Warn().Str("queue", q.name).Int("swept", q.cfg.MaxDeadLetterSweep).Msg("dead-letter sweep limit reached")
	return domain.Delivery{}, false, nil
}

func (q *Queue) claim(ctx context.Context, visibility time.Duration) (domain.Delivery, bool, error) {
	var err error
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		now := q.now()
		var (
			m  domain.Message
			ok bool
		)
		m, ok, err = q.store.FindOneAndUpdate(ctx, q.name,
			availableAt(now),
			store.Update{IncTries: 1, SetAck: q.newToken(), SetVisible: now.Add(visibility)},
			store.FindOptions{SortByID: true, ReturnNew: true},
		)
		if errors.Is(err, store.ErrDuplicateAck) {
			continue
		}
		if err != nil || !ok {
			return domain.Delivery{}, false, err
		}
		return domain.Delivery{ID: m.ID, Ack: m.Ack, Payload: m.Payload, Tries: m.Tries}, true, nil
	}
	return domain.Delivery{}, false, err
}

func (q *Queue) overBudget(d domain.Delivery) bool {
	return q.cfg.DeadLetter != nil && d.Tries > q.cfg.DeadLetter.MaxRetries
}

func (q *Queue) forward(ctx context.Context, d domain.Delivery) error {
	sink := q.cfg.DeadLetter.Sink
	if _, err := sink.Enqueue(ctx, d); err != nil {
		return fmt.Errorf("%w: message %s to %s: %w", ErrDeadLetter, d.ID, sink.Name(), err)
	}
	if _, err := q.Ack(ctx, d.Ack); err != nil {
		return fmt.Errorf("%w: ack %s after forwarding: %w", ErrDeadLetter, d.ID, err)
	}
	log.Warn().
		Str("queue", q.name).
		Str("id", d.ID).
		Int("tries", d.Tries).
		Str("sink", sink.Name()).
		Msg("message dead-lettered")
	return nil
}

// Renew extends the lease identified by ack and returns the message id.
func (q *Queue) Renew(ctx context.Context, ack string, opts ...CallOption) (string, error) {
	o := q.callOptions(opts)
	if o.visibility <= 0 {
		return "", invalid("renew: visibility must be positive")
	}
	now := q.now()
	until, err := visibleAt("renew", now, o.visibility)
	if err != nil {
		return "", err
	}
	return q.owned(ctx, "renew", ack, now, store.Update{SetVisible: until})
}

// Ack marks the leased message done and returns its id. A second Ack with the
// same token fails with ErrUnknownLease.
func (q *Queue) Ack(ctx context.Context, ack string) (string, error) {
	now := q.now()
	return q.owned(ctx, "ack", ack, now, store.Update{SetDeleted: now})
}

func (q *Queue) owned(ctx context.Context, op, ack string, now time.Time, u store.Update) (string, error) {
	if ack == "" {
		return "", fmt.Errorf("%s: %w: empty token", op, ErrUnknownLease)
	}
	m, ok, err := q.store.FindOneAndUpdate(ctx, q.name, ownedBy(ack, now), u, store.FindOptions{ReturnNew: true})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s: %w %q", op, ErrUnknownLease, ack)
	}
	return m.ID, nil
}

// Purge removes acknowledged messages and returns how many were removed.
func (q *Queue) Purge(ctx context.Context) (int64, error) {
	n, err := q.store.DeleteMany(ctx, q.name, doneFilter())
	if err != nil {
		return 0, err
	}
	log.Debug().Str("queue", q.name).Int64("removed", n).Msg("purged")
	return n, nil
}

// Total counts every record regardless of state.
func (q *Queue) Total(ctx context.Context) (int64, error) {
	return q.store.Count(ctx, q.name, store.Filter{})
}

// Size counts messages that can be leased now.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	return q.store.Count(ctx, q.name, availableAt(q.now()))
}

func (q *Queue) InFlight(ctx context.Context) (int64, error) {
	return q.store.Count(ctx, q.name, inFlightAt(q.now()))
}

func (q *Queue) Done(ctx context.Context) (int64, error) {
	return q.store.Count(ctx, q.name, doneFilter())
}

// Delayed counts never-leased messages whose delay has not passed yet.
func (q *Queue) Delayed(ctx context.Context) (int64, error) {
	return q.store.Count(ctx, q.name, delayedAt(q.now()))
}

// Stats evaluates every bucket against the same instant. The counts are
// separate store calls, so concurrent writers can still skew them.
func (q *Queue) Stats(ctx context.Context) (domain.Stats, error) {
	now := q.now()
	var (
		s   domain.Stats
		err error
	)
	counts := []struct {
		dst *int64
		f   store.Filter
	}{
		{&s.Total, store.Filter{}},
		{&s.Size, availableAt(now)},
		{&s.InFlight, inFlightAt(now)},
		{&s.Done, doneFilter()},
		{&s.Delayed, delayedAt(now)},
	}
	for _, c := range counts {
		if *c.dst, err = q.store.Count(ctx, q.name, c.f); err != nil {
			return domain.Stats{}, err
		}
	}
	return s, nil
}

func availableAt(now time.Time) store.Filter {
	return store.Filter{Deleted: store.Absent, VisibleAtOrBefore: now}
}

func inFlightAt(now time.Time) store.Filter {
	return store.Filter{AckPresence: store.Present, Deleted: store.Absent, VisibleAfter: now}
}

func delayedAt(now time.Time) store.Filter {
	return store.Filter{AckPresence: store.Absent, Deleted: store.Absent, VisibleAfter: now}
}

func ownedBy(ack string, now time.Time) store.Filter {
	return store.Filter{Ack: ack, AckPresence: store.Present, Deleted: store.Absent, VisibleAfter: now}
}

func doneFilter() store.Filter {
	return store.Filter{Deleted: store.Present}
}
