package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqueue/internal/domain"
	"docqueue/internal/store"
)

func TestFindOneAndUpdatePicksOldest(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	ids, err := s.InsertMany(ctx, "jobs", []domain.Message{
		{Payload: json.RawMessage(`1`), Visible: now},
		{Payload: json.RawMessage(`2`), Visible: now},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	got, ok, err := s.FindOneAndUpdate(ctx, "jobs",
		store.Filter{Deleted: store.Absent, VisibleAtOrBefore: now},
		store.Update{IncTries: 1, SetAck: "a", SetVisible: now.Add(time.Minute)},
		store.FindOptions{SortByID: true, ReturnNew: true})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ids[0], got.ID)
	assert.Equal(t, 1, got.Tries)
	assert.Equal(t, "a", got.Ack)
}

func TestFindOneAndUpdateReturnOriginal(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	_, err := s.InsertMany(ctx, "jobs", []domain.Message{{Payload: json.RawMessage(`1`), Visible: now}})
	require.NoError(t, err)

	got, ok, err := s.FindOneAndUpdate(ctx, "jobs", store.Filter{}, store.Update{IncTries: 1}, store.FindOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, got.Tries)
	assert.Equal(t, 1, s.Snapshot("jobs")[0].Tries)
}

func TestDuplicateAckRejected(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	_, err := s.InsertMany(ctx, "jobs", []domain.Message{{Visible: now}, {Visible: now}})
	require.NoError(t, err)

	f := store.Filter{AckPresence: store.Absent}
	_, ok, err := s.FindOneAndUpdate(ctx, "jobs", f, store.Update{SetAck: "same"}, store.FindOptions{SortByID: true})
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = s.FindOneAndUpdate(ctx, "jobs", f, store.Update{SetAck: "same"}, store.FindOptions{SortByID: true})
	assert.ErrorIs(t, err, store.ErrDuplicateAck)
}

func TestCollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	_, err := s.InsertMany(ctx, "a", []domain.Message{{Visible: now}})
	require.NoError(t, err)

	n, err := s.Count(ctx, "b", store.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)

	done := now
	_, err = s.InsertMany(ctx, "a", []domain.Message{{Visible: now, Deleted: &done}})
	require.NoError(t, err)
	removed, err := s.DeleteMany(ctx, "a", store.Filter{Deleted: store.Present})
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	n, err = s.Count(ctx, "a", store.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
