package sqlite

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

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestInsertAndClaimOldest(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	now := time.Now()

	ids, err := s.InsertMany(ctx, "jobs", []domain.Message{
		{Payload: json.RawMessage(`"a"`), Visible: now},
		{Payload: json.RawMessage(`"b"`), Visible: now},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	got, ok, err := s.FindOneAndUpdate(ctx, "jobs",
		store.Filter{Deleted: store.Absent, VisibleAtOrBefore: now},
		store.Update{IncTries: 1, SetAck: "tok", SetVisible: now.Add(time.Minute)},
		store.FindOptions{SortByID: true, ReturnNew: true})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ids[0], got.ID)
	assert.Equal(t, `"a"`, string(got.Payload))
	assert.Equal(t, 1, got.Tries)
	assert.Equal(t, "tok", got.Ack)
	assert.Equal(t, now.Add(time.Minute).UnixNano(), got.Visible.UnixNano())
	assert.Nil(t, got.Deleted)
}

func TestFindOneAndUpdateNoMatch(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, ok, err := s.FindOneAndUpdate(ctx, "jobs", store.Filter{Ack: "missing"}, store.Update{SetDeleted: time.Now()}, store.FindOptions{ReturnNew: true})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindOneAndUpdateReturnsOriginal(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	now := time.Now()
	_, err := s.InsertMany(ctx, "jobs", []domain.Message{{Payload: json.RawMessage(`1`), Visible: now}})
	require.NoError(t, err)

	got, ok, err := s.FindOneAndUpdate(ctx, "jobs", store.Filter{}, store.Update{IncTries: 1, SetAck: "x"}, store.FindOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, got.Tries)
	assert.Empty(t, got.Ack)

	n, err := s.Count(ctx, "jobs", store.Filter{Ack: "x"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestDuplicateAckIsReported(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	now := time.Now()
	_, err := s.InsertMany(ctx, "jobs", []domain.Message{
		{Payload: json.RawMessage(`1`), Visible: now},
		{Payload: json.RawMessage(`2`), Visible: now},
	})
	require.NoError(t, err)

	f := store.Filter{AckPresence: store.Absent}
	opts := store.FindOptions{SortByID: true, ReturnNew: true}
	_, ok, err := s.FindOneAndUpdate(ctx, "jobs", f, store.Update{SetAck: "same"}, opts)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = s.FindOneAndUpdate(ctx, "jobs", f, store.Update{SetAck: "same"}, opts)
	assert.ErrorIs(t, err, store.ErrDuplicateAck)
}

func TestCountAndDeleteByPresence(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	now := time.Now()
	done := now.Add(-time.Second)

	_, err := s.InsertMany(ctx, "jobs", []domain.Message{
		{Payload: json.RawMessage(`1`), Visible: now},
		{Payload: json.RawMessage(`2`), Visible: now, Ack: "a", Deleted: &done},
		{Payload: json.RawMessage(`3`), Visible: now.Add(time.Hour)},
	})
	require.NoError(t, err)
	_, err = s.InsertMany(ctx, "other", []domain.Message{{Payload: json.RawMessage(`4`), Visible: now, Deleted: &done}})
	require.NoError(t, err)

	n, err := s.Count(ctx, "jobs", store.Filter{Deleted: store.Absent, VisibleAtOrBefore: now})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = s.Count(ctx, "jobs", store.Filter{AckPresence: store.Absent, Deleted: store.Absent, VisibleAfter: now})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	removed, err := s.DeleteMany(ctx, "jobs", store.Filter{Deleted: store.Present})
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	n, err = s.Count(ctx, "other", store.Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestWhereClause(t *testing.T) {
	now := time.Unix(0, 42)
	w, args := where("jobs", store.Filter{Ack: "t", Deleted: store.Absent, VisibleAfter: now})
	assert.Equal(t, "collection = ? AND ack = ? AND deleted IS NULL AND visible > ?", w)
	assert.Equal(t, []any{"jobs", "t", int64(42)}, args)
}
