package store_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/store"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/tests/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPutAndGet(t *testing.T) {
	s := testutil.NewTestStore(t)
	col := s.Collection("activities")

	stored := testutil.PutJSON(t, col, "activity:1", map[string]any{"type": "siembra"})
	assert.Equal(t, 1, store.RevGeneration(stored.Rev))
	assert.Positive(t, stored.Seq)

	got, err := col.Get(t.Context(), "activity:1")
	require.NoError(t, err)
	assert.Equal(t, stored.Rev, got.Rev)
	assert.JSONEq(t, `{"type":"siembra"}`, string(got.Body))

	_, err = col.Get(t.Context(), "activity:missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPutStaleRevisionConflicts(t *testing.T) {
	s := testutil.NewTestStore(t)
	col := s.Collection("activities")
	ctx := t.Context()

	first := testutil.PutJSON(t, col, "activity:1", map[string]any{"n": 1})

	second, err := col.Put(ctx, store.Document{ID: "activity:1", Rev: first.Rev, Body: []byte(`{"n":2}`)})
	require.NoError(t, err)
	assert.Equal(t, 2, store.RevGeneration(second.Rev))

	_, err = col.Put(ctx, store.Document{ID: "activity:1", Rev: first.Rev, Body: []byte(`{"n":3}`)})
	require.Error(t, err)
	assert.True(t, store.IsConflict(err))

	var conflict *store.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, second.Rev, conflict.CurrentRevision)

	// New documents must not carry a revision.
	_, err = col.Put(ctx, store.Document{ID: "activity:2", Rev: "1-abc", Body: []byte(`{}`)})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestPutRejectsNonObjectBody(t *testing.T) {
	s := testutil.NewTestStore(t)
	_, err := s.Collection("fields").Put(t.Context(), store.Document{ID: "f", Body: []byte(`[1,2]`)})
	assert.Error(t, err)
}

func TestRemoveAndRecreate(t *testing.T) {
	s := testutil.NewTestStore(t)
	col := s.Collection("activities")
	ctx := t.Context()

	stored := testutil.PutJSON(t, col, "activity:1", map[string]any{"n": 1})

	err := col.Remove(ctx, "activity:1", "1-stale")
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, col.Remove(ctx, "activity:1", stored.Rev))

	_, err = col.Get(ctx, "activity:1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	tomb, err := col.Lookup(ctx, "activity:1")
	require.NoError(t, err)
	assert.True(t, tomb.Deleted)
	assert.Equal(t, 2, store.RevGeneration(tomb.Rev))

	err = col.Remove(ctx, "activity:1", tomb.Rev)
	assert.ErrorIs(t, err, store.ErrNotFound)

	again := testutil.PutJSON(t, col, "activity:1", map[string]any{"n": 2})
	assert.Equal(t, 3, store.RevGeneration(again.Rev))
}

func TestListByPrefixInKeyOrder(t *testing.T) {
	s := testutil.NewTestStore(t)
	col := s.Collection("licences")
	ctx := t.Context()

	for _, id := range []string{"licence:b", "other:1", "licence:a", "licence:c"} {
		testutil.PutJSON(t, col, id, map[string]any{"id": id})
	}
	require.NoError(t, col.Remove(ctx, "licence:c", mustGet(t, col, "licence:c").Rev))

	docs, err := col.List(ctx, "licence:")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "licence:a", docs[0].ID)
	assert.Equal(t, "licence:b", docs[1].ID)

	all, err := col.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Collections are isolated.
	other, err := s.Collection("fields").List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestFindUsesJSONField(t *testing.T) {
	s := testutil.NewTestStore(t)
	col := s.Collection("activities")
	ctx := t.Context()

	require.NoError(t, col.EnsureIndex(ctx, "lotId"))
	require.NoError(t, col.EnsureIndex(ctx, "lotId"), "index creation is idempotent")

	testutil.PutJSON(t, col, "activity:1", map[string]any{"lotId": "lot-1"})
	testutil.PutJSON(t, col, "activity:2", map[string]any{"lotId": "lot-2"})
	testutil.PutJSON(t, col, "activity:3", map[string]any{"lotId": "lot-1"})
	testutil.PutJSON(t, col, "execution:1", map[string]any{"lotId": "lot-1"})

	docs, err := col.Find(ctx, store.Selector{Prefix: "activity:", Field: "lotId", Value: "lot-1"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "activity:1", docs[0].ID)
	assert.Equal(t, "activity:3", docs[1].ID)

	_, err = col.Find(ctx, store.Selector{Field: "lotId'); DROP TABLE documents; --", Value: "x"})
	assert.ErrorIs(t, err, store.ErrInvalidField)
	assert.ErrorIs(t, col.EnsureIndex(ctx, "a b"), store.ErrInvalidField)
}

func TestBulkWriteReportsPerDocument(t *testing.T) {
	s := testutil.NewTestStore(t)
	col := s.Collection("licences")
	ctx := t.Context()

	existing := testutil.PutJSON(t, col, "licence:a", map[string]any{"n": 1})

	results, err := col.BulkWrite(ctx, []store.Document{
		{ID: "licence:a", Rev: "1-stale", Body: []byte(`{"n":2}`)},
		{ID: "licence:b", Body: []byte(`{"n":1}`)},
		{ID: "licence:a", Rev: existing.Rev, Deleted: true},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.ErrorIs(t, results[0].Err, store.ErrConflict)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 1, store.RevGeneration(results[1].Rev))
	assert.NoError(t, results[2].Err)

	docs, err := col.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "licence:b", docs[0].ID)
}

func TestChangesAndLastSeq(t *testing.T) {
	s := testutil.NewTestStore(t)
	col := s.Collection("activities")
	ctx := t.Context()

	seq, err := col.LastSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	a := testutil.PutJSON(t, col, "activity:1", map[string]any{})
	testutil.PutJSON(t, s.Collection("fields"), "field:1", map[string]any{})
	require.NoError(t, col.Remove(ctx, a.ID, a.Rev))

	changes, err := col.Changes(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.True(t, changes[0].Added())
	assert.Equal(t, store.OriginLocal, changes[0].Origin)
	assert.True(t, changes[1].Deleted)
	assert.False(t, changes[1].Added())

	last, err := col.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, changes[1].Seq, last)

	limited, err := col.Changes(ctx, 0, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPutReplicatedWinnerRule(t *testing.T) {
	s := testutil.NewTestStore(t)
	col := s.Collection("activities")
	ctx := t.Context()

	local := testutil.PutJSON(t, col, "activity:1", map[string]any{"v": "local"})

	applied, err := col.PutReplicated(ctx, store.Document{ID: "activity:1", Rev: "1-0", Body: []byte(`{"v":"old"}`)})
	require.NoError(t, err)
	assert.False(t, applied, "same generation with a smaller hash loses")

	applied, err = col.PutReplicated(ctx, store.Document{ID: "activity:1", Rev: "2-aaaa", Body: []byte(`{"v":"remote"}`)})
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := col.Get(ctx, "activity:1")
	require.NoError(t, err)
	assert.Equal(t, "2-aaaa", got.Rev)
	assert.JSONEq(t, `{"v":"remote"}`, string(got.Body))
	assert.NotEqual(t, local.Rev, got.Rev)

	applied, err = col.PutReplicated(ctx, store.Document{ID: "activity:1", Rev: "2-aaaa", Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.False(t, applied, "the same revision is not applied twice")

	changes, err := col.Changes(ctx, local.Seq, 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, store.OriginRemote, changes[0].Origin)

	_, err = col.PutReplicated(ctx, store.Document{ID: "activity:2", Rev: "bogus"})
	assert.Error(t, err)
}

func TestCheckpoints(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := t.Context()

	v, err := s.Checkpoint(ctx, "activities", "remote", store.DirectionPull)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetCheckpoint(ctx, "activities", "remote", store.DirectionPull, "12-abc"))
	require.NoError(t, s.SetCheckpoint(ctx, "activities", "remote", store.DirectionPush, "7"))
	require.NoError(t, s.SetCheckpoint(ctx, "activities", "remote", store.DirectionPull, "13-def"))

	v, err = s.Checkpoint(ctx, "activities", "remote", store.DirectionPull)
	require.NoError(t, err)
	assert.Equal(t, "13-def", v)

	v, err = s.Checkpoint(ctx, "activities", "remote", store.DirectionPush)
	require.NoError(t, err)
	assert.Equal(t, "7", v)
}

func TestSubscribeDeliversNewChanges(t *testing.T) {
	s := testutil.NewTestStore(t)
	col := s.Collection("activities")

	testutil.PutJSON(t, col, "activity:old", map[string]any{})

	var mu sync.Mutex
	var seen []string
	cancel := col.Subscribe(-1, func(c store.Change) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, c.ID)
	})
	defer cancel()

	testutil.PutJSON(t, col, "activity:new", map[string]any{})
	testutil.PutJSON(t, s.Collection("fields"), "field:1", map[string]any{})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == "activity:new"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeFromZeroReplaysHistory(t *testing.T) {
	s := testutil.NewTestStore(t)
	col := s.Collection("activities")

	testutil.PutJSON(t, col, "activity:1", map[string]any{})
	testutil.PutJSON(t, col, "activity:2", map[string]any{})

	got := make(chan string, 4)
	cancel := col.Subscribe(0, func(c store.Change) { got <- c.ID })
	defer cancel()

	assert.Equal(t, "activity:1", receive(t, got))
	assert.Equal(t, "activity:2", receive(t, got))
}

func TestCancelStopsDelivery(t *testing.T) {
	s := testutil.NewTestStore(t)
	col := s.Collection("activities")

	var mu sync.Mutex
	calls := 0
	cancel := col.Subscribe(-1, func(store.Change) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	cancel()
	cancel() // idempotent

	testutil.PutJSON(t, col, "activity:1", map[string]any{})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return ""
	}
}

func mustGet(t *testing.T, col store.DocumentStore, id string) *store.Document {
	t.Helper()
	doc, err := col.Get(t.Context(), id)
	require.NoError(t, err)
	return doc
}
