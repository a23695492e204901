package sync_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/store"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/sync"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/tests/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newReplicator(t *testing.T, replica *testutil.FakeReplica, st *store.SQLiteStore) *sync.Replicator {
	t.Helper()

	r := sync.New(replica, st, sync.Config{
		Target:     "fake",
		Interval:   time.Hour,
		MinBackoff: 5 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
		BatchSize:  2,
		Logger:     testutil.DiscardLogger(),
	})
	require.NoError(t, r.Register(st.Collection("activities"), "remote-activities"))
	return r
}

func TestSyncNowPushesLocalChanges(t *testing.T) {
	st := testutil.NewTestStore(t)
	replica := testutil.NewFakeReplica()
	r := newReplicator(t, replica, st)
	col := st.Collection("activities")

	a := testutil.PutJSON(t, col, "activity:1", map[string]any{"type": "siembra"})
	b := testutil.PutJSON(t, col, "activity:2", map[string]any{"type": "cosecha"})
	c := testutil.PutJSON(t, col, "activity:3", map[string]any{"type": "cosecha"})
	require.NoError(t, col.Remove(t.Context(), c.ID, c.Rev))

	require.NoError(t, r.SyncNow(t.Context(), "activities"))

	got, ok := replica.Doc("remote-activities", "activity:1")
	require.True(t, ok)
	assert.Equal(t, a.Rev, got.Rev)

	got, ok = replica.Doc("remote-activities", "activity:2")
	require.True(t, ok)
	assert.Equal(t, b.Rev, got.Rev)

	got, ok = replica.Doc("remote-activities", "activity:3")
	require.True(t, ok)
	assert.True(t, got.Deleted)

	pushes := replica.Pushes()
	require.NoError(t, r.SyncNow(t.Context(), "activities"))
	assert.Equal(t, pushes, replica.Pushes(), "nothing new to push")

	statuses := r.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, sync.SyncIdle, statuses[0].State)
	assert.False(t, statuses[0].LastSync.IsZero())
}

func TestSyncNowPullsRemoteChangesWithoutEcho(t *testing.T) {
	st := testutil.NewTestStore(t)
	replica := testutil.NewFakeReplica()
	r := newReplicator(t, replica, st)
	col := st.Collection("activities")
	ctx := t.Context()

	replica.Seed("remote-activities", store.Document{ID: "activity:r1", Rev: "1-aaa", Body: json.RawMessage(`{"type":"siembra"}`)})
	replica.Seed("remote-activities", store.Document{ID: "activity:r2", Rev: "3-bbb", Body: json.RawMessage(`{"type":"cosecha"}`)})
	replica.Seed("remote-activities", store.Document{ID: "activity:r3", Rev: "1-ccc", Body: json.RawMessage(`{}`)})

	require.NoError(t, r.SyncNow(ctx, "activities"))

	got, err := col.Get(ctx, "activity:r2")
	require.NoError(t, err)
	assert.Equal(t, "3-bbb", got.Rev)
	assert.JSONEq(t, `{"type":"cosecha"}`, string(got.Body))

	docs, err := col.List(ctx, "activity:")
	require.NoError(t, err)
	assert.Len(t, docs, 3)
	assert.Zero(t, replica.Pushes(), "pulled documents are not pushed back")

	statuses := r.Statuses()
	assert.Equal(t, 3, statuses[0].Pulled)

	// A remote deletion arrives as a tombstone.
	replica.Seed("remote-activities", store.Document{ID: "activity:r1", Rev: "2-ddd", Deleted: true})
	require.NoError(t, r.SyncNow(ctx, "activities"))

	_, err = col.Get(ctx, "activity:r1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSyncNowReportsFailureThenRecovers(t *testing.T) {
	st := testutil.NewTestStore(t)
	replica := testutil.NewFakeReplica()
	replica.FailNext(1)

	// Construction and registration must not touch the replica.
	r := newReplicator(t, replica, st)
	testutil.PutJSON(t, st.Collection("activities"), "activity:1", map[string]any{"type": "siembra"})

	err := r.SyncNow(t.Context(), "activities")
	require.ErrorIs(t, err, testutil.ErrReplicaDown)
	assert.Equal(t, sync.SyncError, r.Statuses()[0].State)

	require.NoError(t, r.SyncNow(t.Context(), "activities"))
	status := r.Statuses()[0]
	assert.Equal(t, sync.SyncIdle, status.State)
	assert.NoError(t, status.Error)

	_, ok := replica.Doc("remote-activities", "activity:1")
	assert.True(t, ok)
}

func TestBackgroundReplicationRetriesAndFollowsLocalWrites(t *testing.T) {
	st := testutil.NewTestStore(t)
	replica := testutil.NewFakeReplica()
	replica.FailNext(3)

	r := newReplicator(t, replica, st)
	col := st.Collection("activities")
	testutil.PutJSON(t, col, "activity:1", map[string]any{"type": "siembra"})

	r.Start(t.Context())
	defer r.Stop()
	r.Start(t.Context()) // no-op while running

	assert.Eventually(t, func() bool {
		_, ok := replica.Doc("remote-activities", "activity:1")
		return ok
	}, 2*time.Second, 5*time.Millisecond, "retries after backoff")

	// The interval is an hour, so only the write trigger can push this one.
	testutil.PutJSON(t, col, "activity:2", map[string]any{"type": "cosecha"})
	assert.Eventually(t, func() bool {
		_, ok := replica.Doc("remote-activities", "activity:2")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	err := r.Register(st.Collection("fields"), "remote-fields")
	assert.Error(t, err, "registration is closed while running")
}

func TestSyncNowUnknownCollection(t *testing.T) {
	st := testutil.NewTestStore(t)
	r := newReplicator(t, testutil.NewFakeReplica(), st)

	assert.Error(t, r.SyncNow(t.Context(), "fields"))
	assert.Error(t, r.Register(st.Collection("activities"), "again"))
}

func TestStopWithoutStart(t *testing.T) {
	st := testutil.NewTestStore(t)
	r := newReplicator(t, testutil.NewFakeReplica(), st)
	r.Stop()
}
