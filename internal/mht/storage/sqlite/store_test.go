package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/mht.report/internal/mht"
	"github.com/banshee-data/mht.report/internal/mht/geom"
)

func newTestStore(t *testing.T) *ClusterStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "mht_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := NewClusterStore(db)
	require.NoError(t, err)
	return store
}

func testSnapshot(id uuid.UUID) mht.ClusterSnapshot {
	return mht.ClusterSnapshot{
		ID:         id,
		BBox:       geom.BBox{MinX: 0, MaxX: 4, MinY: -2, MaxY: 2},
		Targets:    2,
		Hypotheses: 3,
		Tracks: []mht.TrackSnapshot{
			{TrackID: 1, TargetID: 10, Score: -1.5, ExistScore: 4, Length: 5, X: 1, Y: 0},
			{TrackID: 2, TargetID: 11, Score: 0.25, ExistScore: 2, Length: 3, X: 3, Y: 1},
		},
	}
}

func TestSaveAndLoadCluster(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, store.SaveCluster(ctx, testSnapshot(id)))

	snaps, err := store.LoadOverlapping(ctx, geom.BBox{MinX: 3, MaxX: 10, MinY: 0, MaxY: 1})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, id, snaps[0].ID)
	assert.Equal(t, 2, snaps[0].Targets)
	require.Len(t, snaps[0].Tracks, 2)
	assert.Equal(t, int64(10), snaps[0].Tracks[0].TargetID)
	assert.InDelta(t, -1.5, snaps[0].Tracks[0].Score, 1e-12)
}

func TestLoadOverlappingFiltersByBBox(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveCluster(ctx, testSnapshot(uuid.New())))

	snaps, err := store.LoadOverlapping(ctx, geom.BBox{MinX: 10, MaxX: 20, MinY: 10, MaxY: 20})
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestSaveClusterUpsertsAndReplacesTracks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, store.SaveCluster(ctx, testSnapshot(id)))

	snap := testSnapshot(id)
	snap.Tracks = snap.Tracks[:1]
	snap.Hypotheses = 1
	require.NoError(t, store.SaveCluster(ctx, snap))

	snaps, err := store.LoadOverlapping(ctx, geom.Everywhere())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].Hypotheses)
	assert.Len(t, snaps[0].Tracks, 1)
}

func TestDeleteCluster(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, store.SaveCluster(ctx, testSnapshot(id)))
	require.NoError(t, store.DeleteCluster(ctx, id))

	snaps, err := store.LoadOverlapping(ctx, geom.Everywhere())
	require.NoError(t, err)
	assert.Empty(t, snaps)
}
