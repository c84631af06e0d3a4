package mht

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mht.report/internal/mht/geom"
)

type memStore struct {
	saved   map[uuid.UUID]ClusterSnapshot
	deleted []uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[uuid.UUID]ClusterSnapshot)}
}

func (s *memStore) SaveCluster(_ context.Context, snap ClusterSnapshot) error {
	s.saved[snap.ID] = snap
	return nil
}

func (s *memStore) DeleteCluster(_ context.Context, id uuid.UUID) error {
	s.deleted = append(s.deleted, id)
	delete(s.saved, id)
	return nil
}

func noisyReport(rng *rand.Rand, x, y float64) *Report {
	sd := math.Sqrt(0.1)
	return NewReport(
		[]float64{x + rng.NormFloat64()*sd, y + rng.NormFloat64()*sd},
		mat.NewSymDense(2, []float64{0.1, 0, 0, 0.1}),
		PositionMeasurement,
		"s1",
	)
}

func TestInitiateClusters(t *testing.T) {
	tracker := NewTracker(DefaultParams())
	err := tracker.InitiateClusters(context.Background(), []Filter{
		cvFilter(0, 0, 1, 1),
		cvFilter(0, 10, 1, -1),
	})
	require.NoError(t, err)
	assert.Len(t, tracker.Clusters(nil), 2)
}

func TestPredictAdvancesClusters(t *testing.T) {
	tracker := NewTracker(DefaultParams())
	require.NoError(t, tracker.InitiateClusters(context.Background(), []Filter{cvFilter(0, 0, 1, 0)}))
	require.NoError(t, tracker.Predict(context.Background(), 3, nil))

	tr := tracker.Clusters(nil)[0].Hypotheses()[0].Tracks()[0]
	x, _ := tr.Filter().Position()
	assert.InDelta(t, 3, x, 1e-9)
}

func TestRegisterScanCreatesClusterForUnmatchedReport(t *testing.T) {
	tracker := NewTracker(DefaultParams())
	sensor := &OmniSensor{Extraneous: 10, Miss: 3}

	require.NoError(t, tracker.RegisterScan(context.Background(), NewScan(sensor, testReport(100, 100))))

	clusters := tracker.Clusters(nil)
	require.Len(t, clusters, 1)
	require.Len(t, clusters[0].Targets(), 1)
	tr := clusters[0].Hypotheses()[0].Tracks()[0]
	assert.True(t, tr.IsNew())
}

func TestRegisterScanMergesStraddledClusters(t *testing.T) {
	tracker := NewTracker(DefaultParams())
	require.NoError(t, tracker.InitiateClusters(context.Background(), []Filter{
		cvFilter(0, 0, 0, 0),
		cvFilter(0, 1, 0, 0),
	}))
	sensor := &OmniSensor{Extraneous: 10, Miss: 3}

	// One report between both targets overlaps both clusters.
	require.NoError(t, tracker.RegisterScan(context.Background(), NewScan(sensor, testReport(0, 0.5))))

	assert.Len(t, tracker.Clusters(nil), 1)
}

func TestRegisterScanKeepsDistantClustersApart(t *testing.T) {
	tracker := NewTracker(DefaultParams())
	require.NoError(t, tracker.InitiateClusters(context.Background(), []Filter{
		cvFilter(0, 0, 0, 0),
		cvFilter(100, 100, 0, 0),
	}))
	sensor := &OmniSensor{Extraneous: 10, Miss: 3}

	require.NoError(t, tracker.RegisterScan(context.Background(), NewScan(sensor,
		testReport(0.1, 0), testReport(100.1, 100))))

	assert.Len(t, tracker.Clusters(nil), 2)
}

func TestRegisterScanPersistsSnapshots(t *testing.T) {
	store := newMemStore()
	tracker := NewTracker(DefaultParams(), WithSnapshotStore(store))
	require.NoError(t, tracker.InitiateClusters(context.Background(), []Filter{cvFilter(0, 0, 0, 0)}))
	sensor := &OmniSensor{Extraneous: 10, Miss: 3}

	require.NoError(t, tracker.RegisterScan(context.Background(), NewScan(sensor, testReport(0.1, 0))))

	require.NotEmpty(t, store.saved)
	for _, snap := range store.saved {
		assert.NotEmpty(t, snap.Tracks)
		assert.GreaterOrEqual(t, snap.Hypotheses, 1)
	}
}

func TestGlobalHypothesesOrdered(t *testing.T) {
	tracker := NewTracker(DefaultParams())
	require.NoError(t, tracker.InitiateClusters(context.Background(), []Filter{
		cvFilter(0, 0, 0, 0),
		cvFilter(100, 100, 0, 0),
	}))
	sensor := &OmniSensor{Extraneous: 10, Miss: 3}
	require.NoError(t, tracker.RegisterScan(context.Background(), NewScan(sensor,
		testReport(0.1, 0), testReport(100.1, 100))))

	stream := tracker.GlobalHypotheses(nil)
	prev := math.Inf(-1)
	n := 0
	for {
		gh, ok := stream.Next()
		if !ok {
			break
		}
		require.GreaterOrEqual(t, gh.Score, prev-1e-9)
		prev = gh.Score
		n++
		if n >= 50 {
			break
		}
	}
	assert.Greater(t, n, 1)
}

func TestGlobalHypothesesBBoxFilter(t *testing.T) {
	tracker := NewTracker(DefaultParams())
	require.NoError(t, tracker.InitiateClusters(context.Background(), []Filter{
		cvFilter(0, 0, 0, 0),
		cvFilter(100, 100, 0, 0),
	}))

	box := geom.BBox{MinX: -5, MaxX: 5, MinY: -5, MaxY: 5}
	gh, ok := tracker.GlobalHypotheses(&box).Next()
	require.True(t, ok)
	assert.Len(t, gh.Tracks, 1)
}

// TestCrossingTargets runs the two-target crossing scenario: both targets
// must survive 25 scans and end near their true positions in the top global
// hypothesis.
func TestCrossingTargets(t *testing.T) {
	tracker := NewTracker(DefaultParams())
	require.NoError(t, tracker.InitiateClusters(context.Background(), []Filter{
		cvFilter(0, 0, 1, 1),
		cvFilter(0, 10, 1, -1),
	}))
	sensor := &OmniSensor{Extraneous: 10, Miss: 3}
	rng := rand.New(rand.NewSource(1))

	truth := [][]float64{
		{0, 0, 1, 1},
		{0, 10, 1, -1},
	}
	ctx := context.Background()
	for scan := 0; scan < 25; scan++ {
		if scan > 0 {
			require.NoError(t, tracker.Predict(ctx, 1, nil))
		}
		reports := make([]*Report, 0, 2)
		for _, tgt := range truth {
			tgt[0] += tgt[2]
			tgt[1] += tgt[3]
			reports = append(reports, noisyReport(rng, tgt[0], tgt[1]))
		}
		require.NoError(t, tracker.RegisterScan(ctx, NewScan(sensor, reports...)))
	}

	gh, ok := tracker.GlobalHypotheses(nil).Next()
	require.True(t, ok)

	var long []*Track
	for _, tr := range gh.Tracks {
		if tr.Length() >= 20 {
			long = append(long, tr)
		}
	}
	require.Len(t, long, 2, "top hypothesis must carry exactly two mature tracks")

	for _, tgt := range truth {
		best := math.Inf(1)
		for _, tr := range long {
			x, y := tr.Filter().Position()
			d := math.Hypot(x-tgt[0], y-tgt[1])
			if d < best {
				best = d
			}
		}
		assert.Less(t, best, 1.0, "track must end close to the true target")
	}
}
