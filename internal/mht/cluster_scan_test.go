package mht

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func degenerateReport(x, y float64) *Report {
	return NewReport([]float64{x, y},
		mat.NewSymDense(2, []float64{-5, 0, 0, -5}), PositionMeasurement, "s1")
}

func TestRegisterScanAcrossMultipleScans(t *testing.T) {
	// Several parent hypotheses compete on the second scan; the interleaved
	// stream must still produce a sorted, normalised list and the best
	// hypothesis keeps extending the original track.
	params := DefaultParams()
	c := NewCluster(&params, cvFilter(0, 0, 0, 0))
	sensor := &OmniSensor{Extraneous: 10, Miss: 3}

	require.NoError(t, c.RegisterScan(NewScan(sensor, testReport(0.1, 0))))
	require.Greater(t, len(c.Hypotheses()), 1)

	require.NoError(t, c.RegisterScan(NewScan(sensor, testReport(0.2, 0))))

	hyps := c.Hypotheses()
	require.NotEmpty(t, hyps)
	for i := 1; i < len(hyps); i++ {
		assert.LessOrEqual(t, hyps[i-1].Score(), hyps[i].Score())
	}
	assert.InDelta(t, 1, sumLikelihood(hyps), 1e-9)

	top := hyps[0]
	var best *Track
	for _, tr := range top.Tracks() {
		if best == nil || tr.Length() > best.Length() {
			best = tr
		}
	}
	require.NotNil(t, best)
	assert.Equal(t, 3, best.Length(), "root plus two extensions")
}

func TestRegisterScanRecordsAmbiguity(t *testing.T) {
	// A report between two nearby targets is claimed by both across the
	// surviving hypotheses.
	params := DefaultParams()
	c := NewCluster(&params, cvFilter(0, 0, 0, 0), cvFilter(0.5, 0, 0, 0))
	sensor := &OmniSensor{Extraneous: 10, Miss: 3}

	require.NoError(t, c.RegisterScan(NewScan(sensor, testReport(0.25, 0))))

	require.NotEmpty(t, c.ambiguousTracks)
	found := false
	for _, set := range c.ambiguousTracks {
		targets := map[*Target]struct{}{}
		for tr := range set {
			targets[tr.target] = struct{}{}
		}
		if len(targets) >= 2 {
			found = true
		}
	}
	assert.True(t, found, "ambiguity must span both targets")

	// The entangled cluster must not split.
	daughters, err := c.Split()
	require.NoError(t, err)
	assert.Nil(t, daughters)
}

func TestRegisterScanSurfacesDegenerateFilter(t *testing.T) {
	params := DefaultParams()
	c := NewCluster(&params, cvFilter(0, 0, 0, 0))
	sensor := &OmniSensor{Extraneous: 10, Miss: 3}

	err := c.RegisterScan(NewScan(sensor, degenerateReport(0.1, 0)))
	require.Error(t, err)
	var degenerate *FilterDegenerateError
	assert.ErrorAs(t, err, &degenerate)
	assert.NotZero(t, degenerate.TrackID)
}

func TestTrackerTaintsFailingCluster(t *testing.T) {
	tracker := NewTracker(DefaultParams())
	ctx := context.Background()
	require.NoError(t, tracker.InitiateClusters(ctx, []Filter{
		cvFilter(0, 0, 0, 0),
		cvFilter(100, 100, 0, 0),
	}))
	sensor := &OmniSensor{Extraneous: 10, Miss: 3}

	err := tracker.RegisterScan(ctx, NewScan(sensor,
		degenerateReport(0.1, 0), testReport(100.1, 100)))
	require.Error(t, err)

	var tainted, healthy int
	for _, c := range tracker.Clusters(nil) {
		if c.Tainted() {
			tainted++
		} else {
			healthy++
		}
	}
	assert.Equal(t, 1, tainted, "only the failing cluster is tainted")
	assert.GreaterOrEqual(t, healthy, 1, "other clusters proceed")
}
