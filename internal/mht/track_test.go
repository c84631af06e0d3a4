package mht

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mht.report/internal/mht/assignment"
	"github.com/banshee-data/mht.report/internal/mht/geom"
)

// fakeFilter is a scriptable test double for the filter capability.
type fakeFilter struct {
	x, y    float64
	box     geom.BBox
	nll     float64
	nllErr  error
	predict float64 // accumulated dT
}

func (f *fakeFilter) Predict(dT float64) { f.predict += dT }
func (f *fakeFilter) Correct(r *Report) (float64, error) {
	return f.nll, f.nllErr
}
func (f *fakeFilter) NLL(r *Report) (float64, error) { return f.nll, f.nllErr }
func (f *fakeFilter) BBox() geom.BBox                { return f.box }
func (f *fakeFilter) Position() (float64, float64)   { return f.x, f.y }
func (f *fakeFilter) Clone() Filter {
	clone := *f
	return &clone
}

func testReport(x, y float64) *Report {
	return NewReport([]float64{x, y}, mat.NewSymDense(2, []float64{0.1, 0, 0, 0.1}), PositionMeasurement, "s1")
}

// testCluster builds a bare cluster whose targets the tests populate by
// hand.
func testCluster(t *testing.T) *Cluster {
	t.Helper()
	params := DefaultParams()
	params.Workers = 1
	return &Cluster{params: &params, hypotheses: []*ClusterHypothesis{{}}}
}

func unitBox() geom.BBox { return geom.BBox{MinX: -1, MaxX: 1, MinY: -1, MaxY: 1} }

func TestNewTargetTrack(t *testing.T) {
	c := testCluster(t)
	sensor := &OmniSensor{Extraneous: 5, Miss: 3}
	r := testReport(0, 0)

	target := newTarget(c, &fakeFilter{box: unitBox()}, sensor, r)
	tr := target.tracks[r]
	require.NotNil(t, tr)

	assert.InDelta(t, 5, tr.Score(), 1e-12)
	assert.Equal(t, NewExistScore, tr.ExistScore())
	assert.True(t, tr.IsNew())
	assert.Contains(t, r.AssignedTracks, tr)
	assert.Equal(t, []string{"s1"}, tr.Sources())
}

func TestInitialTrack(t *testing.T) {
	c := testCluster(t)
	target := initialTarget(c, &fakeFilter{box: unitBox()})
	tr := target.tracks[nil]
	require.NotNil(t, tr)

	assert.InDelta(t, 0, tr.Score(), 1e-12)
	assert.Equal(t, MaxExistScore, tr.ExistScore())
	assert.Nil(t, tr.Report())
}

func TestExtend(t *testing.T) {
	c := testCluster(t)
	sensor := &OmniSensor{Extraneous: 10, Miss: 3}
	root := testReport(0, 0)
	target := newTarget(c, &fakeFilter{box: unitBox(), nll: 1}, sensor, root)
	parent := target.tracks[root]

	r := testReport(0.1, 0)
	child, err := parent.Assign(r, sensor)
	require.NoError(t, err)

	// my_score = correct() - score_found; parent contributes its own 10.
	found := -math.Log(1 - math.Exp(-3))
	assert.InDelta(t, 10+1-found, child.Score(), 1e-9)
	assert.Equal(t, 2, child.ExistScore())
	assert.Equal(t, 2, child.Length())
	assert.False(t, child.IsNew())
	assert.Contains(t, r.AssignedTracks, child)
}

func TestAssignSharesChildren(t *testing.T) {
	c := testCluster(t)
	sensor := &OmniSensor{Extraneous: 10, Miss: 3}
	root := testReport(0, 0)
	target := newTarget(c, &fakeFilter{box: unitBox(), nll: 1}, sensor, root)
	parent := target.tracks[root]

	r := testReport(0.1, 0)
	first, err := parent.Assign(r, sensor)
	require.NoError(t, err)
	second, err := parent.Assign(r, sensor)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestMissedInsideFOV(t *testing.T) {
	c := testCluster(t)
	sensor := &OmniSensor{Extraneous: 10, Miss: 3}
	target := initialTarget(c, &fakeFilter{box: unitBox()})
	parent := target.tracks[nil]

	miss := parent.Missed(sensor)
	// Full overlap with an omnidirectional sensor: the whole miss cost.
	assert.InDelta(t, 3, miss.myScore, 1e-9)
	assert.Equal(t, MaxExistScore-1, miss.ExistScore())

	// Idempotent: the same child every time.
	assert.Same(t, miss, parent.Missed(sensor))
}

func TestMissedOutsideFOV(t *testing.T) {
	c := testCluster(t)
	sensor := &FOVSensor{
		FOV:        geom.BBox{MinX: 100, MaxX: 200, MinY: 100, MaxY: 200},
		Extraneous: 10,
		Miss:       3,
	}
	target := initialTarget(c, &fakeFilter{box: unitBox()})
	parent := target.tracks[nil]

	miss := parent.Missed(sensor)
	assert.InDelta(t, 0, miss.myScore, 1e-12)
	assert.Equal(t, parent.ExistScore(), miss.ExistScore())
}

func TestMatchScoreGating(t *testing.T) {
	c := testCluster(t)
	sensor := &OmniSensor{Extraneous: 10, Miss: 3}
	r := testReport(0, 0)

	// Inside the gate: nll - found - miss.
	target := initialTarget(c, &fakeFilter{box: unitBox(), nll: 2})
	tr := target.tracks[nil]
	found := -math.Log(1 - math.Exp(-3))
	got, err := tr.MatchScore(r, sensor)
	require.NoError(t, err)
	assert.InDelta(t, 2-found-3, got, 1e-9)

	// NLL above the gate.
	target2 := initialTarget(c, &fakeFilter{box: unitBox(), nll: c.params.NLLLimit + 1})
	got, err = target2.tracks[nil].MatchScore(r, sensor)
	require.NoError(t, err)
	assert.InDelta(t, assignment.Large, got, 1e-12)

	// No field-of-view overlap.
	narrow := &FOVSensor{
		FOV:        geom.BBox{MinX: 100, MaxX: 200, MinY: 100, MaxY: 200},
		Extraneous: 10,
		Miss:       3,
	}
	target3 := initialTarget(c, &fakeFilter{box: unitBox(), nll: 2})
	got, err = target3.tracks[nil].MatchScore(r, narrow)
	require.NoError(t, err)
	assert.InDelta(t, assignment.Large, got, 1e-12)
}

func TestMissScoreWeightsByOverlap(t *testing.T) {
	c := testCluster(t)
	// Track bound [0,1]x[0,1], sensor sees x >= 0.5: half the box.
	sensor := &FOVSensor{
		FOV:        geom.BBox{MinX: 0.5, MaxX: 10, MinY: -10, MaxY: 10},
		Extraneous: 10,
		Miss:       4,
	}
	target := initialTarget(c, &fakeFilter{box: geom.BBox{MinX: 0, MaxX: 1, MinY: 0, MaxY: 1}})
	assert.InDelta(t, 2, target.tracks[nil].MissScore(sensor), 1e-9)
}

func TestTrackPredictDelegates(t *testing.T) {
	c := testCluster(t)
	f := &fakeFilter{box: unitBox()}
	target := initialTarget(c, f)
	target.Predict(0.5)
	assert.InDelta(t, 0.5, f.predict, 1e-12)
}
