package mht

import (
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/mht.report/internal/mht/assignment"
)

var trackCounter atomic.Int64

// Track is one node of a target's hypothesis tree: a lineage of
// report-to-target assignments carrying a filter posterior. Children are
// created at most once per report and shared by every cluster hypothesis
// that extends this node the same way in the next scan.
type Track struct {
	id       int64
	target   *Target
	parentID int64 // 0 for roots
	filter   Filter
	report   *Report

	myScore     float64
	parentScore float64
	existScore  int

	// children maps the next scan's report to the extension track; the nil
	// key is the missed-detection child.
	children map[*Report]*Track

	// sources is the union of sensor tags along the lineage; length counts
	// the lineage depth. Consumers use both to rank mature tracks.
	sources map[string]struct{}
	length  int
}

// newTrack links a node under parent (nil for roots) and registers it in the
// target's per-scan cache.
func newTrack(target *Target, parent *Track, filter Filter, report *Report) *Track {
	tr := &Track{
		id:       trackCounter.Add(1),
		target:   target,
		filter:   filter,
		report:   report,
		children: make(map[*Report]*Track),
		sources:  make(map[string]struct{}),
		length:   1,
	}
	if parent != nil {
		tr.parentID = parent.id
		tr.parentScore = parent.Score()
		tr.existScore = parent.existScore
		for s := range parent.sources {
			tr.sources[s] = struct{}{}
		}
		tr.length = parent.length + 1
	}
	if report != nil {
		tr.sources[report.Source] = struct{}{}
	}
	target.newTracks[report] = tr
	return tr
}

// initialTrack roots a tree for an operator-seeded target.
func initialTrack(target *Target, filter Filter) *Track {
	tr := newTrack(target, nil, filter, nil)
	tr.existScore = MaxExistScore
	return tr
}

// newTargetTrack roots a tree for a target spawned from an extraneous
// report.
func newTargetTrack(target *Target, filter Filter, sensor Sensor, report *Report) *Track {
	tr := newTrack(target, nil, filter, report)
	report.AssignedTracks = append(report.AssignedTracks, tr)
	tr.myScore = sensor.ScoreExtraneous()
	tr.existScore = NewExistScore
	return tr
}

// extend clones the parent's posterior, corrects it with the report and
// hangs the child under the parent's target.
func extend(parent *Track, report *Report, sensor Sensor) (*Track, error) {
	filt := parent.target.cluster.params.InitTargetTracker(report, parent)
	sc, err := filt.Correct(report)
	if err != nil {
		return nil, &FilterDegenerateError{TrackID: parent.id, Err: err}
	}
	tr := newTrack(parent.target, parent, filt, report)
	tr.myScore = sc - sensor.ScoreFound()
	tr.existScore = min(parent.existScore+1, MaxExistScore)
	return tr, nil
}

// Missed returns the missed-detection child, creating it on first call. A
// miss inside the field of view costs the overlap-weighted miss score and
// ages the track; outside it is free and the persistence is kept.
func (tr *Track) Missed(sensor Sensor) *Track {
	if child, ok := tr.children[nil]; ok {
		return child
	}
	child := newTrack(tr.target, tr, tr.filter.Clone(), nil)
	if x, y := tr.filter.Position(); sensor.InFOV(x, y) {
		child.myScore = tr.MissScore(sensor)
		child.existScore = max(tr.existScore-1, 0)
	} else {
		child.myScore = 0
		child.existScore = tr.existScore
	}
	tr.children[nil] = child
	return child
}

// Assign extends the track with a report, reusing the target-level cache so
// one report yields one extension track per target and scan.
func (tr *Track) Assign(report *Report, sensor Sensor) (*Track, error) {
	cached, ok := tr.target.newTracks[report]
	if !ok {
		child, err := extend(tr, report, sensor)
		if err != nil {
			return nil, err
		}
		report.AssignedTracks = append(report.AssignedTracks, child)
		cached = child
	}
	if _, ok := tr.children[report]; !ok {
		tr.children[report] = cached
	}
	return tr.children[report], nil
}

// Score is the accumulated lineage score.
func (tr *Track) Score() float64 { return tr.parentScore + tr.myScore }

// MatchScore gates and scores assigning the report to this track. Pairs
// failing the bbox overlap or the likelihood gate are forbidden, as are pairs
// whose detection cost is the forbidden sentinel.
func (tr *Track) MatchScore(r *Report, sensor Sensor) (float64, error) {
	if !tr.filter.BBox().Overlaps(sensor.BBox()) {
		return assignment.Large, nil
	}
	nll, err := tr.filter.NLL(r)
	if err != nil {
		return 0, &FilterDegenerateError{TrackID: tr.id, Err: err}
	}
	if nll >= tr.target.cluster.params.NLLLimit {
		return assignment.Large, nil
	}
	found := tr.foundScore(sensor)
	if found >= assignment.Large {
		return assignment.Large, nil
	}
	return nll - found - tr.MissScore(sensor), nil
}

// foundScore is the detection cost given this track's field-of-view
// coverage.
func (tr *Track) foundScore(sensor Sensor) float64 {
	return foundScore(tr.MissScore(sensor))
}

// MissScore is the miss cost weighted by how much of the track's bound lies
// inside the field of view.
func (tr *Track) MissScore(sensor Sensor) float64 {
	return sensor.ScoreMiss() * tr.filter.BBox().OverlapFraction(sensor.BBox())
}

// Predict advances the posterior.
func (tr *Track) Predict(dT float64) { tr.filter.Predict(dT) }

// IsNew reports whether the track roots its tree.
func (tr *Track) IsNew() bool { return tr.parentID == 0 }

// ID is the process-unique track identifier.
func (tr *Track) ID() int64 { return tr.id }

// Target returns the owning target.
func (tr *Track) Target() *Target { return tr.target }

// Report returns the report that produced this node, nil for roots and
// missed-detection nodes.
func (tr *Track) Report() *Report { return tr.report }

// Filter exposes the posterior.
func (tr *Track) Filter() Filter { return tr.filter }

// ExistScore is the persistence counter.
func (tr *Track) ExistScore() int { return tr.existScore }

// Length is the lineage depth.
func (tr *Track) Length() int { return tr.length }

// Sources returns the sensor tags seen along the lineage.
func (tr *Track) Sources() []string {
	out := make([]string, 0, len(tr.sources))
	for s := range tr.sources {
		out = append(out, s)
	}
	return out
}

func (tr *Track) String() string {
	x, y := tr.filter.Position()
	return fmt.Sprintf("Tr(%d/%d: %.2f,%.2f e%d)", tr.target.id, tr.id, x, y, tr.existScore)
}
