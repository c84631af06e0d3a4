package mht

import (
	"fmt"
	"sync/atomic"
)

var targetCounter atomic.Int64

// Target is a putative physical object: the root of a tree of tracks
// representing its alternative histories within a cluster.
type Target struct {
	id      int64
	cluster *Cluster

	// tracks holds the live leaves after scan finalisation, keyed by the
	// report that produced each (nil for roots and missed detections).
	tracks map[*Report]*Track

	// newTracks caches this scan's children so a report extends a target at
	// most once however many parent hypotheses request it.
	newTracks map[*Report]*Track
}

// initialTarget seeds a target from an operator-provided filter.
func initialTarget(cluster *Cluster, filter Filter) *Target {
	t := &Target{
		id:        targetCounter.Add(1),
		cluster:   cluster,
		tracks:    make(map[*Report]*Track),
		newTracks: make(map[*Report]*Track),
	}
	tr := initialTrack(t, filter)
	t.tracks[nil] = tr
	return t
}

// newTarget spawns a target from an extraneous report.
func newTarget(cluster *Cluster, filter Filter, sensor Sensor, report *Report) *Target {
	t := &Target{
		id:        targetCounter.Add(1),
		cluster:   cluster,
		tracks:    make(map[*Report]*Track),
		newTracks: make(map[*Report]*Track),
	}
	tr := newTargetTrack(t, filter, sensor, report)
	t.tracks[report] = tr
	return t
}

// Predict advances every live leaf.
func (t *Target) Predict(dT float64) {
	for _, tr := range t.tracks {
		tr.Predict(dT)
	}
}

// finalizeAssignment garbage-collects dead lineages once the surviving
// hypotheses are known: the surviving leaves become the live track set and
// the per-scan cache is flushed.
func (t *Target) finalizeAssignment(surviving map[*Track]struct{}) {
	for _, parent := range t.tracks {
		for rep, child := range parent.children {
			if _, ok := surviving[child]; !ok {
				delete(parent.children, rep)
			}
		}
	}
	live := make(map[*Report]*Track)
	for tr := range surviving {
		if tr.target == t {
			live[tr.report] = tr
		}
	}
	t.tracks = live
	t.newTracks = make(map[*Report]*Track)
}

// Tracks returns the live leaves.
func (t *Target) Tracks() []*Track {
	out := make([]*Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		out = append(out, tr)
	}
	return out
}

// ID is the process-unique target identifier.
func (t *Target) ID() int64 { return t.id }

func (t *Target) String() string { return fmt.Sprintf("T(%d)", t.id) }
