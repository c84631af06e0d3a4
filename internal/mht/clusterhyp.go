package mht

import (
	"fmt"
	"strconv"
	"strings"
)

// ClusterHypothesis is one joint explanation within a cluster: exactly one
// live track per covered target. Hypotheses are equated by their ordered
// track sequence.
type ClusterHypothesis struct {
	tracks     []*Track
	targets    map[*Target]struct{}
	totalScore float64
}

// assignmentPair binds a report to the parent track (or new-target root) it
// is assigned to.
type assignmentPair struct {
	report *Report
	track  *Track
}

// initialClusterHypothesis covers the given tracks as-is.
func initialClusterHypothesis(tracks []*Track) *ClusterHypothesis {
	h := &ClusterHypothesis{tracks: tracks}
	h.finish()
	return h
}

// newClusterHypothesis extends a parent hypothesis with one scan's
// assignments: assigned parents are extended, unassigned parents receive
// their missed-detection child if they still have persistence. A hypothesis
// that ends up with no tracks is reported as nil.
func newClusterHypothesis(phyp *ClusterHypothesis, assignments []assignmentPair, sensor Sensor) (*ClusterHypothesis, error) {
	h := &ClusterHypothesis{}
	assigned := make(map[*Track]struct{}, len(assignments))
	for _, a := range assignments {
		child, err := a.track.Assign(a.report, sensor)
		if err != nil {
			return nil, err
		}
		h.tracks = append(h.tracks, child)
		assigned[a.track] = struct{}{}
	}
	if phyp != nil {
		for _, tr := range phyp.tracks {
			if _, ok := assigned[tr]; ok {
				continue
			}
			if tr.existScore > 1 {
				h.tracks = append(h.tracks, tr.Missed(sensor))
			}
		}
	}
	if len(h.tracks) == 0 {
		return nil, nil
	}
	h.finish()
	return h, nil
}

// mergeClusterHypotheses concatenates one hypothesis per source cluster.
func mergeClusterHypotheses(hyps []*ClusterHypothesis) *ClusterHypothesis {
	h := &ClusterHypothesis{}
	for _, src := range hyps {
		h.tracks = append(h.tracks, src.tracks...)
	}
	h.finish()
	return h
}

// Split projects the hypothesis onto a subset of targets, nil when the
// projection is empty.
func (h *ClusterHypothesis) Split(targets map[*Target]struct{}) *ClusterHypothesis {
	var tracks []*Track
	for _, tr := range h.tracks {
		if _, ok := targets[tr.target]; ok {
			tracks = append(tracks, tr)
		}
	}
	if len(tracks) == 0 {
		return nil
	}
	sub := &ClusterHypothesis{tracks: tracks}
	sub.finish()
	return sub
}

func (h *ClusterHypothesis) finish() {
	h.targets = make(map[*Target]struct{}, len(h.tracks))
	h.totalScore = 0
	for _, tr := range h.tracks {
		h.targets[tr.target] = struct{}{}
		h.totalScore += tr.Score()
	}
}

// Score is the summed track score, shifted by the cluster normalisation
// constant after each rebuild.
func (h *ClusterHypothesis) Score() float64 { return h.totalScore }

// Tracks returns the hypothesis' track selection in order.
func (h *ClusterHypothesis) Tracks() []*Track { return h.tracks }

// Targets returns the covered targets.
func (h *ClusterHypothesis) Targets() []*Target {
	out := make([]*Target, 0, len(h.targets))
	for t := range h.targets {
		out = append(out, t)
	}
	return out
}

// key identifies the hypothesis by its ordered track sequence.
func (h *ClusterHypothesis) key() string {
	var b strings.Builder
	for i, tr := range h.tracks {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(tr.id, 10))
	}
	return b.String()
}

func (h *ClusterHypothesis) String() string {
	parts := make([]string, len(h.tracks))
	for i, tr := range h.tracks {
		parts[i] = tr.String()
	}
	return fmt.Sprintf("H(%.3f: %s)", h.totalScore, strings.Join(parts, " "))
}
