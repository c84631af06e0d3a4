package mht

import (
	"container/heap"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/katalvlaran/lvlath/bfs"
	"github.com/katalvlaran/lvlath/core"

	"github.com/banshee-data/mht.report/internal/mht/assignment"
	"github.com/banshee-data/mht.report/internal/mht/geom"
	"github.com/banshee-data/mht.report/internal/monitoring"
)

var clusterLog = monitoring.Scoped("cluster")

// Cluster is a maximal group of targets whose hypotheses are entangled
// through ambiguous reports. Clusters are pairwise independent: scan
// registration, prediction and hypothesis enumeration never cross a cluster
// boundary.
type Cluster struct {
	id     uuid.UUID
	params *Params

	targets    []*Target
	hypotheses []*ClusterHypothesis // sorted ascending by score

	// ambiguousTracks records, per surviving ambiguity, the set of tracks
	// sharing a report. Sets are propagated through children across scans
	// and drive the split test.
	ambiguousTracks []map[*Track]struct{}

	// assignedReports stages the reports routed to this cluster for the
	// scan in flight.
	assignedReports []*Report

	// tainted marks a cluster on which a registration has failed. The
	// tracker neither splits nor persists a tainted cluster but still
	// registers later scans on it; the flag is never cleared.
	tainted bool
}

// NewCluster seeds a cluster with one target per initial filter and a single
// hypothesis covering their root tracks.
func NewCluster(params *Params, filters ...Filter) *Cluster {
	c := &Cluster{id: uuid.New(), params: params}
	tracks := make([]*Track, 0, len(filters))
	for _, f := range filters {
		t := initialTarget(c, f)
		c.targets = append(c.targets, t)
		tracks = append(tracks, t.tracks[nil])
	}
	c.hypotheses = []*ClusterHypothesis{initialClusterHypothesis(tracks)}
	c.normalise()
	return c
}

// emptyCluster is the landing zone for reports that match no existing
// cluster. Its single empty hypothesis lets scan registration spawn targets.
func emptyCluster(params *Params) *Cluster {
	return &Cluster{
		id:         uuid.New(),
		params:     params,
		hypotheses: []*ClusterHypothesis{{}},
	}
}

// ID is the cluster identity.
func (c *Cluster) ID() uuid.UUID { return c.id }

// Targets returns the live targets.
func (c *Cluster) Targets() []*Target { return c.targets }

// Hypotheses returns the ranked cluster hypotheses, best first.
func (c *Cluster) Hypotheses() []*ClusterHypothesis { return c.hypotheses }

// Tainted reports whether a registration has failed on this cluster.
func (c *Cluster) Tainted() bool { return c.tainted }

// Dead reports whether nothing remains to track here.
func (c *Cluster) Dead() bool {
	return len(c.targets) == 0
}

// Predict advances every live track dT seconds.
func (c *Cluster) Predict(dT float64) {
	for _, t := range c.targets {
		t.Predict(dT)
	}
}

// BBox is the union bound over all live tracks; ok=false for an empty
// cluster.
func (c *Cluster) BBox() (geom.BBox, bool) {
	var box geom.BBox
	found := false
	for _, t := range c.targets {
		for _, tr := range t.tracks {
			b := tr.filter.BBox()
			if !found {
				box = b
				found = true
			} else {
				box = box.Union(b)
			}
		}
	}
	return box, found
}

// overlapsReport reports whether any live track's bound overlaps the report
// bound.
func (c *Cluster) overlapsReport(r *Report) bool {
	for _, t := range c.targets {
		for _, tr := range t.tracks {
			if tr.filter.BBox().Overlaps(r.BBox()) {
				return true
			}
		}
	}
	return false
}

// stageReport adds a report to the scan in flight.
func (c *Cluster) stageReport(r *Report) {
	c.assignedReports = append(c.assignedReports, r)
}

// parentStream draws ranked assignments for one parent hypothesis. Cost is
// the parent score plus the all-miss constant plus the enumerated matrix
// cost.
type parentStream struct {
	idx    int
	ph     *ClusterHypothesis
	base   float64
	matrix *assignment.Matrix
	murty  *assignment.Murty

	pending     assignment.Assignment
	pendingCost float64
	done        bool
	emittedMiss bool
}

// advance pulls the stream's next feasible item.
func (s *parentStream) advance() {
	if s.murty == nil {
		// No reports: the single all-miss assignment.
		if s.emittedMiss {
			s.done = true
			return
		}
		s.emittedMiss = true
		s.pending = assignment.Assignment{}
		s.pendingCost = s.base
		return
	}
	for {
		a, ok := s.murty.Next()
		if !ok {
			s.done = true
			return
		}
		if !a.Feasible(s.matrix) {
			// ErrNoFeasibleAssignment: recovered by discarding the draw.
			continue
		}
		s.pending = a
		s.pendingCost = s.base + a.Cost
		return
	}
}

type streamHeap []*parentStream

func (h streamHeap) Len() int { return len(h) }
func (h streamHeap) Less(i, j int) bool {
	if h[i].pendingCost != h[j].pendingCost {
		return h[i].pendingCost < h[j].pendingCost
	}
	return h[i].idx < h[j].idx
}
func (h streamHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *streamHeap) Push(x any)   { *h = append(*h, x.(*parentStream)) }
func (h *streamHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// newParentStream builds the cost matrix for one parent hypothesis and
// starts its enumeration. The matrix is M x (N+M): the left block scores
// report-to-track matches, the right block's diagonal prices each report as
// extraneous. Misses are charged additively through the all-miss constant;
// match scores already refund the per-track miss and detection costs.
func (c *Cluster) newParentStream(idx int, ph *ClusterHypothesis, scan *Scan) (*parentStream, error) {
	missAll := 0.0
	for _, tr := range ph.tracks {
		missAll += tr.MissScore(scan.Sensor)
	}

	s := &parentStream{idx: idx, ph: ph, base: ph.Score() + missAll}

	m := len(scan.Reports)
	if m == 0 {
		s.advance()
		return s, nil
	}

	n := len(ph.tracks)
	cm := assignment.NewMatrix(m, n+m)
	cm.Fill(assignment.Large)
	for i, r := range scan.Reports {
		for j, tr := range ph.tracks {
			sc, err := tr.MatchScore(r, scan.Sensor)
			if err != nil {
				return nil, err
			}
			cm.Set(i, j, sc)
		}
		cm.Set(i, n+i, scan.Sensor.ScoreExtraneous())
	}

	murty, err := assignment.NewMurty(cm)
	if err != nil {
		return nil, err
	}
	s.matrix = cm
	s.murty = murty
	s.advance()
	return s, nil
}

// newTargetRoot returns the root track of the target spawned by an
// extraneous report, creating it on first request so every parent
// hypothesis shares one new target per report.
func (c *Cluster) newTargetRoot(cache map[*Report]*Track, r *Report, sensor Sensor) *Track {
	if tr, ok := cache[r]; ok {
		return tr
	}
	t := newTarget(c, c.params.InitTargetTracker(r, nil), sensor, r)
	c.targets = append(c.targets, t)
	tr := t.tracks[r]
	cache[r] = tr
	return tr
}

// RegisterScan folds one scan into the cluster: it enumerates ranked joint
// assignments across all parent hypotheses, rebuilds the hypothesis list,
// updates ambiguities and garbage-collects dead lineages.
func (c *Cluster) RegisterScan(scan *Scan) error {
	parents := c.hypotheses
	if len(parents) == 0 {
		parents = []*ClusterHypothesis{{}}
	}
	reports := scan.Reports
	newTargets := make(map[*Report]*Track)

	// Parent streams are admitted lazily in score order: whenever the
	// newest admitted stream is drawn from, the next one joins the race.
	var h streamHeap
	heap.Init(&h)
	lastAdmitted := -1
	admit := func() error {
		if lastAdmitted+1 >= len(parents) {
			return nil
		}
		lastAdmitted++
		s, err := c.newParentStream(lastAdmitted, parents[lastAdmitted], scan)
		if err != nil {
			return err
		}
		if !s.done {
			heap.Push(&h, s)
		}
		return nil
	}
	if err := admit(); err != nil {
		return err
	}

	var (
		newHyps []*ClusterHypothesis
		seen    = make(map[string]struct{})
		draws   int
		minCost = math.Inf(1)
		sumExp  float64
		stopped bool
	)

	accept := func(s *parentStream) (bool, error) {
		cost := s.pendingCost

		// Tail pruning: track the running normalisation over everything
		// drawn so far and stop once the next item's normalised score
		// clears the limit.
		if cost < minCost {
			if !math.IsInf(minCost, 1) {
				sumExp *= math.Exp(cost - minCost)
			}
			minCost = cost
			sumExp++
		} else {
			sumExp += math.Exp(minCost - cost)
		}
		norm := math.Log(sumExp) - minCost
		if draws >= c.params.KMax || cost+norm > c.params.HPLimit {
			return false, nil
		}
		draws++

		pairs := make([]assignmentPair, 0, len(s.pending.Columns))
		n := len(s.ph.tracks)
		for i, col := range s.pending.Columns {
			r := reports[i]
			if col < n {
				pairs = append(pairs, assignmentPair{report: r, track: s.ph.tracks[col]})
			} else {
				pairs = append(pairs, assignmentPair{report: r, track: c.newTargetRoot(newTargets, r, scan.Sensor)})
			}
		}
		ch, err := newClusterHypothesis(s.ph, pairs, scan.Sensor)
		if err != nil {
			return false, err
		}
		if ch != nil {
			if _, dup := seen[ch.key()]; !dup {
				seen[ch.key()] = struct{}{}
				newHyps = append(newHyps, ch)
			}
		}
		return true, nil
	}

	for !stopped && h.Len() > 0 {
		s := heap.Pop(&h).(*parentStream)
		if s.idx == lastAdmitted {
			if err := admit(); err != nil {
				return err
			}
		}
		// Draw greedily from this stream while it stays below the
		// runner-up.
		for {
			ok, err := accept(s)
			if err != nil {
				return err
			}
			if !ok {
				stopped = true
				break
			}
			s.advance()
			if s.done {
				break
			}
			if h.Len() > 0 && s.pendingCost > h[0].pendingCost {
				heap.Push(&h, s)
				break
			}
		}
	}

	if len(newHyps) == 0 {
		// ErrEmptyStream: recovered by emptying the cluster, which forces
		// its deletion.
		clusterLog("%s: no hypotheses produced, emptying", c.id)
		c.hypotheses = nil
		c.targets = nil
		c.ambiguousTracks = nil
		c.assignedReports = nil
		return nil
	}

	sort.SliceStable(newHyps, func(i, j int) bool {
		return newHyps[i].totalScore < newHyps[j].totalScore
	})
	c.hypotheses = newHyps
	c.normalise()

	surviving := make(map[*Track]struct{})
	for _, hyp := range c.hypotheses {
		for _, tr := range hyp.tracks {
			surviving[tr] = struct{}{}
		}
	}

	c.updateAmbiguities(reports, surviving)

	for _, t := range c.targets {
		t.finalizeAssignment(surviving)
	}
	live := c.targets[:0]
	for _, t := range c.targets {
		if len(t.tracks) > 0 {
			live = append(live, t)
		}
	}
	c.targets = live
	c.assignedReports = nil
	return nil
}

// updateAmbiguities propagates prior ambiguity sets through this scan's
// children and records reports claimed by more than one surviving track.
func (c *Cluster) updateAmbiguities(reports []*Report, surviving map[*Track]struct{}) {
	var next []map[*Track]struct{}
	for _, set := range c.ambiguousTracks {
		prop := make(map[*Track]struct{})
		for tr := range set {
			for _, child := range tr.children {
				if _, ok := surviving[child]; ok {
					prop[child] = struct{}{}
				}
			}
		}
		if len(prop) >= 2 {
			next = append(next, prop)
		}
	}
	for _, r := range reports {
		carriers := make(map[*Track]struct{})
		for _, tr := range r.AssignedTracks {
			if _, ok := surviving[tr]; ok {
				carriers[tr] = struct{}{}
			}
		}
		if len(carriers) >= 2 {
			next = append(next, carriers)
		}
	}
	c.ambiguousTracks = next
}

// normalise shifts hypothesis scores so their likelihoods sum to one,
// computed in shifted form against the minimum score.
func (c *Cluster) normalise() {
	if len(c.hypotheses) == 0 {
		return
	}
	m := c.hypotheses[0].totalScore
	for _, h := range c.hypotheses[1:] {
		if h.totalScore < m {
			m = h.totalScore
		}
	}
	var sum float64
	for _, h := range c.hypotheses {
		sum += math.Exp(m - h.totalScore)
	}
	shift := math.Log(sum) - m
	for _, h := range c.hypotheses {
		h.totalScore += shift
	}
}

// Split partitions the cluster along its ambiguity structure: targets are
// adjacent when they share an ambiguity set, and each connected component
// becomes a daughter cluster. nil means the cluster is still connected.
func (c *Cluster) Split() ([]*Cluster, error) {
	if len(c.targets) < 2 {
		return nil, nil
	}

	g := core.NewGraph(core.WithDirected(false))
	byID := make(map[string]*Target, len(c.targets))
	for _, t := range c.targets {
		id := strconv.FormatInt(t.id, 10)
		byID[id] = t
		if err := g.AddVertex(id); err != nil {
			return nil, fmt.Errorf("split graph: %w", err)
		}
	}
	for _, set := range c.ambiguousTracks {
		var first *Target
		for tr := range set {
			t := tr.target
			if first == nil {
				first = t
				continue
			}
			if t == first {
				continue
			}
			a := strconv.FormatInt(first.id, 10)
			b := strconv.FormatInt(t.id, 10)
			if _, ok := byID[a]; !ok {
				continue
			}
			if _, ok := byID[b]; !ok {
				continue
			}
			if g.HasEdge(a, b) {
				continue
			}
			if _, err := g.AddEdge(a, b, 0); err != nil {
				return nil, fmt.Errorf("split graph: %w", err)
			}
		}
	}

	visited := make(map[string]bool)
	var components []map[*Target]struct{}
	for _, id := range g.Vertices() {
		if visited[id] {
			continue
		}
		res, err := bfs.BFS(g, id)
		if err != nil {
			return nil, fmt.Errorf("split graph: %w", err)
		}
		comp := make(map[*Target]struct{})
		for _, v := range res.Order {
			visited[v] = true
			comp[byID[v]] = struct{}{}
		}
		components = append(components, comp)
	}
	if len(components) <= 1 {
		return nil, nil
	}

	daughters := make([]*Cluster, 0, len(components))
	for _, comp := range components {
		daughters = append(daughters, c.splitOff(comp))
	}
	clusterLog("%s: split into %d", c.id, len(daughters))
	return daughters, nil
}

// splitOff projects the cluster onto one target component.
func (c *Cluster) splitOff(comp map[*Target]struct{}) *Cluster {
	d := &Cluster{id: uuid.New(), params: c.params}
	for _, t := range c.targets {
		if _, ok := comp[t]; ok {
			t.cluster = d
			d.targets = append(d.targets, t)
		}
	}

	seen := make(map[string]struct{})
	for _, h := range c.hypotheses {
		sub := h.Split(comp)
		if sub == nil {
			continue
		}
		if _, dup := seen[sub.key()]; dup {
			continue
		}
		seen[sub.key()] = struct{}{}
		d.hypotheses = append(d.hypotheses, sub)
	}
	sort.SliceStable(d.hypotheses, func(i, j int) bool {
		return d.hypotheses[i].totalScore < d.hypotheses[j].totalScore
	})
	d.normalise()

	for _, set := range c.ambiguousTracks {
		kept := make(map[*Track]struct{})
		for tr := range set {
			if _, ok := comp[tr.target]; ok {
				kept[tr] = struct{}{}
			}
		}
		if len(kept) >= 2 {
			d.ambiguousTracks = append(d.ambiguousTracks, kept)
		}
	}
	return d
}

// MergeClusters combines independent clusters whose separation an incoming
// report has dissolved. The merged hypothesis list is the k-best
// cross-product of the component lists.
func MergeClusters(params *Params, clusters []*Cluster) *Cluster {
	merged := &Cluster{id: uuid.New(), params: params}
	lists := make([][]assignment.Weighted[*ClusterHypothesis], len(clusters))
	for i, cl := range clusters {
		merged.targets = append(merged.targets, cl.targets...)
		merged.ambiguousTracks = append(merged.ambiguousTracks, cl.ambiguousTracks...)
		merged.assignedReports = append(merged.assignedReports, cl.assignedReports...)
		list := make([]assignment.Weighted[*ClusterHypothesis], len(cl.hypotheses))
		for j, h := range cl.hypotheses {
			list[j] = assignment.Weighted[*ClusterHypothesis]{Cost: h.Score(), Item: h}
		}
		lists[i] = list
	}
	for _, t := range merged.targets {
		t.cluster = merged
	}

	perm := assignment.NewPermutation(lists, true)
	for len(merged.hypotheses) < params.KMax {
		_, sel, ok := perm.Next()
		if !ok {
			break
		}
		merged.hypotheses = append(merged.hypotheses, mergeClusterHypotheses(sel))
	}
	merged.normalise()
	clusterLog("merged %d into %s", len(clusters), merged.id)
	return merged
}
