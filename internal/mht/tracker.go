package mht

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/mht.report/internal/mht/assignment"
	"github.com/banshee-data/mht.report/internal/mht/geom"
	"github.com/banshee-data/mht.report/internal/monitoring"
)

var trackerLog = monitoring.Scoped("tracker")

// TrackSnapshot is the persisted view of one live track.
type TrackSnapshot struct {
	TrackID    int64
	TargetID   int64
	Score      float64
	ExistScore int
	Length     int
	X          float64
	Y          float64
}

// ClusterSnapshot is the persisted view of one cluster after a scan: its
// bound for spatial queries and the best hypothesis' tracks.
type ClusterSnapshot struct {
	ID         uuid.UUID
	BBox       geom.BBox
	Targets    int
	Hypotheses int
	Tracks     []TrackSnapshot
}

// SnapshotStore receives cluster snapshots after every mutation. The
// tracker's authoritative state stays in memory; the store is the durable,
// queryable record.
type SnapshotStore interface {
	SaveCluster(ctx context.Context, snap ClusterSnapshot) error
	DeleteCluster(ctx context.Context, id uuid.UUID) error
}

// Tracker is the scan-ingress orchestrator: it routes reports to
// overlapping clusters, merges and splits clusters as ambiguities form and
// dissolve, and exposes the ranked global hypotheses. Calls that mutate the
// tracker must not run concurrently.
type Tracker struct {
	params   Params
	clusters []*Cluster
	store    SnapshotStore

	mu sync.Mutex
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithSnapshotStore attaches a persistence layer.
func WithSnapshotStore(store SnapshotStore) TrackerOption {
	return func(t *Tracker) { t.store = store }
}

// NewTracker builds a tracker with the given parameters.
func NewTracker(params Params, opts ...TrackerOption) *Tracker {
	t := &Tracker{params: params}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// InitiateClusters seeds one cluster per initial filter.
func (t *Tracker) InitiateClusters(ctx context.Context, filters []Filter) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range filters {
		t.clusters = append(t.clusters, NewCluster(&t.params, f))
	}
	return t.persist(ctx, t.clusters, nil)
}

// Clusters returns the current cluster set, optionally restricted to those
// overlapping bbox.
func (t *Tracker) Clusters(bbox *geom.BBox) []*Cluster {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadClusters(bbox)
}

func (t *Tracker) loadClusters(bbox *geom.BBox) []*Cluster {
	if bbox == nil {
		out := make([]*Cluster, len(t.clusters))
		copy(out, t.clusters)
		return out
	}
	var out []*Cluster
	for _, c := range t.clusters {
		if b, ok := c.BBox(); ok && b.Overlaps(*bbox) {
			out = append(out, c)
		}
	}
	return out
}

// Predict advances all clusters (optionally restricted by bbox) dT seconds.
// Clusters are independent, so the work fans out over the worker pool.
func (t *Tracker) Predict(ctx context.Context, dT float64, bbox *geom.BBox) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	clusters := t.loadClusters(bbox)
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(t.params.workers())
	for _, c := range clusters {
		g.Go(func() error {
			c.Predict(dT)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return t.persist(ctx, clusters, nil)
}

// RegisterScan folds one scan into the tracker: route reports to clusters
// (merging clusters a report straddles, spawning empty clusters for
// unmatched reports), update each affected cluster, then split along
// dissolved ambiguities. Per-cluster failures taint their cluster and leave
// the rest of the scan in effect.
func (t *Tracker) RegisterScan(ctx context.Context, scan *Scan) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Step 1: clusters inside the sensor's field of view participate even
	// without a report (they owe miss penalties).
	fov := scan.Sensor.BBox()
	affected := make(map[*Cluster]struct{})
	for _, c := range t.clusters {
		if b, ok := c.BBox(); ok && b.Overlaps(fov) {
			affected[c] = struct{}{}
		}
	}

	// Step 2: route each report, merging every cluster it straddles.
	for _, r := range scan.Reports {
		var matches []*Cluster
		for _, c := range t.clusters {
			if c.overlapsReport(r) {
				matches = append(matches, c)
			}
		}
		var dst *Cluster
		switch len(matches) {
		case 0:
			dst = emptyCluster(&t.params)
			t.clusters = append(t.clusters, dst)
		case 1:
			dst = matches[0]
		default:
			dst = MergeClusters(&t.params, matches)
			t.removeClusters(matches)
			for _, m := range matches {
				delete(affected, m)
			}
			t.clusters = append(t.clusters, dst)
		}
		dst.stageReport(r)
		affected[dst] = struct{}{}
	}

	// Step 3: per-cluster registration, in parallel; clusters are disjoint
	// by construction.
	work := make([]*Cluster, 0, len(affected))
	for c := range affected {
		work = append(work, c)
	}
	var (
		errMu sync.Mutex
		errs  []error
	)
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(t.params.workers())
	for _, c := range work {
		g.Go(func() error {
			sub := &Scan{Sensor: scan.Sensor, Reports: c.assignedReports}
			if err := c.RegisterScan(sub); err != nil {
				c.tainted = true
				trackerLog("cluster %s tainted: %v", c.id, err)
				errMu.Lock()
				errs = append(errs, fmt.Errorf("cluster %s: %w", c.id, err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	// Step 4: split along dissolved ambiguities; drop dead clusters.
	var removed []uuid.UUID
	for _, c := range work {
		if c.tainted {
			continue
		}
		if c.Dead() {
			t.removeClusters([]*Cluster{c})
			removed = append(removed, c.id)
			delete(affected, c)
			continue
		}
		daughters, err := c.Split()
		if err != nil {
			errs = append(errs, fmt.Errorf("cluster %s split: %w", c.id, err))
			continue
		}
		if daughters == nil {
			continue
		}
		t.removeClusters([]*Cluster{c})
		removed = append(removed, c.id)
		delete(affected, c)
		t.clusters = append(t.clusters, daughters...)
		for _, d := range daughters {
			affected[d] = struct{}{}
		}
	}

	// Step 5: persist survivors, forget the dead.
	persistSet := make([]*Cluster, 0, len(affected))
	for c := range affected {
		// A tainted cluster keeps its previous snapshot.
		if !c.tainted {
			persistSet = append(persistSet, c)
		}
	}
	if err := t.persist(ctx, persistSet, removed); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (t *Tracker) removeClusters(dead []*Cluster) {
	drop := make(map[*Cluster]struct{}, len(dead))
	for _, c := range dead {
		drop[c] = struct{}{}
	}
	kept := t.clusters[:0]
	for _, c := range t.clusters {
		if _, ok := drop[c]; !ok {
			kept = append(kept, c)
		}
	}
	t.clusters = kept
}

func (t *Tracker) persist(ctx context.Context, clusters []*Cluster, removed []uuid.UUID) error {
	if t.store == nil {
		return nil
	}
	var errs []error
	for _, c := range clusters {
		if err := t.store.SaveCluster(ctx, snapshotCluster(c)); err != nil {
			errs = append(errs, fmt.Errorf("persist cluster %s: %w", c.id, err))
		}
	}
	for _, id := range removed {
		if err := t.store.DeleteCluster(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("forget cluster %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func snapshotCluster(c *Cluster) ClusterSnapshot {
	box, _ := c.BBox()
	snap := ClusterSnapshot{
		ID:         c.id,
		BBox:       box,
		Targets:    len(c.targets),
		Hypotheses: len(c.hypotheses),
	}
	if len(c.hypotheses) > 0 {
		for _, tr := range c.hypotheses[0].tracks {
			x, y := tr.filter.Position()
			snap.Tracks = append(snap.Tracks, TrackSnapshot{
				TrackID:    tr.id,
				TargetID:   tr.target.id,
				Score:      tr.Score(),
				ExistScore: tr.existScore,
				Length:     tr.length,
				X:          x,
				Y:          y,
			})
		}
	}
	return snap
}

// GlobalHypothesis is one cluster hypothesis per cluster: a joint
// explanation of everything tracked.
type GlobalHypothesis struct {
	Score  float64
	Tracks []*Track
}

// GlobalHypotheses lazily enumerates global hypotheses in score order,
// optionally restricted to clusters overlapping bbox. The stream is a
// cross-product over the per-cluster ranked lists; the consumer draws as
// few or as many as it needs.
func (t *Tracker) GlobalHypotheses(bbox *geom.BBox) *GlobalHypothesisStream {
	clusters := t.Clusters(bbox)
	lists := make([][]assignment.Weighted[*ClusterHypothesis], 0, len(clusters))
	for _, c := range clusters {
		if len(c.hypotheses) == 0 {
			continue
		}
		list := make([]assignment.Weighted[*ClusterHypothesis], len(c.hypotheses))
		for j, h := range c.hypotheses {
			list[j] = assignment.Weighted[*ClusterHypothesis]{Cost: h.Score(), Item: h}
		}
		lists = append(lists, list)
	}
	return &GlobalHypothesisStream{perm: assignment.NewPermutation(lists, true)}
}

// GlobalHypothesisStream draws ranked global hypotheses.
type GlobalHypothesisStream struct {
	perm *assignment.Permutation[*ClusterHypothesis]
}

// Next returns the next-best global hypothesis, ok=false when exhausted.
func (s *GlobalHypothesisStream) Next() (GlobalHypothesis, bool) {
	cost, sel, ok := s.perm.Next()
	if !ok {
		return GlobalHypothesis{}, false
	}
	gh := GlobalHypothesis{Score: cost}
	for _, ch := range sel {
		gh.Tracks = append(gh.Tracks, ch.tracks...)
	}
	return gh, true
}
