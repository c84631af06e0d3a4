// Package sqlite persists cluster snapshots: one row per cluster keyed by
// its id with min/max bbox columns for spatial queries, plus one row per
// best-hypothesis track. The tracker's live state stays in memory; this is
// the durable, queryable record.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/mht.report/internal/mht"
	"github.com/banshee-data/mht.report/internal/mht/geom"
)

const schema = `
CREATE TABLE IF NOT EXISTS mht_clusters (
	cluster_id TEXT PRIMARY KEY,
	min_x REAL NOT NULL,
	max_x REAL NOT NULL,
	min_y REAL NOT NULL,
	max_y REAL NOT NULL,
	targets INTEGER NOT NULL,
	hypotheses INTEGER NOT NULL,
	updated_unix_nanos INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mht_clusters_bbox
	ON mht_clusters (min_x, max_x, min_y, max_y);

CREATE TABLE IF NOT EXISTS mht_cluster_tracks (
	cluster_id TEXT NOT NULL,
	track_id INTEGER NOT NULL,
	target_id INTEGER NOT NULL,
	score REAL NOT NULL,
	exist_score INTEGER NOT NULL,
	track_length INTEGER NOT NULL,
	x REAL NOT NULL,
	y REAL NOT NULL,
	PRIMARY KEY (cluster_id, track_id)
);
`

// ClusterStore persists cluster snapshots to sqlite. It implements
// mht.SnapshotStore.
type ClusterStore struct {
	db *sql.DB
}

// NewClusterStore creates a ClusterStore backed by the given database,
// creating the schema if needed.
func NewClusterStore(db *sql.DB) (*ClusterStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create mht schema: %w", err)
	}
	return &ClusterStore{db: db}, nil
}

// SaveCluster upserts a cluster snapshot and replaces its track rows.
func (s *ClusterStore) SaveCluster(ctx context.Context, snap mht.ClusterSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save cluster: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mht_clusters (
			cluster_id, min_x, max_x, min_y, max_y,
			targets, hypotheses, updated_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cluster_id) DO UPDATE SET
			min_x = excluded.min_x,
			max_x = excluded.max_x,
			min_y = excluded.min_y,
			max_y = excluded.max_y,
			targets = excluded.targets,
			hypotheses = excluded.hypotheses,
			updated_unix_nanos = excluded.updated_unix_nanos
	`,
		snap.ID.String(),
		snap.BBox.MinX, snap.BBox.MaxX, snap.BBox.MinY, snap.BBox.MaxY,
		snap.Targets, snap.Hypotheses, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert cluster %s: %w", snap.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM mht_cluster_tracks WHERE cluster_id = ?`, snap.ID.String(),
	); err != nil {
		return fmt.Errorf("clear cluster tracks %s: %w", snap.ID, err)
	}
	for _, tr := range snap.Tracks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mht_cluster_tracks (
				cluster_id, track_id, target_id, score,
				exist_score, track_length, x, y
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			snap.ID.String(), tr.TrackID, tr.TargetID, tr.Score,
			tr.ExistScore, tr.Length, tr.X, tr.Y,
		); err != nil {
			return fmt.Errorf("insert track %d: %w", tr.TrackID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save cluster: %w", err)
	}
	return nil
}

// DeleteCluster removes a cluster snapshot and its tracks.
func (s *ClusterStore) DeleteCluster(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete cluster: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM mht_cluster_tracks WHERE cluster_id = ?`, id.String(),
	); err != nil {
		return fmt.Errorf("delete cluster tracks %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM mht_clusters WHERE cluster_id = ?`, id.String(),
	); err != nil {
		return fmt.Errorf("delete cluster %s: %w", id, err)
	}
	return tx.Commit()
}

// LoadOverlapping returns the snapshots whose bounds overlap bbox, tracks
// included.
func (s *ClusterStore) LoadOverlapping(ctx context.Context, bbox geom.BBox) ([]mht.ClusterSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cluster_id, min_x, max_x, min_y, max_y, targets, hypotheses
		FROM mht_clusters
		WHERE max_x >= ? AND min_x <= ? AND max_y >= ? AND min_y <= ?
		ORDER BY cluster_id
	`, bbox.MinX, bbox.MaxX, bbox.MinY, bbox.MaxY)
	if err != nil {
		return nil, fmt.Errorf("query clusters: %w", err)
	}
	defer rows.Close()

	var snaps []mht.ClusterSnapshot
	for rows.Next() {
		var (
			id   string
			snap mht.ClusterSnapshot
		)
		if err := rows.Scan(&id,
			&snap.BBox.MinX, &snap.BBox.MaxX, &snap.BBox.MinY, &snap.BBox.MaxY,
			&snap.Targets, &snap.Hypotheses,
		); err != nil {
			return nil, fmt.Errorf("scan cluster row: %w", err)
		}
		snap.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse cluster id %q: %w", id, err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clusters: %w", err)
	}

	for i := range snaps {
		if snaps[i].Tracks, err = s.loadTracks(ctx, snaps[i].ID); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

func (s *ClusterStore) loadTracks(ctx context.Context, id uuid.UUID) ([]mht.TrackSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT track_id, target_id, score, exist_score, track_length, x, y
		FROM mht_cluster_tracks
		WHERE cluster_id = ?
		ORDER BY track_id
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query tracks %s: %w", id, err)
	}
	defer rows.Close()

	var tracks []mht.TrackSnapshot
	for rows.Next() {
		var tr mht.TrackSnapshot
		if err := rows.Scan(&tr.TrackID, &tr.TargetID, &tr.Score,
			&tr.ExistScore, &tr.Length, &tr.X, &tr.Y,
		); err != nil {
			return nil, fmt.Errorf("scan track row: %w", err)
		}
		tracks = append(tracks, tr)
	}
	return tracks, rows.Err()
}
