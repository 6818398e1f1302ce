// Package store persists experiment iteration results to sqlite, grounded
// on the teacher's backend/database.DB wrapper (Open/Migrate over
// database/sql + modernc.org/sqlite) and its repository.LinkStatsRepo
// upsert pattern.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/edgemesh/minmaxk/internal/coordinator"
	"github.com/edgemesh/minmaxk/internal/nodeid"
)

// DB wraps sql.DB the way the teacher's database.DB does, leaving room for
// future helpers without forcing every caller through an interface.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) a sqlite database at path and applies the
// same write-throughput pragmas as the teacher's Open.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode=WAL;")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous=NORMAL;")
	return &DB{db}, nil
}

// Migrate creates the iteration-results table.
func (db *DB) Migrate() error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS iterations (
		iteration        INTEGER PRIMARY KEY,
		leader           TEXT NOT NULL,
		node_count       INTEGER NOT NULL,
		started_at       TIMESTAMP NOT NULL,
		elapsed_seconds  REAL NOT NULL,
		nodes_json       TEXT NOT NULL,
		created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Repo persists coordinator.Driver iteration outcomes. It implements
// coordinator.ResultSink.
type Repo struct {
	db *DB
}

// NewRepo constructs a Repo over an already-migrated DB.
func NewRepo(db *DB) *Repo { return &Repo{db: db} }

// nodeSnapshot is the JSON-serializable slice stored per iteration; it
// mirrors coordinator.NodeRecord using plain JSON types instead of
// election.Value and nodeid.ID so the column is stable across code changes.
type nodeSnapshot struct {
	ID             string  `json:"id"`
	M              int     `json:"m"`
	Leader         string  `json:"leader"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Msgs           int     `json:"msgs"`
	Degree         int     `json:"degree"`
}

// RecordIteration upserts one completed experiment iteration (spec 3.1
// persisted data model).
func (r *Repo) RecordIteration(iteration int, leader nodeid.ID, nodes []coordinator.NodeRecord, startedAt time.Time, elapsed time.Duration) error {
	snaps := make([]nodeSnapshot, 0, len(nodes))
	for _, n := range nodes {
		s := nodeSnapshot{ID: n.ID.Short(), M: int(n.M)}
		if n.Result != nil {
			s.Leader = n.Result.ElectedLeader.Short()
			s.ElapsedSeconds = n.Result.ElapsedSeconds
			s.Msgs = n.Result.Msgs
			s.Degree = n.Result.Degree
		}
		snaps = append(snaps, s)
	}
	blob, err := json.Marshal(snaps)
	if err != nil {
		return fmt.Errorf("store: marshaling node snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = r.db.ExecContext(ctx, `INSERT INTO iterations(iteration,leader,node_count,started_at,elapsed_seconds,nodes_json)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(iteration) DO UPDATE SET leader=excluded.leader,node_count=excluded.node_count,
			started_at=excluded.started_at,elapsed_seconds=excluded.elapsed_seconds,nodes_json=excluded.nodes_json`,
		iteration, leader.Short(), len(nodes), startedAt, elapsed.Seconds(), string(blob))
	if err != nil {
		return fmt.Errorf("store: upserting iteration %d: %w", iteration, err)
	}
	return nil
}

// IterationSummary is a row returned by History for external consumers
// (the REST API and CLI tooling) that don't need the full node snapshot.
type IterationSummary struct {
	Iteration      int       `json:"iteration"`
	Leader         string    `json:"leader"`
	NodeCount      int       `json:"node_count"`
	StartedAt      time.Time `json:"started_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}

// History returns the most recent iterations, newest first, bounded by
// limit.
func (r *Repo) History(ctx context.Context, limit int) ([]IterationSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT iteration, leader, node_count, started_at, elapsed_seconds FROM iterations ORDER BY iteration DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: querying history: %w", err)
	}
	defer rows.Close()

	out := []IterationSummary{}
	for rows.Next() {
		var s IterationSummary
		if err := rows.Scan(&s.Iteration, &s.Leader, &s.NodeCount, &s.StartedAt, &s.ElapsedSeconds); err != nil {
			return nil, fmt.Errorf("store: scanning history row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CloseSafe closes the underlying database, tolerating a nil receiver the
// way the teacher's database.DB.CloseSafe does.
func (db *DB) CloseSafe() error {
	if db == nil || db.DB == nil {
		return nil
	}
	return db.Close()
}
