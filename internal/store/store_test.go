package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgemesh/minmaxk/internal/coordinator"
	"github.com/edgemesh/minmaxk/internal/election"
	"github.com/edgemesh/minmaxk/internal/nodeid"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.CloseSafe() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestRecordAndHistory(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)

	leader := nodeid.FromShort("1")
	nodes := []coordinator.NodeRecord{
		{ID: nodeid.FromShort("1"), M: election.Value(5), ResultConfirmed: true, Result: &coordinator.ResultRow{ElectedLeader: leader, ElapsedSeconds: 1.5, Msgs: 10, Degree: 2}},
		{ID: nodeid.FromShort("2"), M: election.Value(90), ResultConfirmed: true, Result: &coordinator.ResultRow{ElectedLeader: leader, ElapsedSeconds: 1.4, Msgs: 8, Degree: 2}},
	}

	if err := repo.RecordIteration(1, leader, nodes, time.Now(), 1500*time.Millisecond); err != nil {
		t.Fatalf("RecordIteration: %v", err)
	}
	if err := repo.RecordIteration(1, leader, nodes, time.Now(), 1600*time.Millisecond); err != nil {
		t.Fatalf("RecordIteration upsert: %v", err)
	}

	hist, err := repo.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("expected 1 row after upsert of same iteration, got %d", len(hist))
	}
	if hist[0].Leader != "1" {
		t.Errorf("Leader = %q, want %q", hist[0].Leader, "1")
	}
	if hist[0].NodeCount != 2 {
		t.Errorf("NodeCount = %d, want 2", hist[0].NodeCount)
	}
}
