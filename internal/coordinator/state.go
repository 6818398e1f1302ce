// Package coordinator implements the coordinator-side experiment driver
// (spec 4.2–4.4): node discovery, topology distribution, the start
// barrier, result collection with confirmation, and the reset/repeat
// cycle. Modeled on the teacher's ticker-driven PollingService
// (internal/core/polling.go) for the periodic discovery/collection loops
// and its StateManager apply-under-lock pattern for tracking per-node
// state across iterations.
package coordinator

import (
	"math/rand"
	"time"

	"github.com/edgemesh/minmaxk/internal/election"
	"github.com/edgemesh/minmaxk/internal/nodeid"
)

// Phase is the coordinator's per-iteration experiment phase.
type Phase int

const (
	Discovering Phase = iota
	Identifying
	DistributingTopology
	Starting
	Collecting
	Resetting
)

func (p Phase) String() string {
	switch p {
	case Discovering:
		return "discovering"
	case Identifying:
		return "identifying"
	case DistributingTopology:
		return "distributing_topology"
	case Starting:
		return "starting"
	case Collecting:
		return "collecting"
	case Resetting:
		return "resetting"
	default:
		return "unknown"
	}
}

// NodeRecord tracks one discovered worker across an iteration: its
// assigned election value and, once collection begins, its reported
// result.
type NodeRecord struct {
	ID               nodeid.ID
	M                election.Value
	ResultConfirmed  bool
	Result           *ResultRow
}

// ResultRow is a worker's self-reported outcome, parsed from a results;
// frame (spec 6 frame catalogue).
type ResultRow struct {
	ElectedLeader  nodeid.ID
	StartWall      time.Time
	ElapsedSeconds float64
	Msgs           int
	Degree         int
}

// State is the coordinator's per-iteration bookkeeping (spec 3,
// CoordinatorState).
type State struct {
	Nodes                    []NodeRecord
	MinIdx                   int
	DiscoveryRoundsRemaining int
	Phase                    Phase
	CorrectRuns, FailedRuns  int
}

// NewState returns a fresh State ready for a new iteration's discovery
// phase.
func NewState(discoveryRounds int) *State {
	return &State{
		Phase:                    Discovering,
		DiscoveryRoundsRemaining: discoveryRounds,
		MinIdx:                   -1,
	}
}

// IndexOf returns the index of id in Nodes, or -1 if not present.
func (s *State) IndexOf(id nodeid.ID) int {
	for i, n := range s.Nodes {
		if n.ID.Equal(id) {
			return i
		}
	}
	return -1
}

// AddDiscovered assigns a fresh random election value to a newly-seen node
// and updates the running minimum index, breaking ties by lexicographically
// smaller short-form ID (spec 4.2).
func (s *State) AddDiscovered(id nodeid.ID, rng *rand.Rand, maxNodes int) (election.Value, bool) {
	if s.IndexOf(id) != -1 {
		return 0, false
	}
	if len(s.Nodes) >= maxNodes {
		return 0, false
	}
	m := election.Value(1 + rng.Intn(int(election.MaxValue)))
	s.Nodes = append(s.Nodes, NodeRecord{ID: id, M: m})
	idx := len(s.Nodes) - 1
	if s.MinIdx == -1 {
		s.MinIdx = idx
	} else {
		cur := s.Nodes[s.MinIdx]
		if m < cur.M || (m == cur.M && id.Less(cur.ID)) {
			s.MinIdx = idx
		}
	}
	return m, true
}

// Leader returns the globally-elected node per the coordinator's tracked
// minimum, or the zero ID if no nodes have been discovered.
func (s *State) Leader() nodeid.ID {
	if s.MinIdx < 0 || s.MinIdx >= len(s.Nodes) {
		return nodeid.ID{}
	}
	return s.Nodes[s.MinIdx].ID
}

// AllConfirmed reports whether every discovered node's result has been
// confirmed.
func (s *State) AllConfirmed() bool {
	for _, n := range s.Nodes {
		if !n.ResultConfirmed {
			return false
		}
	}
	return true
}

// Reset clears per-iteration node state ahead of the next iteration's
// discovery phase, per spec 4.4 Resetting.
func (s *State) Reset(discoveryRounds int) {
	s.Nodes = nil
	s.MinIdx = -1
	s.DiscoveryRoundsRemaining = discoveryRounds
	s.Phase = Discovering
}
