package election

import (
	"testing"
	"time"

	"github.com/edgemesh/minmaxk/internal/nodeid"
)

const (
	testT     = 10 * time.Millisecond
	testTPoll = 10 * time.Millisecond
)

// driveToTermination runs a small network of Rounds to convergence by
// exchanging le_ack frames directly (no wire codec, no sockets), advancing
// a shared clock. It fails the test if the network has not terminated
// within maxSteps clock advances.
func driveToTermination(t *testing.T, rounds map[string]*Round, neighborsOf map[string][]string, maxSteps int) {
	t.Helper()
	now := time.Now()

	actionsByID := make(map[string][]Action)
	for id, rd := range rounds {
		actionsByID[id] = rd.Start(now)
	}
	deliver(rounds, actionsByID, now)

	for step := 0; step < maxSteps; step++ {
		now = now.Add(testT)
		allDone := true
		for id, rd := range rounds {
			if rd.Terminated() {
				continue
			}
			allDone = false
			actions := rd.Tick(now)
			actionsByID[id] = actions
		}
		deliver(rounds, actionsByID, now)
		if allDone {
			return
		}
	}
	t.Fatalf("did not converge within %d steps", maxSteps)
}

// deliver applies each round's outgoing le_ack actions to the targeted
// neighbor rounds directly, standing in for the transport layer.
func deliver(rounds map[string]*Round, actionsByID map[string][]Action, now time.Time) {
	for from, actions := range actionsByID {
		srcLeader, srcM := rounds[from].Leader()
		for _, a := range actions {
			if !a.SendAck {
				continue
			}
			if a.Broadcast {
				for id, rd := range rounds {
					if id == from {
						continue
					}
					rd.HandleLEAck(nodeid.FromShort(from), srcM, srcLeader)
				}
				continue
			}
			target := rounds[a.To.Short()]
			if target == nil {
				continue
			}
			target.HandleLEAck(nodeid.FromShort(from), srcM, srcLeader)
		}
	}
}

func newTestRound(short string, m Value, neighborShorts []string) *Round {
	id := nodeid.FromShort(short)
	r := NewRound(id, m, 5, testT, testTPoll, false)
	ids := make([]nodeid.ID, len(neighborShorts))
	for i, s := range neighborShorts {
		ids[i] = nodeid.FromShort(s)
	}
	r.SetNeighbors(ids)
	return r
}

func TestScenarioA_RingDistinctValues(t *testing.T) {
	rounds := map[string]*Round{
		"A": newTestRound("A", 42, []string{"B", "C"}),
		"B": newTestRound("B", 17, []string{"A", "C"}),
		"C": newTestRound("C", 200, []string{"A", "B"}),
	}
	driveToTermination(t, rounds, nil, 200)

	for id, rd := range rounds {
		leader, min := rd.Leader()
		if leader.Short() != "B" {
			t.Errorf("node %s: leader = %s, want B", id, leader)
		}
		if min != 17 {
			t.Errorf("node %s: local_min = %d, want 17", id, min)
		}
	}
}

func TestScenarioB_LineWithTie(t *testing.T) {
	rounds := map[string]*Round{
		"A": newTestRound("A", 50, []string{"B"}),
		"B": newTestRound("B", 50, []string{"A", "C"}),
		"C": newTestRound("C", 90, []string{"B", "D"}),
		"D": newTestRound("D", 10, []string{"C"}),
	}
	driveToTermination(t, rounds, nil, 200)

	for id, rd := range rounds {
		leader, min := rd.Leader()
		if leader.Short() != "D" {
			t.Errorf("node %s: leader = %s, want D", id, leader)
		}
		if min != 10 {
			t.Errorf("node %s: local_min = %d, want 10", id, min)
		}
	}
}

func TestScenarioC_AllIdenticalValuesTieBreakByID(t *testing.T) {
	names := []string{"A", "B", "C", "D", "E"}
	rounds := make(map[string]*Round, len(names))
	for i, n := range names {
		prev := names[(i-1+len(names))%len(names)]
		next := names[(i+1)%len(names)]
		rounds[n] = newTestRound(n, 30, []string{prev, next})
	}
	driveToTermination(t, rounds, nil, 200)

	for id, rd := range rounds {
		leader, _ := rd.Leader()
		if leader.Short() != "A" {
			t.Errorf("node %s: leader = %s, want A (lexicographically smallest)", id, leader)
		}
	}
}

func TestScenarioD_BinaryTreeRootLowest(t *testing.T) {
	// Complete binary tree over 7 nodes, 1-indexed: node i's children are
	// 2i and 2i+1, its parent is i/2. Root (1) carries the lowest m.
	parent := func(i int) int { return i / 2 }
	children := func(i int) []int {
		var out []int
		if 2*i <= 7 {
			out = append(out, 2*i)
		}
		if 2*i+1 <= 7 {
			out = append(out, 2*i+1)
		}
		return out
	}
	ms := map[int]Value{1: 5, 2: 150, 3: 160, 4: 100, 5: 110, 6: 120, 7: 200}
	names := func(i int) string { return string(rune('A' - 1 + i)) }

	rounds := make(map[string]*Round, 7)
	for i := 1; i <= 7; i++ {
		var neighborShorts []string
		if i != 1 {
			neighborShorts = append(neighborShorts, names(parent(i)))
		}
		for _, c := range children(i) {
			neighborShorts = append(neighborShorts, names(c))
		}
		rounds[names(i)] = newTestRound(names(i), ms[i], neighborShorts)
	}
	driveToTermination(t, rounds, nil, 200)

	for id, rd := range rounds {
		leader, min := rd.Leader()
		if leader.Short() != names(1) {
			t.Errorf("node %s: leader = %s, want %s (root)", id, leader, names(1))
		}
		if min != 5 {
			t.Errorf("node %s: local_min = %d, want 5", id, min)
		}
	}
}

func TestScenarioE_PacketDropStillConverges(t *testing.T) {
	rounds := map[string]*Round{
		"A": newTestRound("A", 42, []string{"B", "C"}),
		"B": newTestRound("B", 17, []string{"A", "C"}),
		"C": newTestRound("C", 200, []string{"A", "B"}),
	}
	now := time.Now()
	actionsByID := make(map[string][]Action)
	for id, rd := range rounds {
		actionsByID[id] = rd.Start(now)
	}
	deliverLossy(rounds, actionsByID, now)

	maxSteps := 400
	for step := 0; step < maxSteps; step++ {
		now = now.Add(testT)
		allDone := true
		for id, rd := range rounds {
			if rd.Terminated() {
				continue
			}
			allDone = false
			actionsByID[id] = rd.Tick(now)
		}
		deliverLossy(rounds, actionsByID, now)
		if allDone {
			break
		}
		if step == maxSteps-1 {
			t.Fatalf("did not converge within %d steps under packet loss", maxSteps)
		}
	}

	for id, rd := range rounds {
		leader, min := rd.Leader()
		if leader.Short() != "B" {
			t.Errorf("node %s: leader = %s, want B despite packet loss", id, leader)
		}
		if min != 17 {
			t.Errorf("node %s: local_min = %d, want 17", id, min)
		}
	}
}

// deliverLossy is deliver with each sender's first outgoing ack of every
// round dropped, standing in for Scenario E's "one packet drop per round on
// each link." Unlike deliver it also answers le_m? polls with the polled
// round's current claim, which is how the protocol recovers a dropped ack.
func deliverLossy(rounds map[string]*Round, actionsByID map[string][]Action, now time.Time) {
	dropped := make(map[string]bool, len(actionsByID))
	for from, actions := range actionsByID {
		srcLeader, srcM := rounds[from].Leader()
		for i, a := range actions {
			if !a.SendAck {
				if target := rounds[a.To.Short()]; target != nil {
					tLeader, tM := target.Leader()
					rounds[from].HandleLEAck(a.To, tM, tLeader)
				}
				continue
			}
			if !dropped[from] && i == 0 {
				dropped[from] = true
				continue
			}
			if a.Broadcast {
				for id, rd := range rounds {
					if id == from {
						continue
					}
					rd.HandleLEAck(nodeid.FromShort(from), srcM, srcLeader)
				}
				continue
			}
			target := rounds[a.To.Short()]
			if target == nil {
				continue
			}
			target.HandleLEAck(nodeid.FromShort(from), srcM, srcLeader)
		}
	}
}

func TestSingleNodeTerminatesImmediately(t *testing.T) {
	r := NewRound(nodeid.FromShort("solo"), 99, 5, testT, testTPoll, false)
	r.SetNeighbors(nil)
	actions := r.Start(time.Now())
	if len(actions) != 0 {
		t.Errorf("expected no actions for a neighborless node, got %d", len(actions))
	}
	if !r.Terminated() {
		t.Errorf("expected immediate termination with zero neighbors")
	}
	leader, m := r.Leader()
	if leader.Short() != "solo" || m != 99 {
		t.Errorf("expected self-elected leader solo/99, got %s/%d", leader, m)
	}
}

func TestHandleLEAckDropsUnknownSender(t *testing.T) {
	r := newTestRound("A", 10, []string{"B"})
	r.Start(time.Now())
	r.HandleLEAck(nodeid.FromShort("stranger"), 1, nodeid.FromShort("stranger"))
	for _, n := range r.neighbors {
		if n.LastM != Unknown {
			t.Errorf("unknown sender should not update any neighbor slot")
		}
	}
}

func TestHandleLEAckDropsOutOfRangeValue(t *testing.T) {
	r := newTestRound("A", 10, []string{"B"})
	r.Start(time.Now())
	r.HandleLEAck(nodeid.FromShort("B"), 0, nodeid.FromShort("B"))
	r.HandleLEAck(nodeid.FromShort("B"), 300, nodeid.FromShort("B"))
	if r.neighbors[0].LastM != Unknown {
		t.Errorf("out-of-range value must be dropped, got %v", r.neighbors[0].LastM)
	}
}

func TestHandleLEQueryAnswersInAnyPhase(t *testing.T) {
	r := newTestRound("A", 10, []string{"B"})
	r.Start(time.Now())
	r.terminated = true // simulate post-termination state
	a := r.HandleLEQuery(nodeid.FromShort("late"))
	if !a.SendAck || a.To.Short() != "late" {
		t.Errorf("expected an ack action addressed to the querying node")
	}
}
