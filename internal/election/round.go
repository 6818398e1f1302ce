// Package election implements the MinMax-K round machine: the algorithmic
// heart of the protocol (spec component 4.5). It knows nothing about frame
// wire format, sockets, or the surrounding worker session phases
// (Undiscovered/Identified/.../Done) — only about EmitInitial,
// AwaitResponses, Poll and Decide, driven by a neighbor set, a stability
// counter K and a round timer T.
package election

import (
	"time"

	"github.com/edgemesh/minmaxk/internal/nodeid"
)

// RoundPhase is one of the four phases a Round cycles through.
type RoundPhase int

const (
	EmitInitial RoundPhase = iota
	AwaitResponses
	Poll
	Decide
)

func (p RoundPhase) String() string {
	switch p {
	case EmitInitial:
		return "emit_initial"
	case AwaitResponses:
		return "await_responses"
	case Poll:
		return "poll"
	case Decide:
		return "decide"
	default:
		return "unknown"
	}
}

// Action is something the owning worker session must do on the wire as a
// side effect of a Round transition: send an le_ack to every neighbor
// (general topology: broadcast once), or send an le_m? poll to one
// neighbor.
type Action struct {
	Broadcast bool
	To        nodeid.ID // ignored when Broadcast
	SendAck   bool       // true: le_ack;<m>;<leader>;  false: le_m?;
}

// Round runs the MinMax-K state machine for one worker across however many
// rounds it takes to terminate.
type Round struct {
	myID      nodeid.ID
	leader    nodeid.ID
	localMin  Value
	k         int
	kInitial  int
	t         time.Duration // await-responses wait
	tPoll     time.Duration // poll wait
	general   bool          // general topology: broadcast instead of per-neighbor unicast

	neighbors []Neighbor
	byID      map[string]int // short-form ID -> index into neighbors

	phase       RoundPhase
	tRoundStart time.Time
	terminated  bool

	electionStart time.Time
	electionEnd   time.Time
}

// NewRound constructs a Round for myID with initial value myM, stability
// counter k, and the two round timers. general selects the general-topology
// dispatch rules from spec 4.3/4.5 (broadcast instead of per-neighbor
// unicast, no polling of unknown neighbors).
func NewRound(myID nodeid.ID, myM Value, k int, t, tPoll time.Duration, general bool) *Round {
	return &Round{
		myID:     myID,
		leader:   myID,
		localMin: myM,
		k:        k,
		kInitial: k,
		t:        t,
		tPoll:    tPoll,
		general:  general,
		byID:     make(map[string]int),
	}
}

// SetNeighbors installs the neighbor set for this election iteration. Must
// be called before Start.
func (r *Round) SetNeighbors(ids []nodeid.ID) {
	r.neighbors = make([]Neighbor, len(ids))
	r.byID = make(map[string]int, len(ids))
	for i, id := range ids {
		r.neighbors[i] = NewNeighbor(id)
		r.byID[id.Short()] = i
	}
}

// Degree returns the number of neighbors, used in reported result rows.
func (r *Round) Degree() int {
	return len(r.neighbors)
}

// Leader returns the currently best-known leader and value.
func (r *Round) Leader() (nodeid.ID, Value) {
	return r.leader, r.localMin
}

// Terminated reports whether the round machine has reached its stable
// termination condition (k < 0 with no adoption this round).
func (r *Round) Terminated() bool {
	return r.terminated
}

// ElectionDuration returns the elapsed time between Start and termination.
// Valid only once Terminated reports true.
func (r *Round) ElectionDuration() time.Duration {
	return r.electionEnd.Sub(r.electionStart)
}

// Start begins the first round. With zero neighbors the election
// short-circuits to Terminated immediately per the boundary behavior for
// N=1 (spec 8): there is nobody to hear from, so the initial value already
// satisfies the termination condition.
func (r *Round) Start(now time.Time) []Action {
	r.electionStart = now
	if len(r.neighbors) == 0 {
		r.terminated = true
		r.electionEnd = now
		return nil
	}
	r.phase = EmitInitial
	return r.emitInitial(now)
}

func (r *Round) emitInitial(now time.Time) []Action {
	r.tRoundStart = now
	r.phase = AwaitResponses
	if r.general {
		return []Action{{Broadcast: true, SendAck: true}}
	}
	actions := make([]Action, 0, len(r.neighbors))
	for _, n := range r.neighbors {
		actions = append(actions, Action{To: n.ID, SendAck: true})
	}
	return actions
}

// HandleLEAck applies a received le_ack claim from sender. Unknown senders
// are dropped (stale packet from a previous iteration), as is an
// out-of-range value.
func (r *Round) HandleLEAck(sender nodeid.ID, m Value, leader nodeid.ID) {
	idx, ok := r.byID[sender.Short()]
	if !ok {
		return
	}
	if !m.Valid() {
		return
	}
	r.neighbors[idx].Heard(m, leader)
}

// HandleLEQuery answers an le_m? poll from sender. Safe to call in any
// phase, including after termination, per spec 4.5.
func (r *Round) HandleLEQuery(sender nodeid.ID) Action {
	return Action{SendAck: true, To: sender}
}

// Tick advances the round machine based on elapsed time. It must be called
// regularly (the worker session's poll loop) with the current monotonic
// time; it returns the actions to perform for any phase transition it made.
func (r *Round) Tick(now time.Time) []Action {
	if r.terminated {
		return nil
	}
	switch r.phase {
	case AwaitResponses:
		if now.Sub(r.tRoundStart) >= r.t {
			return r.enterPoll(now)
		}
	case Poll:
		if now.Sub(r.tRoundStart) >= r.tPoll {
			return r.decide(now)
		}
	}
	return nil
}

func (r *Round) enterPoll(now time.Time) []Action {
	r.phase = Poll
	r.tRoundStart = now
	if r.general {
		// General topology cannot enumerate unknown neighbor IDs to poll.
		return nil
	}
	var actions []Action
	for _, n := range r.neighbors {
		if n.Pending() {
			actions = append(actions, Action{To: n.ID, SendAck: false})
		}
	}
	return actions
}

func (r *Round) decide(now time.Time) []Action {
	r.phase = Decide

	roundLeader := r.leader
	roundMin := r.localMin
	for _, n := range r.neighbors {
		if !n.LastM.Valid() {
			continue
		}
		if n.LastM < roundMin || (n.LastM == roundMin && n.LastLeader.Less(roundLeader)) {
			roundMin = n.LastM
			roundLeader = n.LastLeader
		}
	}

	r.k--
	adopted := roundLeader != r.leader
	if adopted {
		r.leader = roundLeader
		r.localMin = roundMin
		r.k = r.kInitial
	} else if r.k < 0 {
		r.terminated = true
		r.electionEnd = now
		for i := range r.neighbors {
			r.neighbors[i].ResetRound()
		}
		return nil
	}

	for i := range r.neighbors {
		r.neighbors[i].ResetRound()
	}

	return r.broadcastUpdate(now)
}

func (r *Round) broadcastUpdate(now time.Time) []Action {
	r.tRoundStart = now
	r.phase = AwaitResponses
	if r.general {
		return []Action{{Broadcast: true, SendAck: true}}
	}
	actions := make([]Action, 0, len(r.neighbors))
	for _, n := range r.neighbors {
		actions = append(actions, Action{To: n.ID, SendAck: true})
	}
	return actions
}

// Phase returns the current round phase, for diagnostics and tests.
func (r *Round) Phase() RoundPhase {
	return r.phase
}
