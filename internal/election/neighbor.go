package election

import "github.com/edgemesh/minmaxk/internal/nodeid"

// Neighbor tracks one adjacent node's most recently heard election claim.
// Modeled on the source's per-link status record (fields collapsed to the
// three the protocol actually needs, dropping everything link/radio
// specific): an owned struct with a reset method, not a pointer graph.
type Neighbor struct {
	ID         nodeid.ID
	LastM      Value
	LastLeader nodeid.ID
}

// NewNeighbor returns a Neighbor with no value heard yet this round.
func NewNeighbor(id nodeid.ID) Neighbor {
	return Neighbor{ID: id, LastM: Unknown}
}

// Heard records a claim received from this neighbor.
func (n *Neighbor) Heard(m Value, leader nodeid.ID) {
	n.LastM = m
	n.LastLeader = leader
}

// ResetRound clears the per-round accumulator ahead of the next
// EmitInitial/AwaitResponses cycle.
func (n *Neighbor) ResetRound() {
	n.LastM = Unknown
	n.LastLeader = nodeid.ID{}
}

// Pending reports whether this neighbor has not yet responded this round
// and therefore needs polling.
func (n *Neighbor) Pending() bool {
	return n.LastM == Unknown
}
