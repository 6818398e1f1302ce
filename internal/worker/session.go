// Package worker implements the worker-side session phase machine (spec
// 4.6): tracking Undiscovered → Identified → TopologyKnown → Running →
// Terminated → Reporting → Done, dispatching the bootstrap/control frames
// (ping/conf/ips/discover/disc/start/rconf/failure), and owning the
// election.Round for the Running phase plus the result reporter retry
// loop. Modeled on the teacher's StateManager.apply dispatch-under-lock
// pattern (internal/core/state.go) and its timer-queue idiom
// (internal/core/keying_tracker.go) for the general-topology discovery
// window.
package worker

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/edgemesh/minmaxk/internal/election"
	"github.com/edgemesh/minmaxk/internal/netio"
	"github.com/edgemesh/minmaxk/internal/nodeid"
	"github.com/edgemesh/minmaxk/internal/wire"
)

// Phase is the worker's outer session phase, distinct from the inner
// election.RoundPhase that only applies while Phase == Running.
type Phase int

const (
	Undiscovered Phase = iota
	Identified
	TopologyKnown
	Running
	Terminated
	Reporting
	Done
)

func (p Phase) String() string {
	switch p {
	case Undiscovered:
		return "undiscovered"
	case Identified:
		return "identified"
	case TopologyKnown:
		return "topology_known"
	case Running:
		return "running"
	case Terminated:
		return "terminated"
	case Reporting:
		return "reporting"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

const (
	reportInterval = time.Second
	maxReportTries = 20

	generalDiscoveryWindow = 2 * time.Second
)

// Config bundles everything a Worker needs that does not change once the
// process starts.
type Config struct {
	K       int
	T       time.Duration
	TPoll   time.Duration
	Port    int
	General bool // true when the coordinator's chosen topology is "gen"
}

// transport is the subset of *netio.Socket a Worker needs. Declaring it
// here (rather than depending on the concrete type) lets tests drive the
// session with an in-memory fake instead of real sockets.
type transport interface {
	SendUnicast(to *net.UDPAddr, kind wire.Kind, fields ...string) error
	SendMulticast(kind wire.Kind, fields ...string) error
	Poll() ([]netio.Received, error)
}

// Worker is one node's session actor. It is driven entirely by Step, which
// must be called in a loop by the process's main goroutine; nothing here
// spawns its own goroutines, matching the cooperative single-actor model
// of spec 5.
type Worker struct {
	id   nodeid.ID
	cfg  Config
	sock transport
	log  *zap.Logger

	m     election.Value
	phase Phase

	coordinator *net.UDPAddr

	pendingNeighbors []nodeid.ID
	round            *election.Round

	generalPeers     map[string]nodeid.ID
	generalDeadline  time.Time
	discoveringGen   bool

	resultAttempts  int
	resultConfirmed bool
	lastReportSent  time.Time

	msgsIn, msgsOut int

	electionStartWall time.Time
}

// New constructs a Worker bound to the given socket, which the caller owns
// and must keep open for the life of the Worker.
func New(id nodeid.ID, cfg Config, sock transport, log *zap.Logger) *Worker {
	return &Worker{
		id:           id,
		cfg:          cfg,
		sock:         sock,
		log:          log,
		phase:        Undiscovered,
		generalPeers: make(map[string]nodeid.ID),
	}
}

// Phase returns the current session phase.
func (w *Worker) Phase() Phase { return w.phase }

// Step polls the socket once and advances all time-driven transitions. It
// should be called in a tight loop (the poll timeout inside sock.Poll
// provides the natural pacing).
func (w *Worker) Step(now time.Time) error {
	received, err := w.sock.Poll()
	if err != nil {
		return fmt.Errorf("worker: poll: %w", err)
	}
	for _, r := range received {
		w.handleFrame(r.From, r.Frame, now)
	}

	switch w.phase {
	case Running:
		w.driveRound(now)
	case Reporting:
		w.driveReporter(now)
	}

	if w.discoveringGen && now.After(w.generalDeadline) {
		w.finalizeGeneralDiscovery()
	}

	return nil
}

func (w *Worker) driveRound(now time.Time) {
	if w.round == nil {
		return
	}
	actions := w.round.Tick(now)
	w.dispatch(actions)
	if w.round.Terminated() {
		w.phase = Reporting
		w.resultAttempts = 0
		w.resultConfirmed = false
		w.lastReportSent = time.Time{}
	}
}

func (w *Worker) driveReporter(now time.Time) {
	if w.resultConfirmed || w.resultAttempts >= maxReportTries {
		return
	}
	if !w.lastReportSent.IsZero() && now.Sub(w.lastReportSent) < reportInterval {
		return
	}
	w.sendResults(now)
}

func (w *Worker) sendResults(now time.Time) {
	if w.coordinator == nil || w.round == nil {
		return
	}
	leader, _ := w.round.Leader()
	elapsed := w.round.ElectionDuration().Seconds()
	total := w.msgsIn + w.msgsOut
	err := w.sock.SendUnicast(w.coordinator, wire.KindResults,
		leader.Short(),
		strconv.FormatFloat(float64(w.electionStartWall.Unix())+float64(w.electionStartWall.Nanosecond())/1e9, 'f', 6, 64),
		strconv.FormatFloat(elapsed, 'f', 6, 64),
		strconv.Itoa(total),
		strconv.Itoa(w.round.Degree()),
	)
	if err != nil {
		w.log.Warn("failed to send results", zap.Error(err))
		return
	}
	w.resultAttempts++
	w.lastReportSent = now
	w.msgsOut++
}

func (w *Worker) dispatch(actions []election.Action) {
	if w.round == nil {
		return
	}
	leader, m := w.round.Leader()
	mStr := strconv.Itoa(int(m))
	for _, a := range actions {
		var err error
		if a.SendAck {
			if a.Broadcast {
				err = w.sock.SendMulticast(wire.KindLEAck, mStr, leader.Short())
			} else {
				err = w.sock.SendUnicast(addrFromID(a.To, w.cfg.Port), wire.KindLEAck, mStr, leader.Short())
			}
		} else {
			err = w.sock.SendUnicast(addrFromID(a.To, w.cfg.Port), wire.KindLEQuery)
		}
		if err != nil {
			w.log.Warn("failed to send election frame", zap.Error(err))
			continue
		}
		w.msgsOut++
	}
}

func (w *Worker) handleFrame(from *net.UDPAddr, f wire.Frame, now time.Time) {
	senderID := idFromAddr(from)

	switch f.Kind {
	case wire.KindPing:
		if w.phase == Done {
			w.resetForNextIteration()
		}
		w.coordinator = from
		if err := w.sock.SendUnicast(from, wire.KindPong); err != nil {
			w.log.Warn("failed to send pong", zap.Error(err))
		}

	case wire.KindConf:
		if w.phase != Undiscovered {
			return
		}
		cur := wire.NewCursor(f)
		mStr, ok := cur.Next()
		if !ok {
			return
		}
		mInt, err := strconv.Atoi(mStr)
		if err != nil || election.Value(mInt) < election.MinValue || election.Value(mInt) > election.MaxValue {
			w.log.Debug("dropping conf with invalid m", zap.String("m", mStr))
			return
		}
		w.m = election.Value(mInt)
		w.phase = Identified

	case wire.KindIPs:
		cur := wire.NewCursor(f)
		var ids []nodeid.ID
		for {
			short, ok := cur.Next()
			if !ok {
				break
			}
			ids = append(ids, nodeid.FromShort(short))
		}
		w.pendingNeighbors = ids
		if w.phase == Identified {
			w.phase = TopologyKnown
		}

	case wire.KindDiscover:
		if w.phase != Identified {
			return
		}
		w.discoveringGen = true
		w.generalDeadline = now.Add(generalDiscoveryWindow)
		w.generalPeers = make(map[string]nodeid.ID)
		if err := w.sock.SendMulticast(wire.KindDisc); err != nil {
			w.log.Warn("failed to send disc", zap.Error(err))
		}

	case wire.KindDisc:
		if !w.discoveringGen || senderID.Equal(w.id) {
			return
		}
		w.generalPeers[senderID.Short()] = senderID

	case wire.KindStart:
		if w.phase != TopologyKnown {
			return
		}
		w.electionStartWall = now
		w.round = election.NewRound(w.id, w.m, w.cfg.K, w.cfg.T, w.cfg.TPoll, w.cfg.General)
		w.round.SetNeighbors(w.pendingNeighbors)
		w.phase = Running
		w.dispatch(w.round.Start(now))

	case wire.KindLEAck:
		if w.round == nil {
			return
		}
		cur := wire.NewCursor(f)
		mStr, ok := cur.Next()
		if !ok {
			return
		}
		leaderShort, ok := cur.Next()
		if !ok {
			return
		}
		mInt, err := strconv.Atoi(mStr)
		if err != nil {
			w.log.Debug("dropping le_ack with unparsable m", zap.String("m", mStr))
			return
		}
		w.msgsIn++
		w.round.HandleLEAck(senderID, election.Value(mInt), nodeid.FromShort(leaderShort))

	case wire.KindLEQuery:
		w.msgsIn++
		if w.round == nil {
			if err := w.sock.SendUnicast(from, wire.KindLEAck, strconv.Itoa(int(w.m)), w.id.Short()); err != nil {
				w.log.Warn("failed to answer le_m? before round start", zap.Error(err))
			}
			return
		}
		w.dispatch([]election.Action{w.round.HandleLEQuery(senderID)})

	case wire.KindRConf:
		if w.phase != Reporting {
			return
		}
		w.resultConfirmed = true
		w.phase = Done

	case wire.KindFailure:
		w.resetForNextIteration()
	}
}

func (w *Worker) finalizeGeneralDiscovery() {
	ids := make([]nodeid.ID, 0, len(w.generalPeers))
	for _, id := range w.generalPeers {
		ids = append(ids, id)
	}
	w.pendingNeighbors = ids
	w.discoveringGen = false
	w.phase = TopologyKnown
}

func (w *Worker) resetForNextIteration() {
	w.phase = Undiscovered
	w.m = 0
	w.pendingNeighbors = nil
	w.round = nil
	w.resultAttempts = 0
	w.resultConfirmed = false
	w.msgsIn = 0
	w.msgsOut = 0
	w.discoveringGen = false
	w.generalPeers = make(map[string]nodeid.ID)
}

func idFromAddr(addr *net.UDPAddr) nodeid.ID {
	if addr == nil {
		return nodeid.ID{}
	}
	return nodeid.FromFull(addr.IP.String())
}

func addrFromID(id nodeid.ID, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(id.Full()), Port: port}
}
