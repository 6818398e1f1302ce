package coordinator

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edgemesh/minmaxk/internal/nodeid"
	"github.com/edgemesh/minmaxk/internal/topology"
	"github.com/edgemesh/minmaxk/internal/wire"
)

const (
	startBroadcastInterval = 500 * time.Millisecond
	minCollectWindow       = 20 * time.Second
	resetBroadcastCount    = 3
	resetBroadcastInterval = 200 * time.Millisecond
)

// collectWindowFor computes the result-collection timeout for n reporting
// nodes: max(20, ceil((n+1)/2)) seconds (spec 4.4/5) — larger topologies get
// proportionally more time to report before Scenario F's timeout kicks in.
func collectWindowFor(n int) time.Duration {
	secs := time.Duration(math.Ceil(float64(n+1)/2)) * time.Second
	if secs < minCollectWindow {
		return minCollectWindow
	}
	return secs
}

// ResultSink persists a completed iteration's outcome. Implemented by
// internal/store's sqlite-backed repository; a Driver with a nil sink
// simply skips persistence.
type ResultSink interface {
	RecordIteration(iteration int, leader nodeid.ID, nodes []NodeRecord, startedAt time.Time, elapsed time.Duration) error
}

// EventSink is notified of phase and iteration transitions for a live view.
// Implemented by internal/web's dashboard hub; a Driver with a nil sink
// simply skips publication.
type EventSink interface {
	Publish(event string, payload map[string]any)
}

// Config bundles the Driver's fixed parameters, sourced from internal/config.
type Config struct {
	Port            int
	MaxExp          int
	MaxNodes        int
	DiscoveryRounds int
	Topology        topology.Kind
}

// Driver runs the coordinator's repeated discover → identify → distribute
// topology → start → collect → reset cycle (spec 4.4), MaxExp times. It is
// the coordinator-side analogue of internal/worker.Worker: a single
// cooperative actor advanced by repeated Step calls, grounded on the
// teacher's PollingService ticker loop (internal/core/polling.go).
type Driver struct {
	sock transport
	log  *zap.Logger
	rng  *rand.Rand

	port            int
	maxNodes        int
	maxExp          int
	discoveryRounds int
	topologyKind    topology.Kind

	state *State

	lastDiscoveryPing time.Time
	lastConfPush      time.Time
	confPushCount     int
	topologyPushed    bool

	lastStartBroadcast time.Time
	startPushed        bool
	collectDeadline    time.Time

	resetPushCount int
	lastResetPush  time.Time

	iteration int
	startedAt time.Time

	results ResultSink
	events  EventSink

	control chan Command
	done    bool

	synced bool

	out              io.Writer
	correctStartWall []float64
	correctElapsed   []float64
}

// Command is a shell-issued control instruction (spec 6 coordinator
// commands): "sync" is a one-shot wall-clock sync latch (rejected if
// already synced), "rounds N" changes the discovery round count for
// iterations from here on (rejected once synced).
type Command struct {
	Name string
	Arg  string
}

// New constructs a Driver. results and events may be nil.
func New(cfg Config, sock transport, log *zap.Logger, results ResultSink, events EventSink) *Driver {
	return &Driver{
		sock:            sock,
		log:             log,
		rng:             rand.New(rand.NewSource(1)),
		port:            cfg.Port,
		maxNodes:        cfg.MaxNodes,
		maxExp:          cfg.MaxExp,
		discoveryRounds: cfg.DiscoveryRounds,
		topologyKind:    cfg.Topology,
		state:           NewState(cfg.DiscoveryRounds),
		control:         make(chan Command, 8),
		out:             os.Stdout,
	}
}

// SetOutput redirects the per-iteration CSV block (spec 4.4/6) away from
// stdout; tests use this to keep output quiet.
func (d *Driver) SetOutput(w io.Writer) { d.out = w }

// Submit enqueues a shell command for the driver to process on its next
// Step. It never blocks.
func (d *Driver) Submit(cmd Command) {
	select {
	case d.control <- cmd:
	default:
		d.log.Warn("control queue full, dropping command", zap.String("command", cmd.Name))
	}
}

// Done reports whether MaxExp iterations have completed.
func (d *Driver) Done() bool { return d.done }

// State exposes the current per-iteration bookkeeping, chiefly for status
// reporting (spec 6 "status" command) and tests.
func (d *Driver) State() *State { return d.state }

// Run drives the experiment loop until ctx is cancelled or MaxExp
// iterations complete, polling the socket on each pass.
func (d *Driver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.done {
			return nil
		}
		if err := d.Step(time.Now()); err != nil {
			return err
		}
	}
}

// Step polls the socket once, processes any control commands, and advances
// whichever phase is currently active.
func (d *Driver) Step(now time.Time) error {
	received, err := d.sock.Poll()
	if err != nil {
		return err
	}
	for _, r := range received {
		d.handleFrame(r.From, r.Frame)
	}

	d.drainControl()

	switch d.state.Phase {
	case Discovering:
		d.runDiscovery(now)
	case Identifying:
		d.runIdentifying(now)
	case DistributingTopology:
		d.runDistributeTopology(now)
	case Starting:
		d.runStarting(now)
	case Collecting:
		d.runCollecting(now)
	case Resetting:
		d.runResetting(now)
	}
	return nil
}

func (d *Driver) drainControl() {
	for {
		select {
		case cmd := <-d.control:
			d.applyCommand(cmd)
		default:
			return
		}
	}
}

// applyCommand handles the coordinator shell commands (spec 6): "sync
// <unix_ts>" is one-shot and rejected if already synced; "rounds <n>" is
// rejected once synced. On the wire these arrive as unix;<ts>; / rounds;<n>;
// control-mailbox lines, decoded upstream into Command{Name, Arg} before
// reaching here. Go's time.Time already carries wall-clock time, so unlike
// the source's monotonic-to-Unix offset there is nothing to translate —
// syncing here only latches the one-shot/reject-after-sync gate.
func (d *Driver) applyCommand(cmd Command) {
	switch cmd.Name {
	case "rounds":
		if d.synced {
			d.log.Warn("rejecting rounds command: coordinator already synced")
			return
		}
		if n, err := strconv.Atoi(cmd.Arg); err == nil && n > 0 {
			d.discoveryRounds = n
		}
	case "sync":
		if d.synced {
			d.log.Warn("rejecting duplicate sync command")
			return
		}
		d.synced = true
		d.log.Info("coordinator synced", zap.String("unix_ts", cmd.Arg))
	}
}

func (d *Driver) handleFrame(from *net.UDPAddr, f wire.Frame) {
	switch f.Kind {
	case wire.KindPong:
		d.handlePong(from)
	case wire.KindResults:
		d.handleResults(from, f)
	}
}

func (d *Driver) runStarting(now time.Time) {
	if !d.startPushed {
		if err := d.sock.SendMulticast(wire.KindStart); err != nil {
			d.log.Warn("failed to broadcast start", zap.Error(err))
		}
		d.startPushed = true
		d.startedAt = now
		d.lastStartBroadcast = now
		d.state.Phase = Collecting
		d.collectDeadline = now.Add(collectWindowFor(len(d.state.Nodes)))
		if d.events != nil {
			d.events.Publish("iteration_started", map[string]any{
				"iteration": d.iteration + 1,
				"nodes":     len(d.state.Nodes),
				"topology":  string(d.topologyKind),
			})
		}
	}
}

func (d *Driver) handleResults(from *net.UDPAddr, f wire.Frame) {
	if d.state.Phase != Collecting {
		return
	}
	id := nodeid.FromFull(from.IP.String())
	idx := d.state.IndexOf(id)
	if idx < 0 {
		return
	}
	cur := wire.NewCursor(f)
	leaderShort, ok := cur.Next()
	if !ok {
		return
	}
	startWallStr, ok := cur.Next()
	if !ok {
		return
	}
	elapsedStr, ok := cur.Next()
	if !ok {
		return
	}
	msgsStr, ok := cur.Next()
	if !ok {
		return
	}
	degStr, ok := cur.Next()
	if !ok {
		return
	}

	startWallF, _ := strconv.ParseFloat(startWallStr, 64)
	elapsed, _ := strconv.ParseFloat(elapsedStr, 64)
	msgs, _ := strconv.Atoi(msgsStr)
	deg, _ := strconv.Atoi(degStr)

	d.state.Nodes[idx].Result = &ResultRow{
		ElectedLeader:  nodeid.FromShort(leaderShort),
		StartWall:      time.Unix(0, int64(startWallF*1e9)),
		ElapsedSeconds: elapsed,
		Msgs:           msgs,
		Degree:         deg,
	}
	d.state.Nodes[idx].ResultConfirmed = true
	if err := d.sock.SendUnicast(from, wire.KindRConf); err != nil {
		d.log.Warn("failed to confirm result", zap.Error(err))
	}

	if d.state.AllConfirmed() {
		d.checkConsistency()
		d.state.Phase = Resetting
		d.resetPushCount = 0
	}
}

// runCollecting enforces collectWindowFor(n): if a worker is killed or
// otherwise never reports in, the iteration must not stall forever (spec
// Scenario F). Once the deadline passes with results still missing, the
// iteration is scored same as any other disagreement and the driver moves
// on to Resetting.
func (d *Driver) runCollecting(now time.Time) {
	if d.state.AllConfirmed() {
		return
	}
	if now.Before(d.collectDeadline) {
		return
	}
	d.log.Warn("result collection timed out, missing node reports", zap.Int("iteration", d.iteration+1))
	d.checkConsistency()
	d.state.Phase = Resetting
	d.resetPushCount = 0
}

// checkConsistency scores the iteration against the coordinator's own
// ground truth: spec 4.4 deems a run correct only if every reporter names
// nodes[min_idx] (d.state.Leader()) as its elected leader, not merely that
// reporters agree with each other — a unanimous wrong answer must still
// fail.
func (d *Driver) checkConsistency() {
	leader := d.state.Leader()
	agree := true
	for _, n := range d.state.Nodes {
		if n.Result == nil || !n.Result.ElectedLeader.Equal(leader) {
			agree = false
		}
	}
	if agree {
		d.state.CorrectRuns++
	} else {
		d.state.FailedRuns++
		d.log.Warn("nodes disagreed on elected leader", zap.Int("iteration", d.iteration+1))
	}

	d.writeIterationCSV(leader, agree)

	if d.results != nil {
		elapsed := time.Duration(0)
		if len(d.state.Nodes) > 0 && d.state.Nodes[0].Result != nil {
			elapsed = time.Duration(d.state.Nodes[0].Result.ElapsedSeconds * float64(time.Second))
		}
		if err := d.results.RecordIteration(d.iteration+1, leader, d.state.Nodes, d.startedAt, elapsed); err != nil {
			d.log.Warn("failed to persist iteration result", zap.Error(err))
		}
	}
	if d.events != nil {
		d.events.Publish("iteration_complete", map[string]any{
			"iteration": d.iteration + 1,
			"leader":    leader.Short(),
			"agree":     agree,
		})
	}
}

// writeIterationCSV emits the per-iteration stdout block required by spec
// 4.4/6 alongside (not instead of) the zap logging and store write above:
// a header, one row per reporting node (id, m, elected, correct?,
// start_wall_time, elapsed_seconds, msgs, degree), then Correct/AvgTime/
// AvgMsgs aggregates. Correct runs additionally feed the final
// cross-iteration summary written once MaxExp iterations complete.
func (d *Driver) writeIterationCSV(leader nodeid.ID, agree bool) {
	fmt.Fprintln(d.out, "node,m,elected,correct,startTime,runTime,messages,degree")

	var sumTime, sumMsgs float64
	var count int
	for _, n := range d.state.Nodes {
		if n.Result == nil {
			continue
		}
		correct := n.Result.ElectedLeader.Equal(leader)
		startWall := float64(n.Result.StartWall.UnixNano()) / 1e9
		fmt.Fprintf(d.out, "%s,%d,%s,%s,%.6f,%.6f,%d,%d\n",
			n.ID.Short(), n.M, n.Result.ElectedLeader.Short(), yesNo(correct),
			startWall, n.Result.ElapsedSeconds, n.Result.Msgs, n.Result.Degree)
		sumTime += n.Result.ElapsedSeconds
		sumMsgs += float64(n.Result.Msgs)
		count++
		if agree {
			d.correctStartWall = append(d.correctStartWall, startWall)
			d.correctElapsed = append(d.correctElapsed, n.Result.ElapsedSeconds)
		}
	}

	fmt.Fprintf(d.out, "Correct: %s\n", yesNo(agree))
	if count > 0 {
		fmt.Fprintf(d.out, "AvgTime: %.6f/%d sec\n", sumTime, count)
		fmt.Fprintf(d.out, "AvgMsgs: %.6f/%d msgs\n", sumMsgs, count)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// writeFinalBlock emits the cross-iteration summary (spec 4.4/6) once all
// MaxExp iterations complete: comma-separated start times and elapsed
// seconds for the iterations scored correct only.
func (d *Driver) writeFinalBlock() {
	starts := make([]string, len(d.correctStartWall))
	for i, v := range d.correctStartWall {
		starts[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	elapsed := make([]string, len(d.correctElapsed))
	for i, v := range d.correctElapsed {
		elapsed[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	fmt.Fprintf(d.out, "startTimes: %s\n", strings.Join(starts, ","))
	fmt.Fprintf(d.out, "elapsed: %s\n", strings.Join(elapsed, ","))
}

func (d *Driver) runResetting(now time.Time) {
	if now.Sub(d.lastResetPush) < resetBroadcastInterval {
		return
	}
	if err := d.sock.SendMulticast(wire.KindFailure); err != nil {
		d.log.Warn("failed to broadcast reset", zap.Error(err))
	}
	d.lastResetPush = now
	d.resetPushCount++
	if d.resetPushCount < resetBroadcastCount {
		return
	}

	d.iteration++
	d.topologyPushed = false
	d.startPushed = false
	d.confPushCount = 0
	d.state.Reset(d.discoveryRounds)

	if d.iteration >= d.maxExp {
		d.done = true
		d.writeFinalBlock()
	}
}
