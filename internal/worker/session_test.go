package worker

import (
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/edgemesh/minmaxk/internal/netio"
	"github.com/edgemesh/minmaxk/internal/nodeid"
	"github.com/edgemesh/minmaxk/internal/wire"
)

// fakeTransport is an in-memory stand-in for *netio.Socket: sent frames are
// recorded rather than written to a real UDP socket, and queued frames are
// handed back from Poll on demand.
type fakeTransport struct {
	sent    []sentFrame
	inbox   []netio.Received
	mcastAt *net.UDPAddr
}

type sentFrame struct {
	to        *net.UDPAddr
	broadcast bool
	kind      wire.Kind
	fields    []string
}

func (f *fakeTransport) SendUnicast(to *net.UDPAddr, kind wire.Kind, fields ...string) error {
	f.sent = append(f.sent, sentFrame{to: to, kind: kind, fields: fields})
	return nil
}

func (f *fakeTransport) SendMulticast(kind wire.Kind, fields ...string) error {
	f.sent = append(f.sent, sentFrame{broadcast: true, kind: kind, fields: fields})
	return nil
}

func (f *fakeTransport) Poll() ([]netio.Received, error) {
	out := f.inbox
	f.inbox = nil
	return out, nil
}

func (f *fakeTransport) queue(from *net.UDPAddr, kind wire.Kind, fields ...string) {
	frame, err := wire.Decode(wire.Encode(kind, fields...))
	if err != nil {
		panic(err)
	}
	f.inbox = append(f.inbox, netio.Received{From: from, Frame: frame})
}

func addr(ip string) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: 3142}
}

func newTestWorker() (*Worker, *fakeTransport) {
	ft := &fakeTransport{}
	w := New(nodeid.FromFull("fe80::1"), Config{K: 5, T: time.Millisecond, TPoll: time.Millisecond, Port: 3142}, ft, zap.NewNop())
	return w, ft
}

func TestWorkerBootstrapToRunning(t *testing.T) {
	w, ft := newTestWorker()
	now := time.Now()

	coordAddr := addr("fe80::c0:0:0:1")
	ft.queue(coordAddr, wire.KindPing)
	if err := w.Step(now); err != nil {
		t.Fatalf("Step error: %v", err)
	}
	if w.Phase() != Undiscovered {
		t.Fatalf("phase after ping = %v, want Undiscovered (awaiting conf)", w.Phase())
	}
	if len(ft.sent) != 1 || ft.sent[0].kind != wire.KindPong {
		t.Fatalf("expected a pong reply, got %+v", ft.sent)
	}
	ft.sent = nil

	ft.queue(coordAddr, wire.KindConf, "17", "1")
	if err := w.Step(now); err != nil {
		t.Fatal(err)
	}
	if w.Phase() != Identified {
		t.Fatalf("phase after conf = %v, want Identified", w.Phase())
	}
	if w.m != 17 {
		t.Fatalf("m = %d, want 17", w.m)
	}

	peerAddr := addr("fe80::2")
	ft.queue(coordAddr, wire.KindIPs, "2")
	if err := w.Step(now); err != nil {
		t.Fatal(err)
	}
	if w.Phase() != TopologyKnown {
		t.Fatalf("phase after ips = %v, want TopologyKnown", w.Phase())
	}

	ft.queue(coordAddr, wire.KindStart)
	if err := w.Step(now); err != nil {
		t.Fatal(err)
	}
	if w.Phase() != Running {
		t.Fatalf("phase after start = %v, want Running", w.Phase())
	}

	foundAckTo := false
	for _, s := range ft.sent {
		if s.kind == wire.KindLEAck && s.to != nil && s.to.IP.String() == peerAddr.IP.String() {
			foundAckTo = true
		}
	}
	if !foundAckTo {
		t.Errorf("expected an le_ack sent to neighbor peer, got %+v", ft.sent)
	}
}

func TestWorkerRespondsToLEQueryAfterTermination(t *testing.T) {
	w, ft := newTestWorker()
	now := time.Now()
	w.m = 5
	w.phase = TopologyKnown
	w.pendingNeighbors = nil // zero neighbors: Round terminates immediately

	coordAddr := addr("fe80::c0:0:0:1")
	ft.queue(coordAddr, wire.KindStart)
	if err := w.Step(now); err != nil {
		t.Fatal(err)
	}
	if w.Phase() != Reporting {
		t.Fatalf("single-node round should terminate immediately into Reporting, got %v", w.Phase())
	}

	ft.sent = nil
	ft.queue(addr("fe80::9"), wire.KindLEQuery)
	if err := w.Step(now.Add(time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, s := range ft.sent {
		if s.kind == wire.KindLEAck {
			found = true
		}
	}
	if !found {
		t.Errorf("expected le_ack reply to a late le_m? query, got %+v", ft.sent)
	}
}

func TestWorkerResetsOnFailureFrame(t *testing.T) {
	w, ft := newTestWorker()
	w.phase = Running
	w.m = 9
	ft.queue(addr("fe80::c0:0:0:1"), wire.KindFailure)
	if err := w.Step(time.Now()); err != nil {
		t.Fatal(err)
	}
	if w.Phase() != Undiscovered {
		t.Errorf("phase after failure = %v, want Undiscovered", w.Phase())
	}
}

func TestWorkerResetsOnFreshPingAfterDone(t *testing.T) {
	w, ft := newTestWorker()
	w.phase = Done
	coordAddr := addr("fe80::c0:0:0:1")
	ft.queue(coordAddr, wire.KindPing)
	if err := w.Step(time.Now()); err != nil {
		t.Fatal(err)
	}
	if w.Phase() != Undiscovered {
		t.Errorf("phase after fresh ping in Done = %v, want Undiscovered", w.Phase())
	}
}
