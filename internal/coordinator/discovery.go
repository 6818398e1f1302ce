package coordinator

import (
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/edgemesh/minmaxk/internal/netio"
	"github.com/edgemesh/minmaxk/internal/nodeid"
	"github.com/edgemesh/minmaxk/internal/wire"
)

const (
	discoveryPingInterval   = 2 * time.Second
	confRetryInterval       = time.Second
	confPushesBeforeAdvance = 3
)

// transport is the subset of *netio.Socket the Driver needs; declaring it
// locally lets tests substitute an in-memory fake (mirrors internal/worker's
// transport interface).
type transport interface {
	SendUnicast(to *net.UDPAddr, kind wire.Kind, fields ...string) error
	SendMulticast(kind wire.Kind, fields ...string) error
	Poll() ([]netio.Received, error)
}

// runDiscovery multicasts ping; on an interval for the configured number of
// discovery rounds, recording every peer that replies pong; with a fresh
// NodeRecord (spec 4.2 Discovering). It advances to Identifying once
// DiscoveryRoundsRemaining rounds have elapsed.
func (d *Driver) runDiscovery(now time.Time) {
	if d.state.Phase != Discovering {
		return
	}
	if now.Sub(d.lastDiscoveryPing) < discoveryPingInterval {
		return
	}
	if err := d.sock.SendMulticast(wire.KindPing); err != nil {
		d.log.Warn("failed to send discovery ping", zap.Error(err))
	}
	d.lastDiscoveryPing = now
	d.state.DiscoveryRoundsRemaining--
	if d.state.DiscoveryRoundsRemaining <= 0 {
		d.state.Phase = Identifying
		d.log.Info("discovery complete", zap.Int("nodes_found", len(d.state.Nodes)))
	}
}

// runIdentifying pushes each discovered node's assigned election value via
// conf;, repeating confPushesBeforeAdvance times before moving on. The
// coordinator does not wait for an explicit ack to conf; — it simply
// resends a few times and advances, matching
// original_source/cpsiot_masternode/udp.c's fire-and-forget conf loop.
func (d *Driver) runIdentifying(now time.Time) {
	if d.state.Phase != Identifying {
		return
	}
	if now.Sub(d.lastConfPush) < confRetryInterval {
		return
	}
	for _, n := range d.state.Nodes {
		if err := d.sock.SendUnicast(addrFor(n.ID, d.port), wire.KindConf, strconv.Itoa(int(n.M)), n.ID.Short()); err != nil {
			d.log.Warn("failed to send conf", zap.String("node", n.ID.Short()), zap.Error(err))
		}
	}
	d.confPushCount++
	d.lastConfPush = now
	if d.confPushCount >= confPushesBeforeAdvance {
		d.state.Phase = DistributingTopology
	}
}

func (d *Driver) handlePong(from *net.UDPAddr) {
	if d.state.Phase != Discovering {
		return
	}
	id := nodeid.FromFull(from.IP.String())
	if _, added := d.state.AddDiscovered(id, d.rng, d.maxNodes); added {
		d.log.Debug("discovered node", zap.String("node", id.Short()))
	}
}

func addrFor(id nodeid.ID, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(id.Full()), Port: port}
}
