package coordinator

import (
	"time"

	"go.uber.org/zap"

	"github.com/edgemesh/minmaxk/internal/topology"
	"github.com/edgemesh/minmaxk/internal/wire"
)

// runDistributeTopology builds the neighbor graph for the configured
// topology kind over the discovered nodes and pushes each node its ips;
// frame (spec 4.3). The general topology instead asks every node to
// self-organize via discover;, since its neighbor set is not known to the
// coordinator ahead of time.
func (d *Driver) runDistributeTopology(now time.Time) {
	if d.state.Phase != DistributingTopology {
		return
	}
	if d.topologyPushed {
		return
	}

	n := len(d.state.Nodes)
	if d.topologyKind == topology.General {
		for _, node := range d.state.Nodes {
			if err := d.sock.SendUnicast(addrFor(node.ID, d.port), wire.KindDiscover); err != nil {
				d.log.Warn("failed to send discover", zap.String("node", node.ID.Short()), zap.Error(err))
			}
		}
		d.topologyPushed = true
		d.state.Phase = Starting
		return
	}

	adj, err := topology.Neighbors(d.topologyKind, n)
	if err != nil {
		d.log.Error("failed to build topology", zap.Error(err))
		return
	}
	for i, node := range d.state.Nodes {
		fields := make([]string, 0, len(adj[i]))
		for _, j := range adj[i] {
			fields = append(fields, d.state.Nodes[j].ID.Short())
		}
		if err := d.sock.SendUnicast(addrFor(node.ID, d.port), wire.KindIPs, fields...); err != nil {
			d.log.Warn("failed to send ips", zap.String("node", node.ID.Short()), zap.Error(err))
		}
	}
	d.topologyPushed = true
	d.state.Phase = Starting
}
