// Package netio wraps the non-blocking UDP socket pair (one unicast, one
// multicast) each node actor polls on a short timeout, matching the
// source's single-owner-socket, short-recv-timeout cooperative loop model
// (spec 5) — the reconnect-and-retry control-flow idiom is grounded on the
// teacher's AMI connector loop, adapted from TCP reconnect to UDP poll.
package netio

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/edgemesh/minmaxk/internal/wire"
)

// DefaultPollTimeout is the short read deadline recommended by spec 2/5.
const DefaultPollTimeout = 20 * time.Millisecond

// Socket owns one node's pair of UDP sockets: a unicast socket bound to the
// node's own address for point-to-point frames, and a multicast socket
// joined to the link-local all-nodes group for discovery/broadcast frames.
type Socket struct {
	ucast       *net.UDPConn
	mcast       *net.UDPConn
	group       *net.UDPAddr
	pollTimeout time.Duration
	log         *zap.Logger
}

// Config selects the interface, port and multicast group a Socket binds to.
type Config struct {
	Port           int
	MulticastGroup string
	Interface      string // link-local scope id, e.g. "eth0"; empty selects the default interface
	PollTimeout    time.Duration
	Logger         *zap.Logger
}

// Open binds both sockets. The unicast socket listens on all interfaces at
// cfg.Port; the multicast socket joins cfg.MulticastGroup on cfg.Interface
// (or every multicast-capable interface when empty).
func Open(cfg Config) (*Socket, error) {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ucast, err := net.ListenUDP("udp6", &net.UDPAddr{Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("netio: opening unicast socket: %w", err)
	}

	groupAddr := &net.UDPAddr{IP: net.ParseIP(cfg.MulticastGroup), Port: cfg.Port}

	var ifi *net.Interface
	if cfg.Interface != "" {
		ifi, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			ucast.Close()
			return nil, fmt.Errorf("netio: resolving interface %q: %w", cfg.Interface, err)
		}
	}

	mcast, err := net.ListenMulticastUDP("udp6", ifi, groupAddr)
	if err != nil {
		ucast.Close()
		return nil, fmt.Errorf("netio: joining multicast group %s: %w", cfg.MulticastGroup, err)
	}

	return &Socket{
		ucast:       ucast,
		mcast:       mcast,
		group:       groupAddr,
		pollTimeout: cfg.PollTimeout,
		log:         cfg.Logger,
	}, nil
}

// Close releases both underlying sockets.
func (s *Socket) Close() error {
	err1 := s.ucast.Close()
	err2 := s.mcast.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// SendUnicast encodes kind/fields and sends them to a specific peer.
func (s *Socket) SendUnicast(to *net.UDPAddr, kind wire.Kind, fields ...string) error {
	_, err := s.ucast.WriteToUDP(wire.Encode(kind, fields...), to)
	return err
}

// SendMulticast encodes kind/fields and sends them to the link-local
// all-nodes group.
func (s *Socket) SendMulticast(kind wire.Kind, fields ...string) error {
	_, err := s.ucast.WriteToUDP(wire.Encode(kind, fields...), s.group)
	return err
}

// Received is one decoded frame with the address it arrived from.
type Received struct {
	From  *net.UDPAddr
	Frame wire.Frame
}

// Poll reads at most one frame from the unicast socket and one from the
// multicast socket, each bounded by the configured poll timeout, and
// returns every frame successfully decoded. Malformed or oversize frames
// are logged at debug level and skipped (spec 7: malformed input never
// aborts the loop); a read timeout is not an error.
func (s *Socket) Poll() ([]Received, error) {
	var out []Received

	if r, err := s.pollOne(s.ucast); err != nil {
		return out, err
	} else if r != nil {
		out = append(out, *r)
	}
	if r, err := s.pollOne(s.mcast); err != nil {
		return out, err
	} else if r != nil {
		out = append(out, *r)
	}
	return out, nil
}

func (s *Socket) pollOne(conn *net.UDPConn) (*Received, error) {
	buf := make([]byte, wire.MaxFrameSize+1)
	if err := conn.SetReadDeadline(time.Now().Add(s.pollTimeout)); err != nil {
		return nil, fmt.Errorf("netio: setting read deadline: %w", err)
	}
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, fmt.Errorf("netio: reading: %w", err)
	}
	frame, err := wire.Decode(buf[:n])
	if err != nil {
		s.log.Debug("dropping malformed frame", zap.Stringer("from", addr), zap.Error(err))
		return nil, nil
	}
	return &Received{From: addr, Frame: frame}, nil
}

// LocalAddr returns the unicast socket's bound address.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.ucast.LocalAddr().(*net.UDPAddr)
}
