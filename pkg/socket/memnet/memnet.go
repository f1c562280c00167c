// Package memnet is an in-process datagram network with configurable
// impairments. It exists for tests and demos: protocol behavior under
// loss, duplication and reordering can be reproduced deterministically
// from a seed, and individual packets can be dropped or observed through
// hooks.
package memnet

import (
	"errors"
	"fmt"
	"math/rand"
	"net/netip"
	"sync"

	"rdgram/pkg/socket"
)

// Options configures a simulated network.
type Options struct {
	MTU       int     // datagram size limit, default 1200
	Seed      int64   // rng seed for the impairment draws
	LossRate  float64 // probability a datagram is dropped
	DupRate   float64 // probability a datagram is delivered twice
	SwapRate  float64 // probability a datagram is swapped with its successor
	InboxSize int     // per-socket queue capacity, default 256
}

// Filter decides whether a datagram is delivered. Returning false drops it.
type Filter func(from, to socket.Endpoint, b []byte) bool

// Tap observes every datagram that passes the filter, before impairments.
type Tap func(from, to socket.Endpoint, b []byte)

// Network connects Sockets by endpoint. Delivery is synchronous: a Send
// places the datagram directly in the destination inbox.
type Network struct {
	mu      sync.Mutex
	opts    Options
	rng     *rand.Rand
	sockets map[socket.Endpoint]*Socket
	filter  Filter
	tap     Tap
}

// New creates an empty network.
func New(opts Options) *Network {
	if opts.MTU <= 0 {
		opts.MTU = 1200
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 256
	}
	return &Network{
		opts:    opts,
		rng:     rand.New(rand.NewSource(opts.Seed)),
		sockets: make(map[socket.Endpoint]*Socket),
	}
}

// SetFilter installs a delivery filter. Pass nil to clear.
func (n *Network) SetFilter(f Filter) {
	n.mu.Lock()
	n.filter = f
	n.mu.Unlock()
}

// SetTap installs a packet observer. Pass nil to clear.
func (n *Network) SetTap(t Tap) {
	n.mu.Lock()
	n.tap = t
	n.mu.Unlock()
}

// Endpoint fabricates a distinct loopback endpoint for test sockets.
func Endpoint(port uint16) socket.Endpoint {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port)
}

// Register attaches a new socket at ep.
func (n *Network) Register(ep socket.Endpoint) (*Socket, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.sockets[ep]; ok {
		return nil, fmt.Errorf("memnet: endpoint %s already registered", ep)
	}
	s := &Socket{net: n, ep: ep}
	n.sockets[ep] = s
	return s, nil
}

func (n *Network) send(from, to socket.Endpoint, b []byte) error {
	if len(b) > n.opts.MTU {
		return fmt.Errorf("memnet: datagram %d exceeds mtu %d", len(b), n.opts.MTU)
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.filter != nil && !n.filter(from, to, b) {
		return nil
	}
	if n.tap != nil {
		n.tap(from, to, b)
	}

	dst, ok := n.sockets[to]
	if !ok || dst.closed {
		return nil // unreachable endpoint behaves like silent loss
	}
	if n.opts.LossRate > 0 && n.rng.Float64() < n.opts.LossRate {
		return nil
	}

	copies := 1
	if n.opts.DupRate > 0 && n.rng.Float64() < n.opts.DupRate {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		pkt := datagram{from: from, b: append([]byte(nil), b...)}
		if len(dst.inbox) >= n.opts.InboxSize {
			break
		}
		dst.inbox = append(dst.inbox, pkt)
		if n.opts.SwapRate > 0 && len(dst.inbox) >= 2 && n.rng.Float64() < n.opts.SwapRate {
			last := len(dst.inbox) - 1
			dst.inbox[last-1], dst.inbox[last] = dst.inbox[last], dst.inbox[last-1]
		}
	}
	return nil
}

type datagram struct {
	from socket.Endpoint
	b    []byte
}

// Socket is one attachment point on the simulated network.
type Socket struct {
	net    *Network
	ep     socket.Endpoint
	inbox  []datagram
	closed bool
}

func (s *Socket) Send(ep socket.Endpoint, b []byte) error {
	s.net.mu.Lock()
	closed := s.closed
	s.net.mu.Unlock()
	if closed {
		return errors.New("memnet: socket closed")
	}
	return s.net.send(s.ep, ep, b)
}

func (s *Socket) Receive() (socket.Endpoint, []byte, bool, error) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if s.closed {
		return netip.AddrPort{}, nil, false, errors.New("memnet: socket closed")
	}
	if len(s.inbox) == 0 {
		return netip.AddrPort{}, nil, false, nil
	}
	d := s.inbox[0]
	s.inbox = s.inbox[1:]
	return d.from, d.b, true, nil
}

func (s *Socket) MTU() int { return s.net.opts.MTU }

func (s *Socket) LocalEndpoint() socket.Endpoint { return s.ep }

func (s *Socket) Close() error {
	s.net.mu.Lock()
	s.closed = true
	s.inbox = nil
	delete(s.net.sockets, s.ep)
	s.net.mu.Unlock()
	return nil
}
