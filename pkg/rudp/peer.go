package rudp

import (
	"time"

	"go.uber.org/zap"

	"rdgram/pkg/handshake"
	"rdgram/pkg/peercache"
	"rdgram/pkg/socket"
	"rdgram/pkg/wire"
)

// Peer owns one socket and the connection table over it. The host drives
// it with a two-phase update cycle: UpdateReceive drains inbound
// datagrams, then UpdateSent flushes every connection's outgoing state.
// That order matters: acknowledgments learned during the receive phase
// must ride out on the very next flush for the piggybacking to converge.
type Peer struct {
	params  Params
	log     *zap.Logger
	sock    socket.Socket
	handler Handler
	now     func() time.Time

	listening bool
	dialed    bool
	closed    bool

	conns map[socket.Endpoint]*Connection
	slots []slot
	free  []uint32

	cache *peercache.Store
}

type slot struct {
	gen  uint32
	conn *Connection
}

// New creates a peer over sock. The handler receives lifecycle events and
// messages from within the update cycle. A nil logger disables logging.
func New(sock socket.Socket, handler Handler, params Params, log *zap.Logger) *Peer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Peer{
		params:  params.withDefaults(),
		log:     log,
		sock:    sock,
		handler: handler,
		now:     time.Now,
		conns:   make(map[socket.Endpoint]*Connection),
	}
}

// AttachSessionCache records ended sessions into cache. Optional.
func (p *Peer) AttachSessionCache(cache *peercache.Store) { p.cache = cache }

// Bind enters listening mode: valid handshakes from unknown endpoints now
// create connections. It fails once the peer listens or has dialed out.
func (p *Peer) Bind() error {
	if p.closed {
		return ErrClosed
	}
	if p.listening || p.dialed {
		return ErrAlreadyBound
	}
	p.listening = true
	p.log.Info("listening", zap.Stringer("local", p.sock.LocalEndpoint()))
	return nil
}

// Connect starts a handshake with ep and returns the new connection in
// the Connecting state. It transitions asynchronously to Connected or
// Failed during later update cycles.
func (p *Peer) Connect(ep socket.Endpoint) (*Connection, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if _, ok := p.conns[ep]; ok {
		return nil, ErrConnectionExists
	}

	hello := handshake.NewHello(p.params.App)
	payload, err := handshake.EncodeHello(hello)
	if err != nil {
		return nil, err
	}
	helloBytes, err := wire.Encode(&wire.Packet{Tag: wire.TagConnect, Payload: payload})
	if err != nil {
		return nil, err
	}

	now := p.now()
	c := p.newConnection(ep, StateConnecting)
	c.hello = hello
	c.helloBytes = helloBytes
	c.sendDatagram(now, helloBytes)
	c.hsSentAt = now
	c.hsAttempts = 1
	c.hsNextAt = now.Add(p.params.HandshakeInterval)
	c.lastRecv = now

	p.dialed = true
	p.conns[ep] = c
	p.log.Info("connecting", zap.Stringer("remote", ep))
	return c, nil
}

// UpdateReceive drains currently available datagrams, bounded per call so
// a flood cannot starve the send phase. Datagrams from unknown endpoints
// and malformed packets are dropped without response.
func (p *Peer) UpdateReceive() error {
	if p.closed {
		return ErrClosed
	}
	now := p.now()
	for i := 0; i < p.params.ReceiveBudget; i++ {
		ep, buf, ok, err := p.sock.Receive()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		pkt, err := wire.Decode(buf)
		if err != nil {
			p.log.Debug("malformed datagram", zap.Stringer("from", ep), zap.Error(err))
			continue
		}
		if c, ok := p.conns[ep]; ok {
			c.handlePacket(now, pkt, len(buf))
			continue
		}
		if p.listening && pkt.Tag == wire.TagConnect {
			p.accept(now, ep, pkt)
			continue
		}
		p.log.Debug("dropping datagram from unknown endpoint", zap.Stringer("from", ep))
	}
	return nil
}

// accept handles a valid handshake from a new endpoint: the connection is
// created directly in the Connected state and the acceptance is sent.
func (p *Peer) accept(now time.Time, ep socket.Endpoint, pkt *wire.Packet) {
	hello, err := handshake.DecodeHello(pkt.Payload, p.params.App)
	if err != nil {
		p.log.Debug("rejecting handshake", zap.Stringer("from", ep), zap.Error(err))
		return
	}
	ackPayload, err := handshake.EncodeAck(hello)
	if err != nil {
		return
	}
	ackBytes, err := wire.Encode(&wire.Packet{Tag: wire.TagConnectAck, Payload: ackPayload})
	if err != nil {
		return
	}

	c := p.newConnection(ep, StateConnected)
	c.accepted = true
	c.hello = hello
	c.ackBytes = ackBytes
	c.lastRecv = now
	c.sendDatagram(now, ackBytes)
	p.conns[ep] = c

	p.log.Info("accepted connection", zap.Stringer("remote", ep))
	p.handler.OnConnected(c)
}

// UpdateSent runs the send phase: per connection, handshake retries and
// liveness checks, reliable retransmissions and fresh sends, notify and
// unreliable queues, and standalone acks or keepalives when nothing else
// carried them.
func (p *Peer) UpdateSent() error {
	if p.closed {
		return ErrClosed
	}
	now := p.now()
	// Flush over a snapshot: teardown during flush mutates the table.
	live := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		live = append(live, c)
	}
	for _, c := range live {
		c.flush(now)
	}
	return nil
}

// Close forces every connection to its terminal state, resolving all
// outstanding notify sends as Lost before it returns, then releases the
// socket. Pending reliable data is not delivered.
func (p *Peer) Close() error {
	if p.closed {
		return nil
	}
	now := p.now()
	live := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		live = append(live, c)
	}
	for _, c := range live {
		c.teardown(now, ReasonLocalClose, c.state == StateConnected)
	}
	p.closed = true
	p.log.Info("peer closed")
	return p.sock.Close()
}

// MaxPayloadSize is the largest payload a Send on ch accepts given the
// socket's datagram budget.
func (p *Peer) MaxPayloadSize(ch Channel) int {
	mtu := p.sock.MTU()
	switch ch {
	case ChannelReliable:
		return (mtu - wire.ReliableFragOverhead) * p.params.MaxFragments
	case ChannelUnreliable:
		return mtu - wire.UnreliableOverhead
	case ChannelNotify:
		return mtu - wire.NotifyOverhead
	default:
		return 0
	}
}

// ConnectionByID resolves a handle, returning nil once the connection it
// referred to is gone. Generations prevent a recycled slot from aliasing.
func (p *Peer) ConnectionByID(id ConnID) *Connection {
	idx := id.index()
	if int(idx) >= len(p.slots) {
		return nil
	}
	s := p.slots[idx]
	if s.gen != id.gen() || s.conn == nil {
		return nil
	}
	return s.conn
}

// ConnectionCount is the number of live connections.
func (p *Peer) ConnectionCount() int { return len(p.conns) }

func (p *Peer) newConnection(ep socket.Endpoint, st State) *Connection {
	c := &Connection{
		peer:  p,
		ep:    ep,
		state: st,
		log:   p.log.With(zap.Stringer("remote", ep)),
		rtt:   p.params.InitialRTT,
		rel:   newReliableChannel(),
		ntf:   newNotifyChannel(),
	}
	c.id = p.allocSlot(c)
	return c
}

func (p *Peer) allocSlot(c *Connection) ConnID {
	var idx uint32
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		idx = uint32(len(p.slots))
		p.slots = append(p.slots, slot{})
	}
	p.slots[idx].conn = c
	return makeConnID(idx, p.slots[idx].gen)
}

// remove drops a connection from the table and retires its handle. Called
// from teardown only.
func (p *Peer) remove(c *Connection, reason Reason, now time.Time) {
	delete(p.conns, c.ep)
	idx := c.id.index()
	if int(idx) < len(p.slots) && p.slots[idx].conn == c {
		p.slots[idx].conn = nil
		p.slots[idx].gen++
		p.free = append(p.free, idx)
	}
	if p.cache != nil {
		st := c.Stats()
		p.cache.Record(c.ep.String(), now, func(r *peercache.Record) {
			r.Sessions++
			r.Reason = reason.String()
			r.BytesIn += st.BytesIn
			r.BytesOut += st.BytesOut
			r.MsgsIn += st.MsgsIn
			r.MsgsOut += st.MsgsOut
			r.Resends += st.Resends
			r.RTT = st.RTT
		})
	}
}
