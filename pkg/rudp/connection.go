package rudp

import (
	"time"

	"go.uber.org/zap"

	"rdgram/pkg/handshake"
	"rdgram/pkg/socket"
	"rdgram/pkg/wire"
)

// Connection is one per-remote-endpoint session. It owns one instance of
// each channel engine and is driven entirely by its peer's update cycle;
// no method blocks on the network.
type Connection struct {
	peer  *Peer
	id    ConnID
	ep    socket.Endpoint
	log   *zap.Logger
	state State

	// accepted marks a connection created from an inbound handshake
	// (listener side) as opposed to a dialed one.
	accepted   bool
	hello      handshake.Hello
	helloBytes []byte // dialed: encoded Connect datagram for resends
	ackBytes   []byte // accepted: encoded ConnectAck datagram for resends
	hsAttempts int
	hsSentAt   time.Time
	hsNextAt   time.Time
	reAck      bool // duplicate handshake seen, resend ConnectAck on flush

	lastRecv time.Time
	lastSend time.Time
	rtt      time.Duration
	ackDirty bool

	rel      reliableChannel
	ntf      notifyChannel
	unrelOut [][]byte

	stats Stats
}

// ID is the lifetime-stable handle for this connection.
func (c *Connection) ID() ConnID { return c.id }

// Endpoint is the remote address.
func (c *Connection) Endpoint() socket.Endpoint { return c.ep }

func (c *Connection) State() State { return c.state }

// RTT is the smoothed round-trip estimate.
func (c *Connection) RTT() time.Duration { return c.rtt }

// Stats returns a snapshot of the connection counters.
func (c *Connection) Stats() Stats {
	s := c.stats
	s.RTT = c.rtt
	return s
}

func (c *Connection) terminal() bool {
	return c.state == StateDisconnected || c.state == StateFailed
}

// SendReliable queues payload for guaranteed in-order delivery. Payloads
// larger than one packet are fragmented transparently and reassembled
// before delivery at the remote.
func (c *Connection) SendReliable(payload []byte) error {
	if c.state != StateConnected {
		return ErrNotConnected
	}
	mtu := c.peer.sock.MTU()
	singleMax := mtu - wire.ReliableOverhead
	fragMax := mtu - wire.ReliableFragOverhead
	if len(payload) > fragMax*c.peer.params.MaxFragments {
		return ErrPayloadTooLarge
	}
	if err := c.rel.enqueue(payload, singleMax, fragMax, c.peer.params.MaxFragments, c.peer.params.MaxBacklog); err != nil {
		return err
	}
	c.stats.MsgsOut++
	return nil
}

// SendUnreliable queues payload for one best-effort datagram. There is no
// fragmentation on this channel, which keeps its worst-case latency to a
// single packet exchange.
func (c *Connection) SendUnreliable(payload []byte) error {
	if c.state != StateConnected {
		return ErrNotConnected
	}
	if len(payload) > c.peer.sock.MTU()-wire.UnreliableOverhead {
		return ErrPayloadTooLarge
	}
	c.unrelOut = append(c.unrelOut, append([]byte(nil), payload...))
	c.stats.MsgsOut++
	return nil
}

// SendNotify queues payload for one best-effort datagram and registers cb
// for its resolution. cb fires exactly once with Delivered or Lost, either
// once the ack window settles or at teardown.
func (c *Connection) SendNotify(payload []byte, cb NotifyCallback) error {
	if c.state != StateConnected {
		return ErrNotConnected
	}
	if len(payload) > c.peer.sock.MTU()-wire.NotifyOverhead {
		return ErrPayloadTooLarge
	}
	c.ntf.send(payload, c.trackOutcome(cb))
	c.stats.MsgsOut++
	return nil
}

func (c *Connection) trackOutcome(cb NotifyCallback) NotifyCallback {
	return func(o Outcome) {
		if o == Delivered {
			c.stats.Delivered++
		} else {
			c.stats.Lost++
		}
		if cb != nil {
			cb(o)
		}
	}
}

// Disconnect tears the connection down locally: a best-effort close notice
// is sent, outstanding notify sends resolve Lost, and the state goes
// straight to Disconnected. The remote discovers the loss through its own
// liveness timeout if the notice is dropped.
func (c *Connection) Disconnect() {
	if c.terminal() {
		return
	}
	now := c.peer.now()
	if c.state == StateConnected {
		c.state = StateDisconnecting
	}
	c.teardown(now, ReasonLocalClose, true)
}

// handlePacket dispatches one decoded inbound datagram.
func (c *Connection) handlePacket(now time.Time, pkt *wire.Packet, size int) {
	if c.terminal() {
		return
	}
	c.lastRecv = now
	c.stats.BytesIn += uint64(size)

	switch pkt.Tag {
	case wire.TagConnect:
		// A repeated handshake means our ConnectAck was lost. Only honor
		// it when the token matches the session we accepted; a fresh
		// token is a new attempt from a restarted remote, which has to
		// wait for this session to be reaped by liveness.
		if !c.accepted || c.state != StateConnected {
			return
		}
		h, err := handshake.DecodeHello(pkt.Payload, c.peer.params.App)
		if err != nil {
			c.log.Debug("bad duplicate handshake", zap.Error(err))
			return
		}
		if h.Token == c.hello.Token {
			c.reAck = true
		}

	case wire.TagConnectAck:
		if c.accepted || c.state != StateConnecting {
			return
		}
		if _, err := handshake.DecodeAck(pkt.Payload, c.hello.Token); err != nil {
			c.log.Debug("bad handshake ack", zap.Error(err))
			return
		}
		c.state = StateConnected
		c.sampleRTT(now.Sub(c.hsSentAt))
		c.log.Info("connected", zap.Duration("rtt", c.rtt))
		c.peer.handler.OnConnected(c)

	case wire.TagDisconnect:
		c.log.Info("disconnect notice", zap.Uint8("remote_reason", pkt.Reason))
		c.teardown(now, ReasonRemote, false)

	case wire.TagPing:
		if c.state == StateConnected {
			c.processAcks(now, &pkt.Acks)
		}

	case wire.TagUnreliable:
		if c.state == StateConnected {
			c.stats.MsgsIn++
			c.peer.handler.OnMessage(c, pkt.Payload, ChannelUnreliable)
		}

	case wire.TagReliable, wire.TagReliableFrag:
		if c.state != StateConnected {
			return
		}
		c.processAcks(now, &pkt.Acks)
		c.ackDirty = true
		for _, msg := range c.rel.receive(pkt, c.peer.params.ReceiveWindow, c.peer.params.MaxFragments) {
			c.stats.MsgsIn++
			c.peer.handler.OnMessage(c, msg, ChannelReliable)
		}

	case wire.TagNotify:
		if c.state != StateConnected {
			return
		}
		c.processAcks(now, &pkt.Acks)
		c.ackDirty = true
		if payload, ok := c.ntf.receive(pkt); ok {
			c.stats.MsgsIn++
			c.peer.handler.OnMessage(c, payload, ChannelNotify)
		}
	}
}

// processAcks consumes the ack block piggybacked on an inbound packet:
// reliable in-flight packets it confirms are retired (feeding the RTT
// estimate), and pending notify sends it covers are resolved.
func (c *Connection) processAcks(now time.Time, acks *wire.AckBlock) {
	samples, _ := c.rel.onAck(acks.ReliableSeq, acks.ReliableBits, now)
	for _, s := range samples {
		c.sampleRTT(s)
	}
	c.ntf.onAck(acks.NotifySeq, acks.NotifyBits)
}

// flush performs this connection's share of the send phase.
func (c *Connection) flush(now time.Time) {
	switch c.state {
	case StateConnecting:
		c.flushHandshake(now)
	case StateConnected:
		c.flushConnected(now)
	}
}

func (c *Connection) flushHandshake(now time.Time) {
	if now.Before(c.hsNextAt) {
		return
	}
	if c.hsAttempts > c.peer.params.HandshakeRetryLimit {
		c.log.Warn("handshake retries exhausted", zap.Int("attempts", c.hsAttempts))
		c.teardown(now, ReasonHandshake, false)
		return
	}
	c.sendDatagram(now, c.helloBytes)
	c.hsSentAt = now
	c.hsAttempts++
	// Doubling backoff: 1 interval after the first send, 2 after the
	// second, and so on.
	c.hsNextAt = now.Add(c.peer.params.HandshakeInterval << (c.hsAttempts - 1))
}

func (c *Connection) flushConnected(now time.Time) {
	// Liveness first: a silent remote gets no further traffic from us.
	if now.Sub(c.lastRecv) >= c.peer.params.LivenessTimeout {
		c.log.Info("liveness timeout", zap.Duration("idle", now.Sub(c.lastRecv)))
		c.teardown(now, ReasonTimeout, false)
		return
	}

	if c.reAck {
		c.reAck = false
		c.sendDatagram(now, c.ackBytes)
	}

	// Retransmissions before new data: the oldest unacknowledged packet
	// is the one blocking the remote's receive window.
	resend, exhausted := c.rel.due(now, c.peer.params.ResendLimit)
	if exhausted {
		c.log.Warn("resend budget exhausted, tearing down")
		c.teardown(now, ReasonResendLimit, true)
		return
	}
	for _, p := range resend {
		p.resends++
		c.stats.Resends++
		c.sendReliable(now, p)
	}
	for _, p := range c.rel.fill(c.peer.params.MaxInFlight) {
		c.sendReliable(now, p)
	}

	for _, o := range c.ntf.drain() {
		c.sendSequenced(now, wire.TagNotify, o.seq, o.payload)
	}

	for _, b := range c.unrelOut {
		pkt := wire.Packet{Tag: wire.TagUnreliable, Payload: b}
		if buf, err := wire.Encode(&pkt); err == nil {
			c.sendDatagram(now, buf)
		}
	}
	c.unrelOut = c.unrelOut[:0]

	// Confirmations ride on data when there is any; otherwise a bare
	// ping carries them. Pings double as keepalive on idle connections.
	if c.ackDirty {
		c.sendPing(now)
	} else if now.Sub(c.lastSend) >= c.peer.params.KeepaliveInterval {
		c.sendPing(now)
	}
}

func (c *Connection) sendPing(now time.Time) {
	pkt := wire.Packet{Tag: wire.TagPing, Acks: c.ackBlock()}
	if buf, err := wire.Encode(&pkt); err == nil {
		c.sendDatagram(now, buf)
		c.ackDirty = false
	}
}

// sendReliable (re)transmits one reliable packet with fresh acknowledgment
// state and arms its resend timer with exponential backoff.
func (c *Connection) sendReliable(now time.Time, p *pendingSend) {
	tag := wire.TagReliable
	if p.fragged {
		tag = wire.TagReliableFrag
	}
	pkt := wire.Packet{Tag: tag, Seq: p.seq, Acks: c.ackBlock(), Frag: p.frag, Payload: p.payload}
	buf, err := wire.Encode(&pkt)
	if err != nil {
		return
	}
	c.sendDatagram(now, buf)
	c.ackDirty = false
	p.lastSend = now
	p.resendAt = now.Add(c.rto(p.resends))
}

func (c *Connection) sendSequenced(now time.Time, tag uint8, seq uint16, payload []byte) {
	pkt := wire.Packet{Tag: tag, Seq: seq, Acks: c.ackBlock(), Payload: payload}
	if buf, err := wire.Encode(&pkt); err == nil {
		c.sendDatagram(now, buf)
		c.ackDirty = false
	}
}

func (c *Connection) sendDatagram(now time.Time, buf []byte) {
	if err := c.peer.sock.Send(c.ep, buf); err != nil {
		c.log.Debug("send failed", zap.Error(err))
		return
	}
	c.lastSend = now
	c.stats.BytesOut += uint64(len(buf))
}

func (c *Connection) ackBlock() wire.AckBlock {
	var a wire.AckBlock
	a.ReliableSeq, a.ReliableBits = c.rel.acks.snapshot()
	a.NotifySeq, a.NotifyBits = c.ntf.acks.snapshot()
	return a
}

// rto is the resend timeout for a packet on its nth retry: the RTT
// estimate scaled up, doubling per retry, capped.
func (c *Connection) rto(resends int) time.Duration {
	base := time.Duration(float64(c.rtt) * c.peer.params.ResendRTTMultiple)
	if base < time.Millisecond {
		base = time.Millisecond
	}
	rto := base << resends
	if rto > c.peer.params.ResendMaxRTO || rto <= 0 {
		rto = c.peer.params.ResendMaxRTO
	}
	return rto
}

func (c *Connection) sampleRTT(sample time.Duration) {
	if sample <= 0 {
		return
	}
	// EWMA, 1/8 gain.
	c.rtt = (7*c.rtt + sample) / 8
}

// teardown moves the connection to its terminal state exactly once:
// pending notify sends resolve Lost, channel state is dropped, the peer
// table entry is released, and the matching lifecycle event fires.
func (c *Connection) teardown(now time.Time, reason Reason, sendNotice bool) {
	if c.terminal() {
		return
	}
	wasConnecting := c.state == StateConnecting

	if sendNotice && !wasConnecting {
		pkt := wire.Packet{Tag: wire.TagDisconnect, Reason: uint8(reason)}
		if buf, err := wire.Encode(&pkt); err == nil {
			c.sendDatagram(now, buf)
		}
	}

	if wasConnecting {
		c.state = StateFailed
	} else {
		c.state = StateDisconnected
	}

	c.ntf.resolveAll(Lost)
	c.rel.reset()
	c.peer.remove(c, reason, now)

	if wasConnecting {
		c.log.Info("connect failed", zap.String("reason", reason.String()))
		c.peer.handler.OnConnectFailed(c, reason)
	} else {
		c.log.Info("disconnected", zap.String("reason", reason.String()))
		c.peer.handler.OnDisconnected(c, reason)
	}
}
