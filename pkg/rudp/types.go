// Package rudp implements the reliable-datagram protocol engine: peer and
// connection lifecycle plus the three channel disciplines (reliable,
// unreliable, notify) layered over an unreliable datagram socket.
//
// The engine is single-threaded by contract. All socket I/O and protocol
// bookkeeping happen inside the host's update cycle (UpdateReceive then
// UpdateSent, in that order), and nothing here spawns goroutines or blocks
// on the network. Independent peers share no state.
package rudp

import "time"

// Channel selects a delivery discipline for application payloads.
type Channel uint8

const (
	// ChannelReliable delivers every message exactly once, in send order,
	// retransmitting until acknowledged.
	ChannelReliable Channel = iota
	// ChannelUnreliable is fire-and-forget: one datagram, no feedback.
	ChannelUnreliable
	// ChannelNotify is unreliable but reports Delivered or Lost exactly
	// once per message, without ever retransmitting.
	ChannelNotify
)

func (c Channel) String() string {
	switch c {
	case ChannelReliable:
		return "reliable"
	case ChannelUnreliable:
		return "unreliable"
	case ChannelNotify:
		return "notify"
	default:
		return "unknown"
	}
}

// State is a connection lifecycle state. Disconnected and Failed are
// terminal; no transition leaves them.
type State uint8

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reason explains why a connection ended or failed to establish.
type Reason uint8

const (
	ReasonNone Reason = iota
	// ReasonTimeout: no traffic from the remote within the liveness window.
	ReasonTimeout
	// ReasonRemote: the remote sent a disconnect notice.
	ReasonRemote
	// ReasonResendLimit: a reliable packet exhausted its retry budget.
	ReasonResendLimit
	// ReasonHandshake: the handshake retry budget was exhausted.
	ReasonHandshake
	// ReasonLocalClose: Disconnect or Close was called locally.
	ReasonLocalClose
)

func (r Reason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonRemote:
		return "remote"
	case ReasonResendLimit:
		return "resend-limit"
	case ReasonHandshake:
		return "handshake"
	case ReasonLocalClose:
		return "local-close"
	default:
		return "none"
	}
}

// Outcome is the terminal resolution of a notify send.
type Outcome uint8

const (
	Delivered Outcome = iota
	Lost
)

func (o Outcome) String() string {
	if o == Delivered {
		return "delivered"
	}
	return "lost"
}

// NotifyCallback receives the resolution of one notify send. It fires
// exactly once, from within an update cycle or from Peer.Close.
type NotifyCallback func(Outcome)

// Handler receives connection lifecycle events and assembled application
// messages. Each lifecycle method fires at most once per connection, from
// within the peer's update cycle.
type Handler interface {
	OnConnected(c *Connection)
	OnDisconnected(c *Connection, reason Reason)
	OnConnectFailed(c *Connection, reason Reason)

	// OnMessage delivers one fully assembled application message.
	// Reliable messages arrive in send order; unreliable and notify
	// messages arrive in whatever order the network produced. The
	// payload is only valid for the duration of the call.
	OnMessage(c *Connection, payload []byte, ch Channel)
}

// ConnID is a lifetime-stable connection handle: a generation-checked slot
// index. It is never reused while its connection is alive, so a stale
// handle from a dead connection can be detected instead of silently
// aliasing a new one.
type ConnID uint64

func makeConnID(index, gen uint32) ConnID { return ConnID(index)<<32 | ConnID(gen) }

func (id ConnID) index() uint32 { return uint32(id >> 32) }
func (id ConnID) gen() uint32   { return uint32(id) }

// Stats are cumulative per-connection counters.
type Stats struct {
	BytesIn   uint64
	BytesOut  uint64
	MsgsIn    uint64
	MsgsOut   uint64
	Resends   uint64
	Delivered uint64 // notify sends resolved Delivered
	Lost      uint64 // notify sends resolved Lost
	RTT       time.Duration
}
