package rudp

import (
	"time"

	"rdgram/pkg/wire"
)

// Params are the protocol policy knobs. None of them have a single correct
// value; hosts tune them per deployment (a LAN simulation wants tighter
// timers than a lossy WAN). Zero fields take the defaults below.
type Params struct {
	// App is the application name carried in the handshake. Peers with a
	// different App never connect.
	App string

	// HandshakeRetryLimit is how many times a Connect packet is resent
	// before the connection transitions to Failed.
	HandshakeRetryLimit int
	// HandshakeInterval is the initial handshake resend interval; it
	// doubles after every retry.
	HandshakeInterval time.Duration

	// LivenessTimeout disconnects a connection that has received nothing
	// for this long.
	LivenessTimeout time.Duration
	// KeepaliveInterval sends a ping when the outbound side has been idle
	// this long, so healthy-but-quiet connections stay alive.
	KeepaliveInterval time.Duration

	// InitialRTT seeds the estimate before any sample exists.
	InitialRTT time.Duration
	// ResendRTTMultiple scales the RTT estimate into the first resend
	// timeout; the timeout doubles per retry up to ResendMaxRTO.
	ResendRTTMultiple float64
	ResendMaxRTO      time.Duration
	// ResendLimit is the per-packet retry budget. Exhausting it tears the
	// whole connection down: an unresponsive peer means no further
	// reliable delivery is achievable.
	ResendLimit int

	// MaxInFlight bounds unacknowledged reliable packets. It is clamped
	// to the ack bitmask width; the sender additionally never lets the
	// sequence span of the in-flight set reach the mask width, so an
	// unacknowledged packet always stays within the range the remote's
	// ack mask can confirm.
	MaxInFlight int
	// MaxBacklog bounds the reliable send queue behind the in-flight set.
	MaxBacklog int
	// ReceiveWindow bounds how far ahead of the next expected sequence an
	// out-of-order reliable packet may be buffered.
	ReceiveWindow int
	// MaxFragments bounds how many fragments one reliable message may
	// span, which bounds reassembly memory.
	MaxFragments int

	// ReceiveBudget bounds datagrams drained per UpdateReceive call so
	// the receive phase cannot starve the send phase.
	ReceiveBudget int
}

// DefaultParams returns the stock tuning profile.
func DefaultParams() Params {
	return Params{
		App:                 "rdgram",
		HandshakeRetryLimit: 3,
		HandshakeInterval:   time.Second,
		LivenessTimeout:     5 * time.Second,
		KeepaliveInterval:   time.Second,
		InitialRTT:          100 * time.Millisecond,
		ResendRTTMultiple:   2.0,
		ResendMaxRTO:        3 * time.Second,
		ResendLimit:         10,
		MaxInFlight:         wire.AckBits,
		MaxBacklog:          4096,
		ReceiveWindow:       256,
		MaxFragments:        256,
		ReceiveBudget:       256,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.App == "" {
		p.App = d.App
	}
	if p.HandshakeRetryLimit <= 0 {
		p.HandshakeRetryLimit = d.HandshakeRetryLimit
	}
	if p.HandshakeInterval <= 0 {
		p.HandshakeInterval = d.HandshakeInterval
	}
	if p.LivenessTimeout <= 0 {
		p.LivenessTimeout = d.LivenessTimeout
	}
	if p.KeepaliveInterval <= 0 {
		p.KeepaliveInterval = d.KeepaliveInterval
	}
	if p.InitialRTT <= 0 {
		p.InitialRTT = d.InitialRTT
	}
	if p.ResendRTTMultiple <= 1 {
		p.ResendRTTMultiple = d.ResendRTTMultiple
	}
	if p.ResendMaxRTO <= 0 {
		p.ResendMaxRTO = d.ResendMaxRTO
	}
	if p.ResendLimit <= 0 {
		p.ResendLimit = d.ResendLimit
	}
	if p.MaxInFlight <= 0 || p.MaxInFlight > wire.AckBits {
		p.MaxInFlight = wire.AckBits
	}
	if p.MaxBacklog <= 0 {
		p.MaxBacklog = d.MaxBacklog
	}
	if p.ReceiveWindow <= 0 {
		p.ReceiveWindow = d.ReceiveWindow
	}
	if p.MaxFragments <= 0 || p.MaxFragments > int(^uint16(0)) {
		p.MaxFragments = d.MaxFragments
	}
	if p.ReceiveBudget <= 0 {
		p.ReceiveBudget = d.ReceiveBudget
	}
	return p
}
