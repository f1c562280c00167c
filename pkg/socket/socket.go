// Package socket abstracts the datagram transport underneath the protocol
// engine. Implementations must be non-blocking on receive so the engine's
// update cycle never stalls on network I/O.
package socket

import "net/netip"

// Endpoint identifies a remote datagram source/destination. It is a pure
// value: comparable, copyable, and usable as a map key.
type Endpoint = netip.AddrPort

// Socket sends and receives bounded-size datagrams.
type Socket interface {
	// Send transmits one datagram. len(b) must not exceed MTU().
	Send(ep Endpoint, b []byte) error

	// Receive returns the next available datagram, or ok=false when none
	// is currently queued. It never blocks. The returned slice is only
	// valid until the next Receive call.
	Receive() (ep Endpoint, b []byte, ok bool, err error)

	// MTU is the largest datagram this socket will carry.
	MTU() int

	// LocalEndpoint is the bound local address.
	LocalEndpoint() Endpoint

	Close() error
}
