package rudp

import "errors"

var (
	// ErrPayloadTooLarge: the payload exceeds the channel's maximum size.
	// Connection state is unaffected.
	ErrPayloadTooLarge = errors.New("rudp: payload too large for channel")

	// ErrNotConnected: the connection is not in the Connected state.
	ErrNotConnected = errors.New("rudp: connection not established")

	// ErrClosed: the peer has been closed.
	ErrClosed = errors.New("rudp: peer closed")

	// ErrAlreadyBound: Bind was called twice, or after Connect.
	ErrAlreadyBound = errors.New("rudp: peer already bound")

	// ErrConnectionExists: a live connection to that endpoint already
	// exists; at most one is allowed per endpoint.
	ErrConnectionExists = errors.New("rudp: connection to endpoint already exists")

	// ErrBacklogFull: the reliable send queue hit its bound. Backpressure
	// is surfaced to the caller instead of growing memory without limit.
	ErrBacklogFull = errors.New("rudp: reliable send backlog full")
)
