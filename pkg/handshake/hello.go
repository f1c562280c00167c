// Package handshake defines the payloads exchanged while establishing a
// connection. Hello rides in a Connect packet, HelloAck in a ConnectAck.
// Both are CBOR-encoded; the canonical encoding mode keeps the bytes
// deterministic across nodes.
package handshake

import (
	"errors"
	"fmt"
	"time"

	cbor "github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Version is the protocol revision carried in every Hello. Peers with a
// different version never connect; the mismatch is dropped silently.
const Version uint32 = 1

var (
	ErrVersionMismatch = errors.New("handshake: protocol version mismatch")
	ErrAppMismatch     = errors.New("handshake: application name mismatch")
)

// Hello is the connection request payload. The token is fresh per connect
// attempt and lets a listener tell a retransmitted handshake apart from a
// new connection attempt by the same endpoint.
type Hello struct {
	Version   uint32    `cbor:"1,keyasint"`
	App       string    `cbor:"2,keyasint"`
	Token     uuid.UUID `cbor:"3,keyasint"`
	Timestamp int64     `cbor:"4,keyasint"` // unix milliseconds
}

// HelloAck is the acceptance payload. It echoes the request token so the
// initiator can discard acks from stale attempts.
type HelloAck struct {
	Version uint32    `cbor:"1,keyasint"`
	Token   uuid.UUID `cbor:"2,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
}

// NewHello builds a Hello for app with a fresh token.
func NewHello(app string) Hello {
	return Hello{
		Version:   Version,
		App:       app,
		Token:     uuid.New(),
		Timestamp: time.Now().UnixMilli(),
	}
}

// EncodeHello serializes h.
func EncodeHello(h Hello) ([]byte, error) { return encMode.Marshal(h) }

// DecodeHello parses and checks a Hello against the local version and
// application name.
func DecodeHello(b []byte, app string) (Hello, error) {
	var h Hello
	if err := cbor.Unmarshal(b, &h); err != nil {
		return Hello{}, fmt.Errorf("handshake: decode hello: %w", err)
	}
	if h.Version != Version {
		return Hello{}, fmt.Errorf("%w: got %d want %d", ErrVersionMismatch, h.Version, Version)
	}
	if h.App != app {
		return Hello{}, fmt.Errorf("%w: got %q want %q", ErrAppMismatch, h.App, app)
	}
	return h, nil
}

// EncodeAck serializes an acceptance of hello.
func EncodeAck(hello Hello) ([]byte, error) {
	return encMode.Marshal(HelloAck{Version: Version, Token: hello.Token})
}

// DecodeAck parses a HelloAck and verifies it matches the outstanding token.
func DecodeAck(b []byte, token uuid.UUID) (HelloAck, error) {
	var a HelloAck
	if err := cbor.Unmarshal(b, &a); err != nil {
		return HelloAck{}, fmt.Errorf("handshake: decode ack: %w", err)
	}
	if a.Version != Version {
		return HelloAck{}, fmt.Errorf("%w: got %d want %d", ErrVersionMismatch, a.Version, Version)
	}
	if a.Token != token {
		return HelloAck{}, errors.New("handshake: ack token mismatch")
	}
	return a, nil
}
