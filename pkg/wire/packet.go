// Package wire defines the datagram packet layouts shared by every channel.
//
// Every packet starts with a single tag byte. Reliable, Notify and Ping
// packets additionally carry an AckBlock so acknowledgment state rides on
// regular traffic in both directions. All integer fields are little-endian.
package wire

// Packet tags. Values below 0x10 are control packets, the rest carry
// application payloads.
const (
	TagConnect    uint8 = 0x01 // handshake request, payload = cbor Hello
	TagConnectAck uint8 = 0x02 // handshake accept, payload = cbor HelloAck
	TagDisconnect uint8 = 0x03 // best-effort close notice, 1 reason byte
	TagPing       uint8 = 0x04 // keepalive / standalone ack carrier

	TagUnreliable   uint8 = 0x10 // fire-and-forget payload
	TagReliable     uint8 = 0x11 // sequenced guaranteed payload
	TagReliableFrag uint8 = 0x12 // reliable payload fragment
	TagNotify       uint8 = 0x13 // sequenced, delivery-reported payload
)

// Per-packet overhead in bytes for each layout.
//
//	Connect/ConnectAck:  tag
//	Disconnect:          tag | reason u8
//	Ping:                tag | AckBlock
//	Unreliable:          tag | payload
//	Reliable:            tag | seq u16 | AckBlock | payload
//	ReliableFrag:        tag | seq u16 | AckBlock | msgID u16 | index u16 | count u16 | payload
//	Notify:              tag | seq u16 | AckBlock | payload
const (
	ackBlockSize = 12

	UnreliableOverhead   = 1
	ReliableOverhead     = 1 + 2 + ackBlockSize
	ReliableFragOverhead = ReliableOverhead + 6
	NotifyOverhead       = 1 + 2 + ackBlockSize
	PingSize             = 1 + ackBlockSize
	DisconnectSize       = 2
)

// AckBlock is the acknowledgment state piggybacked on outgoing packets.
// For each sequence space it holds the most recently received sequence and
// a bitmask of the 32 sequences preceding it (bit i set means seq-1-i was
// received).
type AckBlock struct {
	ReliableSeq  uint16
	ReliableBits uint32
	NotifySeq    uint16
	NotifyBits   uint32
}

// AckBits is the width of the ack bitmask. A sequence more than AckBits
// behind the latest acknowledged one can no longer be confirmed.
const AckBits = 32

// FragInfo describes one fragment of an oversized reliable message.
// A zero Count means the packet is not fragmented.
type FragInfo struct {
	MessageID uint16
	Index     uint16
	Count     uint16
}

// Packet is the decoded form of one datagram.
type Packet struct {
	Tag     uint8
	Seq     uint16   // Reliable/ReliableFrag/Notify
	Acks    AckBlock // Reliable/ReliableFrag/Notify/Ping
	Frag    FragInfo // ReliableFrag only
	Reason  uint8    // Disconnect only
	Payload []byte
}

// SeqGreater reports whether a is logically after b in the 16-bit
// wraparound sequence space.
func SeqGreater(a, b uint16) bool {
	return (a > b && a-b <= 1<<15) || (a < b && b-a > 1<<15)
}

// SeqDiff returns the forward distance from b to a (how far a is ahead of b).
// Only meaningful when SeqGreater(a, b) or a == b.
func SeqDiff(a, b uint16) uint16 { return a - b }

// InitialSeq is the first sequence number each side uses in every sequence
// space. It sits close to the wrap point so sequence arithmetic is
// exercised early in a connection's life rather than only after 64k
// packets.
const InitialSeq uint16 = 65530
