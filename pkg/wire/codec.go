package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrShortPacket = errors.New("wire: short packet")
	ErrBadTag      = errors.New("wire: unknown packet tag")
)

// Encode serializes p into a fresh byte slice.
func Encode(p *Packet) ([]byte, error) {
	switch p.Tag {
	case TagConnect, TagConnectAck:
		buf := make([]byte, 1+len(p.Payload))
		buf[0] = p.Tag
		copy(buf[1:], p.Payload)
		return buf, nil

	case TagDisconnect:
		return []byte{p.Tag, p.Reason}, nil

	case TagPing:
		buf := make([]byte, PingSize)
		buf[0] = p.Tag
		putAckBlock(buf[1:], &p.Acks)
		return buf, nil

	case TagUnreliable:
		buf := make([]byte, 1+len(p.Payload))
		buf[0] = p.Tag
		copy(buf[1:], p.Payload)
		return buf, nil

	case TagReliable, TagNotify:
		buf := make([]byte, ReliableOverhead+len(p.Payload))
		buf[0] = p.Tag
		binary.LittleEndian.PutUint16(buf[1:3], p.Seq)
		putAckBlock(buf[3:], &p.Acks)
		copy(buf[3+ackBlockSize:], p.Payload)
		return buf, nil

	case TagReliableFrag:
		buf := make([]byte, ReliableFragOverhead+len(p.Payload))
		buf[0] = p.Tag
		binary.LittleEndian.PutUint16(buf[1:3], p.Seq)
		putAckBlock(buf[3:], &p.Acks)
		off := 3 + ackBlockSize
		binary.LittleEndian.PutUint16(buf[off:], p.Frag.MessageID)
		binary.LittleEndian.PutUint16(buf[off+2:], p.Frag.Index)
		binary.LittleEndian.PutUint16(buf[off+4:], p.Frag.Count)
		copy(buf[off+6:], p.Payload)
		return buf, nil
	}
	return nil, fmt.Errorf("%w: 0x%02x", ErrBadTag, p.Tag)
}

// Decode parses one datagram. The returned packet's payload aliases buf.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < 1 {
		return nil, ErrShortPacket
	}
	p := &Packet{Tag: buf[0]}

	switch p.Tag {
	case TagConnect, TagConnectAck:
		p.Payload = buf[1:]
		return p, nil

	case TagDisconnect:
		if len(buf) < DisconnectSize {
			return nil, ErrShortPacket
		}
		p.Reason = buf[1]
		return p, nil

	case TagPing:
		if len(buf) < PingSize {
			return nil, ErrShortPacket
		}
		getAckBlock(buf[1:], &p.Acks)
		return p, nil

	case TagUnreliable:
		p.Payload = buf[1:]
		return p, nil

	case TagReliable, TagNotify:
		if len(buf) < ReliableOverhead {
			return nil, ErrShortPacket
		}
		p.Seq = binary.LittleEndian.Uint16(buf[1:3])
		getAckBlock(buf[3:], &p.Acks)
		p.Payload = buf[ReliableOverhead:]
		return p, nil

	case TagReliableFrag:
		if len(buf) < ReliableFragOverhead {
			return nil, ErrShortPacket
		}
		p.Seq = binary.LittleEndian.Uint16(buf[1:3])
		getAckBlock(buf[3:], &p.Acks)
		off := 3 + ackBlockSize
		p.Frag.MessageID = binary.LittleEndian.Uint16(buf[off:])
		p.Frag.Index = binary.LittleEndian.Uint16(buf[off+2:])
		p.Frag.Count = binary.LittleEndian.Uint16(buf[off+4:])
		p.Payload = buf[ReliableFragOverhead:]
		return p, nil
	}
	return nil, fmt.Errorf("%w: 0x%02x", ErrBadTag, p.Tag)
}

func putAckBlock(buf []byte, a *AckBlock) {
	binary.LittleEndian.PutUint16(buf[0:2], a.ReliableSeq)
	binary.LittleEndian.PutUint32(buf[2:6], a.ReliableBits)
	binary.LittleEndian.PutUint16(buf[6:8], a.NotifySeq)
	binary.LittleEndian.PutUint32(buf[8:12], a.NotifyBits)
}

func getAckBlock(buf []byte, a *AckBlock) {
	a.ReliableSeq = binary.LittleEndian.Uint16(buf[0:2])
	a.ReliableBits = binary.LittleEndian.Uint32(buf[2:6])
	a.NotifySeq = binary.LittleEndian.Uint16(buf[6:8])
	a.NotifyBits = binary.LittleEndian.Uint32(buf[8:12])
}
