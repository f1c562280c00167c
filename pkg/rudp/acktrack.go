package rudp

import "rdgram/pkg/wire"

// ackTracker records which sequences in one sequence space have been
// received: the newest sequence plus a bitmask of the 32 before it. Its
// snapshot is what gets piggybacked on outgoing packets.
//
// latest starts one before the space's initial sequence, so an empty
// tracker naturally reads as "nothing received yet" on the wire.
type ackTracker struct {
	latest uint16
	bits   uint32
}

func newAckTracker() ackTracker {
	return ackTracker{latest: wire.InitialSeq - 1}
}

// observe records seq as received.
func (t *ackTracker) observe(seq uint16) {
	if wire.SeqGreater(seq, t.latest) {
		shift := wire.SeqDiff(seq, t.latest)
		if int(shift) > wire.AckBits {
			t.bits = 0
		} else {
			t.bits = t.bits<<shift | 1<<(shift-1)
		}
		t.latest = seq
		return
	}
	d := wire.SeqDiff(t.latest, seq)
	if d == 0 || int(d) > wire.AckBits {
		return
	}
	t.bits |= 1 << (d - 1)
}

// covered reports whether seq is recorded as received. Sequences older
// than the mask reaches report false.
func (t *ackTracker) covered(seq uint16) bool {
	if wire.SeqGreater(seq, t.latest) {
		return false
	}
	d := wire.SeqDiff(t.latest, seq)
	if d == 0 {
		return true
	}
	if int(d) > wire.AckBits {
		return false
	}
	return t.bits&(1<<(d-1)) != 0
}

// snapshot returns the wire form of the tracker.
func (t *ackTracker) snapshot() (seq uint16, bits uint32) { return t.latest, t.bits }

// ackCovers classifies pending sequence seq against a received ack
// (ackSeq, bits). It returns resolved=false while seq is newer than
// ackSeq; otherwise delivered reports whether the ack confirms receipt.
// A sequence that aged past the mask without confirmation is resolved as
// not delivered.
func ackCovers(seq, ackSeq uint16, bits uint32) (resolved, delivered bool) {
	if wire.SeqGreater(seq, ackSeq) {
		return false, false
	}
	d := wire.SeqDiff(ackSeq, seq)
	if d == 0 {
		return true, true
	}
	if int(d) > wire.AckBits {
		return true, false
	}
	return true, bits&(1<<(d-1)) != 0
}
