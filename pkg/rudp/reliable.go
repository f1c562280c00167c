package rudp

import (
	"time"

	"rdgram/pkg/wire"
)

// pendingSend is one reliable packet awaiting acknowledgment.
type pendingSend struct {
	seq      uint16
	payload  []byte
	frag     wire.FragInfo
	fragged  bool
	lastSend time.Time
	resendAt time.Time
	resends  int
}

// recvEntry is one out-of-order reliable packet buffered until every lower
// sequence has been released.
type recvEntry struct {
	payload []byte
	frag    wire.FragInfo
	fragged bool
}

// reassembly accumulates fragments of one oversized message. Fragments are
// released in sequence order, so parts always arrive index-ordered.
type reassembly struct {
	id    uint16
	count int
	parts [][]byte
}

// reliableChannel implements ordered guaranteed delivery: a bounded
// in-flight set with a FIFO backlog on the send side, and a receive window
// that releases sequences to the application strictly in order.
type reliableChannel struct {
	// sender
	nextSeq   uint16
	nextMsgID uint16
	backlog   []*pendingSend
	inflight  map[uint16]*pendingSend

	// receiver
	acks     ackTracker
	expected uint16
	buffer   map[uint16]recvEntry
	asm      *reassembly
}

func newReliableChannel() reliableChannel {
	return reliableChannel{
		nextSeq:  wire.InitialSeq,
		inflight: make(map[uint16]*pendingSend),
		acks:     newAckTracker(),
		expected: wire.InitialSeq,
		buffer:   make(map[uint16]recvEntry),
	}
}

func (r *reliableChannel) takeSeq() uint16 {
	s := r.nextSeq
	r.nextSeq++
	return s
}

// enqueue splits payload into one or more pending sends. singleMax and
// fragMax are the payload budgets for unfragmented and fragmented packets;
// maxFrags bounds the reassembled size.
func (r *reliableChannel) enqueue(payload []byte, singleMax, fragMax, maxFrags, maxBacklog int) error {
	if len(payload) <= singleMax {
		if len(r.backlog) >= maxBacklog {
			return ErrBacklogFull
		}
		r.backlog = append(r.backlog, &pendingSend{
			seq:     r.takeSeq(),
			payload: append([]byte(nil), payload...),
		})
		return nil
	}

	count := (len(payload) + fragMax - 1) / fragMax
	if count > maxFrags {
		return ErrPayloadTooLarge
	}
	if len(r.backlog)+count > maxBacklog {
		return ErrBacklogFull
	}
	id := r.nextMsgID
	r.nextMsgID++
	for i := 0; i < count; i++ {
		start := i * fragMax
		end := start + fragMax
		if end > len(payload) {
			end = len(payload)
		}
		r.backlog = append(r.backlog, &pendingSend{
			seq:     r.takeSeq(),
			payload: append([]byte(nil), payload[start:end]...),
			frag:    wire.FragInfo{MessageID: id, Index: uint16(i), Count: uint16(count)},
			fragged: true,
		})
	}
	return nil
}

// fill moves backlog entries into the in-flight set up to its bound and
// returns the newly admitted packets for transmission. Admission also
// halts while a new sequence would sit AckBits or more ahead of the
// oldest unacknowledged one: the receiver's ack mask only reaches that
// far back, so racing past it would make the oldest packet's eventual
// acknowledgment unrepresentable and its resends futile. The window
// stalls on a loss and slides again once the resend is confirmed.
func (r *reliableChannel) fill(maxInFlight int) []*pendingSend {
	var out []*pendingSend
	for len(r.backlog) > 0 && len(r.inflight) < maxInFlight {
		p := r.backlog[0]
		if oldest, ok := r.oldestInflight(); ok && wire.SeqDiff(p.seq, oldest) >= wire.AckBits {
			break
		}
		r.backlog[0] = nil
		r.backlog = r.backlog[1:]
		r.inflight[p.seq] = p
		out = append(out, p)
	}
	return out
}

func (r *reliableChannel) oldestInflight() (uint16, bool) {
	var oldest uint16
	found := false
	for seq := range r.inflight {
		if !found || wire.SeqGreater(oldest, seq) {
			oldest, found = seq, true
		}
	}
	return oldest, found
}

// due returns in-flight packets whose resend timer expired. exhausted is
// true when any packet has run past the retry budget, which is
// connection-fatal rather than message-fatal.
func (r *reliableChannel) due(now time.Time, limit int) (resend []*pendingSend, exhausted bool) {
	for _, p := range r.inflight {
		if p.resendAt.After(now) {
			continue
		}
		if p.resends >= limit {
			return nil, true
		}
		resend = append(resend, p)
	}
	return resend, false
}

// onAck removes in-flight packets the ack block confirms. RTT samples are
// only taken from packets never retransmitted, so a resend can't be
// mistaken for a fast round trip.
func (r *reliableChannel) onAck(ackSeq uint16, bits uint32, now time.Time) (samples []time.Duration, acked int) {
	for seq, p := range r.inflight {
		resolved, delivered := ackCovers(seq, ackSeq, bits)
		if !resolved || !delivered {
			continue
		}
		if p.resends == 0 {
			samples = append(samples, now.Sub(p.lastSend))
		}
		delete(r.inflight, seq)
		acked++
	}
	return samples, acked
}

// receive processes one inbound reliable packet and returns the
// application messages it releases, in sequence order. Duplicates are
// recorded for acknowledgment but never re-delivered.
func (r *reliableChannel) receive(pkt *wire.Packet, window, maxFrags int) [][]byte {
	seq := pkt.Seq

	// Already released to the application, or already buffered: a
	// duplicate. Record it so the ack mask tells the sender to stop.
	if !wire.SeqGreater(seq, r.expected) && seq != r.expected {
		r.acks.observe(seq)
		return nil
	}
	if _, dup := r.buffer[seq]; dup {
		r.acks.observe(seq)
		return nil
	}

	// Too far ahead to buffer. Dropped without acknowledgment so the
	// sender retries once the window has moved.
	if int(wire.SeqDiff(seq, r.expected)) >= window {
		return nil
	}

	fragged := pkt.Tag == wire.TagReliableFrag
	if fragged && (int(pkt.Frag.Count) > maxFrags || pkt.Frag.Index >= pkt.Frag.Count) {
		return nil
	}

	r.acks.observe(seq)
	entry := recvEntry{
		payload: append([]byte(nil), pkt.Payload...),
		frag:    pkt.Frag,
		fragged: fragged,
	}
	if seq != r.expected {
		r.buffer[seq] = entry
		return nil
	}

	// In-order arrival: release it and drain any consecutive buffered
	// sequences behind it.
	var out [][]byte
	for {
		if msg, ok := r.release(entry, maxFrags); ok {
			out = append(out, msg)
		}
		r.expected++
		next, ok := r.buffer[r.expected]
		if !ok {
			break
		}
		delete(r.buffer, r.expected)
		entry = next
	}
	return out
}

// release feeds one in-order entry through reassembly. Unfragmented
// entries pass straight through; fragments accumulate until their message
// is complete.
func (r *reliableChannel) release(e recvEntry, maxFrags int) ([]byte, bool) {
	if !e.fragged {
		return e.payload, true
	}
	if r.asm == nil || r.asm.id != e.frag.MessageID {
		r.asm = &reassembly{id: e.frag.MessageID, count: int(e.frag.Count)}
	}
	r.asm.parts = append(r.asm.parts, e.payload)
	if len(r.asm.parts) < r.asm.count {
		return nil, false
	}
	size := 0
	for _, p := range r.asm.parts {
		size += len(p)
	}
	msg := make([]byte, 0, size)
	for _, p := range r.asm.parts {
		msg = append(msg, p...)
	}
	r.asm = nil
	return msg, true
}

// reset drops all channel state on teardown.
func (r *reliableChannel) reset() {
	r.backlog = nil
	r.inflight = make(map[uint16]*pendingSend)
	r.buffer = make(map[uint16]recvEntry)
	r.asm = nil
}
