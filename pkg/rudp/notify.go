package rudp

import "rdgram/pkg/wire"

// pendingNotify is one notify send awaiting its delivered/lost resolution.
type pendingNotify struct {
	seq uint16
	cb  NotifyCallback
}

// outNotify is one notify payload queued for the next flush.
type outNotify struct {
	seq     uint16
	payload []byte
}

// notifyChannel implements best-effort sends with exactly-once
// delivered/lost resolution. It numbers packets from its own sequence
// space, never retransmits, and resolves each pending send from the ack
// window piggybacked on inbound traffic. Ordering is deliberately not part
// of the contract.
type notifyChannel struct {
	nextSeq uint16
	pending []pendingNotify // ascending by seq
	outbox  []outNotify

	// receiver
	acks ackTracker
}

func newNotifyChannel() notifyChannel {
	return notifyChannel{
		nextSeq: wire.InitialSeq,
		acks:    newAckTracker(),
	}
}

// send queues one payload and registers its callback.
func (n *notifyChannel) send(payload []byte, cb NotifyCallback) uint16 {
	seq := n.nextSeq
	n.nextSeq++
	n.pending = append(n.pending, pendingNotify{seq: seq, cb: cb})
	n.outbox = append(n.outbox, outNotify{seq: seq, payload: append([]byte(nil), payload...)})
	return seq
}

// drain takes the queued sends for transmission.
func (n *notifyChannel) drain() []outNotify {
	out := n.outbox
	n.outbox = nil
	return out
}

// onAck resolves every pending send the ack window now covers. A set bit
// means Delivered; a send that aged past the window without its bit ever
// showing up is Lost. Pending sends are ordered by sequence, so resolution
// stops at the first sequence still newer than the ack.
func (n *notifyChannel) onAck(ackSeq uint16, bits uint32) (resolved []Outcome) {
	i := 0
	for ; i < len(n.pending); i++ {
		p := n.pending[i]
		done, delivered := ackCovers(p.seq, ackSeq, bits)
		if !done {
			break
		}
		outcome := Lost
		if delivered {
			outcome = Delivered
		}
		resolved = append(resolved, outcome)
		if p.cb != nil {
			p.cb(outcome)
		}
	}
	n.pending = n.pending[i:]
	return resolved
}

// receive processes one inbound notify packet; ok is false for duplicates,
// and for packets so old they already aged out of the ack window (the
// sender was told Lost, so delivering late would contradict it).
func (n *notifyChannel) receive(pkt *wire.Packet) ([]byte, bool) {
	if n.acks.covered(pkt.Seq) {
		return nil, false
	}
	if !wire.SeqGreater(pkt.Seq, n.acks.latest) && int(wire.SeqDiff(n.acks.latest, pkt.Seq)) > wire.AckBits {
		return nil, false
	}
	n.acks.observe(pkt.Seq)
	return pkt.Payload, true
}

// resolveAll terminates every outstanding send as Lost, for teardown.
func (n *notifyChannel) resolveAll(outcome Outcome) int {
	count := len(n.pending)
	for _, p := range n.pending {
		if p.cb != nil {
			p.cb(outcome)
		}
	}
	n.pending = nil
	n.outbox = nil
	return count
}
