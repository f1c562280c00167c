package rudp

import (
	"bytes"
	"testing"
	"time"

	"rdgram/pkg/wire"
)

func TestAckTrackerObserveAndCover(t *testing.T) {
	tr := newAckTracker()
	if seq, bits := tr.snapshot(); seq != wire.InitialSeq-1 || bits != 0 {
		t.Fatalf("empty snapshot %d/%#x", seq, bits)
	}

	// Out of order around the wrap point, with a gap at +2.
	for _, s := range []uint16{wire.InitialSeq, wire.InitialSeq + 3, wire.InitialSeq + 1} {
		tr.observe(s)
	}
	for _, tc := range []struct {
		seq  uint16
		want bool
	}{
		{wire.InitialSeq, true},
		{wire.InitialSeq + 1, true},
		{wire.InitialSeq + 2, false},
		{wire.InitialSeq + 3, true},
		{wire.InitialSeq + 4, false},
	} {
		if got := tr.covered(tc.seq); got != tc.want {
			t.Fatalf("covered(%d) = %v, want %v", tc.seq, got, tc.want)
		}
	}

	// A duplicate observation changes nothing.
	seq, bits := tr.snapshot()
	tr.observe(wire.InitialSeq + 1)
	if s2, b2 := tr.snapshot(); s2 != seq || b2 != bits {
		t.Fatalf("duplicate observe mutated snapshot: %d/%#x -> %d/%#x", seq, bits, s2, b2)
	}

	// A jump past the whole mask discards the old bits. The offset runs
	// through a variable so the sum wraps at runtime.
	jump := uint16(100)
	tr.observe(wire.InitialSeq + jump)
	if !tr.covered(wire.InitialSeq + jump) {
		t.Fatalf("latest not covered after jump")
	}
	if tr.covered(wire.InitialSeq + 3) {
		t.Fatalf("sequence beyond mask reach still reads covered")
	}
}

func TestAckCoversClassification(t *testing.T) {
	ackSeq := uint16(10)
	bits := uint32(0b101) // 9 and 7 confirmed, 8 not

	for _, tc := range []struct {
		seq                 uint16
		resolved, delivered bool
	}{
		{11, false, false}, // newer than the ack
		{10, true, true},
		{9, true, true},
		{8, true, false},
		{7, true, true},
		{6, true, false},
		{ackSeq - wire.AckBits, true, false},
		{ackSeq - wire.AckBits - 1, true, false}, // aged out entirely
	} {
		resolved, delivered := ackCovers(tc.seq, ackSeq, bits)
		if resolved != tc.resolved || delivered != tc.delivered {
			t.Fatalf("ackCovers(%d) = %v/%v, want %v/%v",
				tc.seq, resolved, delivered, tc.resolved, tc.delivered)
		}
	}
}

func reliablePkt(seq uint16, payload string) *wire.Packet {
	return &wire.Packet{Tag: wire.TagReliable, Seq: seq, Payload: []byte(payload)}
}

func TestReliableReceiveReorders(t *testing.T) {
	r := newReliableChannel()
	s := wire.InitialSeq

	if out := r.receive(reliablePkt(s+2, "c"), 256, 256); out != nil {
		t.Fatalf("gapped packet released %q", out)
	}
	if out := r.receive(reliablePkt(s+1, "b"), 256, 256); out != nil {
		t.Fatalf("gapped packet released %q", out)
	}
	out := r.receive(reliablePkt(s, "a"), 256, 256)
	if len(out) != 3 {
		t.Fatalf("released %d messages, want 3", len(out))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(out[i]) != want {
			t.Fatalf("message %d = %q, want %q", i, out[i], want)
		}
	}
	if len(r.buffer) != 0 {
		t.Fatalf("%d entries left buffered", len(r.buffer))
	}
}

func TestReliableReceiveDropsDuplicatesAndFarFuture(t *testing.T) {
	r := newReliableChannel()
	s := wire.InitialSeq

	if out := r.receive(reliablePkt(s, "a"), 4, 256); len(out) != 1 {
		t.Fatalf("first delivery released %d", len(out))
	}
	// Re-delivery of a released sequence: acknowledged again, not released.
	if out := r.receive(reliablePkt(s, "a"), 4, 256); out != nil {
		t.Fatalf("duplicate released %q", out)
	}
	if !r.acks.covered(s) {
		t.Fatalf("duplicate not recorded in ack state")
	}

	// Buffered duplicate.
	r.receive(reliablePkt(s+2, "c"), 4, 256)
	if out := r.receive(reliablePkt(s+2, "c"), 4, 256); out != nil {
		t.Fatalf("buffered duplicate released %q", out)
	}

	// Beyond the receive window: dropped and, crucially, not acknowledged.
	r.receive(reliablePkt(s+50, "far"), 4, 256)
	if r.acks.covered(s + 50) {
		t.Fatalf("out-of-window packet was acknowledged")
	}
}

func TestReliableFragmentReassembly(t *testing.T) {
	r := newReliableChannel()
	payload := bytes.Repeat([]byte("fragment!"), 100)

	if err := r.enqueue(payload, 100, 100, 256, 4096); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	sent := r.fill(32)
	if len(sent) != 9 {
		t.Fatalf("enqueued %d fragments, want 9", len(sent))
	}

	rcv := newReliableChannel()
	var got []byte
	for _, p := range sent {
		pkt := &wire.Packet{Tag: wire.TagReliableFrag, Seq: p.seq, Frag: p.frag, Payload: p.payload}
		for _, msg := range rcv.receive(pkt, 256, 256) {
			got = msg
		}
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled %d bytes, want %d matching", len(got), len(payload))
	}
}

func TestReliableEnqueueBounds(t *testing.T) {
	r := newReliableChannel()

	if err := r.enqueue(make([]byte, 1000), 100, 100, 4, 4096); err != ErrPayloadTooLarge {
		t.Fatalf("over fragment cap: %v", err)
	}
	if err := r.enqueue([]byte("x"), 100, 100, 4, 0); err != ErrBacklogFull {
		t.Fatalf("full backlog: %v", err)
	}
	// A fragmented message must fit in the backlog as a whole.
	if err := r.enqueue(make([]byte, 300), 100, 100, 4, 2); err != ErrBacklogFull {
		t.Fatalf("fragments over backlog: %v", err)
	}
}

func TestReliableAckRetiresAndSamplesRTT(t *testing.T) {
	r := newReliableChannel()
	now := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		if err := r.enqueue([]byte{byte(i)}, 100, 100, 256, 4096); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	sent := r.fill(32)
	for _, p := range sent {
		p.lastSend = now
	}
	sent[1].resends = 1 // pretend the second packet was retransmitted

	later := now.Add(40 * time.Millisecond)
	tr := newAckTracker()
	for _, p := range sent {
		tr.observe(p.seq)
	}
	seq, bits := tr.snapshot()
	samples, acked := r.onAck(seq, bits, later)

	if acked != 3 || len(r.inflight) != 0 {
		t.Fatalf("acked %d, inflight %d", acked, len(r.inflight))
	}
	// Retransmitted packets never contribute samples.
	if len(samples) != 2 {
		t.Fatalf("%d rtt samples, want 2", len(samples))
	}
	for _, s := range samples {
		if s != 40*time.Millisecond {
			t.Fatalf("sample %v, want 40ms", s)
		}
	}
}

func TestReliableFillStallsOnOldestUnacked(t *testing.T) {
	r := newReliableChannel()
	now := time.Unix(3000, 0)
	for i := 0; i < 40; i++ {
		if err := r.enqueue([]byte{byte(i)}, 100, 100, 256, 4096); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	sent := r.fill(32)
	if len(sent) != 32 {
		t.Fatalf("admitted %d, want 32", len(sent))
	}

	// Everything but the oldest gets acknowledged. New sequences must not
	// be admitted: they would push the remote's ack mask out of reach of
	// the oldest packet's seq, leaving its resends unconfirmable.
	tr := newAckTracker()
	for _, p := range sent[1:] {
		tr.observe(p.seq)
	}
	seq, bits := tr.snapshot()
	if _, acked := r.onAck(seq, bits, now); acked != 31 {
		t.Fatalf("acked %d, want 31", acked)
	}
	if admitted := r.fill(32); len(admitted) != 0 {
		t.Fatalf("admitted %d past an unacknowledged gap, want 0", len(admitted))
	}

	// Once the gap is confirmed the window slides again.
	tr.observe(sent[0].seq)
	seq, bits = tr.snapshot()
	r.onAck(seq, bits, now)
	if admitted := r.fill(32); len(admitted) != 8 {
		t.Fatalf("admitted %d after gap ack, want the remaining 8", len(admitted))
	}
}

func TestReliableDueAndExhaustion(t *testing.T) {
	r := newReliableChannel()
	if err := r.enqueue([]byte("p"), 100, 100, 256, 4096); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	now := time.Unix(2000, 0)
	sent := r.fill(32)
	sent[0].resendAt = now.Add(50 * time.Millisecond)

	if due, _ := r.due(now, 10); len(due) != 0 {
		t.Fatalf("packet due before its timer")
	}
	due, exhausted := r.due(now.Add(time.Second), 10)
	if exhausted || len(due) != 1 {
		t.Fatalf("due = %d exhausted = %v", len(due), exhausted)
	}

	sent[0].resends = 10
	if _, exhausted := r.due(now.Add(time.Minute), 10); !exhausted {
		t.Fatalf("budget overrun not reported")
	}
}

func TestNotifyChannelResolution(t *testing.T) {
	n := newNotifyChannel()
	var outcomes []Outcome
	var seqs []uint16
	for i := 0; i < 4; i++ {
		seqs = append(seqs, n.send([]byte{byte(i)}, func(o Outcome) { outcomes = append(outcomes, o) }))
	}
	if len(n.drain()) != 4 {
		t.Fatalf("outbox mismatch")
	}

	// Ack covering seq 0 and 2 but not 1; seq 3 unresolved for now.
	tr := newAckTracker()
	tr.observe(seqs[0])
	tr.observe(seqs[2])
	seq, bits := tr.snapshot()
	n.onAck(seq, bits)
	wantNow := []Outcome{Delivered, Lost, Delivered}
	if len(outcomes) != len(wantNow) {
		t.Fatalf("resolved %d, want %d", len(outcomes), len(wantNow))
	}
	for i, w := range wantNow {
		if outcomes[i] != w {
			t.Fatalf("outcome %d = %v, want %v", i, outcomes[i], w)
		}
	}
	if len(n.pending) != 1 {
		t.Fatalf("pending %d, want 1", len(n.pending))
	}

	// A repeat of the same ack resolves nothing further.
	n.onAck(seq, bits)
	if len(outcomes) != 3 {
		t.Fatalf("repeated ack re-resolved sends")
	}

	if got := n.resolveAll(Lost); got != 1 {
		t.Fatalf("resolveAll resolved %d, want 1", got)
	}
	if outcomes[3] != Lost {
		t.Fatalf("tail outcome %v, want Lost", outcomes[3])
	}
}

func TestNotifyReceiveDedupAndAging(t *testing.T) {
	n := newNotifyChannel()
	s := wire.InitialSeq

	if _, ok := n.receive(&wire.Packet{Tag: wire.TagNotify, Seq: s, Payload: []byte("a")}); !ok {
		t.Fatalf("fresh packet rejected")
	}
	if _, ok := n.receive(&wire.Packet{Tag: wire.TagNotify, Seq: s, Payload: []byte("a")}); ok {
		t.Fatalf("duplicate accepted")
	}

	// A packet that arrives after the window moved far past it is dropped:
	// its sender has already been told Lost.
	if _, ok := n.receive(&wire.Packet{Tag: wire.TagNotify, Seq: s + 100}); !ok {
		t.Fatalf("jump rejected")
	}
	if _, ok := n.receive(&wire.Packet{Tag: wire.TagNotify, Seq: s + 1}); ok {
		t.Fatalf("ancient packet accepted after window moved")
	}
}
