// rdgram-ping dials an rdgram endpoint, sends a batch of payloads on the
// requested channel, and reports round trips as the remote echoes them
// back. Handy against rdgram-echo for eyeballing latency and loss.
package main

import (
	"flag"
	"fmt"
	"net/netip"
	"os"
	"time"

	"go.uber.org/zap"

	"rdgram/pkg/rudp"
	"rdgram/pkg/socket/udp"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7777", "address to connect to")
	channel := flag.String("channel", "reliable", "channel: reliable|unreliable|notify")
	count := flag.Int("count", 10, "number of payloads to send")
	size := flag.Int("size", 32, "payload size in bytes")
	interval := flag.Duration("interval", 100*time.Millisecond, "delay between sends")
	timeout := flag.Duration("timeout", 10*time.Second, "overall deadline")
	verbose := flag.Bool("v", false, "verbose protocol logging")
	flag.Parse()

	var logger *zap.Logger
	if *verbose {
		logger, _ = zap.NewDevelopment()
	} else {
		logger = zap.NewNop()
	}
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	remote, err := netip.ParseAddrPort(*addr)
	if err != nil {
		fatalf("bad address %q: %v", *addr, err)
	}
	var ch rudp.Channel
	switch *channel {
	case "reliable":
		ch = rudp.ChannelReliable
	case "unreliable":
		ch = rudp.ChannelUnreliable
	case "notify":
		ch = rudp.ChannelNotify
	default:
		fatalf("unknown channel %q", *channel)
	}

	sock, err := udp.Listen(":0", udp.DefaultMTU)
	if err != nil {
		fatalf("open socket: %v", err)
	}

	h := &pingHandler{}
	peer := rudp.New(sock, h, rudp.DefaultParams(), logger)
	defer peer.Close()

	conn, err := peer.Connect(remote)
	if err != nil {
		fatalf("connect: %v", err)
	}

	deadline := time.Now().Add(*timeout)
	pump := func() {
		_ = peer.UpdateReceive()
		_ = peer.UpdateSent()
		time.Sleep(5 * time.Millisecond)
	}

	for conn.State() == rudp.StateConnecting {
		if time.Now().After(deadline) {
			fatalf("connect timeout after %s", timeout.String())
		}
		pump()
	}
	if conn.State() != rudp.StateConnected {
		fatalf("connect failed: %s", conn.State().String())
	}
	fmt.Printf("connected to %s, rtt %s\n", conn.Endpoint(), conn.RTT())

	payload := make([]byte, *size)
	for i := range payload {
		payload[i] = byte(i)
	}

	sent, delivered, lost := 0, 0, 0
	start := time.Now()
	nextSend := start
	for h.received < *count && conn.State() == rudp.StateConnected {
		if time.Now().After(deadline) {
			break
		}
		if sent < *count && !time.Now().Before(nextSend) {
			var err error
			switch ch {
			case rudp.ChannelReliable:
				err = conn.SendReliable(payload)
			case rudp.ChannelUnreliable:
				err = conn.SendUnreliable(payload)
			case rudp.ChannelNotify:
				err = conn.SendNotify(payload, func(o rudp.Outcome) {
					if o == rudp.Delivered {
						delivered++
					} else {
						lost++
					}
				})
			}
			if err != nil {
				fatalf("send: %v", err)
			}
			sent++
			nextSend = nextSend.Add(*interval)
		}
		pump()
	}

	elapsed := time.Since(start)
	st := conn.Stats()
	fmt.Printf("%d sent, %d echoed in %s\n", sent, h.received, elapsed.Round(time.Millisecond))
	fmt.Printf("rtt %s, %d resends, %d bytes out, %d bytes in\n",
		conn.RTT(), st.Resends, st.BytesOut, st.BytesIn)
	if ch == rudp.ChannelNotify {
		fmt.Printf("notify outcomes: %d delivered, %d lost, %d unresolved\n",
			delivered, lost, sent-delivered-lost)
	}
	if h.received < *count && ch == rudp.ChannelReliable {
		fatalf("missing %d echoes", *count-h.received)
	}
}

// pingHandler counts echoed payloads.
type pingHandler struct {
	received int
}

func (h *pingHandler) OnConnected(*rudp.Connection) {}

func (h *pingHandler) OnDisconnected(_ *rudp.Connection, reason rudp.Reason) {
	fmt.Println("disconnected:", reason)
}

func (h *pingHandler) OnConnectFailed(_ *rudp.Connection, reason rudp.Reason) {
	fmt.Println("connect failed:", reason)
}

func (h *pingHandler) OnMessage(_ *rudp.Connection, payload []byte, ch rudp.Channel) {
	h.received++
}

func fatalf(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
