// Package udp provides the UDP implementation of the socket collaborator.
package udp

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"rdgram/pkg/socket"
)

// DefaultMTU is a conservative payload budget that stays under typical
// path MTUs once IP and UDP headers are accounted for.
const DefaultMTU = 1200

// Socket is a non-blocking datagram socket over a net.UDPConn.
type Socket struct {
	conn *net.UDPConn
	mtu  int
	buf  []byte
}

// Listen binds a UDP socket on address (e.g. ":7777" or "127.0.0.1:0").
func Listen(address string, mtu int) (*Socket, error) {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	return &Socket{conn: conn, mtu: mtu, buf: make([]byte, 64*1024)}, nil
}

func (s *Socket) Send(ep socket.Endpoint, b []byte) error {
	if len(b) > s.mtu {
		return fmt.Errorf("udp: datagram %d exceeds mtu %d", len(b), s.mtu)
	}
	_, err := s.conn.WriteToUDPAddrPort(b, ep)
	return err
}

// Receive polls the socket without blocking. A zero deadline in the past
// turns the blocking read into a poll; timeout errors mean "nothing queued".
func (s *Socket) Receive() (socket.Endpoint, []byte, bool, error) {
	if err := s.conn.SetReadDeadline(time.Unix(0, 1)); err != nil {
		return netip.AddrPort{}, nil, false, err
	}
	n, ep, err := s.conn.ReadFromUDPAddrPort(s.buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return netip.AddrPort{}, nil, false, nil
		}
		return netip.AddrPort{}, nil, false, err
	}
	return ep, s.buf[:n], true, nil
}

func (s *Socket) MTU() int { return s.mtu }

func (s *Socket) LocalEndpoint() socket.Endpoint {
	if addr, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.AddrPort()
	}
	return netip.AddrPort{}
}

func (s *Socket) Close() error { return s.conn.Close() }
