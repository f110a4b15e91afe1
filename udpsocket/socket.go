// Package udpsocket defines the UDP transport contract §6 leaves as an
// external collaborator, plus a default net.UDPConn-backed
// implementation. The orchestrator (srtconn) depends only on the Socket
// interface, following the teacher's convention of depending on a
// minimal transport interface rather than net.Conn directly
// (client2/connection.go takes a net.PacketConn-shaped dependency so
// tests can substitute an in-memory transport).
package udpsocket

import (
	"net"
	"time"
)

// Socket is the minimal UDP transport contract the orchestrator needs.
type Socket interface {
	Bind(addr *net.UDPAddr) error
	Connect(addr *net.UDPAddr) error
	Send(b []byte) (int, error)
	SendTo(b []byte, addr *net.UDPAddr) (int, error)
	Recv(b []byte) (n int, from *net.UDPAddr, err error)
	SetNonBlocking(bool) error
	SetOption(name string, value int) error
	Close() error
}

// UDPSocket is the default Socket implementation backed by net.UDPConn.
type UDPSocket struct {
	conn *net.UDPConn
	peer *net.UDPAddr
}

// Bind opens a UDP socket listening on addr.
func (s *UDPSocket) Bind(addr *net.UDPAddr) error {
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// Connect fixes the peer Send writes to without an explicit destination.
// If the socket is not yet open (the Caller side, before any Bind), it
// dials a fresh UDP conn to addr. If the socket is already bound (the
// Listener side, replying to whichever peer its induction came from), it
// only records the peer so the listener keeps its original bound local
// port instead of losing it to a freshly dialed ephemeral one.
func (s *UDPSocket) Connect(addr *net.UDPAddr) error {
	if s.conn == nil {
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			return err
		}
		s.conn = conn
		return nil
	}
	s.peer = addr
	return nil
}

// Send writes b to the connected or fixed peer.
func (s *UDPSocket) Send(b []byte) (int, error) {
	if s.peer != nil {
		return s.conn.WriteToUDP(b, s.peer)
	}
	return s.conn.Write(b)
}

// SendTo writes b to an explicit destination, for listener-side replies
// before a peer-specific connected socket exists.
func (s *UDPSocket) SendTo(b []byte, addr *net.UDPAddr) (int, error) {
	return s.conn.WriteToUDP(b, addr)
}

// Recv reads one datagram into b, reporting its source address.
func (s *UDPSocket) Recv(b []byte) (int, *net.UDPAddr, error) {
	n, addr, err := s.conn.ReadFromUDP(b)
	return n, addr, err
}

// SetNonBlocking approximates non-blocking reads over the blocking
// net.UDPConn API: when enabled it sets a read deadline one millisecond
// ahead, so Recv returns a queued datagram or times out almost at once;
// when disabled it clears the read deadline. Writes are not affected.
func (s *UDPSocket) SetNonBlocking(nonBlocking bool) error {
	if !nonBlocking {
		return s.conn.SetReadDeadline(time.Time{})
	}
	return s.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
}

// SetOption sets a socket buffer-size option; name is "recvbuf" or
// "sendbuf", matching the only two tunables §6's contract names.
func (s *UDPSocket) SetOption(name string, value int) error {
	switch name {
	case "recvbuf":
		return s.conn.SetReadBuffer(value)
	case "sendbuf":
		return s.conn.SetWriteBuffer(value)
	default:
		return nil
	}
}

// Close releases the underlying socket.
func (s *UDPSocket) Close() error {
	return s.conn.Close()
}
