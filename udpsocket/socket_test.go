package udpsocket

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindSendRecvRoundTrip(t *testing.T) {
	var server UDPSocket
	require.NoError(t, server.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}))
	defer server.Close()

	serverAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: server.conn.LocalAddr().(*net.UDPAddr).Port}

	var client UDPSocket
	require.NoError(t, client.Connect(serverAddr))
	defer client.Close()

	_, err := client.Send([]byte("ping"))
	require.NoError(t, err)

	require.NoError(t, server.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 16)
	n, _, err := server.Recv(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestSetOptionAcceptsBufferSizes(t *testing.T) {
	var s UDPSocket
	require.NoError(t, s.Bind(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}))
	defer s.Close()

	assert.NoError(t, s.SetOption("recvbuf", 4096))
	assert.NoError(t, s.SetOption("sendbuf", 4096))
	assert.NoError(t, s.SetOption("unknown", 4096))
}
