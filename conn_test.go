package proxyproto

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Conn_reads_v2_header(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		frame := v2Frame(0x21, 0x11, 12, 10, 1, 1, 1, 10, 2, 2, 2, 0x13, 0x88, 0x17, 0x70)
		client.Write(append(frame, []byte("hello")...))
		client.Close()
	}()

	conn := NewConn(server)
	payload := make([]byte, 16)
	n, err := conn.Read(payload)
	require.NoError(t, err)
	require.Equal(t, "hello", string(payload[:n]))

	require.NoError(t, conn.Err())
	require.Equal(t, "10.1.1.1:5000", conn.RemoteAddr().String())
	require.Equal(t, "10.2.2.2:6000", conn.LocalAddr().String())

	header, err := conn.HeaderResult().V2()
	require.NoError(t, err)
	require.Equal(t, header.Raw, conn.RawHeader())
	require.NotNil(t, conn.ZapFields())
	require.NotNil(t, conn.LogrusFields())
}

func Test_Conn_reads_v1_header(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		client.Write([]byte("PROXY TCP4 10.1.1.1 10.2.2.2 5000 6000\r\nhello"))
		client.Close()
	}()

	conn := NewConn(server)
	payload, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, "hello", string(payload))
	require.Equal(t, "10.1.1.1:5000", conn.RemoteAddr().String())
}

// The proxy may trickle the header; incomplete results drive more reads.
func Test_Conn_reads_header_one_byte_at_a_time(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	frame := v2Frame(0x21, 0x11, 12, 10, 1, 1, 1, 10, 2, 2, 2, 0x13, 0x88, 0x17, 0x70)
	go func() {
		for _, b := range frame {
			client.Write([]byte{b})
		}
		client.Write([]byte("!"))
		client.Close()
	}()

	conn := NewConn(server)
	payload, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, "!", string(payload))
	require.Equal(t, "10.1.1.1:5000", conn.RemoteAddr().String())
}

func Test_Conn_local_command_keeps_socket_addrs(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		client.Write(LocalV2Header())
		client.Write([]byte("x"))
		client.Close()
	}()

	conn := NewConn(server)
	payload, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, "x", string(payload))
	require.Equal(t, server.RemoteAddr(), conn.RemoteAddr())
}

func Test_Conn_passes_through_other_protocols(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		client.Write([]byte("PING other protocol\r\n"))
		client.Close()
	}()

	conn := NewConn(server)
	payload, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, "PING other protocol\r\n", string(payload))
	require.NoError(t, conn.Err())
	require.Nil(t, conn.RawHeader())
	require.Equal(t, server.RemoteAddr(), conn.RemoteAddr())
}

func Test_Conn_surfaces_malformed_headers(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		client.Write([]byte("PROXY TCP4 junk\r\n"))
		client.Close()
	}()

	conn := NewConn(server)
	_, err := conn.Read(make([]byte, 16))
	require.Error(t, err)

	var parseErr *V1ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, V1MissingDestinationAddress, parseErr.Kind)
}

func Test_Conn_post_read_header_hook(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		client.Write([]byte("PROXY UNKNOWN\r\n"))
		client.Close()
	}()

	var seen HeaderResult
	conn := NewConn(server, WithPostReadHeader(func(result HeaderResult, err error) {
		seen = result
	}))
	_, _ = io.ReadAll(conn)

	require.True(t, seen.IsComplete())
	require.Equal(t, Version1, seen.Version())
}

func Test_Conn_disabled(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		client.Write([]byte("PROXY UNKNOWN\r\n"))
		client.Close()
	}()

	conn := NewConn(server, WithDisableProxyProto(true))
	payload, err := io.ReadAll(conn)
	require.NoError(t, err)
	require.Equal(t, "PROXY UNKNOWN\r\n", string(payload))
	require.Nil(t, conn.RawHeader())
}

func Test_Conn_header_must_fit_read_buffer(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		// incomplete header bytes that fill the whole read buffer
		client.Write(v2Signature[:8])
		client.Close()
	}()

	conn := NewConn(server, WithReadBufferSize(8))
	_, err := conn.Read(make([]byte, 16))
	require.Error(t, err)
	require.Contains(t, err.Error(), "8 byte read buffer")
}

func Test_Listener(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ln := NewListener(inner)
	defer ln.Close()
	require.Equal(t, inner.Addr(), ln.Addr())

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("PROXY TCP4 198.51.100.1 198.51.100.2 4000 5000\r\npayload"))
	}()

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	payload := make([]byte, 16)
	n, err := conn.Read(payload)
	require.NoError(t, err)
	require.Equal(t, "payload", string(payload[:n]))
	require.Equal(t, "198.51.100.1:4000", conn.RemoteAddr().String())
	<-done
}
