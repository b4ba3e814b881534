package transport_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Homiakus/motto/internal/model"
	"github.com/Homiakus/motto/internal/transport"
)

func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			conn.Write([]byte("OK " + scanner.Text() + "\n"))
		}
	}()
	return ln.Addr().String()
}

func TestTCPSendReceivesEchoedResponse(t *testing.T) {
	addr := echoServer(t)
	tr, err := transport.DialTCP(context.Background(), addr)
	require.NoError(t, err)
	defer tr.Close()

	resp, err := tr.Send(context.Background(), "PING", time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "OK PING", resp.Line)
}

func TestTCPSendTimesOutWithoutResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(time.Second)
	}()

	tr, err := transport.DialTCP(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Send(context.Background(), "PING", time.Now().Add(20*time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTimeout)
}
