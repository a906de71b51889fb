package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"driftpursuit/worldclient/internal/logging"
)

func testDialer() *NetDialer {
	return NewDialer(Options{WriteTimeout: 50 * time.Millisecond, Logger: logging.NewTestLogger()})
}

func pollUntil(t *testing.T, conn Conn, want int) []byte {
	t.Helper()
	var got []byte
	buf := make([]byte, 7)
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < want {
		n, err := conn.Poll(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
		if n == 0 {
			if time.Now().After(deadline) {
				t.Fatalf("timed out with %d of %d bytes", len(got), want)
			}
			time.Sleep(time.Millisecond)
		}
	}
	return got
}

func pollClosed(t *testing.T, conn Conn) error {
	t.Helper()
	buf := make([]byte, 64)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := conn.Poll(buf); err != nil {
			return err
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("connection never reported closure")
	return nil
}

func TestTCPConnPollsAndWrites(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		peer, err := ln.Accept()
		if err != nil {
			return
		}
		defer peer.Close()
		_, _ = peer.Write([]byte("0123456789abcdef"))
		buf := make([]byte, 5)
		n, _ := peer.Read(buf)
		received <- buf[:n]
	}()

	conn, err := testDialer().Dial(context.Background(), "tcp://"+ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	n, err := conn.Poll(nil)
	require.NoError(t, err)
	require.Zero(t, n)

	require.Equal(t, "0123456789abcdef", string(pollUntil(t, conn, 16)))

	n, err = conn.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	select {
	case got := <-received:
		require.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatalf("peer never received write")
	}

	require.ErrorIs(t, pollClosed(t, conn), ErrClosed)
}

func TestTCPDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = testDialer().Dial(context.Background(), addr)
	require.Error(t, err)

	_, err = testDialer().Dial(context.Background(), "  ")
	require.Error(t, err)
}

func TestCloseIsIdempotentAndStopsPolling(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	conn := newTCPConn(client, testDialer().Options)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	_, err := conn.Poll(make([]byte, 4))
	require.ErrorIs(t, err, ErrClosed)
	_, err = conn.Write([]byte{1})
	require.ErrorIs(t, err, ErrClosed)
}

func TestWriteTimeoutIsPartialWrite(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	opts := testDialer().Options
	opts.WriteTimeout = 5 * time.Millisecond
	conn := newTCPConn(client, opts)
	defer conn.Close()

	// Nobody reads from the pipe, so the write can only time out.
	n, err := conn.Write([]byte("stalled"))
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestWebSocketConnStreamsBinaryMessages(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = ws.WriteMessage(websocket.BinaryMessage, []byte("abc"))
		_ = ws.WriteMessage(websocket.TextMessage, []byte("ignored"))
		_ = ws.WriteMessage(websocket.BinaryMessage, []byte("defgh"))
		_, data, err := ws.ReadMessage()
		if err == nil {
			received <- data
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialer := testDialer()
	_, err := dialer.Dial(context.Background(), url)
	require.Error(t, err, "handshake without credentials must fail")

	dialer.Options.Header = http.Header{"Authorization": []string{"Bearer t"}}
	conn, err := dialer.Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, "abcdefgh", string(pollUntil(t, conn, 8)))

	n, err := conn.Write([]byte{0x01, 0x02})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	select {
	case got := <-received:
		require.Equal(t, []byte{0x01, 0x02}, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received message")
	}

	err = pollClosed(t, conn)
	require.True(t, errors.Is(err, ErrClosed))
}
