package tcp

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/dispatchkit/dispatch/internal/di"
	"github.com/dispatchkit/dispatch/internal/dispatcher"
	"github.com/dispatchkit/dispatch/internal/reqcontext"
	"github.com/dispatchkit/dispatch/internal/router"
	"github.com/dispatchkit/dispatch/internal/wsmanager"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestLengthPrefixFramerRoundTrip(t *testing.T) {
	var buf bufioBuffer
	framer := lengthPrefixFramer{}
	require.NoError(t, framer.WriteFrame(&buf, []byte("hello")))

	got, err := framer.ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestBidirectionalEchoesUppercasedFrame(t *testing.T) {
	d := dispatcher.New(di.New(), router.New(), wsmanager.NewSessionManager())
	d.RegisterHandler("socket", func(ctx *reqcontext.SocketContext) ([]byte, error) {
		body, err := ctx.Request().Body()
		require.NoError(t, err)
		upper := make([]byte, len(body))
		for i, b := range body {
			if b >= 'a' && b <= 'z' {
				b -= 'a' - 'A'
			}
			upper[i] = b
		}
		return upper, nil
	})

	addr := freeAddr(t)
	l := New(Config{Addr: addr})
	require.NoError(t, l.Initialize(d))
	defer l.Shutdown(nil)

	time.Sleep(20 * time.Millisecond)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	framer := lengthPrefixFramer{}
	require.NoError(t, framer.WriteFrame(conn, []byte("hello")))

	resp, err := framer.ReadFrame(bufio.NewReader(conn))
	require.NoError(t, err)
	require.Equal(t, "HELLO", string(resp))
}

func TestStrictFrameOrderingWithinSession(t *testing.T) {
	var order []int
	d := dispatcher.New(di.New(), router.New(), wsmanager.NewSessionManager())
	d.RegisterHandler("socket", func(ctx *reqcontext.SocketContext) ([]byte, error) {
		body, _ := ctx.Request().Body()
		order = append(order, int(body[0]))
		return nil, nil
	})

	addr := freeAddr(t)
	l := New(Config{Addr: addr})
	require.NoError(t, l.Initialize(d))
	defer l.Shutdown(nil)

	time.Sleep(20 * time.Millisecond)
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	framer := lengthPrefixFramer{}
	for i := 0; i < 5; i++ {
		require.NoError(t, framer.WriteFrame(conn, []byte{byte(i)}))
	}
	time.Sleep(50 * time.Millisecond)

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

// bufioBuffer is a minimal in-memory io.ReadWriter for framer round-trip
// tests, avoiding a net.Conn pair just to exercise encode/decode symmetry.
type bufioBuffer struct {
	data []byte
}

func (b *bufioBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *bufioBuffer) Read(p []byte) (int, error) {
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}
