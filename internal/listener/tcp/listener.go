// Package tcp implements the raw TCP Listener described in SPEC_FULL.md
// §4.4.3: a pair of ports (receiver, sender) or a single bidirectional port,
// tagging each accepted connection with a session identifier and feeding a
// SocketContext per logical frame, framed by default as a 4-byte big-endian
// length prefix followed by the payload.
package tcp

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/dispatchkit/dispatch/internal/apperr"
	"github.com/dispatchkit/dispatch/internal/di"
	"github.com/dispatchkit/dispatch/internal/dispatcher"
	"github.com/dispatchkit/dispatch/internal/logging"
	"github.com/dispatchkit/dispatch/internal/reqcontext"
	"github.com/dispatchkit/dispatch/internal/router"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxFrameSize guards against a corrupt or hostile length prefix turning
// into an unbounded allocation.
const maxFrameSize = 16 << 20

// Framer reads and writes one logical frame's payload at a time. The
// default, lengthPrefixFramer, is length-prefixed per SPEC_FULL.md §4.4.3;
// a deployment may supply its own for a different wire format.
type Framer interface {
	ReadFrame(r *bufio.Reader) ([]byte, error)
	WriteFrame(w io.Writer, payload []byte) error
}

type lengthPrefixFramer struct{}

func (lengthPrefixFramer) ReadFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, errors.New("tcp: frame exceeds maximum size")
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (lengthPrefixFramer) WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// DefaultFramer is the length-prefixed framing used when Config.Framer is nil.
var DefaultFramer Framer = lengthPrefixFramer{}

// Config configures the TCP Listener's bind addresses and framing.
type Config struct {
	// Addr, if set, is a single bidirectional address: each accepted
	// connection both receives frames and is written responses on.
	Addr string

	// ReceiverAddr/SenderAddr, if set instead of Addr, split inbound and
	// outbound traffic across two listening ports. A sender-side
	// connection identifies which session it serves by sending one frame
	// whose payload is the session id, before any response traffic flows.
	ReceiverAddr string
	SenderAddr   string

	// Kind is the ContextKind SocketContext messages are dispatched under.
	// Defaults to "socket".
	Kind router.ContextKind

	Framer Framer
}

// Listener is the raw TCP accept loop.
type Listener struct {
	cfg    Config
	d      *dispatcher.Dispatcher
	framer Framer
	log    *zerolog.Logger

	receiverLn net.Listener
	senderLn   net.Listener
	bidiLn     net.Listener

	mu        sync.Mutex
	senderOut map[string]net.Conn // sessionID -> sender-side connection, dual-port mode only
}

// New returns a Listener not yet bound to a Dispatcher.
func New(cfg Config) *Listener {
	if cfg.Kind == "" {
		cfg.Kind = "socket"
	}
	framer := cfg.Framer
	if framer == nil {
		framer = DefaultFramer
	}
	return &Listener{
		cfg:       cfg,
		framer:    framer,
		log:       logging.Component("listener.tcp"),
		senderOut: make(map[string]net.Conn),
	}
}

// Initialize opens the configured port(s) and starts their accept loops in
// background goroutines.
func (l *Listener) Initialize(d *dispatcher.Dispatcher) error {
	l.d = d

	if l.cfg.Addr != "" {
		ln, err := net.Listen("tcp", l.cfg.Addr)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "listener/tcp: bind bidirectional port", err)
		}
		l.bidiLn = ln
		go l.acceptLoop(ln, l.handleBidirectional)
		l.log.Info().Str("addr", l.cfg.Addr).Msg("tcp listener initialized (bidirectional)")
		return nil
	}

	recvLn, err := net.Listen("tcp", l.cfg.ReceiverAddr)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "listener/tcp: bind receiver port", err)
	}
	l.receiverLn = recvLn

	sendLn, err := net.Listen("tcp", l.cfg.SenderAddr)
	if err != nil {
		_ = recvLn.Close()
		return apperr.Wrap(apperr.KindInternal, "listener/tcp: bind sender port", err)
	}
	l.senderLn = sendLn

	go l.acceptLoop(recvLn, l.handleReceiver)
	go l.acceptLoop(sendLn, l.handleSender)
	l.log.Info().Str("receiver", l.cfg.ReceiverAddr).Str("sender", l.cfg.SenderAddr).Msg("tcp listener initialized (dual-port)")
	return nil
}

// Shutdown closes the listening sockets. Connections already accepted are
// not closed here; each stays open until its peer disconnects.
func (l *Listener) Shutdown(ctx context.Context) error {
	var first error
	for _, ln := range []net.Listener{l.bidiLn, l.receiverLn, l.senderLn} {
		if ln == nil {
			continue
		}
		if err := ln.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (l *Listener) acceptLoop(ln net.Listener, handle func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.Warn().Err(err).Msg("tcp accept failed")
			continue
		}
		go handle(conn)
	}
}

// handleBidirectional reads frames and writes each dispatch's response back
// on the same connection, in strict per-session receive order: one
// goroutine per connection, frames dispatched synchronously one at a time.
func (l *Listener) handleBidirectional(conn net.Conn) {
	defer conn.Close()
	sessionID := uuid.NewString()
	r := bufio.NewReader(conn)

	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		payload, err := l.framer.ReadFrame(r)
		if err != nil {
			if err != io.EOF {
				l.log.Debug().Err(err).Str("session_id", sessionID).Msg("tcp connection closed")
			}
			return
		}
		response := l.dispatchFrame(connCtx, conn.RemoteAddr().String(), sessionID, payload)
		if response != nil {
			if err := l.framer.WriteFrame(conn, response); err != nil {
				l.log.Warn().Err(err).Str("session_id", sessionID).Msg("tcp write failed")
				return
			}
		}
	}
}

// handleReceiver reads frames on the receiver port and dispatches them,
// writing any response out through the paired sender-side connection for
// the same session, if one has registered.
func (l *Listener) handleReceiver(conn net.Conn) {
	defer conn.Close()
	sessionID := uuid.NewString()
	r := bufio.NewReader(conn)

	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		payload, err := l.framer.ReadFrame(r)
		if err != nil {
			if err != io.EOF {
				l.log.Debug().Err(err).Str("session_id", sessionID).Msg("tcp receiver connection closed")
			}
			l.forgetSender(sessionID)
			return
		}
		response := l.dispatchFrame(connCtx, conn.RemoteAddr().String(), sessionID, payload)
		if response != nil {
			l.writeToSender(sessionID, response)
		}
	}
}

// handleSender accepts a sender-side connection whose very first frame is
// the session id it serves; every subsequent write to that session is
// routed to this connection until it closes.
func (l *Listener) handleSender(conn net.Conn) {
	r := bufio.NewReader(conn)
	idFrame, err := l.framer.ReadFrame(r)
	if err != nil {
		l.log.Warn().Err(err).Msg("tcp sender handshake failed")
		conn.Close()
		return
	}
	sessionID := string(idFrame)

	l.mu.Lock()
	l.senderOut[sessionID] = conn
	l.mu.Unlock()

	// Hold the connection open until the peer closes it; writes happen
	// from writeToSender on other goroutines.
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			l.forgetSender(sessionID)
			conn.Close()
			return
		}
	}
}

func (l *Listener) writeToSender(sessionID string, payload []byte) {
	l.mu.Lock()
	conn, ok := l.senderOut[sessionID]
	l.mu.Unlock()
	if !ok {
		l.log.Warn().Str("session_id", sessionID).Msg("tcp: no sender connection registered for session")
		return
	}
	if err := l.framer.WriteFrame(conn, payload); err != nil {
		l.log.Warn().Err(err).Str("session_id", sessionID).Msg("tcp sender write failed")
	}
}

func (l *Listener) forgetSender(sessionID string) {
	l.mu.Lock()
	delete(l.senderOut, sessionID)
	l.mu.Unlock()
}

// dispatchFrame runs one frame synchronously through the Dispatcher,
// guaranteeing the strict-receive-order invariant in SPEC_FULL.md §5: the
// read loop does not read the next frame until this call returns. ctx is
// cancelled by the caller when the originating connection closes, so
// handlers observing ctx.Done() see the connection loss promptly. It
// returns the response bytes to write back, or nil if the handler produced
// no body (advisory return, per spec — Socket handlers may also write
// directly through the context, a path not modeled here since SocketContext
// carries no live connection reference).
func (l *Listener) dispatchFrame(ctx context.Context, remoteAddr, sessionID string, payload []byte) []byte {
	msg := dispatcher.Message{
		SessionID: sessionID,
		Kind:      l.cfg.Kind,
		Factory: func(scope *di.Container) (dispatcher.Context, error) {
			view := reqcontext.NewRequestView("TCP", remoteAddr, nil, nil, nil)
			view.SetBody(payload)
			resp := reqcontext.NewResponseView()
			return reqcontext.NewSocketContext(ctx, sessionID, remoteAddr, scope, view, resp), nil
		},
	}

	dctx, err := l.d.OnMessage(msg)
	if err != nil {
		l.log.Warn().Err(err).Str("session_id", sessionID).Msg("tcp dispatch failed")
		return nil
	}
	if dctx == nil {
		return nil
	}
	resp := dctx.Response()
	if resp == nil || len(resp.Raw) == 0 {
		return nil
	}
	return resp.Raw
}
