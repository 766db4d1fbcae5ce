package http

import (
	"context"
	"strings"

	"github.com/dispatchkit/dispatch/internal/di"
	"github.com/dispatchkit/dispatch/internal/dispatcher"
	"github.com/dispatchkit/dispatch/internal/reqcontext"
	"github.com/dispatchkit/dispatch/internal/wsmanager"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// handleUpgrade promotes an HTTP connection to a WebSocket session, per
// SPEC_FULL.md §4.4.2: a Session is created and registered, then one
// goroutine drains its outbound channel to the wire while the current
// goroutine loops reading frames and dispatching each as a
// WebSocketContext. The connection's own context is the cancellation token
// source for every frame dispatched on it (SPEC_FULL.md §5): it fires the
// moment the read loop exits, whatever the cause.
func (l *Listener) handleUpgrade(c *gin.Context) {
	path := strings.TrimPrefix(c.Request.URL.Path, "/")

	conn, err := l.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionID := c.GetHeader("X-Session-Id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	session := l.d.Sessions().NewSession(sessionID)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case msg, ok := <-session.Outbound():
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-session.Done():
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		l.dispatchFrame(connCtx, path, sessionID, session, msgType, data)
	}

	// Unregistering closes session.Done(), which stops the write goroutine.
	cancel()
	l.d.Sessions().Unregister(sessionID)
	<-writeDone
}

func (l *Listener) dispatchFrame(connCtx context.Context, path, sessionID string, session *wsmanager.Session, msgType int, data []byte) {
	isText := msgType == websocket.TextMessage
	text := ""
	if isText {
		text = string(data)
	}

	msg := dispatcher.Message{
		SessionID: sessionID,
		Kind:      "websocket",
		Factory: func(scope *di.Container) (dispatcher.Context, error) {
			view := reqcontext.NewRequestView("WS", path, nil, nil, nil)
			view.SetBody(data)
			resp := reqcontext.NewResponseView()
			wsCtx := reqcontext.NewWebSocketContext(connCtx, sessionID, path, scope, view, resp, session, l.d.Sessions(), isText, text, data)
			return wsCtx, nil
		},
	}
	_, _ = l.d.OnMessage(msg)
}
