package reqcontext

import (
	"context"

	"github.com/dispatchkit/dispatch/internal/di"
	"github.com/dispatchkit/dispatch/internal/wsmanager"
)

// RESTfulContext is used for routes whose response body is a JSON value.
type RESTfulContext struct {
	Base
}

func NewRESTfulContext(ctx context.Context, sessionID, url string, services *di.Container, request *RequestView, response *ResponseView) *RESTfulContext {
	return &RESTfulContext{Base: NewBase(ctx, sessionID, url, services, request, response)}
}

// WebContext is used for routes whose response body is HTML text.
type WebContext struct {
	Base
}

func NewWebContext(ctx context.Context, sessionID, url string, services *di.Container, request *RequestView, response *ResponseView) *WebContext {
	return &WebContext{Base: NewBase(ctx, sessionID, url, services, request, response)}
}

// SocketContext carries a raw TCP frame. Request().Body()/Response().Raw are
// the frame's bytes; the TCP listener passes the peer's remote address as
// the URL, so there is no URL-as-path concept.
type SocketContext struct {
	Base
}

func NewSocketContext(ctx context.Context, sessionID, url string, services *di.Container, request *RequestView, response *ResponseView) *SocketContext {
	return &SocketContext{Base: NewBase(ctx, sessionID, url, services, request, response)}
}

// WebSocketContext wraps one inbound frame on an established session.
type WebSocketContext struct {
	Base

	Session *wsmanager.Session
	Manager *wsmanager.SessionManager

	IsText bool
	Text   string
	Binary []byte
}

func NewWebSocketContext(ctx context.Context, sessionID, url string, services *di.Container, request *RequestView, response *ResponseView, session *wsmanager.Session, manager *wsmanager.SessionManager, isText bool, text string, binary []byte) *WebSocketContext {
	return &WebSocketContext{
		Base:    NewBase(ctx, sessionID, url, services, request, response),
		Session: session,
		Manager: manager,
		IsText:  isText,
		Text:    text,
		Binary:  binary,
	}
}

// JSON decodes a text frame as JSON into dst.
func (c *WebSocketContext) JSON(dst any) error {
	return c.Request().DecodeJSON(dst)
}

// Send enqueues a frame on this session, as a convenience over
// c.Session.Send.
func (c *WebSocketContext) Send(message []byte) error {
	return c.Session.Send(message)
}

// SendJSON marshals v and enqueues it on this session.
func (c *WebSocketContext) SendJSON(v any) error {
	return c.Session.SendJSON(v)
}

// AmqpContext wraps one inbound AMQP delivery.
type AmqpContext struct {
	Base

	DeliveryTag uint64
	Exchange    string
	RoutingKey  string
}

func NewAmqpContext(ctx context.Context, sessionID, url string, services *di.Container, request *RequestView, response *ResponseView, deliveryTag uint64, exchange, routingKey string) *AmqpContext {
	return &AmqpContext{
		Base:        NewBase(ctx, sessionID, url, services, request, response),
		DeliveryTag: deliveryTag,
		Exchange:    exchange,
		RoutingKey:  routingKey,
	}
}

// JSON decodes the delivery body as JSON into dst.
func (c *AmqpContext) JSON(dst any) error {
	return c.Request().DecodeJSON(dst)
}

// ClientSourceContext and ServerSourceContext are the raw bidirectional
// channel carriers named in spec.md §3 for handlers that drive a transport
// directly rather than through request/response semantics (e.g. a handler
// that owns both halves of a duplex stream). Framing and lifecycle are left
// to the handler; the Context only carries the channels and cancellation.
type ClientSourceContext struct {
	Base

	Outbound chan<- []byte
	Inbound  <-chan []byte
}

func NewClientSourceContext(ctx context.Context, sessionID, url string, services *di.Container, outbound chan<- []byte, inbound <-chan []byte) *ClientSourceContext {
	return &ClientSourceContext{
		Base:     NewBase(ctx, sessionID, url, services, nil, nil),
		Outbound: outbound,
		Inbound:  inbound,
	}
}

type ServerSourceContext struct {
	Base

	Outbound chan<- []byte
	Inbound  <-chan []byte
}

func NewServerSourceContext(ctx context.Context, sessionID, url string, services *di.Container, outbound chan<- []byte, inbound <-chan []byte) *ServerSourceContext {
	return &ServerSourceContext{
		Base:     NewBase(ctx, sessionID, url, services, nil, nil),
		Outbound: outbound,
		Inbound:  inbound,
	}
}
