package dispatcher

import (
	"errors"

	"github.com/dispatchkit/dispatch/internal/apperr"
	"github.com/dispatchkit/dispatch/internal/di"
	"github.com/dispatchkit/dispatch/internal/reqcontext"
	"github.com/dispatchkit/dispatch/internal/router"
)

// Context is the view of a materialized Context the Dispatcher needs to run
// the pipeline: it satisfies router.Context for matching, plus the
// accessors needed for response translation and logging. Every concrete
// type in internal/reqcontext satisfies this through Base.
type Context interface {
	router.Context
	SessionID() string
	Response() *reqcontext.ResponseView
}

// ContextFactory materializes a Context within scope. Listeners build one
// per inbound message/frame/delivery.
type ContextFactory func(scope *di.Container) (Context, error)

// Message is the uniform envelope a Listener hands to the Dispatcher.
type Message struct {
	SessionID string
	Kind      router.ContextKind
	Factory   ContextFactory
}

// OnMessage runs the per-message pipeline described in SPEC_FULL.md §4.3:
// scope creation, context materialization, routing, invocation, response
// translation, and scope disposal. It returns the materialized Context (nil
// if the factory itself failed) and the terminal error, if any — transports
// without a body (Socket/WebSocket/AMQP) use the error to decide
// close/nack, while RESTful/Web transports can rely on ctx.Response() always
// being populated, success or failure.
func (d *Dispatcher) OnMessage(msg Message) (Context, error) {
	scope := d.root.CreateScope()
	defer scope.DisposeScope()

	ctx, err := msg.Factory(scope)
	if err != nil {
		d.log.Error().Err(err).Str("session_id", msg.SessionID).Msg("context factory failed")
		return nil, err
	}

	entry, _, err := d.router.Match(ctx)
	if err != nil {
		d.fail(ctx, err)
		return ctx, err
	}

	result, err := di.Invoke(scope, entry.Handler, ctx)
	if err != nil {
		if apperr.IsKind(err, apperr.KindShortCircuit) {
			// Pipeline exits without further processing; whatever the
			// handler already set on the response is flushed as-is.
			return ctx, nil
		}
		d.fail(ctx, err)
		return ctx, err
	}

	translate(ctx, result)
	return ctx, nil
}

// translate writes a handler's successful return value into the context's
// response, per the per-context-kind rule in SPEC_FULL.md §4.3. A Socket
// handler's []byte return value becomes the frame's response buffer.
// WebSocket and AMQP handlers write their response explicitly; their return
// value is ignored.
func translate(ctx Context, result any) {
	switch c := ctx.(type) {
	case *reqcontext.RESTfulContext:
		if err := c.Response().SetJSON(result); err != nil {
			c.Response().StatusCode = 500
			_ = c.Response().SetJSON(apperr.Internal(err).ToResponse())
		}
	case *reqcontext.WebContext:
		body, _ := result.(string)
		c.Response().SetHTML(body)
	case *reqcontext.SocketContext:
		if body, ok := result.([]byte); ok {
			c.Response().SetBuffer(body)
		}
	}
}

// fail logs the error (no silent swallowing, per SPEC_FULL.md §7) and, for
// body-bearing transports, writes the transport-appropriate error response.
func (d *Dispatcher) fail(ctx Context, err error) {
	var ae *apperr.Error
	kind := apperr.KindInternal
	if errors.As(err, &ae) {
		kind = ae.Kind
	} else {
		ae = apperr.Internal(err)
	}

	d.log.Error().
		Err(err).
		Str("session_id", ctx.SessionID()).
		Str("url", ctx.URL()).
		Str("kind", string(kind)).
		Msg("dispatch failed")

	switch c := ctx.(type) {
	case *reqcontext.RESTfulContext:
		c.Response().StatusCode = ae.StatusCode
		_ = c.Response().SetJSON(ae.ToResponse())
	case *reqcontext.WebContext:
		c.Response().StatusCode = ae.StatusCode
		c.Response().SetHTML("<h1>" + ae.Message + "</h1>")
	}
	// Socket/WebSocket/AMQP: no response body to set. The listener reacts to
	// the returned error (close with code / reject with requeue=false).
}
