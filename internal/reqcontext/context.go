// Package reqcontext implements the Context hierarchy from SPEC_FULL.md §3:
// a base envelope shared by every transport plus the concrete RESTful, Web,
// Socket, WebSocket, AMQP, and raw-channel variants. Named reqcontext,
// rather than context, so files that also import the standard library's
// context package never collide on the identifier.
package reqcontext

import (
	"context"

	"github.com/dispatchkit/dispatch/internal/apperr"
	"github.com/dispatchkit/dispatch/internal/di"
)

// Base is embedded by every concrete Context type. It satisfies
// router.Context so the Router can evaluate predicates over any of them
// without importing reqcontext back.
type Base struct {
	sessionID string
	url       string
	segments  map[string]string
	attrs     map[string]any

	services *di.Container
	request  *RequestView
	response *ResponseView

	ctx context.Context
}

// NewBase constructs the shared envelope. ctx is the cancellation token
// source: it should be derived from the originating connection so that
// connection loss fires it (see SPEC_FULL.md §5, Cancellation).
func NewBase(ctx context.Context, sessionID, url string, services *di.Container, request *RequestView, response *ResponseView) Base {
	return Base{
		sessionID: sessionID,
		url:       url,
		services:  services,
		request:   request,
		response:  response,
		ctx:       ctx,
	}
}

func (b *Base) SessionID() string             { return b.sessionID }
func (b *Base) URL() string                   { return b.url }
func (b *Base) URLSegments() map[string]string { return b.segments }
func (b *Base) Services() *di.Container       { return b.services }
func (b *Base) Request() *RequestView         { return b.request }
func (b *Base) Response() *ResponseView       { return b.response }
func (b *Base) Context() context.Context      { return b.ctx }
func (b *Base) Done() <-chan struct{}         { return b.ctx.Done() }
func (b *Base) Err() error                    { return b.ctx.Err() }

// SetURLSegments is called by the router's Url predicate on a successful
// match; it satisfies router.Context.
func (b *Base) SetURLSegments(segments map[string]string) {
	b.segments = segments
}

// Value implements router.Context's arbitrary-attribute lookup used by
// Equal/Between/InList/Match/HasValue predicates: url_segments are checked
// first, then attributes set via SetAttr (typically by earlier middleware,
// e.g. an authenticated role extracted from a header).
func (b *Base) Value(key string) (any, bool) {
	if v, ok := b.segments[key]; ok {
		return v, true
	}
	if v, ok := b.attrs[key]; ok {
		return v, true
	}
	return nil, false
}

// SetAttr stashes an arbitrary value for later predicate or handler lookup.
func (b *Base) SetAttr(key string, value any) {
	if b.attrs == nil {
		b.attrs = make(map[string]any)
	}
	b.attrs[key] = value
}

// CheckSchema decodes the request body into dst, returning a
// SchemaValidationError on failure (see SPEC_FULL.md §4.6).
func (b *Base) CheckSchema(dst any) error {
	if b.request == nil {
		return apperr.SchemaValidation("no request body available")
	}
	return b.request.DecodeJSON(dst)
}
