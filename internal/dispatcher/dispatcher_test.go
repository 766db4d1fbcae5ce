package dispatcher

import (
	"context"
	"net/url"
	"testing"

	"github.com/dispatchkit/dispatch/internal/apperr"
	"github.com/dispatchkit/dispatch/internal/di"
	"github.com/dispatchkit/dispatch/internal/reqcontext"
	"github.com/dispatchkit/dispatch/internal/router"
	"github.com/dispatchkit/dispatch/internal/wsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher() *Dispatcher {
	return New(di.New(), router.New(), wsmanager.NewSessionManager())
}

func restfulFactory(path string) ContextFactory {
	return func(scope *di.Container) (Context, error) {
		req := reqcontext.NewRequestView("GET", path, url.Values{}, nil, nil)
		resp := reqcontext.NewResponseView()
		return reqcontext.NewRESTfulContext(context.Background(), "sess-1", path, scope, req, resp), nil
	}
}

func webFactory(path string) ContextFactory {
	return func(scope *di.Container) (Context, error) {
		req := reqcontext.NewRequestView("GET", path, url.Values{}, nil, nil)
		resp := reqcontext.NewResponseView()
		return reqcontext.NewWebContext(context.Background(), "sess-1", path, scope, req, resp), nil
	}
}

func TestRESTfulGETWithPathParameter(t *testing.T) {
	d := newTestDispatcher()
	d.RegisterHandler("restful", func(ctx *reqcontext.RESTfulContext) (any, error) {
		return map[string]string{"id": ctx.URLSegments()["user_id"]}, nil
	}, router.Url("api/users/:user_id"))

	ctx, err := d.OnMessage(Message{
		SessionID: "sess-1",
		Kind:      "restful",
		Factory:   restfulFactory("api/users/42"),
	})
	require.NoError(t, err)
	restful := ctx.(*reqcontext.RESTfulContext)
	assert.Equal(t, "application/json; charset=utf-8", restful.Response().ContentType)
	assert.Equal(t, map[string]string{"id": "42"}, restful.Response().JSONValue)
}

func TestAutoRouterTwoContextKinds(t *testing.T) {
	d := newTestDispatcher()
	d.RegisterHandler("restful", func(ctx *reqcontext.RESTfulContext) (any, error) {
		return "restful-ok", nil
	}, router.Url("api/x"))
	d.RegisterHandler("web", func(ctx *reqcontext.WebContext) (any, error) {
		return "<h1>home</h1>", nil
	}, router.Url("home.html"))

	restfulCtx, err := d.OnMessage(Message{SessionID: "s1", Kind: "restful", Factory: restfulFactory("api/x")})
	require.NoError(t, err)
	assert.Equal(t, "application/json; charset=utf-8", restfulCtx.Response().ContentType)

	webCtx, err := d.OnMessage(Message{SessionID: "s1", Kind: "web", Factory: webFactory("home.html")})
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", webCtx.Response().ContentType)

	notFoundCtx, err := d.OnMessage(Message{SessionID: "s1", Kind: "restful", Factory: restfulFactory("unknown")})
	require.Error(t, err)
	assert.Equal(t, 404, notFoundCtx.Response().StatusCode)
}

func TestHotSwapHandlerDynamicRebuild(t *testing.T) {
	d := newTestDispatcher()
	handlerA := func(ctx *reqcontext.RESTfulContext) (any, error) { return "A", nil }
	handlerB := func(ctx *reqcontext.RESTfulContext) (any, error) { return "B", nil }

	d.RegisterHandler("restful", handlerA, router.Url("api/v1"))
	ctx, err := d.OnMessage(Message{SessionID: "s1", Kind: "restful", Factory: restfulFactory("api/v1")})
	require.NoError(t, err)
	assert.Equal(t, "A", ctx.(*reqcontext.RESTfulContext).Response().JSONValue)

	d.UnregisterHandler("restful", handlerA)
	d.RegisterHandler("restful", handlerB, router.Url("api/v1"))

	ctx, err = d.OnMessage(Message{SessionID: "s1", Kind: "restful", Factory: restfulFactory("api/v1")})
	require.NoError(t, err)
	assert.Equal(t, "B", ctx.(*reqcontext.RESTfulContext).Response().JSONValue)
}

func TestShortCircuitFlushesResponseAsIs(t *testing.T) {
	d := newTestDispatcher()
	d.RegisterHandler("restful", func(ctx *reqcontext.RESTfulContext) (any, error) {
		_ = ctx.Response().SetJSON(map[string]string{"already": "set"})
		return nil, apperr.ShortCircuit("handled manually")
	}, router.Url("api/manual"))

	ctx, err := d.OnMessage(Message{SessionID: "s1", Kind: "restful", Factory: restfulFactory("api/manual")})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"already": "set"}, ctx.(*reqcontext.RESTfulContext).Response().JSONValue)
}

func TestDependencyUnresolvedBecomesInternalServerError(t *testing.T) {
	d := newTestDispatcher()
	type missing struct{}
	d.RegisterHandler("restful", func(ctx *reqcontext.RESTfulContext, m *missing) (any, error) {
		return "unreachable", nil
	}, router.Url("api/broken"))

	ctx, err := d.OnMessage(Message{SessionID: "s1", Kind: "restful", Factory: restfulFactory("api/broken")})
	require.Error(t, err)
	assert.Equal(t, 500, ctx.(*reqcontext.RESTfulContext).Response().StatusCode)
}
