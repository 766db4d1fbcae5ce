package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dispatchkit/dispatch/internal/di"
	"github.com/dispatchkit/dispatch/internal/dispatcher"
	"github.com/dispatchkit/dispatch/internal/reqcontext"
	"github.com/dispatchkit/dispatch/internal/router"
	"github.com/dispatchkit/dispatch/internal/wsmanager"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestListener(d *dispatcher.Dispatcher) *Listener {
	l := New(Config{Addr: ":0"})
	l.d = d
	gin.SetMode(gin.TestMode)
	l.engine = gin.New()
	l.engine.NoRoute(l.handle)
	return l
}

func TestHandleDispatchWritesJSONResponse(t *testing.T) {
	d := dispatcher.New(di.New(), router.New(), wsmanager.NewSessionManager())
	d.RegisterHandler("restful", func(ctx *reqcontext.RESTfulContext) (any, error) {
		return map[string]string{"id": ctx.URLSegments()["user_id"]}, nil
	}, router.Url("api/users/:user_id"))

	l := newTestListener(d)

	req := httptest.NewRequest(http.MethodGet, "/api/users/42", nil)
	rec := httptest.NewRecorder()
	l.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"42"}`, rec.Body.String())
}

func TestHandleDispatchReturns404ForUnknownRoute(t *testing.T) {
	d := dispatcher.New(di.New(), router.New(), wsmanager.NewSessionManager())
	d.RegisterHandler("restful", func(ctx *reqcontext.RESTfulContext) (any, error) {
		return "ok", nil
	}, router.Url("api/known"))

	l := newTestListener(d)

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	rec := httptest.NewRecorder()
	l.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckOriginAllowsConfiguredList(t *testing.T) {
	l := New(Config{AllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, l.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, l.checkOrigin(req))
}

func TestCheckOriginDefaultsToAllowAll(t *testing.T) {
	l := New(Config{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anything.example.com")
	require.True(t, l.checkOrigin(req))
}
