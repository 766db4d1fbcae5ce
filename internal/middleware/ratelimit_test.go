package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(limiter *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func doGet(r *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiterAllowsUpToBurst(t *testing.T) {
	r := newTestRouter(NewRateLimiter(1, 3))

	for i := 0; i < 3; i++ {
		w := doGet(r, "10.0.0.1:1234")
		require.Equal(t, http.StatusOK, w.Code, "request %d should be allowed within burst", i+1)
	}

	w := doGet(r, "10.0.0.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimiterTracksClientsSeparately(t *testing.T) {
	r := newTestRouter(NewRateLimiter(1, 1))

	w := doGet(r, "10.0.0.1:1234")
	require.Equal(t, http.StatusOK, w.Code)
	w = doGet(r, "10.0.0.1:1234")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	w = doGet(r, "10.0.0.2:1234")
	assert.Equal(t, http.StatusOK, w.Code, "a different client IP should have its own bucket")
}
