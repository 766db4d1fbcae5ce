package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runWithMiddleware(t *testing.T, mw gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "test") })

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSecurityHeadersSetsHardeningHeaders(t *testing.T) {
	w := runWithMiddleware(t, SecurityHeaders())

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Strict-Transport-Security"), "max-age=31536000")
	assert.Contains(t, w.Header().Get("Referrer-Policy"), "strict-origin")

	csp := w.Header().Get("Content-Security-Policy")
	require.NotEmpty(t, csp)
	assert.Contains(t, csp, "default-src 'self'")
	assert.Contains(t, csp, "nonce-")
}

func TestSecurityHeadersRelaxedAllowsSameOriginFraming(t *testing.T) {
	w := runWithMiddleware(t, SecurityHeadersRelaxed())

	assert.Equal(t, "SAMEORIGIN", w.Header().Get("X-Frame-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "unsafe-inline")
}

func TestSecurityHeadersNonceIsUniquePerRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders())

	var nonces []string
	r.GET("/test", func(c *gin.Context) {
		n, ok := c.Get("csp_nonce")
		require.True(t, ok)
		nonces = append(nonces, n.(string))
		c.String(http.StatusOK, "test")
	})

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
	}

	require.Len(t, nonces, 5)
	seen := make(map[string]bool)
	for _, n := range nonces {
		assert.False(t, seen[n], "nonce %q should be unique", n)
		seen[n] = true
	}
}
