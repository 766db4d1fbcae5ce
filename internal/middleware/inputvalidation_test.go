package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidatorRouter(v *InputValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(v.Middleware())
	r.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestInputValidatorAllowsOrdinaryRequest(t *testing.T) {
	r := newValidatorRouter(NewInputValidator())
	req := httptest.NewRequest(http.MethodGet, "/test?name=alice", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInputValidatorRejectsPathTraversal(t *testing.T) {
	r := newValidatorRouter(NewInputValidator())
	req := httptest.NewRequest(http.MethodGet, "/test/../../etc/passwd", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInputValidatorRejectsSQLInjectionInQuery(t *testing.T) {
	r := newValidatorRouter(NewInputValidator())
	req := httptest.NewRequest(http.MethodGet, "/test?q="+"union%20select%20password%20from%20users", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInputValidatorRejectsCommandInjectionInQuery(t *testing.T) {
	r := newValidatorRouter(NewInputValidator())
	req := httptest.NewRequest(http.MethodGet, "/test?cmd=ls%3Brm%20-rf", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSanitizeJSONMiddlewareStripsHTML(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewInputValidator()
	r := gin.New()
	r.Use(v.SanitizeJSONMiddleware())

	var captured map[string]any
	r.POST("/test", func(c *gin.Context) {
		raw, ok := c.Get("sanitized_json")
		require.True(t, ok)
		captured = raw.(map[string]any)
		c.String(http.StatusOK, "ok")
	})

	body := `{"name":"<script>alert(1)</script>hello"}`
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", captured["name"])
}

func TestSanitizeJSONMiddlewarePassesThroughNonJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewInputValidator()
	r := gin.New()
	r.Use(v.SanitizeJSONMiddleware())
	r.POST("/test", func(c *gin.Context) {
		_, ok := c.Get("sanitized_json")
		assert.False(t, ok)
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader("plain text"))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInputValidatorSanitizeString(t *testing.T) {
	v := NewInputValidator()
	assert.Equal(t, "hello", v.SanitizeString("<b>hello</b>"))
}
