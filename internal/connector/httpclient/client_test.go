package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dispatchkit/dispatch/internal/apperr"
	"github.com/stretchr/testify/require"
)

func TestGetParsesJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain") // deliberately wrong, to prove JSON-first parsing
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := c.Get(context.Background(), "/widgets/42")
	require.NoError(t, err)
	require.True(t, resp.IsJSON)
	require.Equal(t, map[string]any{"id": "42"}, resp.JSON)
}

func TestGetFallsBackToTextOnNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text response"))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := c.Get(context.Background(), "/")
	require.NoError(t, err)
	require.False(t, resp.IsJSON)
	require.Equal(t, "plain text response", resp.Text)
}

func TestRaiseOnErrorDefaultsTrueAndReturnsConnectorIOError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found"}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := c.Get(context.Background(), "/missing")
	require.Error(t, err)
	require.True(t, apperr.IsKind(err, apperr.KindConnectorIO))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRaiseOnErrorFalseSuppressesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	noRaise := false
	c, err := New(Config{BaseURL: srv.URL, RaiseOnError: &noRaise})
	require.NoError(t, err)

	resp, err := c.Get(context.Background(), "/")
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestDefaultAndPerCallHeadersAreSent(t *testing.T) {
	var gotAuth, gotCustom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("X-Custom")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, DefaultHeaders: map[string]string{"Authorization": "Bearer token"}})
	require.NoError(t, err)

	_, err = c.Post(context.Background(), "/submit", WithHeader("X-Custom", "value"), WithJSONBody(map[string]string{"a": "b"}))
	require.NoError(t, err)
	require.Equal(t, "Bearer token", gotAuth)
	require.Equal(t, "value", gotCustom)
}
