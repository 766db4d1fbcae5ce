package options

import (
	"testing"

	"github.com/dispatchkit/dispatch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dbConfig struct {
	URL      string `json:"url"`
	PoolSize int    `json:"pool_size"`
}

func testTree(t *testing.T) *config.Tree {
	t.Helper()
	tree, err := config.Parse([]byte(`{
		"primary": {"url": "mongodb://primary", "pool_size": 10},
		"replica": {"url": "mongodb://replica", "pool_size": 2}
	}`))
	require.NoError(t, err)
	return tree
}

func TestOptionsGetDecodesByTag(t *testing.T) {
	opts := New[dbConfig](testTree(t))

	primary, err := opts.Get("primary")
	require.NoError(t, err)
	assert.Equal(t, "mongodb://primary", primary.URL)
	assert.Equal(t, 10, primary.PoolSize)

	replica, err := opts.Get("replica")
	require.NoError(t, err)
	assert.Equal(t, "mongodb://replica", replica.URL)
	assert.Equal(t, 2, replica.PoolSize)
}

func TestOptionsGetCachesPerTag(t *testing.T) {
	opts := New[dbConfig](testTree(t))

	first, err := opts.Get("primary")
	require.NoError(t, err)
	second, err := opts.Get("primary")
	require.NoError(t, err)
	assert.Same(t, first, second, "repeated Get of the same tag should return the cached instance")

	replica, err := opts.Get("replica")
	require.NoError(t, err)
	assert.NotSame(t, first, replica, "distinct tags must not share a cached instance")
}

func TestOptionsGetReturnsErrorForMissingTag(t *testing.T) {
	opts := New[dbConfig](testTree(t))

	_, err := opts.Get("missing")
	require.Error(t, err)
}

func TestOptionsMustGetPanicsOnMissingTag(t *testing.T) {
	opts := New[dbConfig](testTree(t))

	assert.Panics(t, func() {
		opts.MustGet("missing")
	})
}

func TestOptionsMustGetReturnsValueForKnownTag(t *testing.T) {
	opts := New[dbConfig](testTree(t))

	cfg := opts.MustGet("primary")
	assert.Equal(t, "mongodb://primary", cfg.URL)
}
