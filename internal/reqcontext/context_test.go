package reqcontext

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	resp := NewResponseView()
	value := map[string]any{"id": "42"}

	require.NoError(t, resp.SetJSON(value))
	assert.Equal(t, "application/json; charset=utf-8", resp.ContentType)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(resp.Raw, &decoded))
	assert.Equal(t, value, decoded)
}

func TestEmptyBodyDecodesAsEmptyObject(t *testing.T) {
	req := NewRequestView("POST", "api/things", nil, nil, nil)

	var dst struct {
		Name string `json:"name"`
	}
	require.NoError(t, req.DecodeJSON(&dst))
	assert.Equal(t, "", dst.Name)
}

func TestURLSegmentsPopulatedByRouter(t *testing.T) {
	base := NewBase(context.Background(), "sess-1", "api/users/42", nil, nil, nil)
	base.SetURLSegments(map[string]string{"id": "42"})
	assert.Equal(t, "42", base.URLSegments()["id"])

	v, ok := base.Value("id")
	assert.True(t, ok)
	assert.Equal(t, "42", v)
}

func TestAttrLookupFallsBackAfterSegments(t *testing.T) {
	base := NewBase(context.Background(), "sess-1", "admin/billing", nil, nil, nil)
	base.SetURLSegments(map[string]string{"section": "billing"})
	base.SetAttr("role", "admin")

	v, ok := base.Value("role")
	require.True(t, ok)
	assert.Equal(t, "admin", v)

	_, ok = base.Value("missing")
	assert.False(t, ok)
}

func TestCancellationFiresOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	base := NewBase(ctx, "sess-1", "api/x", nil, nil, nil)

	select {
	case <-base.Done():
		t.Fatal("should not be done yet")
	default:
	}

	cancel()
	<-base.Done()
	assert.Error(t, base.Err())
}
