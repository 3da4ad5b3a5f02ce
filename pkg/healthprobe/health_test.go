package healthprobe

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StartsNotReady(t *testing.T) {
	hc := New()
	require.NotNil(t, hc)
	assert.False(t, hc.IsReady())
}

func TestSetReady(t *testing.T) {
	hc := New()

	hc.SetReady(true)
	assert.True(t, hc.IsReady())

	hc.SetReady(false)
	assert.False(t, hc.IsReady())
}

func TestHealth_AlwaysOK(t *testing.T) {
	hc := New()

	for _, ready := range []bool{false, true} {
		hc.SetReady(ready)

		rec := httptest.NewRecorder()
		hc.Health()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var resp probeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.GreaterOrEqual(t, resp.UptimeSeconds, 0.0)
	}
}

func TestReady_FollowsFlag(t *testing.T) {
	hc := New()

	rec := httptest.NewRecorder()
	hc.Ready()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp probeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.NotEmpty(t, resp.Message)

	hc.SetReady(true)
	rec = httptest.NewRecorder()
	hc.Ready()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
}

func TestReady_DrainFlipsBack(t *testing.T) {
	hc := New()
	hc.SetReady(true)
	hc.SetReady(false)

	rec := httptest.NewRecorder()
	hc.Ready()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
