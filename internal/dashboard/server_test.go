package dashboard

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eddiefleurent/wheelbot/internal/metrics"
	"github.com/eddiefleurent/wheelbot/internal/models"
	"github.com/eddiefleurent/wheelbot/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, token string) (*httptest.Server, *storage.MockStorage) {
	t.Helper()
	store := storage.NewMockStorage()
	require.NoError(t, store.Put(models.SymbolState{Symbol: "SPY", Phase: models.PhaseShortPut, ShortPuts: 1, LastAction: "sell_put"}))
	require.NoError(t, store.Put(models.SymbolState{Symbol: "IWM", Phase: models.PhaseNoPosition}))

	prom := metrics.NewPrometheus()
	prom.Metrics.Cycles.Inc()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	srv := NewServer(Config{AuthToken: token}, store, prom.Handler(), logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func get(t *testing.T, url string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, "")
	resp, body := get(t, ts.URL+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, float64(2), health["symbols"])
}

func TestStateEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, "")

	resp, body := get(t, ts.URL+"/api/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var states []models.SymbolState
	require.NoError(t, json.Unmarshal(body, &states))
	require.Len(t, states, 2)
	assert.Equal(t, "IWM", states[0].Symbol)

	resp, body = get(t, ts.URL+"/api/state/spy", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var spy models.SymbolState
	require.NoError(t, json.Unmarshal(body, &spy))
	assert.Equal(t, models.PhaseShortPut, spy.Phase)

	resp, _ = get(t, ts.URL+"/api/state/QQQ", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, "")
	resp, body := get(t, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "wheelbot_cycles_total 1")
}

func TestAuthMiddleware(t *testing.T) {
	ts, _ := newTestServer(t, "s3cret")

	resp, _ := get(t, ts.URL+"/api/state", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/api/state", map[string]string{"X-Auth-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/api/state", map[string]string{"X-Auth-Token": "s3cret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/api/state", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/metrics?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health stays open")
}
