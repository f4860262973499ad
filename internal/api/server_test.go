package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fordward/relay/internal/control"
	"github.com/fordward/relay/internal/history"
	"github.com/fordward/relay/internal/registry"
)

func newTestServer(t *testing.T, store *history.Store) (*Server, *registry.Robots, *registry.Clients) {
	t.Helper()
	log := zerolog.Nop()
	robots := registry.NewRobots(log)
	clients := registry.NewClients(log)
	return NewServer(robots, clients, store, log), robots, clients
}

func getJSON(t *testing.T, server *Server, path string, wantStatus int) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	require.Equal(t, wantStatus, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRootStatus(t *testing.T) {
	server, robots, _ := newTestServer(t, nil)
	now := time.Now()
	robots.Upsert("fordward", "0.1.0", []string{"pose"}, nil, now)
	robots.Touch("fordward", map[string]any{"mode": "idle"}, now)
	robots.ApplyControl("fordward", control.ActionRequest, "c1", "Alice", now)

	body := getJSON(t, server, "/", http.StatusOK)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "fordward-relay", body["service"])
	assert.Equal(t, float64(0), body["uiClients"])
	assert.NotNil(t, body["timestamp"])

	list, ok := body["robots"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	entry := list[0].(map[string]any)
	assert.Equal(t, "fordward", entry["robotId"])
	assert.Equal(t, true, entry["online"])
	assert.Equal(t, "idle", entry["mode"])
	assert.Equal(t, true, entry["hasControl"])
}

func TestHealth(t *testing.T) {
	server, robots, _ := newTestServer(t, nil)
	robots.Upsert("r1", "0.1.0", nil, nil, time.Now())

	body := getJSON(t, server, "/health", http.StatusOK)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "disabled", body["history"])
	assert.Equal(t, float64(1), body["robots"])
	assert.Equal(t, float64(0), body["uiClients"])
}

func TestHealthWithStore(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	server, _, _ := newTestServer(t, store)
	body := getJSON(t, server, "/health", http.StatusOK)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "healthy", body["history"])
}

func TestHealthReportsUnhealthyStore(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	server, _, _ := newTestServer(t, store)
	body := getJSON(t, server, "/health", http.StatusServiceUnavailable)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Contains(t, body["history"], "error")
}

func TestRobotsList(t *testing.T) {
	server, robots, _ := newTestServer(t, nil)
	robots.Upsert("r1", "0.1.0", nil, nil, time.Now())
	robots.Upsert("r2", "0.2.0", nil, nil, time.Now())

	body := getJSON(t, server, "/robots", http.StatusOK)
	list, ok := body["robots"].([]any)
	require.True(t, ok)
	assert.Len(t, list, 2)
}

func TestRobotByID(t *testing.T) {
	server, robots, _ := newTestServer(t, nil)
	now := time.Now()
	robots.Upsert("fordward", "0.1.0", []string{"pose"}, nil, now)
	robots.Touch("fordward", map[string]any{"mode": "nav", "battery": map[string]any{"percent": 55.0}}, now)

	body := getJSON(t, server, "/robots/fordward", http.StatusOK)
	assert.Equal(t, "fordward", body["robotId"])
	assert.Equal(t, "nav", body["mode"])
	assert.Equal(t, "0.1.0", body["version"])
	telemetry, ok := body["telemetry"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "nav", telemetry["mode"])
	controlView, ok := body["control"].(map[string]any)
	require.True(t, ok)
	assert.Nil(t, controlView["ownerClientId"])
}

func TestRobotByIDNotFound(t *testing.T) {
	server, _, _ := newTestServer(t, nil)
	body := getJSON(t, server, "/robots/ghost", http.StatusNotFound)
	assert.Equal(t, "Robot not found", body["error"])
}

func TestUnknownPathIs404(t *testing.T) {
	server, _, _ := newTestServer(t, nil)
	getJSON(t, server, "/nope", http.StatusNotFound)
}

func TestHistoryEndpoint(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	server, _, _ := newTestServer(t, store)
	store.Record("fordward", "c1", "command_forwarded", map[string]any{"kind": "stop"})

	require.Eventually(t, func() bool {
		body := getJSON(t, server, "/history?limit=5", http.StatusOK)
		events, ok := body["events"].([]any)
		return ok && len(events) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHistoryDisabled(t *testing.T) {
	server, _, _ := newTestServer(t, nil)
	body := getJSON(t, server, "/history", http.StatusNotFound)
	assert.Equal(t, "History disabled", body["error"])
}
