package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivehq/hive/pkg/runtime"
)

// fakeTriggerer records trigger calls and plays back a scripted result.
type fakeTriggerer struct {
	mu        sync.Mutex
	sessionID string
	err       error
	calls     []triggerCall
}

type triggerCall struct {
	entryPoint string
	payload    map[string]any
}

func (f *fakeTriggerer) Trigger(ctx context.Context, entryPointID string, payload map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, triggerCall{entryPoint: entryPointID, payload: payload})
	return f.sessionID, f.err
}

func (f *fakeTriggerer) lastCall(t *testing.T) triggerCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func createTestServer(t *testing.T, triggerer Triggerer) *Server {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	options := ServerOptions{
		Port:               3001,
		Host:               "0.0.0.0",
		RegistryPath:       filepath.Join(t.TempDir(), "routes.json"),
		RateLimitPerMinute: 100,
		TriggerTimeout:     30 * time.Second,
	}

	server, err := NewServer(options, triggerer, logger)
	require.NoError(t, err)
	return server
}

// waitForRegistrySave blocks until the async saveRegistry goroutine has
// finished writing, so TempDir cleanup does not race with it.
func waitForRegistrySave(t *testing.T, server *Server) {
	t.Helper()
	require.Eventually(t, func() bool {
		if _, err := os.Stat(server.options.RegistryPath); err != nil {
			return false
		}
		_, err := os.Stat(server.options.RegistryPath + ".tmp")
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
}

func postJSON(t *testing.T, server *Server, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}

	rec := httptest.NewRecorder()
	server.handleTrigger(rec, req)
	return rec
}

func TestNewServerDefaults(t *testing.T) {
	server := createTestServer(t, &fakeTriggerer{})

	assert.Equal(t, 3001, server.options.Port)
	assert.Equal(t, "0.0.0.0", server.options.Host)
	assert.Equal(t, 100, server.options.RateLimitPerMinute)
	assert.Equal(t, 30*time.Second, server.options.TriggerTimeout)
}

func TestNewServerRequiresTriggerer(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	_, err := NewServer(ServerOptions{RegistryPath: filepath.Join(t.TempDir(), "routes.json")}, nil, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "triggerer is required")
}

func TestRegisterRoute(t *testing.T) {
	server := createTestServer(t, &fakeTriggerer{})

	err := server.RegisterRoute(RouteConfig{
		Path:       "/hooks/new-lead",
		Method:     http.MethodPost,
		EntryPoint: "on_new_lead",
	})
	require.NoError(t, err)

	route := server.getRoute("/hooks/new-lead", http.MethodPost)
	require.NotNil(t, route)
	assert.Equal(t, "on_new_lead", route.EntryPoint)

	waitForRegistrySave(t, server)
}

func TestRegisterRouteValidation(t *testing.T) {
	server := createTestServer(t, &fakeTriggerer{})

	err := server.RegisterRoute(RouteConfig{Path: "no-slash", Method: http.MethodPost, EntryPoint: "x"})
	assert.ErrorContains(t, err, "must start with /")

	err = server.RegisterRoute(RouteConfig{Path: "/x", Method: "PATCH", EntryPoint: "x"})
	assert.ErrorContains(t, err, "invalid HTTP method")

	err = server.RegisterRoute(RouteConfig{Path: "/x", Method: http.MethodPost})
	assert.ErrorContains(t, err, "entry point is required")

	err = server.RegisterRoute(RouteConfig{
		Path:          "/x",
		Method:        http.MethodPost,
		EntryPoint:    "x",
		PayloadSchema: json.RawMessage(`{"type": 42}`),
	})
	assert.ErrorContains(t, err, "invalid payload schema")
}

func TestHandleTrigger(t *testing.T) {
	triggerer := &fakeTriggerer{sessionID: "sess-123"}
	server := createTestServer(t, triggerer)
	require.NoError(t, server.RegisterRoute(RouteConfig{
		Path:       "/hooks/new-lead",
		Method:     http.MethodPost,
		EntryPoint: "on_new_lead",
	}))

	rec := postJSON(t, server, "/hooks/new-lead", map[string]any{"lead_name": "Ada"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var response map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "sess-123", response["session_id"])
	assert.Equal(t, "on_new_lead", response["entry_point"])

	call := triggerer.lastCall(t)
	assert.Equal(t, "on_new_lead", call.entryPoint)
	assert.Equal(t, "Ada", call.payload["lead_name"])

	waitForRegistrySave(t, server)
}

func TestHandleTriggerUnknownRoute(t *testing.T) {
	server := createTestServer(t, &fakeTriggerer{})

	rec := postJSON(t, server, "/hooks/nope", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTriggerNoPrimarySessionIsConflict(t *testing.T) {
	triggerer := &fakeTriggerer{err: &runtime.NoPrimarySessionError{EntryPoint: "on_new_lead"}}
	server := createTestServer(t, triggerer)
	require.NoError(t, server.RegisterRoute(RouteConfig{
		Path:       "/hooks/new-lead",
		Method:     http.MethodPost,
		EntryPoint: "on_new_lead",
	}))

	rec := postJSON(t, server, "/hooks/new-lead", map[string]any{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	waitForRegistrySave(t, server)
}

func TestHandleTriggerPrimaryActiveIsConflict(t *testing.T) {
	triggerer := &fakeTriggerer{err: &runtime.PrimaryActiveError{SessionID: "sess-1"}}
	server := createTestServer(t, triggerer)
	require.NoError(t, server.RegisterRoute(RouteConfig{
		Path:       "/hooks/start",
		Method:     http.MethodPost,
		EntryPoint: "intake",
	}))

	rec := postJSON(t, server, "/hooks/start", map[string]any{})
	assert.Equal(t, http.StatusConflict, rec.Code)

	waitForRegistrySave(t, server)
}

func TestHandleTriggerSignature(t *testing.T) {
	triggerer := &fakeTriggerer{sessionID: "sess-123"}
	server := createTestServer(t, triggerer)
	require.NoError(t, server.RegisterRoute(RouteConfig{
		Path:       "/hooks/new-lead",
		Method:     http.MethodPost,
		EntryPoint: "on_new_lead",
		Secret:     "topsecret",
	}))

	body := map[string]any{"lead_name": "Ada"}

	// Missing signature.
	rec := postJSON(t, server, "/hooks/new-lead", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Bad signature.
	rec = postJSON(t, server, "/hooks/new-lead", body, func(r *http.Request) {
		r.Header.Set("X-Webhook-Signature", "sha256=deadbeef")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid signature.
	data, err := json.Marshal(body)
	require.NoError(t, err)
	rec = postJSON(t, server, "/hooks/new-lead", body, func(r *http.Request) {
		r.Header.Set("X-Webhook-Signature", computeHMACSHA256(string(data), "topsecret"))
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	waitForRegistrySave(t, server)
}

func TestHandleTriggerSchemaValidation(t *testing.T) {
	triggerer := &fakeTriggerer{sessionID: "sess-123"}
	server := createTestServer(t, triggerer)
	require.NoError(t, server.RegisterRoute(RouteConfig{
		Path:       "/hooks/new-lead",
		Method:     http.MethodPost,
		EntryPoint: "on_new_lead",
		PayloadSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"lead_name": {"type": "string"}},
			"required": ["lead_name"]
		}`),
	}))

	rec := postJSON(t, server, "/hooks/new-lead", map[string]any{"other": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = postJSON(t, server, "/hooks/new-lead", map[string]any{"lead_name": "Ada"})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	waitForRegistrySave(t, server)
}

func TestHandleTriggerRateLimit(t *testing.T) {
	triggerer := &fakeTriggerer{sessionID: "sess-123"}
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	server, err := NewServer(ServerOptions{
		RegistryPath:       filepath.Join(t.TempDir(), "routes.json"),
		RateLimitPerMinute: 2,
	}, triggerer, logger)
	require.NoError(t, err)
	require.NoError(t, server.RegisterRoute(RouteConfig{
		Path:       "/hooks/new-lead",
		Method:     http.MethodPost,
		EntryPoint: "on_new_lead",
	}))

	for i := 0; i < 2; i++ {
		rec := postJSON(t, server, "/hooks/new-lead", map[string]any{})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := postJSON(t, server, "/hooks/new-lead", map[string]any{})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	waitForRegistrySave(t, server)
}

func TestHandleTriggerQueryParams(t *testing.T) {
	triggerer := &fakeTriggerer{sessionID: "sess-123"}
	server := createTestServer(t, triggerer)
	require.NoError(t, server.RegisterRoute(RouteConfig{
		Path:       "/hooks/new-lead",
		Method:     http.MethodPost,
		EntryPoint: "on_new_lead",
	}))

	rec := postJSON(t, server, "/hooks/new-lead?source=webform", map[string]any{"lead_name": "Ada"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	call := triggerer.lastCall(t)
	assert.Equal(t, "Ada", call.payload["lead_name"])
	assert.Equal(t, "webform", call.payload["source"])

	waitForRegistrySave(t, server)
}

func TestUnregisterRoute(t *testing.T) {
	server := createTestServer(t, &fakeTriggerer{})
	require.NoError(t, server.RegisterRoute(RouteConfig{
		Path:       "/hooks/new-lead",
		Method:     http.MethodPost,
		EntryPoint: "on_new_lead",
	}))
	waitForRegistrySave(t, server)

	assert.True(t, server.UnregisterRoute("/hooks/new-lead", http.MethodPost))
	assert.False(t, server.UnregisterRoute("/hooks/new-lead", http.MethodPost))
	assert.Nil(t, server.getRoute("/hooks/new-lead", http.MethodPost))

	// The unregister fires its own async save; wait until the persisted
	// registry reflects it so TempDir cleanup does not race with the write.
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(server.options.RegistryPath)
		if err != nil {
			return false
		}
		var registry RouteRegistry
		if err := json.Unmarshal(data, &registry); err != nil {
			return false
		}
		return len(registry.Routes) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListRoutesRedactsSecrets(t *testing.T) {
	server := createTestServer(t, &fakeTriggerer{})
	require.NoError(t, server.RegisterRoute(RouteConfig{
		Path:       "/hooks/new-lead",
		Method:     http.MethodPost,
		EntryPoint: "on_new_lead",
		Secret:     "topsecret",
	}))

	routes := server.ListRoutes()
	require.Len(t, routes, 1)
	assert.Equal(t, "[REDACTED]", routes[0].Secret)

	waitForRegistrySave(t, server)
}

func TestHandleHealth(t *testing.T) {
	server := createTestServer(t, &fakeTriggerer{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.handleHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var response map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}

func TestRegistryRoundTrip(t *testing.T) {
	registryPath := filepath.Join(t.TempDir(), "routes.json")
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	server, err := NewServer(ServerOptions{RegistryPath: registryPath}, &fakeTriggerer{}, logger)
	require.NoError(t, err)
	require.NoError(t, server.RegisterRoute(RouteConfig{
		Path:       "/hooks/new-lead",
		Method:     http.MethodPost,
		EntryPoint: "on_new_lead",
	}))

	// RegisterRoute saves asynchronously.
	require.Eventually(t, func() bool {
		_, err := os.Stat(registryPath)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	reloaded, err := NewServer(ServerOptions{RegistryPath: registryPath}, &fakeTriggerer{}, logger)
	require.NoError(t, err)

	route := reloaded.getRoute("/hooks/new-lead", http.MethodPost)
	require.NotNil(t, route)
	assert.Equal(t, "on_new_lead", route.EntryPoint)
}

func TestRegistryWatchReload(t *testing.T) {
	registryPath := filepath.Join(t.TempDir(), "routes.json")
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	server, err := NewServer(ServerOptions{
		RegistryPath:  registryPath,
		WatchRegistry: true,
	}, &fakeTriggerer{}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { server.watcher.Close() })

	registry := RouteRegistry{
		Version: 1,
		Routes: []RouteRegistryEntry{{
			Path:       "/hooks/new-lead",
			Method:     http.MethodPost,
			EntryPoint: "on_new_lead",
		}},
	}
	data, err := json.Marshal(registry)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(registryPath, data, 0644))

	require.Eventually(t, func() bool {
		return server.getRoute("/hooks/new-lead", http.MethodPost) != nil
	}, 2*time.Second, 20*time.Millisecond, "watcher should pick up the registry write")
}

func TestGetClientIP(t *testing.T) {
	server := createTestServer(t, &fakeTriggerer{})

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", server.getClientIP(req))

	req = httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set("X-Real-IP", "203.0.113.8")
	assert.Equal(t, "203.0.113.8", server.getClientIP(req))

	req = httptest.NewRequest(http.MethodPost, "/x", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	assert.Equal(t, "203.0.113.9", server.getClientIP(req))
}

func TestMetricsTracker(t *testing.T) {
	mt := NewMetricsTracker()

	mt.Track("/hooks/new-lead", http.MethodPost, true, 10)
	mt.Track("/hooks/new-lead", http.MethodPost, false, 30)

	m := mt.GetMetricsForRoute("/hooks/new-lead", http.MethodPost)
	require.NotNil(t, m)
	assert.Equal(t, int64(2), m.TotalRequests)
	assert.Equal(t, int64(1), m.SuccessCount)
	assert.Equal(t, int64(1), m.FailureCount)
	assert.InDelta(t, 20.0, m.AverageResponseTime, 0.01)

	assert.Nil(t, mt.GetMetricsForRoute("/hooks/other", http.MethodPost))
	assert.Len(t, mt.GetMetrics(), 1)
}
