package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/medley-tv/medley/internal/config"
	"github.com/medley-tv/medley/internal/events"
	"github.com/medley-tv/medley/internal/modules/modulemanager"
)

type busLogger struct{}

func (busLogger) Debug(msg string, fields ...interface{}) {}
func (busLogger) Info(msg string, fields ...interface{})  {}
func (busLogger) Warn(msg string, fields ...interface{})  {}
func (busLogger) Error(msg string, fields ...interface{}) {}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

func newTestBus(t *testing.T) events.EventBus {
	t.Helper()
	bus := events.NewEventBus(events.DefaultEventBusConfig(), busLogger{})
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		bus.Stop(ctx)
	})
	return bus
}

func newTestServer(t *testing.T, bus events.EventBus) *Server {
	t.Helper()
	return New(config.DefaultConfig(), newTestDB(t), bus)
}

func getJSON(t *testing.T, router http.Handler, path string) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(rec, req)

	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestHealthHealthy(t *testing.T) {
	srv := newTestServer(t, newTestBus(t))

	code, body := getJSON(t, srv.Router(), "/api/health")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "ok", checks["event_bus"])
}

func TestHealthDegradedWithoutBus(t *testing.T) {
	srv := newTestServer(t, nil)

	code, body := getJSON(t, srv.Router(), "/api/health")
	assert.Equal(t, http.StatusOK, code, "a missing bus degrades, it does not kill the probe")
	assert.Equal(t, "degraded", body["status"])
}

func TestHealthUnhealthyWithoutDatabase(t *testing.T) {
	srv := New(config.DefaultConfig(), nil, newTestBus(t))

	code, body := getJSON(t, srv.Router(), "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, newTestBus(t))

	code, body := getJSON(t, srv.Router(), "/api/v1/system/status")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "medley", body["name"])
	assert.Equal(t, Version, body["version"])
	assert.Contains(t, body, "uptime_seconds")
}

type fakeHealthModule struct{}

func (fakeHealthModule) ID() string                { return "test.healthprobe" }
func (fakeHealthModule) Name() string              { return "Health Probe" }
func (fakeHealthModule) Core() bool                { return false }
func (fakeHealthModule) Migrate(db *gorm.DB) error { return nil }
func (fakeHealthModule) Init() error               { return nil }

func (fakeHealthModule) HealthCheck(ctx context.Context) modulemanager.HealthStatus {
	return modulemanager.HealthStatus{
		Status:      modulemanager.HealthStateDegraded,
		Message:     "probe module always limps",
		LastChecked: time.Now(),
	}
}

var registerProbeOnce sync.Once

func TestModulesEndpointReportsHealth(t *testing.T) {
	registerProbeOnce.Do(func() { modulemanager.Register(fakeHealthModule{}) })
	srv := newTestServer(t, newTestBus(t))

	code, body := getJSON(t, srv.Router(), "/api/v1/system/modules")
	require.Equal(t, http.StatusOK, code)

	modules := body["modules"].([]interface{})
	require.NotEmpty(t, modules)

	var probe map[string]interface{}
	for _, raw := range modules {
		row := raw.(map[string]interface{})
		if row["id"] == "test.healthprobe" {
			probe = row
		}
	}
	require.NotNil(t, probe, "registered module should appear in the report")
	assert.Equal(t, "Health Probe", probe["name"])
	assert.Equal(t, false, probe["core"])

	health := probe["health"].(map[string]interface{})
	assert.Equal(t, "degraded", health["status"])
	assert.Equal(t, "probe module always limps", health["message"])
}

func TestRecentEventsEndpoint(t *testing.T) {
	bus := newTestBus(t)
	srv := newTestServer(t, bus)

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), events.NewScanStartedEvent("scan-http", "lib-1")))
	}
	require.Eventually(t, func() bool {
		return len(bus.GetRecentEvents(0)) == 3
	}, 2*time.Second, 10*time.Millisecond)

	code, body := getJSON(t, srv.Router(), "/api/v1/events?limit=2")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["count"])
	assert.Len(t, body["events"], 2)
}

func TestRecentEventsInvalidLimit(t *testing.T) {
	srv := newTestServer(t, newTestBus(t))

	code, _ := getJSON(t, srv.Router(), "/api/v1/events?limit=nope")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = getJSON(t, srv.Router(), "/api/v1/events?limit=0")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRecentEventsWithoutBus(t *testing.T) {
	srv := newTestServer(t, nil)

	code, _ := getJSON(t, srv.Router(), "/api/v1/events")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestEventStatsEndpoint(t *testing.T) {
	bus := newTestBus(t)
	srv := newTestServer(t, bus)

	require.NoError(t, bus.Publish(context.Background(), events.NewScanStartedEvent("scan-stats", "lib-1")))
	require.Eventually(t, func() bool {
		return bus.GetStats().TotalEvents >= 1
	}, 2*time.Second, 10*time.Millisecond)

	code, body := getJSON(t, srv.Router(), "/api/v1/events/stats")
	require.Equal(t, http.StatusOK, code)
	assert.GreaterOrEqual(t, body["total_events"].(float64), float64(1))
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, newTestBus(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/system/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Range")
}

func TestCORSDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.EnableCORS = false
	srv := New(cfg, newTestDB(t), newTestBus(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/system/status", nil)
	srv.Router().ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestShutdownWithoutRun(t *testing.T) {
	srv := newTestServer(t, newTestBus(t))
	assert.NoError(t, srv.Shutdown(context.Background()))
}
