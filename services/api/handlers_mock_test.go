package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipemock/pkg/telemetry"
	"pipemock/services/simulator"
)

func TestOperationalEndpointsAreUnauthenticated(t *testing.T) {
	s := newTestServer(t)
	s.trigger(t, "1", map[string]any{"token": "t", "ref": "main"})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pipemock_pipelines_triggered_total{source_encoding="json"} 1`)
}

func TestRequestLogCarriesRequestID(t *testing.T) {
	s := newTestServer(t)
	var buf bytes.Buffer
	s.api.logger = telemetry.NewLogger("pipemock-test", zerolog.InfoLevel, "json", &buf)
	handler, err := s.api.Routes()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request", entry["message"])
	assert.Equal(t, "/healthz", entry["path"])
	assert.Equal(t, "req-42", entry["request_id"])
}

func TestReadyzReportsDatabaseFailure(t *testing.T) {
	s := newTestServer(t)
	sqlDB, err := s.api.store.ORM.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestResetDisabled(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/_mock/reset", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReset(t *testing.T) {
	extra := simulator.Scenario{ID: 777, Name: "catalog", TerminalStatus: "failed", TerminalAfterSeconds: nil}
	s := newTestServer(t, func(cfg *Config) {
		cfg.AllowReset = true
		cfg.Catalog = []simulator.Scenario{extra}
	})

	s.trigger(t, "1", map[string]any{"token": "t", "ref": "main"})
	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/_mock/scenarios/5", "", nil).Code)
	require.Equal(t, http.StatusCreated, s.doJSON(t, http.MethodPost, "/_mock/scenarios", map[string]any{"scenario_id": 901, "name": "temp"}).Code)

	rec := s.do(t, http.MethodPost, "/_mock/reset", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/_mock/pipelines", "", nil)
	assert.Empty(t, decode[[]Pipeline](t, rec))

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/_mock/scenarios/5", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/_mock/scenarios/901", "", nil).Code)

	rec = s.do(t, http.MethodGet, "/_mock/scenarios/777", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "failed", decode[Scenario](t, rec).TerminalStatus)
}

func TestRouteTable(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/_mock/routes", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	routes := decode[[]Route](t, rec)

	assert.Contains(t, routes, Route{Method: http.MethodPost, Pattern: "/projects/{project_id}/trigger/pipeline"})
	assert.Contains(t, routes, Route{Method: http.MethodGet, Pattern: "/projects/{project_id}/pipelines/{pipeline_id}"})
	assert.Contains(t, routes, Route{Method: http.MethodDelete, Pattern: "/_mock/scenarios/{scenario_id}"})
	assert.Contains(t, routes, Route{Method: http.MethodGet, Pattern: "/healthz"})
	assert.NotContains(t, routes, Route{Method: http.MethodPost, Pattern: "/_mock/reset"})
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(nil, Config{MockToken: "x"}, zerolog.Nop(), nil)
	assert.Error(t, err)

	_, err = New(&Store{}, Config{MockToken: "x"}, zerolog.Nop(), nil)
	assert.Error(t, err)
}
