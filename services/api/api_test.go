package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"pipemock/pkg/db"
)

const testToken = "test-secret"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordedEvent struct {
	subject string
	payload any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakePublisher) Publish(_ context.Context, subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{subject: subject, payload: v})
	return nil
}

func (p *fakePublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.subject)
	}
	return out
}

type testServer struct {
	api       *API
	handler   http.Handler
	clock     *fakeClock
	publisher *fakePublisher
}

func newTestServer(t *testing.T, mutate ...func(*Config)) *testServer {
	t.Helper()

	ctx := context.Background()
	database, err := db.Open(ctx, "sqlite:///"+filepath.Join(t.TempDir(), "mock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })
	require.NoError(t, db.Migrate(ctx, database))

	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	cfg := Config{
		BaseURL:   "http://mock.test",
		MockToken: testToken,
		Now:       clock.Now,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	publisher := &fakePublisher{}
	a, err := New(&Store{ORM: database}, cfg, zerolog.Nop(), publisher)
	require.NoError(t, err)
	require.NoError(t, a.store.Seed(ctx, a.Seeds()))

	handler, err := a.Routes()
	require.NoError(t, err)

	return &testServer{api: a, handler: handler, clock: clock, publisher: publisher}
}

func (s *testServer) do(t *testing.T, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("PRIVATE-TOKEN", testToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return s.do(t, method, path, "application/json", body)
}

func (s *testServer) trigger(t *testing.T, projectID string, payload map[string]any) Pipeline {
	t.Helper()
	rec := s.doJSON(t, http.MethodPost, "/projects/"+projectID+"/trigger/pipeline", payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[Pipeline](t, rec)
}

func (s *testServer) poll(t *testing.T, projectID string, id int64) Pipeline {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/projects/"+projectID+"/pipelines/"+itoa(id), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[Pipeline](t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["error"]
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
