package api

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipemock/pkg/bus"
)

var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong private token", headers: map[string]string{"PRIVATE-TOKEN": "nope"}, want: http.StatusUnauthorized},
		{name: "wrong bearer", headers: map[string]string{"Authorization": "Bearer nope"}, want: http.StatusUnauthorized},
		{name: "basic scheme", headers: map[string]string{"Authorization": "Basic " + testToken}, want: http.StatusUnauthorized},
		{name: "private token", headers: map[string]string{"PRIVATE-TOKEN": testToken}, want: http.StatusOK},
		{name: "bearer", headers: map[string]string{"Authorization": "Bearer " + testToken}, want: http.StatusOK},
		{name: "bearer lowercase scheme", headers: map[string]string{"Authorization": "bearer " + testToken}, want: http.StatusOK},
		{
			name:    "private token wins over bearer",
			headers: map[string]string{"PRIVATE-TOKEN": "nope", "Authorization": "Bearer " + testToken},
			want:    http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/_mock/pipelines", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuthenticationPrecedesBodyParsing(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/projects/1/trigger/pipeline", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid or missing token", errorMessage(t, rec))
}

func TestTriggerRepresentation(t *testing.T) {
	s := newTestServer(t)

	p := s.trigger(t, "42", map[string]any{
		"token":                  "trigger-token",
		"ref":                    "main",
		"variables":              map[string]any{"FOO": "bar", "COUNT": 3},
		"terminal_after_seconds": 10,
		"terminal_status":        "failed",
	})

	assert.NotZero(t, p.ID)
	assert.Equal(t, int64(42), p.ProjectID)
	assert.Equal(t, "main", p.Ref)
	assert.Regexp(t, shaPattern, p.SHA)
	assert.Equal(t, "running", p.Status)
	assert.Equal(t, "trigger", p.Source)
	assert.Equal(t, "http://mock.test/projects/42/pipelines/"+itoa(p.ID), p.WebURL)
	assert.Equal(t, map[string]string{"FOO": "bar", "COUNT": "3"}, p.Variables)
	assert.Nil(t, p.ScenarioID)
	require.NotNil(t, p.TerminalAfterSeconds)
	assert.Equal(t, int64(10), *p.TerminalAfterSeconds)
	assert.Equal(t, "failed", p.TerminalStatus)
	assert.True(t, p.CreatedAt.Equal(s.clock.Now()))
	assert.True(t, p.UpdatedAt.Equal(p.CreatedAt))
}

func TestTriggerDerivesBaseURLFromRequest(t *testing.T) {
	s := newTestServer(t, func(cfg *Config) { cfg.BaseURL = "" })

	p := s.trigger(t, "7", map[string]any{"token": "t", "ref": "main"})
	assert.Equal(t, "http://example.com/projects/7/pipelines/"+itoa(p.ID), p.WebURL)
}

func TestStatusTransitionIsInclusive(t *testing.T) {
	s := newTestServer(t)
	p := s.trigger(t, "1", map[string]any{"token": "t", "ref": "main", "terminal_after_seconds": 10})

	s.clock.Advance(9*time.Second + 999*time.Millisecond)
	assert.Equal(t, "running", s.poll(t, "1", p.ID).Status)

	s.clock.Advance(time.Millisecond)
	got := s.poll(t, "1", p.ID)
	assert.Equal(t, "success", got.Status)
	assert.True(t, got.UpdatedAt.Equal(s.clock.Now()))
	assert.True(t, got.CreatedAt.Equal(p.CreatedAt))

	s.clock.Advance(time.Hour)
	assert.Equal(t, "success", s.poll(t, "1", p.ID).Status)
}

func TestTriggerWithoutRuleIsTerminalOnFirstRead(t *testing.T) {
	s := newTestServer(t)
	p := s.trigger(t, "1", map[string]any{"token": "t", "ref": "main"})

	assert.Equal(t, "running", p.Status)
	assert.Nil(t, p.TerminalAfterSeconds)
	assert.Equal(t, "success", s.poll(t, "1", p.ID).Status)
}

func TestNeverCompleteScenario(t *testing.T) {
	s := newTestServer(t)
	p := s.trigger(t, "1", map[string]any{"token": "t", "ref": "main", "scenario_id": 0})
	require.NotNil(t, p.ScenarioID)
	assert.Equal(t, int64(0), *p.ScenarioID)

	s.clock.Advance(72 * time.Hour)
	got := s.poll(t, "1", p.ID)
	assert.Equal(t, "running", got.Status)
	require.NotNil(t, got.ScenarioID)
	assert.Equal(t, int64(0), *got.ScenarioID)

	rec := s.do(t, http.MethodGet, "/_mock/pipelines", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	all := decode[[]Pipeline](t, rec)
	require.Len(t, all, 1)
	assert.Equal(t, "running", all[0].Status)
}

func TestScenarioOverridesInlineFields(t *testing.T) {
	s := newTestServer(t)
	p := s.trigger(t, "1", map[string]any{
		"token":                  "t",
		"ref":                    "main",
		"scenario_id":            "5",
		"terminal_after_seconds": 1000,
		"terminal_status":        "failed",
	})

	require.NotNil(t, p.TerminalAfterSeconds)
	assert.Equal(t, int64(5), *p.TerminalAfterSeconds)
	assert.Equal(t, "success", p.TerminalStatus)

	s.clock.Advance(5 * time.Second)
	assert.Equal(t, "success", s.poll(t, "1", p.ID).Status)
}

func TestTriggerUnknownScenario(t *testing.T) {
	s := newTestServer(t)

	rec := s.doJSON(t, http.MethodPost, "/projects/1/trigger/pipeline", map[string]any{
		"token": "t", "ref": "main", "scenario_id": 4242,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "scenario 4242")

	list := s.do(t, http.MethodGet, "/_mock/pipelines", "", nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Empty(t, decode[[]Pipeline](t, list))
}

func TestTriggerValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name        string
		contentType string
		body        string
		wantMessage string
	}{
		{name: "missing ref", contentType: "application/json", body: `{"token":"t"}`, wantMessage: "token and ref are required"},
		{name: "empty token form", contentType: "application/x-www-form-urlencoded", body: "token=&ref=main", wantMessage: "token and ref are required"},
		{name: "not an object", contentType: "application/json", body: `[1,2]`, wantMessage: "invalid JSON payload"},
		{name: "variables list", contentType: "application/json", body: `{"token":"t","ref":"main","variables":["a"]}`, wantMessage: "variables must be an object"},
		{name: "non numeric scenario", contentType: "application/x-www-form-urlencoded", body: "token=t&ref=main&scenario_id=abc", wantMessage: "scenario_id must be an integer"},
		{name: "fractional delay", contentType: "application/json", body: `{"token":"t","ref":"main","terminal_after_seconds":1.5}`, wantMessage: "terminal_after_seconds must be an integer"},
		{name: "negative delay", contentType: "application/json", body: `{"token":"t","ref":"main","terminal_after_seconds":-1}`, wantMessage: "terminal_after_seconds must be non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/projects/1/trigger/pipeline", tt.contentType, strings.NewReader(tt.body))
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, tt.wantMessage, errorMessage(t, rec))
		})
	}

	rec := s.do(t, http.MethodPost, "/projects/abc/trigger/pipeline", "application/json", strings.NewReader(`{"token":"t","ref":"main"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTriggerFormEncodings(t *testing.T) {
	s := newTestServer(t)

	form := url.Values{}
	form.Set("token", "t")
	form.Set("ref", "release")
	form.Set("variables[FOO]", "bar")
	form.Set("variables[EMPTY]", "")
	form.Set("terminal_after_seconds", "30")
	rec := s.do(t, http.MethodPost, "/projects/3/trigger/pipeline", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	fromForm := decode[Pipeline](t, rec)

	fromJSON := s.trigger(t, "3", map[string]any{
		"token":                  "t",
		"ref":                    "release",
		"variables":              map[string]any{"FOO": "bar", "EMPTY": ""},
		"terminal_after_seconds": 30,
	})

	assert.Equal(t, fromJSON.Variables, fromForm.Variables)
	assert.Equal(t, fromJSON.Ref, fromForm.Ref)
	assert.Equal(t, fromJSON.TerminalAfterSeconds, fromForm.TerminalAfterSeconds)
	assert.Equal(t, fromJSON.TerminalStatus, fromForm.TerminalStatus)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("token", "t"))
	require.NoError(t, mw.WriteField("ref", "feature"))
	require.NoError(t, mw.WriteField("variables[A]", "1"))
	require.NoError(t, mw.WriteField("variables", "legacy"))
	require.NoError(t, mw.Close())

	rec = s.do(t, http.MethodPost, "/projects/3/trigger/pipeline", mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]string{"value": "legacy"}, decode[Pipeline](t, rec).Variables)
}

func TestRequireTerminalRule(t *testing.T) {
	s := newTestServer(t, func(cfg *Config) { cfg.RequireTerminalRule = true })

	rec := s.doJSON(t, http.MethodPost, "/projects/1/trigger/pipeline", map[string]any{"token": "t", "ref": "main"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	s.trigger(t, "1", map[string]any{"token": "t", "ref": "main", "scenario_id": 1})
	s.trigger(t, "1", map[string]any{"token": "t", "ref": "main", "terminal_after_seconds": 0})
}

func TestGetPipelineProjectMismatch(t *testing.T) {
	s := newTestServer(t)
	p := s.trigger(t, "1", map[string]any{"token": "t", "ref": "main"})

	rec := s.do(t, http.MethodGet, "/projects/2/pipelines/"+itoa(p.ID), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/projects/1/pipelines/999", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPipelinesRefreshesAndPersists(t *testing.T) {
	s := newTestServer(t)
	fast := s.trigger(t, "1", map[string]any{"token": "t", "ref": "main", "scenario_id": 1})
	slow := s.trigger(t, "2", map[string]any{"token": "t", "ref": "main", "scenario_id": 100})

	s.clock.Advance(2 * time.Second)
	rec := s.do(t, http.MethodGet, "/_mock/pipelines", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]Pipeline](t, rec)
	require.Len(t, list, 2)

	assert.Equal(t, fast.ID, list[0].ID)
	assert.Equal(t, "success", list[0].Status)
	assert.Equal(t, slow.ID, list[1].ID)
	assert.Equal(t, "running", list[1].Status)
	for _, p := range list {
		assert.True(t, p.UpdatedAt.Equal(s.clock.Now()))
	}

	var row pipelineModel
	require.NoError(t, s.api.store.ORM.First(&row, "id = ?", fast.ID).Error)
	assert.Equal(t, "success", row.Status)
	assert.True(t, row.UpdatedAt.Equal(s.clock.Now()))
}

func TestDeletePipeline(t *testing.T) {
	s := newTestServer(t)
	p := s.trigger(t, "1", map[string]any{"token": "t", "ref": "main"})

	rec := s.do(t, http.MethodDelete, "/_mock/pipelines/"+itoa(p.ID), "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodDelete, "/_mock/pipelines/"+itoa(p.ID), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/projects/1/pipelines/"+itoa(p.ID), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPipelineEvents(t *testing.T) {
	s := newTestServer(t)
	p := s.trigger(t, "1", map[string]any{"token": "t", "ref": "main", "terminal_after_seconds": 1})

	s.poll(t, "1", p.ID)
	s.clock.Advance(time.Second)
	s.poll(t, "1", p.ID)
	s.poll(t, "1", p.ID)
	require.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/_mock/pipelines/"+itoa(p.ID), "", nil).Code)

	assert.Equal(t, []string{
		bus.PipelineTriggered,
		bus.PipelineStatusChanged,
		bus.PipelineDeleted,
	}, s.publisher.subjects())

	ev, ok := s.publisher.events[1].payload.(bus.Event)
	require.True(t, ok)
	assert.Equal(t, bus.PipelineStatusChanged, ev.Type)
	assert.Contains(t, string(ev.Data), `"previous":"running"`)
}
