// Package client is a typed HTTP client for the pipemock API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cockroachdb/errors"

	"pipemock/services/api"
	"pipemock/services/simulator"
)

const defaultTimeout = 30 * time.Second

// Error is a non-2xx response from the API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipemock: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to a running mock.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}

	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Trigger is the body of a trigger request.
type Trigger struct {
	Token                string
	Ref                  string
	Variables            map[string]string
	ScenarioID           *int64
	TerminalAfterSeconds *int64
	TerminalStatus       string

	// Form sends application/x-www-form-urlencoded with variables[NAME]
	// keys instead of JSON.
	Form bool
}

func (t Trigger) encode() (string, io.Reader, error) {
	if t.Form {
		form := url.Values{}
		form.Set("token", t.Token)
		form.Set("ref", t.Ref)
		for k, v := range t.Variables {
			form.Set("variables["+k+"]", v)
		}
		if t.ScenarioID != nil {
			form.Set("scenario_id", strconv.FormatInt(*t.ScenarioID, 10))
		}
		if t.TerminalAfterSeconds != nil {
			form.Set("terminal_after_seconds", strconv.FormatInt(*t.TerminalAfterSeconds, 10))
		}
		if t.TerminalStatus != "" {
			form.Set("terminal_status", t.TerminalStatus)
		}
		return "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), nil
	}

	payload := map[string]any{
		"token":     t.Token,
		"ref":       t.Ref,
		"variables": t.Variables,
	}
	if t.ScenarioID != nil {
		payload["scenario_id"] = *t.ScenarioID
	}
	if t.TerminalAfterSeconds != nil {
		payload["terminal_after_seconds"] = *t.TerminalAfterSeconds
	}
	if t.TerminalStatus != "" {
		payload["terminal_status"] = t.TerminalStatus
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", nil, err
	}
	return "application/json", bytes.NewReader(data), nil
}

// Trigger creates a pipeline in projectID.
func (c *Client) Trigger(ctx context.Context, projectID int64, t Trigger) (api.Pipeline, error) {
	contentType, body, err := t.encode()
	if err != nil {
		return api.Pipeline{}, err
	}
	var out api.Pipeline
	err = c.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%d/trigger/pipeline", projectID), contentType, body, http.StatusCreated, &out)
	return out, err
}

// Pipeline polls one pipeline.
func (c *Client) Pipeline(ctx context.Context, projectID, id int64) (api.Pipeline, error) {
	var out api.Pipeline
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%d/pipelines/%d", projectID, id), "", nil, http.StatusOK, &out)
	return out, err
}

// Pipelines lists every pipeline.
func (c *Client) Pipelines(ctx context.Context) ([]api.Pipeline, error) {
	var out []api.Pipeline
	err := c.do(ctx, http.MethodGet, "/_mock/pipelines", "", nil, http.StatusOK, &out)
	return out, err
}

// DeletePipeline removes a pipeline.
func (c *Client) DeletePipeline(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/_mock/pipelines/%d", id), "", nil, http.StatusNoContent, nil)
}

// Scenarios lists the scenario catalog.
func (c *Client) Scenarios(ctx context.Context) ([]api.Scenario, error) {
	var out []api.Scenario
	err := c.do(ctx, http.MethodGet, "/_mock/scenarios", "", nil, http.StatusOK, &out)
	return out, err
}

// Scenario fetches one scenario.
func (c *Client) Scenario(ctx context.Context, id int64) (api.Scenario, error) {
	var out api.Scenario
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/_mock/scenarios/%d", id), "", nil, http.StatusOK, &out)
	return out, err
}

// CreateScenario adds a scenario.
func (c *Client) CreateScenario(ctx context.Context, s api.Scenario) (api.Scenario, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return api.Scenario{}, err
	}
	var out api.Scenario
	err = c.do(ctx, http.MethodPost, "/_mock/scenarios", "application/json", bytes.NewReader(body), http.StatusCreated, &out)
	return out, err
}

// UpdateScenario replaces a scenario.
func (c *Client) UpdateScenario(ctx context.Context, s api.Scenario) (api.Scenario, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return api.Scenario{}, err
	}
	var out api.Scenario
	err = c.do(ctx, http.MethodPut, fmt.Sprintf("/_mock/scenarios/%d", s.ScenarioID), "application/json", bytes.NewReader(body), http.StatusOK, &out)
	return out, err
}

// DeleteScenario removes a scenario.
func (c *Client) DeleteScenario(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/_mock/scenarios/%d", id), "", nil, http.StatusNoContent, nil)
}

// Reset wipes the mock. The server must run with MOCK_ALLOW_RESET.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/_mock/reset", "", nil, http.StatusNoContent, nil)
}

// Routes returns the server's route table.
func (c *Client) Routes(ctx context.Context) ([]api.Route, error) {
	var out []api.Route
	err := c.do(ctx, http.MethodGet, "/_mock/routes", "", nil, http.StatusOK, &out)
	return out, err
}

var errStillRunning = errors.New("pipeline still running")

// WaitForTerminal polls a pipeline every interval until its status is no
// longer running or ctx is done.
func (c *Client) WaitForTerminal(ctx context.Context, projectID, id int64, interval time.Duration) (api.Pipeline, error) {
	if interval <= 0 {
		interval = time.Second
	}

	var last api.Pipeline
	err := retry.Do(func() error {
		p, err := c.Pipeline(ctx, projectID, id)
		if err != nil {
			return err
		}
		last = p
		if p.Status == simulator.StatusRunning {
			return errStillRunning
		}
		return nil
	},
		retry.Attempts(0),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(interval),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errStillRunning) }),
		retry.Context(ctx),
	)
	if err != nil {
		return last, err
	}
	return last, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode != want {
		apiErr := &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "decode response")
}
