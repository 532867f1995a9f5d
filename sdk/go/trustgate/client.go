package trustgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a trustgate server. Safe for concurrent use.
type Client struct {
	cfg  clientConfig
	http *http.Client
}

// New creates a Client with the given options.
func New(opts ...Option) *Client {
	cfg := clientConfig{
		baseURL: "http://127.0.0.1:8370",
		agentID: "trustgate-go",
		timeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}
	return &Client{cfg: cfg, http: hc}
}

// Check asks the gate whether the action may proceed for the tenant.
// A non-nil error means the gate could not answer; callers that execute
// irreversible actions must treat that as a deny.
func (c *Client) Check(ctx context.Context, tenantID string, action Action) (Decision, error) {
	var d Decision
	err := c.post(ctx, "/v1/gate/check", map[string]any{
		"tenant_id": tenantID,
		"agent_id":  c.cfg.agentID,
		"action":    action,
	}, &d)
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// ReportOutcome records verified outcome metrics for a completed action.
// Reporting the same actionID twice is a no-op on the server.
func (c *Client) ReportOutcome(ctx context.Context, tenantID, actionID string, outcomes map[string]float64) error {
	return c.post(ctx, "/v1/outcomes", map[string]any{
		"tenant_id": tenantID,
		"action_id": actionID,
		"outcomes":  outcomes,
	}, nil)
}

// TrustState fetches the tenant's current trust level.
func (c *Client) TrustState(ctx context.Context, tenantID string) (TrustState, error) {
	var st TrustState
	if err := c.get(ctx, "/v1/tenants/"+tenantID+"/trust", &st); err != nil {
		return TrustState{}, err
	}
	return st, nil
}

func (c *Client) post(ctx context.Context, path string, body, dst any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("trustgate: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("trustgate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, dst)
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return fmt.Errorf("trustgate: build request: %w", err)
	}
	return c.do(req, dst)
}

func (c *Client) do(req *http.Request, dst any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("trustgate: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("trustgate: %s %s: %s (status %d)", req.Method, req.URL.Path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("trustgate: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if dst == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("trustgate: decode response: %w", err)
	}
	return nil
}

func (c *Client) url(path string) string {
	return strings.TrimSuffix(c.cfg.baseURL, "/") + path
}
