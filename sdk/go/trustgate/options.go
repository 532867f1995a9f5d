package trustgate

import (
	"net/http"
	"time"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	baseURL    string
	agentID    string
	httpClient *http.Client
	timeout    time.Duration
}

// WithBaseURL sets the trustgate server address. Default http://127.0.0.1:8370.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithAgentID sets the agent identity reported on every gate check.
func WithAgentID(id string) Option {
	return func(c *clientConfig) { c.agentID = id }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithTimeout bounds each gate call. The guard fails closed on timeout.
// Default 5s.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.timeout = d }
}
