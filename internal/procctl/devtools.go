// Package procctl supervises the externally-visible Chrome process: probing
// its DevTools endpoint, terminating stale instances, and launching fresh ones
// with a deterministic flag set.
package procctl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Target is one entry from the DevTools /json target list.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	Title                string `json:"title"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// VersionInfo is the DevTools /json/version payload.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// DevToolsClient probes a browser's debugging HTTP endpoint.
type DevToolsClient struct {
	// Host defaults to 127.0.0.1. Tests point it at a fake endpoint.
	Host string
	HTTP *http.Client
}

// NewDevToolsClient returns a probe client with a short request timeout, so a
// dead endpoint fails fast instead of hanging a command.
func NewDevToolsClient() *DevToolsClient {
	return &DevToolsClient{
		Host: "127.0.0.1",
		HTTP: &http.Client{Timeout: 3 * time.Second},
	}
}

func (c *DevToolsClient) host() string {
	if c.Host == "" {
		return "127.0.0.1"
	}
	return c.Host
}

func (c *DevToolsClient) get(ctx context.Context, port int, path string, out interface{}) error {
	url := fmt.Sprintf("http://%s:%d%s", c.host(), port, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("devtools endpoint %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Targets lists the open debugging targets.
func (c *DevToolsClient) Targets(ctx context.Context, port int) ([]Target, error) {
	var targets []Target
	if err := c.get(ctx, port, "/json", &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// Version returns browser version info, including the browser-level
// WebSocket debugger URL.
func (c *DevToolsClient) Version(ctx context.Context, port int) (*VersionInfo, error) {
	var info VersionInfo
	if err := c.get(ctx, port, "/json/version", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// FirstPage returns the first page-type target, falling back to the first
// target of any type, matching how callers pick "the" page of a
// single-session browser.
func FirstPage(targets []Target) (Target, bool) {
	for _, t := range targets {
		if t.Type == "page" {
			return t, true
		}
	}
	if len(targets) > 0 {
		return targets[0], true
	}
	return Target{}, false
}
