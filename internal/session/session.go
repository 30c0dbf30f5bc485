// Package session establishes control connections to the browser's remote
// debugging endpoint. There is no pooling: a stale handle is replaced by a
// fresh connect, never repaired.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"webpilot/internal/procctl"
)

// ErrConnectivity marks failures to reach or speak to the debugging endpoint.
// The alert guard retries these transparently.
var ErrConnectivity = errors.New("browser debugging endpoint unreachable")

// State is the connection state of a session handle.
type State int

const (
	Disconnected State = iota
	Connected
	Stale
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Stale:
		return "stale"
	default:
		return "disconnected"
	}
}

// Session is a live control handle bound to one debugging port. It is not
// safe for concurrent use; callers serialize commands per port.
type Session struct {
	Port int

	state   State
	browser *rod.Browser
	page    *rod.Page
	cancel  context.CancelFunc
}

// Page returns the controlled page target.
func (s *Session) Page() *rod.Page { return s.page }

// Browser returns the underlying browser connection.
func (s *Session) Browser() *rod.Browser { return s.browser }

// State reports the handle's connection state.
func (s *Session) State() State { return s.state }

// MarkStale flags the handle after a connectivity-class failure. The next
// guarded attempt discards it and connects fresh.
func (s *Session) MarkStale() { s.state = Stale }

// Close drops the control connection. The browser itself keeps running.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.state = Disconnected
}

// Connector opens sessions against debugging ports.
type Connector struct {
	log      *zap.Logger
	devtools *procctl.DevToolsClient
	dial     func(ctx context.Context, port int) (*Session, error)
	backoff  time.Duration
}

// NewConnector builds a connector using the real CDP dial path.
func NewConnector(log *zap.Logger, devtools *procctl.DevToolsClient) *Connector {
	c := &Connector{
		log:      log.Named("session"),
		devtools: devtools,
		backoff:  time.Second,
	}
	c.dial = c.dialCDP
	return c
}

// SetDialFunc replaces the dial path, used by tests.
func (c *Connector) SetDialFunc(fn func(ctx context.Context, port int) (*Session, error)) {
	c.dial = fn
}

// SetBackoff overrides the fixed retry interval.
func (c *Connector) SetBackoff(d time.Duration) { c.backoff = d }

// Connect opens a control channel to the endpoint and runs a liveness probe.
func (c *Connector) Connect(ctx context.Context, port int) (*Session, error) {
	return c.dial(ctx, port)
}

// ConnectWithRetry calls Connect up to maxAttempts times with a fixed sleep
// between attempts, surfacing the last error on exhaustion.
func (c *Connector) ConnectWithRetry(ctx context.Context, port, maxAttempts int) (*Session, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sess, err := c.dial(ctx, port)
		if err == nil {
			return sess, nil
		}
		lastErr = err
		c.log.Warn("connect attempt failed",
			zap.Int("attempt", attempt), zap.Int("port", port), zap.Error(err))
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff):
			}
		}
	}
	return nil, lastErr
}

// dialCDP resolves the browser-level WebSocket URL, attaches, picks the first
// page target, and probes document.readyState as a liveness check.
func (c *Connector) dialCDP(ctx context.Context, port int) (*Session, error) {
	info, err := c.devtools.Version(ctx, port)
	if err != nil {
		return nil, fmt.Errorf("%w: port %d: %v", ErrConnectivity, port, err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	browser := rod.New().ControlURL(info.WebSocketDebuggerURL).Context(sessCtx)
	if err := browser.Connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: attach: %v", ErrConnectivity, err)
	}

	page, err := firstPage(browser)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrConnectivity, err)
	}

	// A dialog left open by an earlier command blocks evaluation; clear it
	// before probing. An error just means no dialog was showing.
	_ = proto.PageHandleJavaScriptDialog{Accept: false}.
		Call(page.Context(ctx).Timeout(time.Second))

	// Liveness probe. A connected socket with an unresponsive page is as
	// good as no browser at all.
	probe := page.Context(ctx).Timeout(3 * time.Second)
	if _, err := probe.Evaluate(&rod.EvalOptions{
		JS:      `() => document.readyState`,
		ByValue: true,
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: liveness probe: %v", ErrConnectivity, err)
	}

	return &Session{
		Port:    port,
		state:   Connected,
		browser: browser,
		page:    page,
		cancel:  cancel,
	}, nil
}

func firstPage(browser *rod.Browser) (*rod.Page, error) {
	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list targets: %v", err)
	}
	if len(pages) > 0 {
		return pages[0], nil
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page target: %v", err)
	}
	return page, nil
}
