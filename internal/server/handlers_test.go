package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"webpilot/internal/action"
	"webpilot/internal/capture"
	"webpilot/internal/config"
	"webpilot/internal/console"
	"webpilot/internal/guard"
	"webpilot/internal/procctl"
	"webpilot/internal/session"
)

// newTestServer wires a server whose session dialing is controlled by dial;
// no real browser is involved.
func newTestServer(t *testing.T, dial func(ctx context.Context, port int) (*session.Session, error)) (*Server, *int) {
	t.Helper()
	log := zap.NewNop()
	cfg := config.Default()
	cfg.Browser.BinaryPath = "/nonexistent/chrome-binary"
	cfg.Browser.DebuggingPort = 1 // nothing listens there

	connects := 0
	connector := session.NewConnector(log, procctl.NewDevToolsClient())
	connector.SetDialFunc(func(ctx context.Context, port int) (*session.Session, error) {
		connects++
		return dial(ctx, port)
	})

	g := guard.New(log, connector, 3, time.Millisecond, time.Millisecond)
	g.SetDismissFunc(func(ctx context.Context, sess *session.Session, timeout time.Duration) bool {
		return false
	})

	bridge := console.NewBridge(log)
	executor := action.NewExecutor(log, bridge, nil, time.Second)
	engine := capture.NewEngine(log, time.Second, cfg.Browser.Display)
	supervisor := procctl.NewSupervisor(log, procctl.NewDevToolsClient(), procctl.NewExecController(log), 0)

	return New(log, cfg, supervisor, g, executor, engine, bridge), &connects
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func failDial(ctx context.Context, port int) (*session.Session, error) {
	return nil, session.ErrConnectivity
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, failDial)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestClickRejectsBothAddressingModes(t *testing.T) {
	s, connects := newTestServer(t, failDial)
	rec := post(t, s.Handler(), "/click", `{"locator":"//a","x":10,"y":20}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, *connects, "rejected before any browser interaction")
}

func TestClickRejectsNoAddressingMode(t *testing.T) {
	s, connects := newTestServer(t, failDial)
	rec := post(t, s.Handler(), "/click", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, *connects)
}

func TestNavigateRequiresURL(t *testing.T) {
	s, connects := newTestServer(t, failDial)
	rec := post(t, s.Handler(), "/navigate", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, *connects)
}

func TestNavigateConnectivityFailureIsBadGateway(t *testing.T) {
	s, connects := newTestServer(t, failDial)
	rec := post(t, s.Handler(), "/navigate", `{"url":"example.com"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 3, *connects, "guard exhausts its retry budget")

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.NotEmpty(t, body.Error)
}

func TestTypeRequiresLocatorAndInput(t *testing.T) {
	s, connects := newTestServer(t, failDial)

	rec := post(t, s.Handler(), "/type", `{"text":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, s.Handler(), "/type", `{"locator":"//input"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, *connects)
}

func TestPressKeyRejectsUnknownKey(t *testing.T) {
	s, connects := newTestServer(t, failDial)
	rec := post(t, s.Handler(), "/press-key", `{"key":"hyper+q"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, *connects)
}

func TestDragRequiresBothEndpoints(t *testing.T) {
	s, connects := newTestServer(t, failDial)
	rec := post(t, s.Handler(), "/drag", `{"source":"//li[1]"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, *connects)
}

func TestScrollRejectsBadMode(t *testing.T) {
	s, connects := newTestServer(t, failDial)

	rec := post(t, s.Handler(), "/scroll", `{"mode":"sideways","amount":100}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, s.Handler(), "/scroll", `{"mode":"element"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, *connects)
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	s, _ := newTestServer(t, failDial)
	rec := post(t, s.Handler(), "/click", `{"locator":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnsureBrowserMissingBinary(t *testing.T) {
	s, _ := newTestServer(t, failDial)
	rec := post(t, s.Handler(), "/browser/ensure", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code, "an absent executable is a client-fixable condition")
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "browser executable")
}
