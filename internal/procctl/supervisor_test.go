package procctl

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeController struct {
	calls int
}

func (f *fakeController) TerminateByPort(ctx context.Context, port int) error {
	f.calls++
	return nil
}

// fakeDevTools serves /json and /json/version the way Chrome does, and
// returns the port it listens on.
func fakeDevTools(t *testing.T, targets []Target) (port int, shutdown func()) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(targets)
	})
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(VersionInfo{Browser: "Chrome/140.0", WebSocketDebuggerURL: "ws://stub"})
	})
	srv := httptest.NewServer(mux)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err = strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port, srv.Close
}

// deadPort returns a port with nothing listening on it.
func deadPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func fakeBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chrome")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func newTestSupervisor(proc ProcessController) *Supervisor {
	return NewSupervisor(zap.NewNop(), NewDevToolsClient(), proc, time.Millisecond)
}

func TestEnsureRunningIsIdempotent(t *testing.T) {
	port, shutdown := fakeDevTools(t, []Target{
		{Type: "page", URL: "https://example.com/", Title: "Example Domain"},
	})
	defer shutdown()

	proc := &fakeController{}
	sup := newTestSupervisor(proc)
	launches := 0
	sup.SetLaunchFunc(func(ctx context.Context, req StartRequest, binary string) error {
		launches++
		return nil
	})

	req := StartRequest{Port: port, BinaryPath: fakeBinary(t)}

	for i := 0; i < 2; i++ {
		res, err := sup.EnsureRunning(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, res.AlreadyRunning)
		assert.False(t, res.Started)
		assert.Equal(t, "https://example.com/", res.URL)
		assert.Equal(t, "Example Domain", res.Title)
	}
	assert.Zero(t, launches, "a live browser must never be relaunched")
	assert.Zero(t, proc.calls)
}

func TestEnsureRunningLaunchesWhenEndpointDead(t *testing.T) {
	proc := &fakeController{}
	sup := newTestSupervisor(proc)

	launches := 0
	sup.SetLaunchFunc(func(ctx context.Context, req StartRequest, binary string) error {
		launches++
		return nil
	})

	res, err := sup.EnsureRunning(context.Background(), StartRequest{
		Port:       deadPort(t),
		BinaryPath: fakeBinary(t),
	})
	require.NoError(t, err)
	assert.True(t, res.Started)
	assert.False(t, res.AlreadyRunning)
	// Endpoint never came up; page info absent but not fatal.
	assert.Empty(t, res.URL)
	assert.Equal(t, 1, launches)
	assert.Equal(t, 1, proc.calls, "stale processes are cleared before relaunch")
}

func TestEnsureRunningMissingBinary(t *testing.T) {
	sup := newTestSupervisor(&fakeController{})
	_, err := sup.EnsureRunning(context.Background(), StartRequest{
		Port:       deadPort(t),
		BinaryPath: filepath.Join(t.TempDir(), "missing"),
	})
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestFirstPagePrefersPageTargets(t *testing.T) {
	targets := []Target{
		{Type: "background_page", URL: "chrome-extension://x"},
		{Type: "page", URL: "https://a.test/", Title: "A"},
		{Type: "page", URL: "https://b.test/", Title: "B"},
	}
	page, ok := FirstPage(targets)
	require.True(t, ok)
	assert.Equal(t, "https://a.test/", page.URL)

	_, ok = FirstPage(nil)
	assert.False(t, ok)
}
