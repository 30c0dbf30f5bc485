package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":5553", cfg.ListenAddr)
	assert.Equal(t, 9222, cfg.Browser.DebuggingPort)
	assert.Equal(t, "Default", cfg.Browser.Profile)
	assert.Equal(t, 3, cfg.Timeouts.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Timeouts.RetryBackoff)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.ElementWait)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webpilot.yaml")
	data := []byte("listen_addr: \":8080\"\nbrowser:\n  debugging_port: 9333\n  display: \":99\"\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 9333, cfg.Browser.DebuggingPort)
	assert.Equal(t, ":99", cfg.Browser.Display)
	// Untouched fields keep defaults.
	assert.Equal(t, 3, cfg.Timeouts.RetryAttempts)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("browser:\n  debugging_port: 9333\n"), 0o644))

	t.Setenv("WEBPILOT_DEBUGGING_PORT", "9444")
	t.Setenv("WEBPILOT_PROFILE", "Profile 2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9444, cfg.Browser.DebuggingPort)
	assert.Equal(t, "Profile 2", cfg.Browser.Profile)
}

func TestValidateRejectsBadPort(t *testing.T) {
	t.Setenv("WEBPILOT_DEBUGGING_PORT", "99999")
	_, err := Load("")
	assert.Error(t, err)
}
