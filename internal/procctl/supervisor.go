package procctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"go.uber.org/zap"
)

// ErrBinaryNotFound is returned when no browser executable can be located.
// It is a validation-class error: retrying will not help.
var ErrBinaryNotFound = errors.New("browser executable not found")

// chromeLocations are the well-known install paths probed when no explicit
// binary path is configured.
var chromeLocations = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

// StartRequest describes the browser instance a caller wants running.
type StartRequest struct {
	Port       int
	BinaryPath string
	Display    string
	Profile    string
}

// StartResult reports what EnsureRunning found or did. Page info is
// best-effort: its absence is reported, never fatal.
type StartResult struct {
	Started        bool   `json:"started"`
	AlreadyRunning bool   `json:"already_running"`
	URL            string `json:"url,omitempty"`
	Title          string `json:"title,omitempty"`
}

// LaunchFunc starts the browser process. Swapped out in tests.
type LaunchFunc func(ctx context.Context, req StartRequest, binary string) error

// Supervisor owns the lifecycle of the single supervised browser process.
type Supervisor struct {
	log      *zap.Logger
	devtools *DevToolsClient
	proc     ProcessController
	launch   LaunchFunc
	settle   time.Duration
}

// NewSupervisor wires the supervisor with the real launcher and controller.
func NewSupervisor(log *zap.Logger, devtools *DevToolsClient, proc ProcessController, settle time.Duration) *Supervisor {
	s := &Supervisor{
		log:      log.Named("supervisor"),
		devtools: devtools,
		proc:     proc,
		settle:   settle,
	}
	s.launch = s.rodLaunch
	return s
}

// SetLaunchFunc overrides process launching, used by tests.
func (s *Supervisor) SetLaunchFunc(fn LaunchFunc) { s.launch = fn }

// EnsureRunning makes sure a browser answers on the requested debugging port.
// Idempotent: if one already answers, it is left alone and its current page
// info is returned.
func (s *Supervisor) EnsureRunning(ctx context.Context, req StartRequest) (StartResult, error) {
	if targets, err := s.devtools.Targets(ctx, req.Port); err == nil {
		res := StartResult{AlreadyRunning: true}
		if page, ok := FirstPage(targets); ok {
			res.URL = page.URL
			res.Title = page.Title
		}
		s.log.Info("browser already running", zap.Int("port", req.Port), zap.String("url", res.URL))
		return res, nil
	}

	binary, err := resolveBinary(req.BinaryPath)
	if err != nil {
		return StartResult{}, err
	}

	// A process may hold the port without answering DevTools; clear it out
	// before relaunching. Nothing matching is fine.
	if err := s.proc.TerminateByPort(ctx, req.Port); err != nil {
		s.log.Warn("stale browser termination failed", zap.Error(err))
	}

	s.log.Info("launching browser",
		zap.String("binary", binary),
		zap.Int("port", req.Port),
		zap.String("display", req.Display),
		zap.String("profile", req.Profile))

	if err := s.launch(ctx, req, binary); err != nil {
		return StartResult{}, fmt.Errorf("spawn browser: %w", err)
	}

	select {
	case <-ctx.Done():
		return StartResult{Started: true}, ctx.Err()
	case <-time.After(s.settle):
	}

	res := StartResult{Started: true}
	targets, err := s.devtools.Targets(ctx, req.Port)
	if err != nil {
		s.log.Warn("browser launched but endpoint not answering yet", zap.Error(err))
		return res, nil
	}
	if page, ok := FirstPage(targets); ok {
		res.URL = page.URL
		res.Title = page.Title
	}
	return res, nil
}

// rodLaunch starts Chrome through the rod launcher with the fixed flag set.
// Leakless is off: the browser must outlive this service.
func (s *Supervisor) rodLaunch(ctx context.Context, req StartRequest, binary string) error {
	l := launcher.New().
		Bin(binary).
		Context(ctx).
		Headless(false).
		Leakless(false).
		Set("remote-debugging-port", fmt.Sprintf("%d", req.Port)).
		Set("start-maximized").
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-default-apps").
		Set("disable-session-crashed-bubble").
		Set("disable-features", "InterestFeedContentSuggestions")

	// Use the real user data dir, like a manually launched browser would.
	l = l.Delete(flags.UserDataDir)

	if req.Profile != "" {
		l = l.Set("profile-directory", req.Profile)
	}
	if req.Display != "" {
		l = l.Env(append(os.Environ(), "DISPLAY="+req.Display)...)
	}
	if os.Geteuid() == 0 {
		l = l.Set("no-sandbox").Set("disable-setuid-sandbox")
	}

	_, err := l.Launch()
	return err
}

// resolveBinary returns the browser executable path, probing the well-known
// locations when none is configured.
func resolveBinary(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, configured)
		}
		return configured, nil
	}
	for _, loc := range chromeLocations {
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
	}
	return "", ErrBinaryNotFound
}
