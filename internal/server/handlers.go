package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-rod/rod"

	"webpilot/internal/action"
	"webpilot/internal/capture"
	"webpilot/internal/console"
	"webpilot/internal/procctl"
	"webpilot/internal/session"
)

// commandRequest is the shared wire shape for interaction commands. Durations
// arrive as seconds, matching what agent callers find natural to write.
type commandRequest struct {
	Port       int      `json:"port,omitempty"`
	URL        string   `json:"url,omitempty"`
	Locator    string   `json:"locator,omitempty"`
	X          *float64 `json:"x,omitempty"`
	Y          *float64 `json:"y,omitempty"`
	WaitTime   float64  `json:"wait_time,omitempty"`
	Force      bool     `json:"force,omitempty"`
	Text       string   `json:"text,omitempty"`
	Key        string   `json:"key,omitempty"`
	ClearFirst bool     `json:"clear_first,omitempty"`
	Delay      float64  `json:"delay,omitempty"`
	Mode       string   `json:"mode,omitempty"`
	Amount     int      `json:"amount,omitempty"`
	Source     string   `json:"source,omitempty"`
	Target     string   `json:"target,omitempty"`
}

func (c *commandRequest) port(fallback int) int {
	if c.Port > 0 {
		return c.Port
	}
	return fallback
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// actionRequest converts the wire shape into the executor's input.
func (c *commandRequest) actionRequest() *action.Request {
	req := &action.Request{
		Locator:    c.Locator,
		WaitTime:   seconds(c.WaitTime),
		Force:      c.Force,
		ClearFirst: c.ClearFirst,
		Text:       c.Text,
		Key:        c.Key,
		Delay:      seconds(c.Delay),
	}
	if c.X != nil && c.Y != nil {
		req.Coords = &action.Coordinates{X: *c.X, Y: *c.Y}
	}
	return req
}

// applyTimeouts fills unset per-request budgets from the configuration.
func (s *Server) applyTimeouts(req *action.Request) {
	if req.WaitTime <= 0 {
		req.WaitTime = s.cfg.Timeouts.ElementWait
	}
	if req.Delay <= 0 {
		req.Delay = s.cfg.Timeouts.TypeDelay
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", action.ErrValidation, err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  "ok",
	})
}

func (s *Server) handleEnsureBrowser(w http.ResponseWriter, r *http.Request) {
	var cmd commandRequest
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.supervisor.EnsureRunning(r.Context(), procctl.StartRequest{
		Port:       cmd.port(s.cfg.Browser.DebuggingPort),
		BinaryPath: s.cfg.Browser.BinaryPath,
		Display:    s.cfg.Browser.Display,
		Profile:    s.cfg.Browser.Profile,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var cmd commandRequest
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, err)
		return
	}
	if cmd.URL == "" {
		writeError(w, fmt.Errorf("%w: url is required", action.ErrValidation))
		return
	}

	var result *action.NavigateResult
	err := s.guard.Run(r.Context(), cmd.port(s.cfg.Browser.DebuggingPort),
		func(ctx context.Context, sess *session.Session) error {
			var opErr error
			result, opErr = s.executor.Navigate(ctx, sess.Page(), cmd.URL)
			return opErr
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	var cmd commandRequest
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, err)
		return
	}

	var result *action.NavigateResult
	err := s.guard.Run(r.Context(), cmd.port(s.cfg.Browser.DebuggingPort),
		func(ctx context.Context, sess *session.Session) error {
			var opErr error
			result, opErr = s.executor.Back(ctx, sess.Page())
			return opErr
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	s.clickCommand(w, r, s.executor.Click)
}

func (s *Server) handleDoubleClick(w http.ResponseWriter, r *http.Request) {
	s.clickCommand(w, r, s.executor.DoubleClick)
}

type clickFunc func(ctx context.Context, page *rod.Page, req *action.Request) (*action.DispatchResult, error)

func (s *Server) clickCommand(w http.ResponseWriter, r *http.Request, dispatch clickFunc) {
	var cmd commandRequest
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, err)
		return
	}
	req := cmd.actionRequest()
	if err := req.Validate(); err != nil {
		// Rejected before any browser interaction is attempted.
		writeError(w, err)
		return
	}
	s.applyTimeouts(req)

	var result *action.DispatchResult
	err := s.guard.Run(r.Context(), cmd.port(s.cfg.Browser.DebuggingPort),
		func(ctx context.Context, sess *session.Session) error {
			var opErr error
			result, opErr = dispatch(ctx, sess.Page(), req)
			return opErr
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

func (s *Server) handleType(w http.ResponseWriter, r *http.Request) {
	var cmd commandRequest
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, err)
		return
	}
	if cmd.Locator == "" {
		writeError(w, fmt.Errorf("%w: locator is required", action.ErrValidation))
		return
	}
	if cmd.Text == "" && cmd.Key == "" {
		writeError(w, fmt.Errorf("%w: text or key is required", action.ErrValidation))
		return
	}

	req := cmd.actionRequest()
	s.applyTimeouts(req)
	err := s.guard.Run(r.Context(), cmd.port(s.cfg.Browser.DebuggingPort),
		func(ctx context.Context, sess *session.Session) error {
			return s.executor.Type(ctx, sess.Page(), req)
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handlePressKey(w http.ResponseWriter, r *http.Request) {
	var cmd commandRequest
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, err)
		return
	}
	if _, _, err := action.SpecialKey(cmd.Key); err != nil {
		writeError(w, err)
		return
	}

	err := s.guard.Run(r.Context(), cmd.port(s.cfg.Browser.DebuggingPort),
		func(ctx context.Context, sess *session.Session) error {
			return s.executor.PressKey(ctx, sess.Page(), cmd.Key)
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleScroll(w http.ResponseWriter, r *http.Request) {
	var cmd commandRequest
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, err)
		return
	}
	req := &action.Request{
		Locator:      cmd.Locator,
		WaitTime:     seconds(cmd.WaitTime),
		ScrollMode:   cmd.Mode,
		ScrollAmount: cmd.Amount,
	}
	if err := req.ValidateScroll(); err != nil {
		// Rejected before any browser interaction is attempted.
		writeError(w, err)
		return
	}
	s.applyTimeouts(req)

	var result *action.ScrollResult
	err := s.guard.Run(r.Context(), cmd.port(s.cfg.Browser.DebuggingPort),
		func(ctx context.Context, sess *session.Session) error {
			var opErr error
			result, opErr = s.executor.Scroll(ctx, sess.Page(), req)
			return opErr
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

func (s *Server) handleDrag(w http.ResponseWriter, r *http.Request) {
	var cmd commandRequest
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, err)
		return
	}
	if cmd.Source == "" || cmd.Target == "" {
		writeError(w, fmt.Errorf("%w: source and target locators are required", action.ErrValidation))
		return
	}

	req := &action.DragRequest{
		SourceLocator: cmd.Source,
		TargetLocator: cmd.Target,
		WaitTime:      seconds(cmd.WaitTime),
	}
	if req.WaitTime <= 0 {
		req.WaitTime = s.cfg.Timeouts.ElementWait
	}
	err := s.guard.Run(r.Context(), cmd.port(s.cfg.Browser.DebuggingPort),
		func(ctx context.Context, sess *session.Session) error {
			return s.executor.Drag(ctx, sess.Page(), req)
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var cmd commandRequest
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, err)
		return
	}

	var snap *capture.Snapshot
	err := s.guard.Run(r.Context(), cmd.port(s.cfg.Browser.DebuggingPort),
		func(ctx context.Context, sess *session.Session) error {
			var opErr error
			snap, opErr = s.capture.Snapshot(ctx, sess.Page())
			return opErr
		})
	if err != nil {
		writeError(w, err)
		return
	}

	// Half-failures are annotated inside the snapshot; the call itself is a
	// success as long as one half came through.
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"screenshot": base64.StdEncoding.EncodeToString(snap.Screenshot),
		"snapshot":   snap,
	})
}

func (s *Server) handleCaptureElement(w http.ResponseWriter, r *http.Request) {
	var cmd commandRequest
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, err)
		return
	}
	if cmd.Locator == "" {
		writeError(w, fmt.Errorf("%w: locator is required", action.ErrValidation))
		return
	}

	var snap *capture.ElementSnapshot
	err := s.guard.Run(r.Context(), cmd.port(s.cfg.Browser.DebuggingPort),
		func(ctx context.Context, sess *session.Session) error {
			var opErr error
			snap, opErr = s.capture.CaptureElement(ctx, sess.Page(), cmd.Locator, seconds(cmd.WaitTime))
			return opErr
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"screenshot": base64.StdEncoding.EncodeToString(snap.Screenshot),
		"html":       snap.HTML,
	})
}

func (s *Server) handleConsoleRead(w http.ResponseWriter, r *http.Request) {
	var cmd commandRequest
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, err)
		return
	}

	var entries []console.Entry
	err := s.guard.Run(r.Context(), cmd.port(s.cfg.Browser.DebuggingPort),
		func(ctx context.Context, sess *session.Session) error {
			if err := s.console.EnsureInjected(sess.Page()); err != nil {
				return err
			}
			var opErr error
			entries, opErr = s.console.ReadLogs(sess.Page())
			return opErr
		})
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []console.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"logs":    entries,
		"count":   len(entries),
	})
}

func (s *Server) handleConsoleClear(w http.ResponseWriter, r *http.Request) {
	var cmd commandRequest
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, err)
		return
	}

	err := s.guard.Run(r.Context(), cmd.port(s.cfg.Browser.DebuggingPort),
		func(ctx context.Context, sess *session.Session) error {
			return s.console.ClearLogs(sess.Page())
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
