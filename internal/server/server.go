// Package server exposes the browser-control operations over a JSON/HTTP
// API. Every command runs inside the alert guard; handlers only decode,
// validate, dispatch, and encode.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"webpilot/internal/action"
	"webpilot/internal/capture"
	"webpilot/internal/config"
	"webpilot/internal/console"
	"webpilot/internal/guard"
	"webpilot/internal/procctl"
)

// Server hosts the control-plane API for one browser instance.
type Server struct {
	log        *zap.Logger
	cfg        config.Config
	supervisor *procctl.Supervisor
	guard      *guard.Guard
	executor   *action.Executor
	capture    *capture.Engine
	console    *console.Bridge

	httpServer *http.Server
}

// New wires the command surface to its collaborators.
func New(log *zap.Logger, cfg config.Config, supervisor *procctl.Supervisor,
	g *guard.Guard, executor *action.Executor, engine *capture.Engine,
	bridge *console.Bridge) *Server {
	s := &Server{
		log:        log.Named("server"),
		cfg:        cfg,
		supervisor: supervisor,
		guard:      g,
		executor:   executor,
		capture:    engine,
		console:    bridge,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(s.requestIDMiddleware)
	router.Use(s.loggingMiddleware)
	router.Use(s.recoverMiddleware)

	router.Get("/healthz", s.handleHealthz)
	router.Post("/browser/ensure", s.handleEnsureBrowser)

	router.Post("/navigate", s.handleNavigate)
	router.Post("/back", s.handleBack)
	router.Post("/click", s.handleClick)
	router.Post("/double-click", s.handleDoubleClick)
	router.Post("/type", s.handleType)
	router.Post("/press-key", s.handlePressKey)
	router.Post("/scroll", s.handleScroll)
	router.Post("/drag", s.handleDrag)

	router.Post("/capture", s.handleCapture)
	router.Post("/capture/element", s.handleCaptureElement)

	router.Post("/console/read", s.handleConsoleRead)
	router.Post("/console/clear", s.handleConsoleClear)

	return router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("listening", zap.String("addr", s.cfg.ListenAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
