package procctl

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// ProcessController abstracts OS process termination so the supervisor logic
// stays platform-independent and testable.
type ProcessController interface {
	// TerminateByPort stops any browser process whose command line binds the
	// given remote-debugging port. "No such process" is success.
	TerminateByPort(ctx context.Context, port int) error
}

// ExecController terminates processes with pkill, asking politely first and
// escalating to SIGKILL after a grace period.
type ExecController struct {
	log   *zap.Logger
	grace time.Duration
}

// NewExecController returns the pkill-backed controller.
func NewExecController(log *zap.Logger) *ExecController {
	return &ExecController{log: log.Named("procctl"), grace: 2 * time.Second}
}

func (c *ExecController) TerminateByPort(ctx context.Context, port int) error {
	pattern := fmt.Sprintf("remote-debugging-port=%d", port)

	matched, err := c.pkill(ctx, "-TERM", pattern)
	if err != nil {
		return fmt.Errorf("terminate browser on port %d: %w", port, err)
	}
	if !matched {
		return nil
	}

	c.log.Info("sent SIGTERM to browser, waiting before kill",
		zap.Int("port", port), zap.Duration("grace", c.grace))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.grace):
	}

	// Anything still alive gets killed outright.
	if _, err := c.pkill(ctx, "-KILL", pattern); err != nil {
		return fmt.Errorf("kill browser on port %d: %w", port, err)
	}
	return nil
}

// pkill runs pkill -f with the given signal. Returns whether any process
// matched. Exit status 1 means "nothing matched" and is not an error.
func (c *ExecController) pkill(ctx context.Context, signal, pattern string) (bool, error) {
	cmd := exec.CommandContext(ctx, "pkill", signal, "-f", pattern)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}
