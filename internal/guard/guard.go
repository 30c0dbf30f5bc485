// Package guard wraps every command in the alert-dismiss-and-retry sequence:
// acquire session → dismiss pre-alerts → run operation → dismiss post-alerts,
// retrying the whole sequence with a fresh session on failure.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"webpilot/internal/action"
	"webpilot/internal/session"
)

// Operation is a command body executed against an acquired session.
type Operation func(ctx context.Context, sess *session.Session) error

// DismissFunc polls for a native dialog for at most timeout and dismisses it.
// Returns whether a dialog was seen.
type DismissFunc func(ctx context.Context, sess *session.Session, timeout time.Duration) bool

// Guard is the retry-and-dialog-suppression combinator applied to every
// command.
type Guard struct {
	log        *zap.Logger
	connector  *session.Connector
	attempts   int
	backoff    time.Duration
	dialogPoll time.Duration
	dismiss    DismissFunc
}

// New builds a guard with the given retry budget. attempts applies to the
// whole acquire→dismiss→run→dismiss sequence, not individual sub-steps.
func New(log *zap.Logger, connector *session.Connector, attempts int, backoff, dialogPoll time.Duration) *Guard {
	return &Guard{
		log:        log.Named("guard"),
		connector:  connector,
		attempts:   attempts,
		backoff:    backoff,
		dialogPoll: dialogPoll,
		dismiss:    DismissDialog,
	}
}

// SetDismissFunc replaces dialog handling, used by tests.
func (g *Guard) SetDismissFunc(fn DismissFunc) { g.dismiss = fn }

// Run executes op under the guard. Validation and not-found errors are not
// retried: another attempt cannot make a malformed request valid or a missing
// element appear, and retrying would multiply the caller's wait budget.
func (g *Guard) Run(ctx context.Context, port int, op Operation) error {
	var lastErr error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		err := g.attempt(ctx, port, op)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, action.ErrValidation) || errors.Is(err, action.ErrNotFound) {
			return err
		}
		if ctx.Err() != nil {
			return wrapExpiry(ctx, err)
		}

		g.log.Warn("guarded attempt failed",
			zap.Int("attempt", attempt), zap.Int("port", port), zap.Error(err))

		if attempt < g.attempts {
			select {
			case <-ctx.Done():
				return wrapExpiry(ctx, lastErr)
			case <-time.After(g.backoff):
			}
		}
	}
	return lastErr
}

// wrapExpiry marks errors cut short by the caller's deadline as the timeout
// class, so they map to the gateway-timeout status instead of a server error.
func wrapExpiry(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", action.ErrTimeout, err)
	}
	return err
}

func (g *Guard) attempt(ctx context.Context, port int, op Operation) error {
	sess, err := g.connector.Connect(ctx, port)
	if err != nil {
		return err
	}
	defer sess.Close()

	if g.dismiss(ctx, sess, g.dialogPoll) {
		g.log.Info("dismissed dialog before operation", zap.Int("port", port))
	}

	if err := op(ctx, sess); err != nil {
		if errors.Is(err, session.ErrConnectivity) {
			sess.MarkStale()
		}
		return err
	}

	// The operation itself may have raised a dialog (beforeunload and the
	// like); clear it so the next command doesn't hit a blocked page.
	if g.dismiss(ctx, sess, g.dialogPoll) {
		g.log.Info("dismissed dialog after operation", zap.Int("port", port))
	}
	return nil
}

// DismissDialog polls for a native JavaScript dialog and dismisses it. The
// handle command is issued directly rather than waiting for the opening
// event: a dialog raised before this call, during the operation or left over
// from an earlier command, has already fired its event and a fresh
// subscription would never see it. An error from the handle call means no
// dialog was showing at that instant. Dismiss, not accept: automation should
// never silently confirm a destructive prompt.
func DismissDialog(ctx context.Context, sess *session.Session, timeout time.Duration) bool {
	page := sess.Page()
	if page == nil {
		return false
	}
	return dismissLoop(ctx, timeout, func() error {
		return proto.PageHandleJavaScriptDialog{Accept: false}.
			Call(page.Context(ctx).Timeout(time.Second))
	})
}

// dismissLoop retries attempt until it succeeds or the poll budget elapses.
func dismissLoop(ctx context.Context, timeout time.Duration, attempt func() error) bool {
	deadline := time.Now().Add(timeout)
	for {
		if attempt() == nil {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}
