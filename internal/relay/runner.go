package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/agent-relay/internal/provider"
	"github.com/asheshgoplani/agent-relay/internal/statedb"
)

// Turn outcome sentinels.
var (
	// ErrTurnTimeout: the agent did not complete within the turn deadline.
	ErrTurnTimeout = errors.New("turn timed out")

	// ErrPermissionRequired: the agent is blocked on a confirmation prompt
	// and auto-approval is disabled.
	ErrPermissionRequired = errors.New("agent is waiting for a permission answer")

	// ErrAgentFailure: the pane classified as ERROR during the turn.
	ErrAgentFailure = errors.New("agent reported an error")
)

// Terminal is the pane driver the runner needs: prompt injection plus raw
// key presses for answering permission prompts. *tmux.Client satisfies this.
type Terminal interface {
	provider.Terminal
	SendRaw(session, window, key string) error
}

// Pane binds one provider to the terminal coordinates it lives at.
type Pane struct {
	Provider provider.Provider
	Terminal Terminal
	Session  string
	Window   string
}

// Options tunes turn execution.
type Options struct {
	// TurnTimeout bounds one prompt/response cycle. Default: 5 minutes.
	TurnTimeout time.Duration

	// TailLines limits status-poll captures; 0 captures full history.
	TailLines int

	// AutoApprove answers permission prompts with "y" instead of failing
	// the turn with ErrPermissionRequired.
	AutoApprove bool

	// DB, when set, records status transitions in the terminal registry.
	DB *statedb.StateDB

	// EventsDir, when set, publishes status transitions as JSON events.
	EventsDir string
}

// DefaultTurnTimeout bounds a turn when Options.TurnTimeout is unset.
const DefaultTurnTimeout = 5 * time.Minute

// Runner executes conversation turns against provider-bound panes.
type Runner struct {
	opts Options
}

func NewRunner(opts Options) *Runner {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = DefaultTurnTimeout
	}
	return &Runner{opts: opts}
}

// RunTurn sends one prompt to the pane and blocks until the agent completes,
// then extracts and returns the response. The status sequence observed is
// published to the registry and event files when configured.
func (r *Runner) RunTurn(ctx context.Context, pane Pane, prompt string) (string, error) {
	p := pane.Provider
	relayLog.Info("turn_started",
		slog.String("terminal", p.TerminalID()),
		slog.String("vendor", p.Vendor()))

	if err := pane.Terminal.SendKeys(pane.Session, pane.Window, prompt); err != nil {
		return "", fmt.Errorf("send prompt to %s: %w", p.TerminalID(), err)
	}

	// Let the CLI consume the keystrokes before the first poll; polling
	// instantly can still see the previous turn's completed screen.
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(provider.PollInterval):
	}

	deadline := time.Now().Add(r.opts.TurnTimeout)
	var last provider.TerminalStatus
	answered := false

	for {
		status := p.GetStatus(r.opts.TailLines)
		if status != last {
			r.publish(p, status)
			last = status
		}

		switch status {
		case provider.StatusError:
			return "", fmt.Errorf("%w: terminal %s", ErrAgentFailure, p.TerminalID())

		case provider.StatusWaitingUserAnswer:
			if !r.opts.AutoApprove {
				return "", fmt.Errorf("%w: terminal %s", ErrPermissionRequired, p.TerminalID())
			}
			// One approval per prompt; re-approve if another appears.
			if !answered {
				if err := pane.Terminal.SendRaw(pane.Session, pane.Window, "y"); err != nil {
					return "", fmt.Errorf("approve permission on %s: %w", p.TerminalID(), err)
				}
				if err := pane.Terminal.SendRaw(pane.Session, pane.Window, "Enter"); err != nil {
					return "", fmt.Errorf("approve permission on %s: %w", p.TerminalID(), err)
				}
				relayLog.Info("permission_auto_approved", slog.String("terminal", p.TerminalID()))
				answered = true
			}

		case provider.StatusCompleted:
			// Snapshot once and extract from that exact buffer. Tail limits
			// do not apply here; the response may be longer than the tail.
			snapshot, err := pane.Terminal.GetHistory(pane.Session, pane.Window, 0)
			if err != nil {
				return "", fmt.Errorf("capture response from %s: %w", p.TerminalID(), err)
			}
			msg, err := p.ExtractLastMessage(snapshot)
			if err != nil {
				return "", err
			}
			relayLog.Info("turn_completed",
				slog.String("terminal", p.TerminalID()),
				slog.Int("response_len", len(msg)))
			return msg, nil

		case provider.StatusProcessing, provider.StatusIdle:
			// Idle right after send means the keystrokes have not rendered
			// yet; keep polling.
			answered = false
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: terminal %s after %v", ErrTurnTimeout, p.TerminalID(), r.opts.TurnTimeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(provider.PollInterval):
		}
	}
}

// RunAll executes one turn per pane concurrently and returns the responses
// keyed by terminal ID. The first failing turn cancels the rest.
func (r *Runner) RunAll(ctx context.Context, panes []Pane, prompts map[string]string) (map[string]string, error) {
	results := make(map[string]string, len(panes))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, pane := range panes {
		pane := pane
		prompt, ok := prompts[pane.Provider.TerminalID()]
		if !ok {
			continue
		}
		g.Go(func() error {
			msg, err := r.RunTurn(ctx, pane, prompt)
			if err != nil {
				return err
			}
			mu.Lock()
			results[pane.Provider.TerminalID()] = msg
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// publish records a status transition in the registry and the event files.
// Failures are logged, not fatal; the turn itself is the primary output.
func (r *Runner) publish(p provider.Provider, status provider.TerminalStatus) {
	relayLog.Debug("status_changed",
		slog.String("terminal", p.TerminalID()),
		slog.String("status", string(status)))

	if r.opts.DB != nil {
		if err := r.opts.DB.UpdateStatus(p.TerminalID(), string(status)); err != nil {
			relayLog.Warn("status_persist_failed",
				slog.String("terminal", p.TerminalID()),
				slog.String("error", err.Error()))
		}
	}
	if r.opts.EventsDir != "" {
		ev := StatusEvent{
			TerminalID: p.TerminalID(),
			Vendor:     p.Vendor(),
			Profile:    p.AgentProfile(),
			Status:     string(status),
		}
		if err := WriteStatusEvent(r.opts.EventsDir, ev); err != nil {
			relayLog.Warn("event_write_failed",
				slog.String("terminal", p.TerminalID()),
				slog.String("error", err.Error()))
		}
	}
}
