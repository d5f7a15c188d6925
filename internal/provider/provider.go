// Package provider interprets the terminal screens of interactive AI-agent
// CLIs. Each provider binds one vendor CLI session in one tmux pane,
// classifies raw scrollback snapshots into a lifecycle status, and extracts
// the latest agent response. This is deliberately a brittle screen-scraping
// integration: there is no structured output from the underlying tools, and
// every wait is bounded by a timeout.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/asheshgoplani/agent-relay/internal/logging"
)

var provLog = logging.ForComponent(logging.CompProvider)

// Default bounded-wait timeouts for Initialize.
const (
	DefaultShellTimeout = 10 * time.Second
	DefaultStartTimeout = 30 * time.Second
)

// Terminal is the pane driver consumed by providers: keystroke injection
// and pull-based snapshot retrieval. GetHistory returns the current
// scrollback, tail-limited when tailLines > 0, and an empty string or an
// error when the pane cannot be read. *tmux.Client satisfies this.
type Terminal interface {
	SendKeys(session, window, text string) error
	GetHistory(session, window string, tailLines int) (string, error)
}

// Provider is the capability set implemented once per vendor CLI. Callers
// hold only this interface, never a vendor-specific type.
//
// Snapshot consistency: ExtractLastMessage is a pure function over a
// caller-supplied snapshot rather than a live retrieval, so the buffer used
// for extraction is guaranteed to be the one already inspected by the
// status check that triggered it.
type Provider interface {
	// Vendor returns the registry key of the CLI this provider drives.
	Vendor() string

	// TerminalID returns the opaque pane identifier supplied at construction.
	TerminalID() string

	// AgentProfile returns the profile name embedded in the vendor's prompt.
	AgentProfile() string

	// Initialize waits for the shell, launches the vendor CLI with the
	// agent profile, and waits for the agent to settle at its idle prompt.
	// Fails with ErrShellTimeout or ErrAgentStartTimeout.
	Initialize(ctx context.Context) error

	// GetStatus snapshots the pane (tail-limited when tailLines > 0) and
	// classifies it. Never fails; unreadable panes classify as StatusError.
	// Safe to call at high frequency.
	GetStatus(tailLines int) TerminalStatus

	// ExtractLastMessage returns the newest agent response in the supplied
	// snapshot. Fails with ErrResponseNotFound, ErrIncompleteResponse, or
	// ErrEmptyResponse when invoked at the wrong lifecycle point.
	ExtractLastMessage(snapshot string) (string, error)

	// IdlePatternForLog returns the vendor's canonical, profile-independent
	// idle-marker pattern for transcript-scanning tooling.
	IdlePatternForLog() string

	// ExitCommand returns the literal command that terminates the CLI when
	// typed into the pane.
	ExitCommand() string

	// Initialized reports whether Initialize has succeeded since the last
	// Cleanup.
	Initialized() bool

	// Cleanup clears the initialized flag. It does not touch the pane; the
	// pane's OS-level lifetime belongs to the terminal driver.
	Cleanup()
}

// Options identifies the pane a provider binds to for its lifetime.
type Options struct {
	// TerminalID, SessionName, WindowName are opaque pane identifiers,
	// immutable after construction.
	TerminalID  string
	SessionName string
	WindowName  string

	// AgentProfile is the logical agent identity embedded in the vendor's
	// prompt. May contain regex metacharacters; patterns escape it.
	AgentProfile string

	// Terminal is the pane driver.
	Terminal Terminal

	// ShellTimeout bounds the wait for an interactive shell (default 10s).
	ShellTimeout time.Duration

	// StartTimeout bounds the wait for the agent's idle prompt (default 30s).
	StartTimeout time.Duration
}

func (o Options) validate() error {
	if o.SessionName == "" || o.WindowName == "" {
		return fmt.Errorf("provider options missing session/window name")
	}
	if o.AgentProfile == "" {
		return fmt.Errorf("provider options missing agent profile")
	}
	if o.Terminal == nil {
		return fmt.Errorf("provider options missing terminal driver")
	}
	return nil
}

// agent is the shared engine behind every vendor provider: one grammar, one
// pane, one compiled pattern set. The only mutable state is the initialized
// flag; classification and extraction are pure over retrieved text.
type agent struct {
	grammar  Grammar
	patterns *promptPatterns
	opts     Options

	mu          sync.Mutex
	initialized bool
}

func newAgent(g Grammar, opts Options) (*agent, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	patterns, err := g.compileFor(opts.AgentProfile)
	if err != nil {
		return nil, err
	}
	if opts.ShellTimeout <= 0 {
		opts.ShellTimeout = DefaultShellTimeout
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = DefaultStartTimeout
	}
	return &agent{grammar: g, patterns: patterns, opts: opts}, nil
}

func (a *agent) Vendor() string       { return a.grammar.Vendor }
func (a *agent) TerminalID() string   { return a.opts.TerminalID }
func (a *agent) AgentProfile() string { return a.opts.AgentProfile }

func (a *agent) Initialize(ctx context.Context) error {
	if err := WaitForShell(ctx, a.opts.Terminal, a.opts.SessionName, a.opts.WindowName, a.opts.ShellTimeout); err != nil {
		return err
	}

	launch := fmt.Sprintf(a.grammar.LaunchCommand, a.opts.AgentProfile)
	if err := a.opts.Terminal.SendKeys(a.opts.SessionName, a.opts.WindowName, launch); err != nil {
		return fmt.Errorf("send launch command: %w", err)
	}
	provLog.Info("agent_launched",
		slog.String("vendor", a.grammar.Vendor),
		slog.String("terminal", a.opts.TerminalID),
		slog.String("profile", a.opts.AgentProfile))

	if !WaitUntilStatus(ctx, a, StatusIdle, a.opts.StartTimeout) {
		return fmt.Errorf("%w: %s did not settle at its prompt within %v",
			ErrAgentStartTimeout, a.grammar.Vendor, a.opts.StartTimeout)
	}

	a.mu.Lock()
	a.initialized = true
	a.mu.Unlock()
	return nil
}

func (a *agent) GetStatus(tailLines int) TerminalStatus {
	out, err := a.opts.Terminal.GetHistory(a.opts.SessionName, a.opts.WindowName, tailLines)
	if err != nil {
		provLog.Debug("history_unreadable",
			slog.String("terminal", a.opts.TerminalID),
			slog.String("error", err.Error()))
		return StatusError
	}

	status := classify(a.patterns, a.grammar.ErrorPhrases, out)
	logging.Aggregate(logging.CompStatus, "status_poll",
		slog.String("terminal", a.opts.TerminalID),
		slog.String("status", string(status)))
	return status
}

func (a *agent) ExtractLastMessage(snapshot string) (string, error) {
	return extractLastMessage(a.patterns, a.grammar.Vendor, snapshot)
}

func (a *agent) IdlePatternForLog() string { return a.grammar.IdleLogPattern }
func (a *agent) ExitCommand() string       { return a.grammar.ExitCommand }

func (a *agent) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

func (a *agent) Cleanup() {
	a.mu.Lock()
	a.initialized = false
	a.mu.Unlock()
}
