// Package tmux is the terminal driver: it creates panes, injects
// keystrokes, and retrieves scrollback for the provider layer. All access
// goes through subprocess calls to the tmux binary; callers must keep
// single-owner discipline per pane (one polling loop per session:window).
package tmux

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/agent-relay/internal/logging"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

const SessionPrefix = "agentrelay_"

// captureCacheTTL bounds how stale a cached snapshot may be. Status polling
// runs at a few hundred milliseconds; a short cache collapses bursts of
// GetHistory calls for the same pane into one capture-pane spawn.
const captureCacheTTL = 300 * time.Millisecond

// IsAvailable checks that the tmux binary is installed and working.
func IsAvailable() error {
	out, err := exec.Command("tmux", "-V").CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux not found or not working: %w (output: %s)", err, string(out))
	}
	return nil
}

type captureEntry struct {
	content string
	at      time.Time
}

// Client drives tmux panes. One Client is shared across all providers in a
// process; it is safe for concurrent use for distinct panes.
type Client struct {
	// limiter caps capture-pane subprocess spawns across all panes so that
	// aggressive polling cannot fork-bomb the tmux server.
	limiter *rate.Limiter

	mu    sync.Mutex
	cache map[string]captureEntry

	sf singleflight.Group
}

// NewClient returns a Client allowing up to capturesPerSec capture-pane
// spawns per second (burst of the same size). Zero or negative means the
// default of 20/s.
func NewClient(capturesPerSec int) *Client {
	if capturesPerSec <= 0 {
		capturesPerSec = 20
	}
	return &Client{
		limiter: rate.NewLimiter(rate.Limit(capturesPerSec), capturesPerSec),
		cache:   make(map[string]captureEntry),
	}
}

func target(session, window string) string {
	return session + ":" + window
}

// HasSession reports whether the tmux session exists.
func (c *Client) HasSession(session string) bool {
	return exec.Command("tmux", "has-session", "-t", session).Run() == nil
}

// EnsureSession creates the session and window if they do not exist yet.
// Existing panes are left untouched, so reconnecting to a live agent is safe.
func (c *Client) EnsureSession(session, window, workDir string) error {
	if !c.HasSession(session) {
		args := []string{"new-session", "-d", "-s", session, "-n", window}
		if workDir != "" {
			args = append(args, "-c", workDir)
		}
		out, err := exec.Command("tmux", args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("create session %s: %w (output: %s)", session, err, string(out))
		}
		// Large scrollback: agent responses routinely exceed the default 2000
		// lines and extraction needs the full last turn on screen.
		_ = exec.Command("tmux", "set-option", "-t", session, "history-limit", "10000").Run()
		tmuxLog.Info("session_created", slog.String("session", session), slog.String("window", window))
		return nil
	}

	if c.hasWindow(session, window) {
		return nil
	}
	args := []string{"new-window", "-d", "-t", session, "-n", window}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	out, err := exec.Command("tmux", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("create window %s: %w (output: %s)", target(session, window), err, string(out))
	}
	tmuxLog.Info("window_created", slog.String("session", session), slog.String("window", window))
	return nil
}

func (c *Client) hasWindow(session, window string) bool {
	out, err := exec.Command("tmux", "list-windows", "-t", session, "-F", "#{window_name}").Output()
	if err != nil {
		return false
	}
	for _, name := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if name == window {
			return true
		}
	}
	return false
}

// SendKeys types text into the pane followed by Enter. The text is sent with
// -l so tmux does not interpret it as key names; prompts containing ";" or
// "Up" arrive verbatim.
func (c *Client) SendKeys(session, window, text string) error {
	t := target(session, window)
	if err := exec.Command("tmux", "send-keys", "-t", t, "-l", "--", text).Run(); err != nil {
		return fmt.Errorf("send-keys to %s: %w", t, err)
	}
	if err := exec.Command("tmux", "send-keys", "-t", t, "Enter").Run(); err != nil {
		return fmt.Errorf("send Enter to %s: %w", t, err)
	}
	c.invalidate(session, window)
	return nil
}

// SendRaw sends a single tmux key name (e.g. "Enter", "y", "Escape")
// without appending Enter. Used for answering permission prompts.
func (c *Client) SendRaw(session, window, key string) error {
	t := target(session, window)
	if err := exec.Command("tmux", "send-keys", "-t", t, key).Run(); err != nil {
		return fmt.Errorf("send key %q to %s: %w", key, t, err)
	}
	c.invalidate(session, window)
	return nil
}

// GetHistory returns the pane's scrollback including ANSI escapes, tail
// limited to the most recent tailLines when tailLines > 0. Returns an empty
// string with a nil error when the pane exists but has no content; returns
// an error when the pane cannot be read at all. Results are cached briefly
// and concurrent calls for the same pane are deduplicated.
func (c *Client) GetHistory(session, window string, tailLines int) (string, error) {
	key := fmt.Sprintf("%s:%s:%d", session, window, tailLines)

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && time.Since(entry.at) < captureCacheTTL {
		c.mu.Unlock()
		return entry.content, nil
	}
	c.mu.Unlock()

	v, err, _ := c.sf.Do(key, func() (any, error) {
		// Re-check under singleflight: another caller may have just filled it.
		c.mu.Lock()
		if entry, ok := c.cache[key]; ok && time.Since(entry.at) < captureCacheTTL {
			c.mu.Unlock()
			return entry.content, nil
		}
		c.mu.Unlock()

		if err := c.limiter.Wait(context.Background()); err != nil {
			return "", err
		}

		content, err := capturePane(session, window, tailLines)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.cache[key] = captureEntry{content: content, at: time.Now()}
		c.mu.Unlock()
		return content, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func capturePane(session, window string, tailLines int) (string, error) {
	t := target(session, window)
	start := "-"
	if tailLines > 0 {
		start = fmt.Sprintf("-%d", tailLines)
	}
	// -p print to stdout, -e keep escape sequences, -J join wrapped lines,
	// -S start line ("-" = beginning of history).
	out, err := exec.Command("tmux", "capture-pane", "-p", "-e", "-J", "-t", t, "-S", start).Output()
	if err != nil {
		return "", fmt.Errorf("capture-pane %s: %w", t, err)
	}
	return string(out), nil
}

// invalidate drops cached snapshots for a pane after keystrokes change it.
func (c *Client) invalidate(session, window string) {
	prefix := session + ":" + window + ":"
	c.mu.Lock()
	for k := range c.cache {
		if strings.HasPrefix(k, prefix) {
			delete(c.cache, k)
		}
	}
	c.mu.Unlock()
}

// KillSession terminates the whole tmux session and every pane in it.
func (c *Client) KillSession(session string) error {
	err := exec.Command("tmux", "kill-session", "-t", session).Run()
	c.mu.Lock()
	for k := range c.cache {
		if strings.HasPrefix(k, session+":") {
			delete(c.cache, k)
		}
	}
	c.mu.Unlock()
	return err
}
