package provider

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// PollInterval is the delay between successive polls in the bounded-wait
// primitives. The terminal driver offers only pull-based snapshots, so
// waiting is a synchronous loop; the interval is a tunable, not incidental.
var PollInterval = 500 * time.Millisecond

// StatusSource is the polled side of WaitUntilStatus. Provider satisfies it.
type StatusSource interface {
	GetStatus(tailLines int) TerminalStatus
}

// WaitUntilStatus polls src until it reports target or timeout elapses.
// Returns whether the target was reached. There is no mid-poll cancellation
// beyond context cancellation and timeout expiry.
func WaitUntilStatus(ctx context.Context, src StatusSource, target TerminalStatus, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if src.GetStatus(0) == target {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(PollInterval):
		}
	}
}

// shellPromptRe matches a settled interactive shell prompt as the last
// meaningful content of the pane.
var shellPromptRe = regexp.MustCompile(`[$%#>]\s*$`)

// WaitForShell polls the pane until the underlying shell looks interactive
// or timeout elapses. Fails with ErrShellTimeout.
func WaitForShell(ctx context.Context, term Terminal, session, window string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		out, err := term.GetHistory(session, window, 5)
		if err == nil && out != "" {
			if shellPromptRe.MatchString(stripColorCodes(out)) {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s:%s not interactive after %v", ErrShellTimeout, session, window, timeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrShellTimeout, ctx.Err())
		case <-time.After(PollInterval):
		}
	}
}
