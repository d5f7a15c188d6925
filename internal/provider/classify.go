package provider

import "strings"

// classify maps one pane snapshot to exactly one status. Ordered, first
// match wins; it never fails. Absence of signal is the settled default.
func classify(p *promptPatterns, errorPhrases []string, snapshot string) TerminalStatus {
	// Unreadable pane.
	if snapshot == "" {
		return StatusError
	}

	clean := stripColorCodes(snapshot)

	// The idle prompt gates everything else: until the prompt settles, the
	// buffer can transiently contain stale error or response text from a
	// previous render.
	if !p.idle.MatchString(clean) {
		return StatusProcessing
	}

	// Error banners persist in scrollback after the prompt re-settles and
	// still outrank permission and completion.
	lower := strings.ToLower(clean)
	for _, phrase := range errorPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return StatusError
		}
	}

	if p.permission != nil && p.permission.MatchString(clean) {
		return StatusWaitingUserAnswer
	}

	if p.marker.MatchString(clean) {
		return StatusCompleted
	}

	// Settled prompt, no unconsumed response.
	return StatusIdle
}
