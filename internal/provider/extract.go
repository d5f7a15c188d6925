package provider

import (
	"fmt"
	"strings"
)

// extractLastMessage returns the trimmed text of the single most recent
// agent response in a snapshot: the span between the end of the last
// response marker and the start of the last idle prompt. Scrollback
// accumulates every prior turn, so only the newest bounded span is the
// current answer.
//
// All indices are computed on the color-stripped buffer; slicing raw
// offsets after a separate stripping pass would misalign, since stripped
// sequences have variable length.
func extractLastMessage(p *promptPatterns, vendor, snapshot string) (string, error) {
	clean := stripColorCodes(snapshot)

	markers := p.marker.FindAllStringIndex(clean, -1)
	if len(markers) == 0 {
		return "", fmt.Errorf("%w: no %s response marker in snapshot", ErrResponseNotFound, vendor)
	}

	prompts := p.idle.FindAllStringIndex(clean, -1)
	if len(prompts) == 0 {
		// The final turn has not settled yet; extraction ran too early.
		return "", fmt.Errorf("%w: %s prompt not settled in snapshot", ErrIncompleteResponse, vendor)
	}

	start := markers[len(markers)-1][1]
	end := prompts[len(prompts)-1][0]

	var answer string
	if end > start {
		answer = strings.TrimSpace(clean[start:end])
	}
	if answer == "" {
		return "", fmt.Errorf("%w: %s produced no content between marker and prompt", ErrEmptyResponse, vendor)
	}

	// Second sanitization pass on the already-sliced span: leftover
	// non-color escapes and control bytes go, multi-byte printable text stays.
	return sanitizeResponse(answer), nil
}
