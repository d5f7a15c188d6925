package provider

import (
	"fmt"
	"regexp"
	"strings"
)

// Shared escape-handling patterns (process-wide constants, no per-instance
// state). Prompt grammars are written against color-stripped but otherwise
// intact text, so classification strips only SGR color codes; the remaining
// escape classes are removed from extracted responses in a second pass.
var (
	// colorCodeRe matches SGR color sequences: ESC [ params m.
	colorCodeRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

	// escapeBodyRe matches the bracketed body of non-color sequences
	// (cursor movement, erase, bracketed paste) once the raw ESC byte has
	// been dropped by controlByteRe.
	escapeBodyRe = regexp.MustCompile(`\[[?0-9;]*[a-zA-Z]`)

	// controlByteRe matches control bytes outside printable/whitespace
	// ranges: C0 except tab/newline/carriage-return, DEL, and C1 controls.
	// Non-ASCII printable text passes through untouched.
	controlByteRe = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f\x{80}-\x{9f}]`)
)

// Grammar is one vendor CLI's literal table: how to launch and quit it, and
// the prompt language its screens speak. Grammars are data, not protocol;
// additional vendors are registered (built-in or from config) without new
// call sites.
type Grammar struct {
	// Vendor is the registry key, e.g. "copilot".
	Vendor string

	// LaunchCommand is a fmt template; %s receives the agent profile.
	LaunchCommand string

	// ExitCommand, typed into the pane, terminates the CLI gracefully.
	ExitCommand string

	// ResponseMarker is the line-start glyph regex prefixing an agent
	// answer. Compiled in multiline mode.
	ResponseMarker string

	// PermissionPrompt is the confirmation-request phrase regex. The built
	// permission pattern requires it to be followed (dotall) by the idle
	// prompt: the agent is blocked at its own ready-prompt after asking.
	PermissionPrompt string

	// ErrorPhrases are vendor failure literals, matched case-insensitively
	// anywhere in the color-stripped buffer.
	ErrorPhrases []string

	// IdleLogPattern is the vendor's canonical, profile-independent idle
	// marker (raw ANSI form) for tooling that scans transcripts.
	IdleLogPattern string
}

func (g Grammar) validate() error {
	if g.Vendor == "" {
		return fmt.Errorf("grammar missing vendor name")
	}
	if g.LaunchCommand == "" {
		return fmt.Errorf("grammar %s missing launch command", g.Vendor)
	}
	if !strings.Contains(g.LaunchCommand, "%s") {
		return fmt.Errorf("grammar %s launch command has no %%s profile slot", g.Vendor)
	}
	if g.ResponseMarker == "" {
		return fmt.Errorf("grammar %s missing response marker", g.Vendor)
	}
	return nil
}

// promptPatterns holds the per-instance compiled regex set. Derived once at
// construction from the agent profile; never mutated afterward.
type promptPatterns struct {
	idle       *regexp.Regexp
	permission *regexp.Regexp
	marker     *regexp.Regexp
}

// idlePromptPattern builds the settled-prompt regex for one agent profile:
// the profile name in brackets, an optional percentage indicator, an
// optional attention flag, the prompt glyph, anchored as the last meaningful
// content of the buffer (trailing whitespace tolerated). The profile is
// regex-escaped; it can contain arbitrary characters.
func idlePromptPattern(profile string) string {
	return `\[` + regexp.QuoteMeta(profile) + `\]\s*(?:\d+%\s*)?!?>\s*$`
}

// compileFor builds the instance pattern set for an agent profile.
func (g Grammar) compileFor(profile string) (*promptPatterns, error) {
	idleSrc := idlePromptPattern(profile)
	idle, err := regexp.Compile(idleSrc)
	if err != nil {
		return nil, fmt.Errorf("compile idle prompt for %s: %w", g.Vendor, err)
	}

	var permission *regexp.Regexp
	if g.PermissionPrompt != "" {
		// Dotall: the question and the trailing idle prompt span lines.
		permission, err = regexp.Compile(`(?s)` + g.PermissionPrompt + idleSrc)
		if err != nil {
			return nil, fmt.Errorf("compile permission prompt for %s: %w", g.Vendor, err)
		}
	}

	marker, err := regexp.Compile(`(?m)` + g.ResponseMarker)
	if err != nil {
		return nil, fmt.Errorf("compile response marker for %s: %w", g.Vendor, err)
	}

	return &promptPatterns{idle: idle, permission: permission, marker: marker}, nil
}

// stripColorCodes removes SGR color sequences only. All position arithmetic
// in classification and extraction happens on the output of this function,
// never on the raw buffer, so indices stay aligned.
func stripColorCodes(s string) string {
	return colorCodeRe.ReplaceAllString(s, "")
}

// sanitizeResponse removes leftover non-color escape bodies and control
// bytes from an already color-stripped, already-sliced response. Bracketed
// bodies are removed before the raw ESC bytes.
func sanitizeResponse(s string) string {
	s = escapeBodyRe.ReplaceAllString(s, "")
	s = controlByteRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
