package provider

import "errors"

// Bounded-wait failures from Initialize. Fatal to that pane's startup;
// recovery is orchestrator-level retry or pane recreation.
var (
	ErrShellTimeout      = errors.New("shell initialization timed out")
	ErrAgentStartTimeout = errors.New("agent CLI initialization timed out")
)

// Extraction-misuse failures. These mean extraction ran at the wrong
// lifecycle point (before a completed turn was actually observed) and must
// not be suppressed silently by callers.
var (
	ErrResponseNotFound   = errors.New("no response marker found")
	ErrIncompleteResponse = errors.New("incomplete response: no settled prompt")
	ErrEmptyResponse      = errors.New("empty response")
)

// ErrUnknownVendor is returned by New for a vendor with no registered grammar.
var ErrUnknownVendor = errors.New("unknown vendor")
