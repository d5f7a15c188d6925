package provider

// TerminalStatus is the lifecycle state derived from one pane snapshot.
// Exactly one value holds at a time; statuses are classified on demand from
// screen content, never stored as transitions.
type TerminalStatus string

const (
	// StatusIdle: the agent is settled at its prompt with no unconsumed response.
	StatusIdle TerminalStatus = "IDLE"

	// StatusProcessing: the agent is working; its prompt has not settled yet.
	StatusProcessing TerminalStatus = "PROCESSING"

	// StatusCompleted: the prompt has settled and at least one response is
	// present in the buffer since the last settle.
	StatusCompleted TerminalStatus = "COMPLETED"

	// StatusWaitingUserAnswer: the agent posed a yes/no/always confirmation
	// and is blocked at its prompt waiting for it.
	StatusWaitingUserAnswer TerminalStatus = "WAITING_USER_ANSWER"

	// StatusError: a vendor-reported failure phrase was observed, or the
	// pane could not be read at all.
	StatusError TerminalStatus = "ERROR"
)

// Valid reports whether s is one of the defined statuses.
func (s TerminalStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusProcessing, StatusCompleted, StatusWaitingUserAnswer, StatusError:
		return true
	}
	return false
}

func (s TerminalStatus) String() string {
	return string(s)
}
