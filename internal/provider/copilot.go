package provider

// Copilot CLI grammar. The idle prompt renders as "[profile] >", optionally
// with a context-percentage ("[profile] 42% >") and an attention flag
// ("[profile] !>"); patterns are written against color-stripped text. The
// response marker is the arrow Copilot prefixes to its own answers.
var copilotGrammar = Grammar{
	Vendor:           "copilot",
	LaunchCommand:    "copilot --agent %s",
	ExitCommand:      "/exit",
	ResponseMarker:   `^>\s*`,
	PermissionPrompt: `Allow this action\?.*\[.*y.*/.*n.*/.*t.*\]:\s*`,
	ErrorPhrases: []string{
		"Copilot is having trouble responding right now",
	},
	IdleLogPattern: `\x1b\[38;5;13m>\s*\x1b\[39m`,
}

func init() { mustRegister(copilotGrammar) }

// NewCopilot binds a Copilot CLI provider to one pane.
func NewCopilot(opts Options) (Provider, error) {
	return New("copilot", opts)
}
