package provider

// Gemini CLI grammar. Same bracketed-profile prompt family and idle marker
// as Copilot; only the launch command and failure wording differ.
var geminiGrammar = Grammar{
	Vendor:           "gemini",
	LaunchCommand:    "gemini-cli chat --agent %s",
	ExitCommand:      "/exit",
	ResponseMarker:   `^>\s*`,
	PermissionPrompt: `Allow this action\?.*\[.*y.*/.*n.*/.*t.*\]:\s*`,
	ErrorPhrases: []string{
		"Gemini is having trouble responding right now",
		"API Error",
	},
	IdleLogPattern: `\x1b\[38;5;13m>\s*\x1b\[39m`,
}

func init() { mustRegister(geminiGrammar) }

// NewGemini binds a Gemini CLI provider to one pane.
func NewGemini(opts Options) (Provider, error) {
	return New("gemini", opts)
}
