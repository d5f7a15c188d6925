// Package config loads user configuration from ~/.agent-relay/config.toml.
// Built-in vendor grammars work with an empty config; the file exists to
// tune polling, logging, and to register or override vendor CLIs.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/asheshgoplani/agent-relay/internal/provider"
)

// FileName is the TOML config file inside the app directory.
const FileName = "config.toml"

// AppDirName is the dot-directory under the user's home.
const AppDirName = ".agent-relay"

// UserConfig is the user-facing configuration in TOML format.
type UserConfig struct {
	// DefaultVendor is the vendor CLI used when a pane does not name one.
	// Valid values: "copilot", "gemini", or any vendor defined in [vendors].
	// If empty, callers must name a vendor explicitly.
	DefaultVendor string `toml:"default_vendor"`

	// Poll tunes status polling and bounded waits.
	Poll PollSettings `toml:"poll"`

	// Logs tunes the debug log file and in-memory ring buffer.
	Logs LogSettings `toml:"logs"`

	// Vendors defines additional vendor CLI grammars, or overrides for the
	// built-in ones. Keys are vendor names.
	Vendors map[string]VendorDef `toml:"vendors"`
}

// PollSettings tunes the polling loops that watch pane content.
type PollSettings struct {
	// IntervalMS is the delay between status polls in milliseconds.
	// Default: 500
	IntervalMS int `toml:"interval_ms"`

	// ShellTimeoutS is seconds to wait for an interactive shell before an
	// agent launch. Default: 10
	ShellTimeoutS int `toml:"shell_timeout_secs"`

	// StartTimeoutS is seconds to wait for an agent to reach its idle
	// prompt after launch. Default: 30
	StartTimeoutS int `toml:"start_timeout_secs"`

	// TailLines limits status-poll captures to the last N scrollback lines.
	// 0 captures the full history. Default: 200
	TailLines *int `toml:"tail_lines"`

	// CapturesPerSec caps tmux capture-pane spawns per second across all
	// panes. Default: 20
	CapturesPerSec int `toml:"captures_per_sec"`
}

// Interval returns the poll interval with the default applied.
func (p PollSettings) Interval() time.Duration {
	if p.IntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(p.IntervalMS) * time.Millisecond
}

// ShellTimeout returns the shell wait bound with the default applied.
func (p PollSettings) ShellTimeout() time.Duration {
	if p.ShellTimeoutS <= 0 {
		return provider.DefaultShellTimeout
	}
	return time.Duration(p.ShellTimeoutS) * time.Second
}

// StartTimeout returns the agent start bound with the default applied.
func (p PollSettings) StartTimeout() time.Duration {
	if p.StartTimeoutS <= 0 {
		return provider.DefaultStartTimeout
	}
	return time.Duration(p.StartTimeoutS) * time.Second
}

// GetTailLines returns the capture tail limit, defaulting to 200.
// Explicit 0 means full history; the pointer distinguishes "not set".
func (p PollSettings) GetTailLines() int {
	if p.TailLines == nil {
		return 200
	}
	if *p.TailLines < 0 {
		return 0
	}
	return *p.TailLines
}

// GetCapturesPerSec returns the capture rate cap, defaulting to 20.
func (p PollSettings) GetCapturesPerSec() int {
	if p.CapturesPerSec <= 0 {
		return 20
	}
	return p.CapturesPerSec
}

// LogSettings tunes the debug log file written under the app directory.
type LogSettings struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `toml:"level"`

	// Format sets the log format: "json" (default) or "text".
	Format string `toml:"format"`

	// MaxMB is the max size in MB for relay.log before rotation.
	// Default: 10
	MaxMB int `toml:"max_mb"`

	// Backups is the number of rotated log files to keep. Default: 5
	Backups int `toml:"backups"`

	// RetentionDays is the number of days to keep rotated logs. Default: 10
	RetentionDays int `toml:"retention_days"`

	// Compress gzips rotated logs. Default: true (nil = use default)
	Compress *bool `toml:"compress"`

	// RingBufferMB is the in-memory ring buffer size in MB for crash dumps.
	// Default: 4
	RingBufferMB int `toml:"ring_buffer_mb"`

	// AggregateIntervalS is the event aggregation flush interval in seconds.
	// Default: 30
	AggregateIntervalS int `toml:"aggregate_interval_secs"`
}

// GetCompress returns whether to compress rotated logs, defaulting to true.
func (l LogSettings) GetCompress() bool {
	if l.Compress == nil {
		return true
	}
	return *l.Compress
}

// VendorDef defines a vendor CLI grammar in config.toml. Fields mirror the
// grammar table registered for built-in vendors; a [vendors.<name>] table
// whose name matches a built-in overrides only the fields it sets.
type VendorDef struct {
	// LaunchCommand is the command line template; %s receives the agent
	// profile name.
	LaunchCommand string `toml:"launch_command"`

	// ExitCommand terminates the CLI when typed into its pane.
	ExitCommand string `toml:"exit_command"`

	// ResponseMarker is the regex for the glyph starting an agent answer
	// line.
	ResponseMarker string `toml:"response_marker"`

	// PermissionPrompt is the regex for the confirmation-request phrase.
	PermissionPrompt string `toml:"permission_prompt"`

	// ErrorPhrases are failure literals matched case-insensitively.
	ErrorPhrases []string `toml:"error_phrases"`

	// IdleLogPattern is the raw ANSI idle marker for transcript tooling.
	IdleLogPattern string `toml:"idle_log_pattern"`
}

var defaultUserConfig = UserConfig{
	Vendors: make(map[string]VendorDef),
}

var (
	cache   *UserConfig
	cacheMu sync.RWMutex
)

// AppDir returns ~/.agent-relay, creating it if needed.
func AppDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, AppDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create app directory: %w", err)
	}
	return dir, nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := AppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the user configuration, returning the cached copy after the
// first call. A missing file yields defaults with a nil error; a malformed
// file yields defaults with the parse error so the caller can surface it.
func Load() (*UserConfig, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cache != nil {
		return cache, nil
	}

	path, err := Path()
	if err != nil {
		cache = &defaultUserConfig
		return cache, nil
	}
	cfg, err := loadFrom(path)
	cache = cfg
	return cache, err
}

func loadFrom(path string) (*UserConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &defaultUserConfig, nil
	}

	var cfg UserConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &defaultUserConfig, fmt.Errorf("config.toml parse error: %w", err)
	}
	if cfg.Vendors == nil {
		cfg.Vendors = make(map[string]VendorDef)
	}
	return &cfg, nil
}

// ClearCache drops the cached config so the next Load reads from disk.
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}

// Reload clears the cache and loads fresh from disk.
func Reload() (*UserConfig, error) {
	ClearCache()
	return Load()
}

// Save writes the config atomically (temp file then rename) and clears the
// cache so the next Load sees the new values.
func Save(cfg *UserConfig) error {
	path, err := Path()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString("# agent-relay configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalize config save: %w", err)
	}

	ClearCache()
	return nil
}

// ApplyVendors registers every [vendors.<name>] table as a provider grammar.
// Tables whose name matches a registered vendor start from that grammar and
// override only the fields they set; unknown names must be complete.
func ApplyVendors(cfg *UserConfig) error {
	for name, def := range cfg.Vendors {
		g, ok := provider.GrammarFor(name)
		if !ok {
			g = provider.Grammar{Vendor: name}
		}
		if def.LaunchCommand != "" {
			g.LaunchCommand = def.LaunchCommand
		}
		if def.ExitCommand != "" {
			g.ExitCommand = def.ExitCommand
		}
		if def.ResponseMarker != "" {
			g.ResponseMarker = def.ResponseMarker
		}
		if def.PermissionPrompt != "" {
			g.PermissionPrompt = def.PermissionPrompt
		}
		if len(def.ErrorPhrases) > 0 {
			g.ErrorPhrases = def.ErrorPhrases
		}
		if def.IdleLogPattern != "" {
			g.IdleLogPattern = def.IdleLogPattern
		}
		if err := provider.RegisterGrammar(g); err != nil {
			return fmt.Errorf("vendor %q: %w", name, err)
		}
	}
	return nil
}

// CreateExample writes an example config if none exists yet.
func CreateExample() error {
	path, err := Path()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	example := `# agent-relay configuration
# Built-in vendors (copilot, gemini) work without any of this.

# Vendor used when a pane does not name one
# default_vendor = "copilot"

[poll]
# Delay between status polls in milliseconds (default: 500)
interval_ms = 500
# Seconds to wait for an interactive shell before launching (default: 10)
shell_timeout_secs = 10
# Seconds to wait for the agent's idle prompt after launch (default: 30)
start_timeout_secs = 30
# Scrollback lines captured per status poll; 0 = full history (default: 200)
tail_lines = 200

[logs]
# Minimum log level: "debug", "info", "warn", "error" (default: "info")
level = "info"
# Log format: "json" or "text" (default: "json")
format = "json"
# Max relay.log size in MB before rotation (default: 10)
max_mb = 10

# Define a new vendor CLI, or override a built-in one by using its name.
# [vendors.mycli]
# launch_command = "mycli --agent %s"
# exit_command = "/exit"
# response_marker = '^>\s*'
# permission_prompt = 'Allow this action\?.*\[.*y.*/.*n.*\]:\s*'
# error_phrases = ["mycli is having trouble"]
`
	return os.WriteFile(path, []byte(example), 0o600)
}
