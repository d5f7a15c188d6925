package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/agent-relay/internal/provider"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFrom_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := loadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.DefaultVendor)
	assert.NotNil(t, cfg.Vendors)
}

func TestLoadFrom_ParsesAllSections(t *testing.T) {
	path := writeConfig(t, `
default_vendor = "gemini"

[poll]
interval_ms = 250
shell_timeout_secs = 5
start_timeout_secs = 60
tail_lines = 100
captures_per_sec = 10

[logs]
level = "debug"
format = "text"
max_mb = 20
compress = false

[vendors.mycli]
launch_command = "mycli --agent %s"
exit_command = "/quit"
response_marker = '^#\s*'
error_phrases = ["mycli crashed"]
`)

	cfg, err := loadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.DefaultVendor)
	assert.Equal(t, 250*time.Millisecond, cfg.Poll.Interval())
	assert.Equal(t, 5*time.Second, cfg.Poll.ShellTimeout())
	assert.Equal(t, 60*time.Second, cfg.Poll.StartTimeout())
	assert.Equal(t, 100, cfg.Poll.GetTailLines())
	assert.Equal(t, 10, cfg.Poll.GetCapturesPerSec())

	assert.Equal(t, "debug", cfg.Logs.Level)
	assert.Equal(t, "text", cfg.Logs.Format)
	assert.Equal(t, 20, cfg.Logs.MaxMB)
	assert.False(t, cfg.Logs.GetCompress())

	require.Contains(t, cfg.Vendors, "mycli")
	def := cfg.Vendors["mycli"]
	assert.Equal(t, "mycli --agent %s", def.LaunchCommand)
	assert.Equal(t, []string{"mycli crashed"}, def.ErrorPhrases)
}

func TestLoadFrom_MalformedReturnsDefaultsAndError(t *testing.T) {
	path := writeConfig(t, "default_vendor = [broken")
	cfg, err := loadFrom(path)
	require.Error(t, err)
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.DefaultVendor)
}

func TestPollSettings_Defaults(t *testing.T) {
	var p PollSettings
	assert.Equal(t, 500*time.Millisecond, p.Interval())
	assert.Equal(t, provider.DefaultShellTimeout, p.ShellTimeout())
	assert.Equal(t, provider.DefaultStartTimeout, p.StartTimeout())
	assert.Equal(t, 200, p.GetTailLines())
	assert.Equal(t, 20, p.GetCapturesPerSec())
}

func TestPollSettings_ExplicitZeroTailLines(t *testing.T) {
	zero := 0
	p := PollSettings{TailLines: &zero}
	assert.Equal(t, 0, p.GetTailLines(), "explicit 0 means full history")
}

func TestLogSettings_CompressDefaultsTrue(t *testing.T) {
	var l LogSettings
	assert.True(t, l.GetCompress())
}

func TestApplyVendors_RegistersNewVendor(t *testing.T) {
	cfg := &UserConfig{Vendors: map[string]VendorDef{
		"configcli": {
			LaunchCommand:  "configcli --agent %s",
			ExitCommand:    "/bye",
			ResponseMarker: `^>\s*`,
		},
	}}
	require.NoError(t, ApplyVendors(cfg))

	g, ok := provider.GrammarFor("configcli")
	require.True(t, ok)
	assert.Equal(t, "/bye", g.ExitCommand)
}

func TestApplyVendors_OverridesBuiltinPartially(t *testing.T) {
	orig, ok := provider.GrammarFor("copilot")
	require.True(t, ok)
	t.Cleanup(func() { require.NoError(t, provider.RegisterGrammar(orig)) })

	cfg := &UserConfig{Vendors: map[string]VendorDef{
		"copilot": {ErrorPhrases: []string{"custom failure text"}},
	}}
	require.NoError(t, ApplyVendors(cfg))

	g, ok := provider.GrammarFor("copilot")
	require.True(t, ok)
	assert.Equal(t, []string{"custom failure text"}, g.ErrorPhrases)
	assert.Equal(t, orig.LaunchCommand, g.LaunchCommand, "unset fields keep builtin values")
}

func TestApplyVendors_IncompleteNewVendorFails(t *testing.T) {
	cfg := &UserConfig{Vendors: map[string]VendorDef{
		"halfcli": {LaunchCommand: "halfcli %s"},
	}}
	assert.Error(t, ApplyVendors(cfg), "new vendor without response marker must be rejected")
}
