package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestInitialize_Success(t *testing.T) {
	fastPoll(t)
	term := &fakeTerminal{buffer: "$ "}
	term.onSend = func(text string) {
		if strings.HasPrefix(text, "copilot ") {
			term.setBuffer("$ " + text + "\nWelcome\n[developer]>")
		}
	}

	p := newTestProvider(t, term)
	if p.Initialized() {
		t.Fatal("provider should start uninitialized")
	}

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !p.Initialized() {
		t.Error("initialized flag not set")
	}

	sent := term.sent()
	if len(sent) != 1 || sent[0] != "copilot --agent developer" {
		t.Errorf("unexpected launch commands: %v", sent)
	}
}

func TestInitialize_ShellTimeout(t *testing.T) {
	fastPoll(t)
	term := &fakeTerminal{buffer: "checking packages..."}
	p := newTestProvider(t, term)

	err := p.Initialize(context.Background())
	if !errors.Is(err, ErrShellTimeout) {
		t.Errorf("err = %v, want ErrShellTimeout", err)
	}
	if len(term.sent()) != 0 {
		t.Error("launch command must not be sent before the shell is ready")
	}
	if p.Initialized() {
		t.Error("failed init must not mark the provider initialized")
	}
}

func TestInitialize_AgentStartTimeout(t *testing.T) {
	fastPoll(t)
	// Shell ready, but the agent never reaches its idle prompt.
	term := &fakeTerminal{buffer: "$ "}
	term.onSend = func(string) { term.setBuffer("launching copilot, please wait") }

	p := newTestProvider(t, term)
	err := p.Initialize(context.Background())
	if !errors.Is(err, ErrAgentStartTimeout) {
		t.Errorf("err = %v, want ErrAgentStartTimeout", err)
	}
	if p.Initialized() {
		t.Error("failed init must not mark the provider initialized")
	}
}

func TestGetStatus_UnreadablePane(t *testing.T) {
	term := &fakeTerminal{err: errors.New("no such pane")}
	p := newTestProvider(t, term)
	if got := p.GetStatus(0); got != StatusError {
		t.Errorf("GetStatus = %s, want %s", got, StatusError)
	}
}

func TestGetStatus_EmptyPane(t *testing.T) {
	term := &fakeTerminal{buffer: ""}
	p := newTestProvider(t, term)
	if got := p.GetStatus(0); got != StatusError {
		t.Errorf("GetStatus = %s, want %s", got, StatusError)
	}
}

func TestCleanup_ResetsInitialized(t *testing.T) {
	fastPoll(t)
	term := &fakeTerminal{buffer: "$ "}
	term.onSend = func(string) { term.setBuffer("[developer]>") }

	p := newTestProvider(t, term)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	p.Cleanup()
	if p.Initialized() {
		t.Error("Cleanup must clear the initialized flag")
	}
}

func TestProviderAccessors(t *testing.T) {
	p := newTestProvider(t, &fakeTerminal{})

	if p.Vendor() != "copilot" {
		t.Errorf("Vendor = %q", p.Vendor())
	}
	if p.TerminalID() != "t1" {
		t.Errorf("TerminalID = %q", p.TerminalID())
	}
	if p.AgentProfile() != "developer" {
		t.Errorf("AgentProfile = %q", p.AgentProfile())
	}
	if p.ExitCommand() != "/exit" {
		t.Errorf("ExitCommand = %q", p.ExitCommand())
	}
	if p.IdlePatternForLog() != `\x1b\[38;5;13m>\s*\x1b\[39m` {
		t.Errorf("IdlePatternForLog = %q", p.IdlePatternForLog())
	}
}

func TestNew_UnknownVendor(t *testing.T) {
	_, err := New("no-such-cli", Options{
		SessionName:  "s",
		WindowName:   "w",
		AgentProfile: "dev",
		Terminal:     &fakeTerminal{},
	})
	if !errors.Is(err, ErrUnknownVendor) {
		t.Errorf("err = %v, want ErrUnknownVendor", err)
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	if _, err := New("copilot", Options{}); err == nil {
		t.Error("expected error for empty options")
	}
}

func TestVendors_Builtins(t *testing.T) {
	names := Vendors()
	want := map[string]bool{"copilot": false, "gemini": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("builtin vendor %q not registered", n)
		}
	}
}

func TestRegisterGrammar_ConfigVendor(t *testing.T) {
	g := Grammar{
		Vendor:         "testcli",
		LaunchCommand:  "testcli --agent %s",
		ExitCommand:    "/quit",
		ResponseMarker: `^\*\s*`,
	}
	if err := RegisterGrammar(g); err != nil {
		t.Fatalf("RegisterGrammar failed: %v", err)
	}

	p, err := New("testcli", Options{
		SessionName:  "s",
		WindowName:   "w",
		AgentProfile: "dev",
		Terminal:     &fakeTerminal{buffer: "* all done\n[dev]>"},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := p.GetStatus(0); got != StatusCompleted {
		t.Errorf("GetStatus = %s, want %s", got, StatusCompleted)
	}
}

func TestDetectVendor(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"copilot --agent developer", "copilot"},
		{"gemini-cli chat --agent reviewer", "gemini"},
		{"vim notes.txt", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := DetectVendor(tt.command); got != tt.want {
			t.Errorf("DetectVendor(%q) = %q, want %q", tt.command, got, tt.want)
		}
	}
}

func TestInitialize_RespectsContext(t *testing.T) {
	fastPoll(t)
	term := &fakeTerminal{buffer: "no prompt here"}
	p, err := NewCopilot(Options{
		TerminalID:   "t1",
		SessionName:  "sess",
		WindowName:   "win",
		AgentProfile: "developer",
		Terminal:     term,
		ShellTimeout: 10 * time.Second,
		StartTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewCopilot failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := p.Initialize(ctx); err == nil {
		t.Error("expected error from cancelled initialize")
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled initialize should return promptly")
	}
}
