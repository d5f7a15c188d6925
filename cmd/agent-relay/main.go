package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/asheshgoplani/agent-relay/internal/config"
	"github.com/asheshgoplani/agent-relay/internal/logging"
	"github.com/asheshgoplani/agent-relay/internal/provider"
	"github.com/asheshgoplani/agent-relay/internal/relay"
	"github.com/asheshgoplani/agent-relay/internal/statedb"
	"github.com/asheshgoplani/agent-relay/internal/tmux"
)

const Version = "0.3.0"

func main() {
	cfg := initConfig()

	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		return
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("agent-relay v%s\n", Version)
	case "help", "--help", "-h":
		printHelp()
	case "add", "run":
		handleAdd(cfg, args[1:])
	case "list", "ls":
		handleList(cfg, args[1:])
	case "status":
		handleStatus(cfg, args[1:])
	case "send":
		handleSend(cfg, args[1:])
	case "wait":
		handleWait(args[1:])
	case "remove", "rm":
		handleRemove(cfg, args[1:])
	case "vendors":
		handleVendors()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(1)
	}

	logging.Shutdown()
}

func printHelp() {
	fmt.Println(`agent-relay - drive interactive AI-agent CLIs in tmux panes

Usage:
  agent-relay add <terminal-id> -vendor <name> -profile <name>   Create and initialize a pane
  agent-relay send <terminal-id> <prompt>                        Run one turn, print the response
  agent-relay wait <terminal-id> <status> [status...]            Block until the pane reaches a status
  agent-relay status <terminal-id>                               Print the pane's current status
  agent-relay list                                               List registered panes
  agent-relay remove <terminal-id>                               Unregister (and optionally kill) a pane
  agent-relay vendors                                            List known vendor CLIs
  agent-relay version                                            Print version

Flags vary per command; run a command with -h for details.
Configuration lives at ~/.agent-relay/config.toml.`)
}

// initConfig loads user config, applies vendor overrides, and starts logging.
func initConfig() *config.UserConfig {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}

	logDir, dirErr := config.AppDir()
	if dirErr != nil {
		logDir = ""
	}
	logging.Init(logging.Config{
		LogDir:                logDir,
		Level:                 cfg.Logs.Level,
		Format:                cfg.Logs.Format,
		MaxSizeMB:             cfg.Logs.MaxMB,
		MaxBackups:            cfg.Logs.Backups,
		MaxAgeDays:            cfg.Logs.RetentionDays,
		Compress:              cfg.Logs.GetCompress(),
		RingBufferSize:        cfg.Logs.RingBufferMB * 1024 * 1024,
		AggregateIntervalSecs: cfg.Logs.AggregateIntervalS,
	})

	provider.PollInterval = cfg.Poll.Interval()

	if err := config.ApplyVendors(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	return cfg
}

func openDB() *statedb.StateDB {
	dir, err := config.AppDir()
	if err != nil {
		fatal("resolve app directory: %v", err)
	}
	db, err := statedb.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		fatal("open state database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		fatal("migrate state database: %v", err)
	}
	return db
}

func requireTmux() {
	if _, err := exec.LookPath("tmux"); err != nil {
		fmt.Fprintln(os.Stderr, "Error: tmux not found in PATH")
		fmt.Fprintln(os.Stderr, "\nagent-relay requires tmux. Install with your package manager,")
		fmt.Fprintln(os.Stderr, "e.g. brew install tmux / apt install tmux")
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	if dir, err := config.AppDir(); err == nil {
		_ = logging.DumpRingBuffer(filepath.Join(dir, "crash-dump.log"))
	}
	logging.Shutdown()
	os.Exit(1)
}

// paneFor rebuilds the provider and pane bindings for a registered terminal.
func paneFor(cfg *config.UserConfig, db *statedb.StateDB, client *tmux.Client, id string) (relay.Pane, *statedb.TerminalRow) {
	row, err := db.GetTerminal(id)
	if errors.Is(err, sql.ErrNoRows) {
		fatal("terminal %q is not registered (agent-relay list)", id)
	}
	if err != nil {
		fatal("load terminal %q: %v", id, err)
	}

	p, err := provider.New(row.Vendor, provider.Options{
		TerminalID:   row.ID,
		SessionName:  row.SessionName,
		WindowName:   row.WindowName,
		AgentProfile: row.Profile,
		Terminal:     client,
		ShellTimeout: cfg.Poll.ShellTimeout(),
		StartTimeout: cfg.Poll.StartTimeout(),
	})
	if err != nil {
		fatal("rebuild provider for %q: %v", id, err)
	}
	return relay.Pane{
		Provider: p,
		Terminal: client,
		Session:  row.SessionName,
		Window:   row.WindowName,
	}, row
}

func handleAdd(cfg *config.UserConfig, args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	vendor := fs.String("vendor", "", "vendor CLI to launch (copilot, gemini, ...)")
	command := fs.String("command", "", "launch command to infer the vendor from")
	profile := fs.String("profile", "", "agent profile name (required)")
	workDir := fs.String("dir", "", "working directory for the pane")
	noInit := fs.Bool("no-init", false, "register the pane without launching the agent")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fatal("usage: agent-relay add <terminal-id> -vendor <name> -profile <name>")
	}
	id := fs.Arg(0)
	if *vendor == "" && *command != "" {
		detected := provider.DetectVendor(*command)
		if detected == "" {
			fatal("could not infer a vendor from %q (agent-relay vendors)", *command)
		}
		*vendor = detected
	}
	if *vendor == "" {
		*vendor = cfg.DefaultVendor
	}
	if *vendor == "" {
		fatal("no vendor given and no default_vendor in config.toml")
	}
	if *profile == "" {
		fatal("-profile is required")
	}

	requireTmux()
	db := openDB()
	defer db.Close()

	client := tmux.NewClient(cfg.Poll.GetCapturesPerSec())
	session := tmux.SessionPrefix + id
	if err := client.EnsureSession(session, "agent", *workDir); err != nil {
		fatal("create tmux pane: %v", err)
	}

	p, err := provider.New(*vendor, provider.Options{
		TerminalID:   id,
		SessionName:  session,
		WindowName:   "agent",
		AgentProfile: *profile,
		Terminal:     client,
		ShellTimeout: cfg.Poll.ShellTimeout(),
		StartTimeout: cfg.Poll.StartTimeout(),
	})
	if err != nil {
		fatal("%v", err)
	}

	now := time.Now()
	row := &statedb.TerminalRow{
		ID:          id,
		SessionName: session,
		WindowName:  "agent",
		Vendor:      p.Vendor(),
		Profile:     *profile,
		Status:      string(provider.StatusProcessing),
		CreatedAt:   now,
		LastSeen:    now,
	}
	if err := db.SaveTerminal(row); err != nil {
		fatal("register terminal: %v", err)
	}

	if *noInit {
		fmt.Printf("Registered %s (%s, profile %s); agent not launched\n", id, p.Vendor(), *profile)
		return
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := p.Initialize(ctx); err != nil {
		_ = db.UpdateStatus(id, string(provider.StatusError))
		fatal("initialize agent: %v", err)
	}
	_ = db.UpdateStatus(id, string(provider.StatusIdle))
	fmt.Printf("Started %s (%s, profile %s) in tmux session %s\n", id, p.Vendor(), *profile, session)
}

func handleList(cfg *config.UserConfig, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "output as JSON")
	_ = fs.Parse(args)

	db := openDB()
	defer db.Close()

	rows, err := db.ListTerminals()
	if err != nil {
		fatal("list terminals: %v", err)
	}

	if *jsonOut || !term.IsTerminal(int(os.Stdout.Fd())) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if rows == nil {
			rows = []*statedb.TerminalRow{}
		}
		_ = enc.Encode(rows)
		return
	}

	if len(rows) == 0 {
		fmt.Println("No terminals registered. Create one with: agent-relay add")
		return
	}
	fmt.Printf("%-16s %-10s %-14s %-20s %s\n", "ID", "VENDOR", "PROFILE", "STATUS", "TMUX SESSION")
	for _, r := range rows {
		fmt.Printf("%-16s %-10s %-14s %-20s %s\n", r.ID, r.Vendor, r.Profile, r.Status, r.SessionName)
	}
}

func handleStatus(cfg *config.UserConfig, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "output as JSON")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fatal("usage: agent-relay status <terminal-id>")
	}
	id := fs.Arg(0)

	requireTmux()
	db := openDB()
	defer db.Close()

	client := tmux.NewClient(cfg.Poll.GetCapturesPerSec())
	pane, _ := paneFor(cfg, db, client, id)

	status := pane.Provider.GetStatus(cfg.Poll.GetTailLines())
	_ = db.UpdateStatus(id, string(status))

	if *jsonOut {
		_ = json.NewEncoder(os.Stdout).Encode(map[string]string{
			"terminal_id": id,
			"status":      string(status),
		})
		return
	}
	fmt.Println(status)
}

func handleSend(cfg *config.UserConfig, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	autoApprove := fs.Bool("auto-approve", false, "answer permission prompts with y")
	timeout := fs.Duration("timeout", relay.DefaultTurnTimeout, "turn timeout")
	jsonOut := fs.Bool("json", false, "output as JSON")
	_ = fs.Parse(args)

	if fs.NArg() < 2 {
		fatal("usage: agent-relay send <terminal-id> <prompt>")
	}
	id := fs.Arg(0)
	prompt := fs.Arg(1)

	requireTmux()
	db := openDB()
	defer db.Close()

	client := tmux.NewClient(cfg.Poll.GetCapturesPerSec())
	pane, _ := paneFor(cfg, db, client, id)

	eventsDir, err := relay.EventsDir()
	if err != nil {
		eventsDir = ""
	}

	runner := relay.NewRunner(relay.Options{
		TurnTimeout: *timeout,
		TailLines:   cfg.Poll.GetTailLines(),
		AutoApprove: *autoApprove,
		DB:          db,
		EventsDir:   eventsDir,
	})

	ctx, cancel := signalContext()
	defer cancel()

	msg, err := runner.RunTurn(ctx, pane, prompt)
	if err != nil {
		fatal("%v", err)
	}

	if *jsonOut {
		_ = json.NewEncoder(os.Stdout).Encode(map[string]string{
			"terminal_id": id,
			"response":    msg,
		})
		return
	}
	fmt.Println(msg)
}

func handleWait(args []string) {
	fs := flag.NewFlagSet("wait", flag.ExitOnError)
	timeout := fs.Duration("timeout", relay.DefaultTurnTimeout, "how long to wait")
	jsonOut := fs.Bool("json", false, "output as JSON")
	_ = fs.Parse(args)

	if fs.NArg() < 2 {
		fatal("usage: agent-relay wait <terminal-id> <status> [status...]")
	}
	id := fs.Arg(0)
	statuses := fs.Args()[1:]
	for _, s := range statuses {
		if !provider.TerminalStatus(s).Valid() {
			fatal("unknown status %q", s)
		}
	}

	eventsDir, err := relay.EventsDir()
	if err != nil {
		fatal("resolve events directory: %v", err)
	}

	watcher, err := relay.NewStatusEventWatcher(eventsDir, id)
	if err != nil {
		fatal("watch events: %v", err)
	}
	defer watcher.Stop()
	go watcher.Start()

	event, err := watcher.WaitForStatus(statuses, *timeout)
	if err != nil {
		fatal("%v", err)
	}

	if *jsonOut {
		_ = json.NewEncoder(os.Stdout).Encode(event)
		return
	}
	fmt.Println(event.Status)
}

func handleRemove(cfg *config.UserConfig, args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	kill := fs.Bool("kill", false, "also kill the tmux session")
	exit := fs.Bool("exit", false, "type the vendor exit command into the pane first")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fatal("usage: agent-relay remove <terminal-id>")
	}
	id := fs.Arg(0)

	db := openDB()
	defer db.Close()

	row, err := db.GetTerminal(id)
	if errors.Is(err, sql.ErrNoRows) {
		fatal("terminal %q is not registered", id)
	}
	if err != nil {
		fatal("load terminal %q: %v", id, err)
	}

	if *exit || *kill {
		requireTmux()
		client := tmux.NewClient(cfg.Poll.GetCapturesPerSec())
		if *exit {
			if g, ok := provider.GrammarFor(row.Vendor); ok && g.ExitCommand != "" {
				_ = client.SendKeys(row.SessionName, row.WindowName, g.ExitCommand)
			}
		}
		if *kill {
			_ = client.KillSession(row.SessionName)
		}
	}

	if err := db.DeleteTerminal(id); err != nil {
		fatal("unregister terminal: %v", err)
	}
	fmt.Printf("Removed %s\n", id)
}

func handleVendors() {
	for _, name := range provider.Vendors() {
		g, _ := provider.GrammarFor(name)
		fmt.Printf("%-12s %s\n", name, g.LaunchCommand)
	}
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
