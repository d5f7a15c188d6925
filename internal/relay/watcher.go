package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// StatusEventWatcher watches the events directory for status transitions
// using fsnotify and delivers parsed StatusEvent structs via a channel.
type StatusEventWatcher struct {
	eventsDir      string
	watcher        *fsnotify.Watcher
	eventCh        chan StatusEvent
	filterTerminal string // optional: only deliver events for this terminal
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewStatusEventWatcher creates a watcher over eventsDir. If filterTerminal
// is non-empty, only events for that terminal are delivered. Call Start()
// in a goroutine, then read from EventCh().
func NewStatusEventWatcher(eventsDir, filterTerminal string) (*StatusEventWatcher, error) {
	if err := os.MkdirAll(eventsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create events dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &StatusEventWatcher{
		eventsDir:      eventsDir,
		watcher:        watcher,
		eventCh:        make(chan StatusEvent, 64),
		filterTerminal: filterTerminal,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// Start begins watching the events directory. Must be called in a goroutine.
// Blocks until Stop() is called.
func (w *StatusEventWatcher) Start() {
	if err := w.watcher.Add(w.eventsDir); err != nil {
		relayLog.Warn("event_watcher_add_failed",
			slog.String("dir", w.eventsDir),
			slog.String("error", err.Error()),
		)
		return
	}

	// Debounce timer: coalesce rapid file events
	var debounceTimer *time.Timer
	pendingFiles := make(map[string]bool)
	var pendingMu sync.Mutex

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// Only .json writes/creates; the .tmp staging files are skipped
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if w.filterTerminal != "" {
				base := filepath.Base(event.Name)
				terminalID := strings.TrimSuffix(base, ".json")
				if terminalID != w.filterTerminal {
					continue
				}
			}

			pendingMu.Lock()
			pendingFiles[event.Name] = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				pendingMu.Lock()
				files := make([]string, 0, len(pendingFiles))
				for f := range pendingFiles {
					files = append(files, f)
				}
				pendingFiles = make(map[string]bool)
				pendingMu.Unlock()

				for _, f := range files {
					w.processEventFile(f)
				}
			})
			pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			relayLog.Warn("event_watcher_error", slog.String("error", err.Error()))
		}
	}
}

// Stop shuts down the watcher.
func (w *StatusEventWatcher) Stop() {
	w.cancel()
	_ = w.watcher.Close()
}

// EventCh returns the channel that delivers parsed status events.
func (w *StatusEventWatcher) EventCh() <-chan StatusEvent {
	return w.eventCh
}

// WaitForStatus blocks until an event with one of the given statuses is
// received, or the timeout expires.
func (w *StatusEventWatcher) WaitForStatus(statuses []string, timeout time.Duration) (StatusEvent, error) {
	statusSet := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		statusSet[s] = true
	}

	deadline := time.After(timeout)
	for {
		select {
		case event := <-w.eventCh:
			if statusSet[event.Status] {
				return event, nil
			}
		case <-deadline:
			return StatusEvent{}, fmt.Errorf("timeout after %v waiting for status %v", timeout, statuses)
		case <-w.ctx.Done():
			return StatusEvent{}, fmt.Errorf("watcher stopped")
		}
	}
}

func (w *StatusEventWatcher) processEventFile(filePath string) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}

	var event StatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return
	}

	if w.filterTerminal != "" && event.TerminalID != w.filterTerminal {
		return
	}

	// Non-blocking send: a stalled consumer drops events rather than
	// wedging the watch loop.
	select {
	case w.eventCh <- event:
		relayLog.Debug("event_delivered",
			slog.String("terminal", event.TerminalID),
			slog.String("status", event.Status),
		)
	default:
		relayLog.Warn("event_channel_full", slog.String("terminal", event.TerminalID))
	}
}
