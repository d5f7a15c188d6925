// Package relay drives conversation turns against provider-bound panes and
// publishes status transitions as JSON event files for external watchers.
package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/asheshgoplani/agent-relay/internal/config"
	"github.com/asheshgoplani/agent-relay/internal/logging"
)

var relayLog = logging.ForComponent(logging.CompRelay)

// StatusEvent is one status transition for one terminal, written as
// <terminal-id>.json under the events directory. Files are overwritten in
// place; watchers see the latest state.
type StatusEvent struct {
	TerminalID string    `json:"terminal_id"`
	Vendor     string    `json:"vendor"`
	Profile    string    `json:"profile"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventsDir returns the status-event directory, creating it if needed.
func EventsDir() (string, error) {
	dir, err := config.AppDir()
	if err != nil {
		return "", err
	}
	eventsDir := filepath.Join(dir, "events")
	if err := os.MkdirAll(eventsDir, 0o755); err != nil {
		return "", fmt.Errorf("create events dir: %w", err)
	}
	return eventsDir, nil
}

// WriteStatusEvent persists an event atomically (temp file then rename) so
// watchers never read a partial JSON document.
func WriteStatusEvent(eventsDir string, ev StatusEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	path := filepath.Join(eventsDir, ev.TerminalID+".json")
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write status event: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalize status event: %w", err)
	}
	return nil
}
