package relay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStatusEvent_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	ev := StatusEvent{
		TerminalID: "t1",
		Vendor:     "copilot",
		Profile:    "developer",
		Status:     "COMPLETED",
	}
	require.NoError(t, WriteStatusEvent(dir, ev))

	data, err := os.ReadFile(filepath.Join(dir, "t1.json"))
	require.NoError(t, err)

	var got StatusEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "t1", got.TerminalID)
	assert.Equal(t, "COMPLETED", got.Status)
	assert.False(t, got.Timestamp.IsZero(), "timestamp filled in on write")
}

func TestWriteStatusEvent_OverwritesInPlace(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, WriteStatusEvent(dir, StatusEvent{TerminalID: "t1", Status: "PROCESSING"}))
	require.NoError(t, WriteStatusEvent(dir, StatusEvent{TerminalID: "t1", Status: "IDLE"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "one file per terminal, no temp leftovers")

	data, err := os.ReadFile(filepath.Join(dir, "t1.json"))
	require.NoError(t, err)
	var got StatusEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "IDLE", got.Status)
}

func TestStatusEventWatcher_DeliversEvent(t *testing.T) {
	dir := t.TempDir()

	w, err := NewStatusEventWatcher(dir, "")
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	go w.Start()

	// Give the watch registration a moment before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, WriteStatusEvent(dir, StatusEvent{
		TerminalID: "t1", Vendor: "copilot", Status: "COMPLETED",
	}))

	ev, err := w.WaitForStatus([]string{"COMPLETED"}, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "t1", ev.TerminalID)
}

func TestStatusEventWatcher_FiltersByTerminal(t *testing.T) {
	dir := t.TempDir()

	w, err := NewStatusEventWatcher(dir, "wanted")
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	go w.Start()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, WriteStatusEvent(dir, StatusEvent{TerminalID: "other", Status: "COMPLETED"}))
	require.NoError(t, WriteStatusEvent(dir, StatusEvent{TerminalID: "wanted", Status: "COMPLETED"}))

	ev, err := w.WaitForStatus([]string{"COMPLETED"}, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "wanted", ev.TerminalID)
}

func TestStatusEventWatcher_WaitAnyOf(t *testing.T) {
	dir := t.TempDir()

	w, err := NewStatusEventWatcher(dir, "t1")
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	go w.Start()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, WriteStatusEvent(dir, StatusEvent{TerminalID: "t1", Status: "PROCESSING"}))
	require.NoError(t, WriteStatusEvent(dir, StatusEvent{TerminalID: "t1", Status: "ERROR"}))

	// Accepts whichever terminal status arrives first.
	ev, err := w.WaitForStatus([]string{"COMPLETED", "ERROR"}, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", ev.Status)
}

func TestStatusEventWatcher_Timeout(t *testing.T) {
	dir := t.TempDir()

	w, err := NewStatusEventWatcher(dir, "")
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	go w.Start()

	_, err = w.WaitForStatus([]string{"COMPLETED"}, 100*time.Millisecond)
	assert.Error(t, err)
}
