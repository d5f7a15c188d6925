package logging

import (
	"log/slog"
	"sync"
	"time"
)

// summaryKey identifies one event stream for batching: the same component
// polling the same event name.
type summaryKey struct {
	Component string
	Event     string
}

// summaryEntry accumulates one stream's count plus the fields of its most
// recent occurrence.
type summaryEntry struct {
	Count  int64
	Fields []slog.Attr
}

// Aggregator batches high-frequency events into periodic summary lines.
// Status polls fire several times per second per pane; logging each one
// would drown the log file, so polls are counted here and emitted as one
// event_summary record per flush window.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	entries map[summaryKey]*summaryEntry

	done chan struct{}
	wg   sync.WaitGroup
}

// NewAggregator creates an aggregator that flushes every intervalSecs
// seconds. With a nil logger, recorded events are counted and discarded.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		entries:  make(map[summaryKey]*summaryEntry),
		done:     make(chan struct{}),
	}
}

// Start begins the background flush goroutine.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go a.flushLoop()
}

// Stop flushes remaining entries and stops the background goroutine.
func (a *Aggregator) Stop() {
	close(a.done)
	a.wg.Wait()
	a.flush()
}

// Record counts one occurrence of an event. Fields are kept from the most
// recent call; for a status poll that means the latest observed status wins.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := summaryKey{Component: component, Event: event}
	entry, ok := a.entries[key]
	if !ok {
		entry = &summaryEntry{}
		a.entries[key] = entry
	}
	entry.Count++
	if len(fields) > 0 {
		entry.Fields = fields
	}
}

func (a *Aggregator) flushLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush()
		case <-a.done:
			return
		}
	}
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	if len(a.entries) == 0 {
		a.mu.Unlock()
		return
	}
	// Swap the map out under lock; emit without holding it
	entries := a.entries
	a.entries = make(map[summaryKey]*summaryEntry)
	a.mu.Unlock()

	if a.logger == nil {
		return
	}

	for key, entry := range entries {
		attrs := []any{
			slog.String("component", key.Component),
			slog.String("event", key.Event),
			slog.Int64("count", entry.Count),
			slog.Int("window_seconds", int(a.interval.Seconds())),
		}
		for _, f := range entry.Fields {
			attrs = append(attrs, f)
		}
		a.logger.Info("event_summary", attrs...)
	}
}
