package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/logwarden-project/logwarden/internal/core"
)

// Memory is an in-memory Store for local development and tests. Events must
// be appended with strictly increasing IDs, matching the append-only
// guarantee the engine requires from the real store.
type Memory struct {
	mu     sync.RWMutex
	events []core.Event
	alerts []core.Alert
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// AppendEvent adds an event, standing in for the ingestion collaborator.
// Out-of-order IDs are dropped: the append-only guarantee means a real store
// would never surface them.
func (m *Memory) AppendEvent(ev core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.events); n > 0 && ev.ID <= m.events[n-1].ID {
		return
	}
	m.events = append(m.events, ev)
}

// EventsAfter returns up to limit events with ID > afterID, ascending.
func (m *Memory) EventsAfter(_ context.Context, afterID uint64, limit int) ([]core.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := sort.Search(len(m.events), func(i int) bool {
		return m.events[i].ID > afterID
	})
	end := start + limit
	if end > len(m.events) {
		end = len(m.events)
	}
	out := make([]core.Event, end-start)
	copy(out, m.events[start:end])
	return out, nil
}

// TrainingWindow returns the training window against frontier upTo, ascending.
func (m *Memory) TrainingWindow(_ context.Context, upTo uint64, limit int) ([]core.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if upTo == 0 {
		end := limit
		if end > len(m.events) {
			end = len(m.events)
		}
		out := make([]core.Event, end)
		copy(out, m.events[:end])
		return out, nil
	}

	end := sort.Search(len(m.events), func(i int) bool {
		return m.events[i].ID > upTo
	})
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]core.Event, end-start)
	copy(out, m.events[start:end])
	return out, nil
}

// InsertAlert appends an alert.
func (m *Memory) InsertAlert(_ context.Context, alert *core.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, *alert)
	return nil
}

// RecentAlert reports whether an alert with dedupKey exists at or after since.
func (m *Memory) RecentAlert(_ context.Context, dedupKey string, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if a.DedupKey == dedupKey && !a.DetectedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// ListAlerts returns the most recent alerts, newest first.
func (m *Memory) ListAlerts(_ context.Context, limit int) ([]core.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.alerts)
	if limit > n {
		limit = n
	}
	out := make([]core.Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.alerts[i])
	}
	return out, nil
}

// AlertCount returns the number of stored alerts.
func (m *Memory) AlertCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.alerts)
}

// EnsureSchema is a no-op for the memory backend.
func (m *Memory) EnsureSchema(context.Context) error { return nil }

// Close is a no-op for the memory backend.
func (m *Memory) Close() error { return nil }
