// Package store provides access to the column-store tables the engine
// consumes (events) and produces (alerts). The events table is append-only
// and written by the ingestion collaborator; the engine only reads it. The
// engine relies on the store guarantee that once an event with ID X is
// visible, no event with a lower ID appears later.
package store

import (
	"context"
	"time"

	"github.com/logwarden-project/logwarden/internal/core"
)

// EventStore reads ingested events.
type EventStore interface {
	// EventsAfter returns up to limit events with ID strictly greater than
	// afterID, ordered by ID ascending.
	EventsAfter(ctx context.Context, afterID uint64, limit int) ([]core.Event, error)

	// TrainingWindow returns up to limit events usable for training against
	// the scoring frontier upTo: the most recent events with ID <= upTo,
	// ordered ascending. With upTo == 0 (cold start, nothing scored yet) it
	// returns the earliest limit events instead.
	TrainingWindow(ctx context.Context, upTo uint64, limit int) ([]core.Event, error)
}

// AlertStore persists and looks up alerts.
type AlertStore interface {
	// InsertAlert appends an alert row.
	InsertAlert(ctx context.Context, alert *core.Alert) error

	// RecentAlert reports whether an alert with the given dedup key was
	// created at or after since.
	RecentAlert(ctx context.Context, dedupKey string, since time.Time) (bool, error)

	// ListAlerts returns the most recent alerts, newest first.
	ListAlerts(ctx context.Context, limit int) ([]core.Alert, error)
}

// Store combines both sides plus lifecycle.
type Store interface {
	EventStore
	AlertStore

	// EnsureSchema creates the events and alerts tables if missing.
	EnsureSchema(ctx context.Context) error

	Close() error
}
