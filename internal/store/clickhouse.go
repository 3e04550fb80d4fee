package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog"

	"github.com/logwarden-project/logwarden/internal/core"
)

// ClickHouse implements Store against a ClickHouse server over the native
// protocol.
type ClickHouse struct {
	conn   driver.Conn
	cfg    core.StoreConfig
	logger zerolog.Logger
}

// OpenClickHouse connects and pings the server.
func OpenClickHouse(ctx context.Context, cfg core.StoreConfig, logger zerolog.Logger) (*ClickHouse, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: dialTimeout,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: ping %s: %v", core.ErrStoreUnavailable, cfg.Addr, err)
	}

	return &ClickHouse{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With().Str("component", "clickhouse_store").Logger(),
	}, nil
}

// EnsureSchema creates the events and alerts tables if they do not exist.
// Idempotent; safe to run on every start.
func (s *ClickHouse) EnsureSchema(ctx context.Context) error {
	eventsDDL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         UInt64,
			timestamp  DateTime64(3, 'UTC'),
			source     String,
			event_type String,
			status     String,
			attrs      Map(String, String)
		) ENGINE = MergeTree ORDER BY id`, s.cfg.EventsTable)

	alertsDDL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id            String,
			event_id      UInt64,
			detected_at   DateTime64(3, 'UTC'),
			event_time    DateTime64(3, 'UTC'),
			source        String,
			event_type    String,
			anomaly_score Float64,
			severity      String,
			model_version Int32,
			dedup_key     String,
			reason        String,
			details       Map(String, String)
		) ENGINE = MergeTree ORDER BY (dedup_key, detected_at)`, s.cfg.AlertsTable)

	if err := s.conn.Exec(ctx, eventsDDL); err != nil {
		return fmt.Errorf("creating events table: %w", err)
	}
	if err := s.conn.Exec(ctx, alertsDDL); err != nil {
		return fmt.Errorf("creating alerts table: %w", err)
	}

	s.logger.Info().
		Str("events_table", s.cfg.EventsTable).
		Str("alerts_table", s.cfg.AlertsTable).
		Msg("schema ensured")
	return nil
}

const eventColumns = "id, timestamp, source, event_type, status, attrs"

// EventsAfter returns up to limit events with ID > afterID, ascending.
func (s *ClickHouse) EventsAfter(ctx context.Context, afterID uint64, limit int) ([]core.Event, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE id > ? ORDER BY id ASC LIMIT ?",
		eventColumns, s.cfg.EventsTable)

	rows, err := s.conn.Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: querying events after %d: %v", core.ErrStoreUnavailable, afterID, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// TrainingWindow returns the training window against frontier upTo, ascending.
func (s *ClickHouse) TrainingWindow(ctx context.Context, upTo uint64, limit int) ([]core.Event, error) {
	var query string
	var args []any
	if upTo == 0 {
		// Cold start: nothing scored yet, use the oldest history.
		query = fmt.Sprintf(
			"SELECT %s FROM %s ORDER BY id ASC LIMIT ?",
			eventColumns, s.cfg.EventsTable)
		args = []any{limit}
	} else {
		query = fmt.Sprintf(
			"SELECT %s FROM (SELECT %s FROM %s WHERE id <= ? ORDER BY id DESC LIMIT ?) ORDER BY id ASC",
			eventColumns, eventColumns, s.cfg.EventsTable)
		args = []any{upTo, limit}
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying training window up to %d: %v", core.ErrStoreUnavailable, upTo, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows driver.Rows) ([]core.Event, error) {
	var events []core.Event
	for rows.Next() {
		var ev core.Event
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Source, &ev.Type, &ev.Status, &ev.Attrs); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading event rows: %v", core.ErrStoreUnavailable, err)
	}
	return events, nil
}

// InsertAlert appends an alert row.
func (s *ClickHouse) InsertAlert(ctx context.Context, alert *core.Alert) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(id, event_id, detected_at, event_time, source, event_type,
		 anomaly_score, severity, model_version, dedup_key, reason, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.cfg.AlertsTable)

	err := s.conn.Exec(ctx, query,
		alert.ID, alert.EventID, alert.DetectedAt, alert.EventTime,
		alert.Source, alert.EventType, alert.AnomalyScore,
		alert.Severity.String(), int32(alert.ModelVersion),
		alert.DedupKey, alert.Reason, alert.Details)
	if err != nil {
		return fmt.Errorf("%w: inserting alert %s: %v", core.ErrWriteFailed, alert.ID, err)
	}
	return nil
}

// RecentAlert reports whether an alert with dedupKey exists at or after since.
func (s *ClickHouse) RecentAlert(ctx context.Context, dedupKey string, since time.Time) (bool, error) {
	query := fmt.Sprintf(
		"SELECT count() FROM %s WHERE dedup_key = ? AND detected_at >= ?",
		s.cfg.AlertsTable)

	var count uint64
	if err := s.conn.QueryRow(ctx, query, dedupKey, since).Scan(&count); err != nil {
		return false, fmt.Errorf("%w: checking recent alert for key %s: %v", core.ErrStoreUnavailable, dedupKey, err)
	}
	return count > 0, nil
}

// ListAlerts returns the most recent alerts, newest first.
func (s *ClickHouse) ListAlerts(ctx context.Context, limit int) ([]core.Alert, error) {
	query := fmt.Sprintf(`SELECT id, event_id, detected_at, event_time, source, event_type,
		anomaly_score, severity, model_version, dedup_key, reason, details
		FROM %s ORDER BY detected_at DESC LIMIT ?`, s.cfg.AlertsTable)

	rows, err := s.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing alerts: %v", core.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var alerts []core.Alert
	for rows.Next() {
		var a core.Alert
		var severity string
		var modelVersion int32
		if err := rows.Scan(&a.ID, &a.EventID, &a.DetectedAt, &a.EventTime, &a.Source, &a.EventType,
			&a.AnomalyScore, &severity, &modelVersion, &a.DedupKey, &a.Reason, &a.Details); err != nil {
			return nil, fmt.Errorf("scanning alert row: %w", err)
		}
		a.Severity = core.ParseSeverity(severity)
		a.ModelVersion = int(modelVersion)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading alert rows: %v", core.ErrStoreUnavailable, err)
	}
	return alerts, nil
}

// Close closes the connection.
func (s *ClickHouse) Close() error {
	return s.conn.Close()
}
