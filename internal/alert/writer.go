// Package alert turns qualifying detections into persisted alerts: it
// derives the dedup key, enforces the suppression window, maps scores to
// severity tiers, and retries writes before dropping with a counter.
package alert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/logwarden-project/logwarden/internal/core"
	"github.com/logwarden-project/logwarden/internal/store"
)

// Writer persists alerts with dedup suppression. An instance is safe for use
// from a single scoring loop; the cache it embeds is safe either way.
type Writer struct {
	alerts  store.AlertStore
	bus     *core.AlertBus // optional
	hooks   *Dispatcher    // optional
	cfg     core.AlertsConfig
	cache   *suppressionCache
	cb      *gobreaker.CircuitBreaker
	logger  zerolog.Logger
	metrics *core.Metrics
}

// AttachWebhooks routes every raised alert to the dispatcher as well.
func (w *Writer) AttachWebhooks(d *Dispatcher) {
	w.hooks = d
}

// NewWriter creates a Writer. bus may be nil.
func NewWriter(alerts store.AlertStore, bus *core.AlertBus, cfg core.AlertsConfig, metrics *core.Metrics, logger zerolog.Logger) *Writer {
	return &Writer{
		alerts:  alerts,
		bus:     bus,
		cfg:     cfg,
		cache:   newSuppressionCache(cfg.SuppressionWindow, 0),
		logger:  logger.With().Str("component", "alert_writer").Logger(),
		metrics: metrics,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "AlertStore",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
}

// DedupKey fingerprints the incident an event belongs to: same source, same
// event type. Alerts sharing a key inside the suppression window collapse
// into one.
func DedupKey(ev *core.Event) string {
	h := sha256.New()
	h.Write([]byte(ev.Source))
	h.Write([]byte{0})
	h.Write([]byte(ev.Type))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Raise persists an alert for an anomalous event unless one with the same
// dedup key exists inside the suppression window. It returns the created
// alert, or suppressed=true with no write. A write that fails after all
// retries returns ErrWriteFailed; the detection is dropped but counted.
func (w *Writer) Raise(ctx context.Context, ev *core.Event, score float64, modelVersion int, reason string) (*core.Alert, bool, error) {
	key := DedupKey(ev)
	now := time.Now().UTC()

	if w.cache.Suppressed(key, now) {
		w.suppress(ev, key)
		return nil, true, nil
	}

	since := now.Add(-w.cfg.SuppressionWindow)
	exists, err := w.alerts.RecentAlert(ctx, key, since)
	if err != nil {
		// Fail open: a duplicate alert beats a silently lost one.
		w.logger.Warn().Err(err).Str("dedup_key", key).Msg("suppression lookup failed, raising anyway")
	} else if exists {
		w.cache.Mark(key, now)
		w.suppress(ev, key)
		return nil, true, nil
	}

	severity := w.severityFor(score)
	a := core.NewAlert(ev, score, severity, modelVersion, key, reason)

	if err := w.persist(ctx, a); err != nil {
		if w.metrics != nil {
			w.metrics.AlertsDropped.Inc()
		}
		w.logger.Error().Err(err).
			Uint64("event_id", ev.ID).
			Str("dedup_key", key).
			Float64("score", score).
			Msg("alert dropped after retries exhausted")
		return nil, false, err
	}

	w.cache.Mark(key, now)
	if w.metrics != nil {
		w.metrics.AlertsRaised.Inc()
	}

	if w.cfg.EnableConsole {
		w.logger.Warn().
			Str("alert_id", a.ID).
			Uint64("event_id", a.EventID).
			Str("source", a.Source).
			Str("event_type", a.EventType).
			Str("severity", a.Severity.String()).
			Float64("score", a.AnomalyScore).
			Str("reason", a.Reason).
			Msg("ANOMALY ALERT")
	}

	if w.bus != nil {
		if err := w.bus.PublishAlert(a); err != nil {
			w.logger.Error().Err(err).Str("alert_id", a.ID).Msg("failed to publish alert to bus")
		}
	}
	if w.hooks != nil {
		w.hooks.Notify(a)
	}

	return a, false, nil
}

func (w *Writer) suppress(ev *core.Event, key string) {
	if w.metrics != nil {
		w.metrics.AlertsSuppressed.Inc()
	}
	w.logger.Debug().
		Uint64("event_id", ev.ID).
		Str("dedup_key", key).
		Msg("alert suppressed within dedup window")
}

// severityFor maps a score to its tier via the configured breakpoints.
// Scores here are already anomalous (below the model's decision boundary);
// the breakpoints only grade how far below.
func (w *Writer) severityFor(score float64) core.Severity {
	switch {
	case score <= w.cfg.CriticalBelow:
		return core.SeverityCritical
	case score <= w.cfg.HighBelow:
		return core.SeverityHigh
	case score <= w.cfg.MediumBelow:
		return core.SeverityMedium
	default:
		return core.SeverityLow
	}
}

// persist writes the alert, retrying transient failures with exponential
// backoff inside a circuit breaker so a dead sink fails fast.
func (w *Writer) persist(ctx context.Context, a *core.Alert) error {
	maxRetries := w.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := w.backoff(ctx, attempt-1); err != nil {
				return err
			}
		}

		_, err := w.cb.Execute(func() (interface{}, error) {
			return nil, w.alerts.InsertAlert(ctx, a)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			w.logger.Warn().Str("alert_id", a.ID).Msg("alert store circuit open")
		} else {
			w.logger.Warn().Err(err).Str("alert_id", a.ID).Int("attempt", attempt+1).Msg("alert write failed")
		}
	}

	return fmt.Errorf("%w: %v", core.ErrWriteFailed, lastErr)
}

func (w *Writer) backoff(ctx context.Context, attempt int) error {
	delay := time.Duration(float64(w.cfg.InitialBackoff) * math.Pow(2, float64(attempt)))
	if w.cfg.MaxBackoff > 0 && delay > w.cfg.MaxBackoff {
		delay = w.cfg.MaxBackoff
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
