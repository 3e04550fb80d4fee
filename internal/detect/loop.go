// Package detect runs the scoring loop: poll the event store past the
// watermark, extract features, score against the active model, route
// anomalies to the alert writer, and advance the watermark. The watermark
// moves only after an event's scoring attempt has fully completed, which
// under single-loop execution makes scoring effectively exactly-once.
package detect

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/logwarden-project/logwarden/internal/alert"
	"github.com/logwarden-project/logwarden/internal/core"
	"github.com/logwarden-project/logwarden/internal/feature"
	"github.com/logwarden-project/logwarden/internal/model"
	"github.com/logwarden-project/logwarden/internal/store"
)

// Loop polls, scores, and routes. One Loop owns the watermark and the
// per-source clock; it must not run concurrently with itself.
type Loop struct {
	events  store.EventStore
	models  *model.Manager
	writer  *alert.Writer
	wm      *Watermark
	clock   *feature.SourceClock
	cfg     core.DetectorConfig
	logger  zerolog.Logger
	metrics *core.Metrics

	pollFailures int
}

// NewLoop wires a scoring loop.
func NewLoop(events store.EventStore, models *model.Manager, writer *alert.Writer, wm *Watermark, cfg core.DetectorConfig, metrics *core.Metrics, logger zerolog.Logger) *Loop {
	return &Loop{
		events:  events,
		models:  models,
		writer:  writer,
		wm:      wm,
		clock:   feature.NewSourceClock(),
		cfg:     cfg,
		logger:  logger.With().Str("component", "scoring_loop").Logger(),
		metrics: metrics,
	}
}

// Watermark returns the current watermark value. The model manager uses this
// as the training frontier.
func (l *Loop) Watermark() uint64 {
	return l.wm.Value()
}

// Run cycles until ctx is cancelled. On shutdown the event being processed
// finishes its scoring attempt and watermark advance before the loop stops.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info().
		Uint64("watermark", l.wm.Value()).
		Dur("poll_interval", l.cfg.PollInterval).
		Int("batch_size", l.cfg.BatchSize).
		Msg("scoring loop started")

	for {
		if ctx.Err() != nil {
			return nil
		}

		if l.models.Active() == nil {
			l.bootstrap(ctx)
			if l.models.Active() == nil {
				if !l.sleep(ctx, l.cfg.PollInterval) {
					return nil
				}
				continue
			}
		}

		// The first model may have been promoted by the retrain task rather
		// than bootstrap, with the watermark still below its window. Either
		// way its training window is consumed here, before polling, so no
		// event is ever scored by the model it trained. Steady-state models
		// train at or below the watermark and leave it untouched.
		if m := l.models.Active(); m.WindowTo > l.wm.Value() {
			l.logger.Info().
				Int("model_version", m.Version).
				Uint64("window_to", m.WindowTo).
				Msg("consuming training window")
			l.advance(m.WindowTo)
		}

		batch, err := l.events.EventsAfter(ctx, l.wm.Value(), l.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.pollFailures++
			if l.metrics != nil {
				l.metrics.PollFailures.Inc()
			}
			delay := l.backoffDelay()
			l.logger.Warn().Err(err).
				Int("failures", l.pollFailures).
				Dur("retry_in", delay).
				Msg("event store poll failed, backing off")
			if !l.sleep(ctx, delay) {
				return nil
			}
			continue
		}
		l.pollFailures = 0

		if len(batch) == 0 {
			if !l.sleep(ctx, l.cfg.PollInterval) {
				return nil
			}
			continue
		}

		for i := range batch {
			l.process(ctx, &batch[i])
			if ctx.Err() != nil {
				// Current event completed, including its watermark advance.
				return nil
			}
		}
	}
}

// bootstrap attempts the initial training run. On a cold start the window is
// the oldest stored history; the window-consumption step in Run jumps the
// watermark past it so those events are never also scored.
func (l *Loop) bootstrap(ctx context.Context) {
	if err := l.models.TrainAndPromote(ctx); err != nil {
		if errors.Is(err, core.ErrInsufficientData) {
			l.logger.Info().Err(err).Msg("waiting for enough history to train the first model")
		}
	}
}

// process runs one event's scoring attempt. Whatever happens — a score, a
// malformed event, an unexpected failure — the watermark advances past the
// event afterward; an unscoreable event must never stall the pipeline.
func (l *Loop) process(ctx context.Context, ev *core.Event) {
	l.scoreEvent(ctx, ev)
	l.advance(ev.ID)
}

func (l *Loop) scoreEvent(ctx context.Context, ev *core.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			if l.metrics != nil {
				l.metrics.ProcessingErrors.Inc()
			}
			l.logger.Error().
				Uint64("event_id", ev.ID).
				Interface("panic", rec).
				Msg("scoring panicked, advancing past event")
		}
	}()

	// Snapshot the active model once per event: an in-flight score keeps the
	// model it started with even if a retrain promotes mid-call.
	m := l.models.Active()

	gap := l.clock.Observe(ev.Source, ev.Timestamp)
	vec, err := m.Extract(ev, gap)
	if err != nil {
		if errors.Is(err, core.ErrMalformedEvent) {
			if l.metrics != nil {
				l.metrics.EventsMalformed.Inc()
			}
			l.logger.Debug().Uint64("event_id", ev.ID).Msg("malformed event skipped")
		} else {
			if l.metrics != nil {
				l.metrics.ProcessingErrors.Inc()
			}
			l.logger.Warn().Err(err).Uint64("event_id", ev.ID).Msg("feature extraction failed")
		}
		return
	}

	score := m.Score(vec)
	if l.metrics != nil {
		l.metrics.EventsScored.Inc()
	}

	if !m.IsAnomalous(score) {
		return
	}

	reason := m.Explain(vec)
	if _, _, err := l.writer.Raise(ctx, ev, score, m.Version, reason); err != nil {
		// Already counted and logged by the writer; the loop still advances.
		l.logger.Debug().Uint64("event_id", ev.ID).Msg("detection dropped")
	}
}

func (l *Loop) advance(id uint64) {
	if err := l.wm.Advance(id); err != nil {
		// The in-memory watermark moved; only persistence failed. Scoring
		// stays correct for this run, a restart may re-poll.
		l.logger.Warn().Err(err).Uint64("watermark", id).Msg("failed to persist watermark")
	}
	if l.metrics != nil {
		l.metrics.Watermark.Set(float64(l.wm.Value()))
	}
}

func (l *Loop) backoffDelay() time.Duration {
	initial := l.cfg.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	ceiling := l.cfg.MaxBackoff
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	// Compare in float: a long failure streak overflows time.Duration well
	// before math.Pow does, and a wrapped-negative delay would skip the cap
	// and turn the backoff into a busy poll.
	delay := float64(initial) * math.Pow(2, float64(l.pollFailures-1))
	if delay >= float64(ceiling) {
		return ceiling
	}
	return time.Duration(delay)
}

// sleep waits for d or cancellation, reporting false when cancelled.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
