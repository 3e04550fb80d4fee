// Package model owns the outlier-detection model: training, the fitted
// decision boundary, atomic promotion of new versions, and the background
// retrain loop that runs independently of scoring.
package model

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/logwarden-project/logwarden/internal/core"
	"github.com/logwarden-project/logwarden/internal/feature"
	"github.com/logwarden-project/logwarden/internal/store"
)

// Manager trains models over recent event windows and holds the active one.
// The active model is the only state shared with the scoring loop, and it is
// swapped atomically: a scoring call keeps the snapshot it started with, the
// next call sees the promoted version. Training never blocks scoring.
type Manager struct {
	cfg     core.TrainingConfig
	events  store.EventStore
	logger  zerolog.Logger
	metrics *core.Metrics

	// frontier returns the scoring loop's watermark. The training window
	// never reaches past it, so no event is scored against a model trained
	// on that same event.
	frontier func() uint64

	active  atomic.Pointer[Model]
	version atomic.Int64
}

// NewManager creates a Manager. frontier supplies the scoring watermark.
func NewManager(cfg core.TrainingConfig, events store.EventStore, frontier func() uint64, metrics *core.Metrics, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		events:   events,
		logger:   logger.With().Str("component", "model_manager").Logger(),
		metrics:  metrics,
		frontier: frontier,
	}
}

// Active returns the current model snapshot, or nil before the first
// successful training run.
func (mgr *Manager) Active() *Model {
	return mgr.active.Load()
}

// Train fits a new model on the window ending at the current frontier and
// returns it without promoting. Returns ErrInsufficientData when the window
// holds fewer than MinSamples events.
func (mgr *Manager) Train(ctx context.Context) (*Model, error) {
	upTo := mgr.frontier()
	events, err := mgr.events.TrainingWindow(ctx, upTo, mgr.cfg.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("fetching training window: %w", err)
	}
	if len(events) < mgr.cfg.MinSamples {
		return nil, fmt.Errorf("%w: have %d events, need %d", core.ErrInsufficientData, len(events), mgr.cfg.MinSamples)
	}

	encoder := feature.BuildEncoder(events)
	extractor := feature.NewExtractor(encoder)

	// Replay the window in ID order so inter-event gaps match what the
	// scoring loop would have observed.
	clock := feature.NewSourceClock()
	vectors := make([][]float64, 0, len(events))
	for i := range events {
		ev := &events[i]
		gap := clock.Observe(ev.Source, ev.Timestamp)
		vec, err := extractor.Extract(ev, gap)
		if err != nil {
			continue // malformed rows carry no training signal
		}
		vectors = append(vectors, vec)
	}
	if len(vectors) < mgr.cfg.MinSamples {
		return nil, fmt.Errorf("%w: only %d usable vectors of %d required", core.ErrInsufficientData, len(vectors), mgr.cfg.MinSamples)
	}

	scaler, err := FitScaler(vectors)
	if err != nil {
		return nil, fmt.Errorf("fitting scaler: %w", err)
	}
	scaled := scaler.TransformAll(vectors)

	seed := mgr.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	forest := NewForest(mgr.cfg.NumTrees, mgr.cfg.SampleSize)
	if err := forest.Fit(scaled, rng); err != nil {
		return nil, fmt.Errorf("fitting forest: %w", err)
	}

	m := &Model{
		Version:       int(mgr.version.Add(1)),
		TrainedAt:     time.Now().UTC(),
		WindowFrom:    events[0].ID,
		WindowTo:      events[len(events)-1].ID,
		WindowEvents:  len(vectors),
		Contamination: mgr.cfg.Contamination,
		Schema:        feature.Names,
		extractor:     extractor,
		scaler:        scaler,
		forest:        forest,
	}
	m.offset = fitOffset(forest, scaled, mgr.cfg.Contamination)

	return m, nil
}

// fitOffset places the decision boundary so that roughly the contamination
// fraction of the training window scores as anomalous.
func fitOffset(forest *Forest, scaled [][]float64, contamination float64) float64 {
	samples := make([]float64, len(scaled))
	for i, vec := range scaled {
		samples[i] = -forest.RawScore(vec)
	}
	sort.Float64s(samples)

	k := int(contamination * float64(len(samples)))
	if k >= len(samples) {
		k = len(samples) - 1
	}
	return samples[k]
}

// Promote makes m the active model.
func (mgr *Manager) Promote(m *Model) {
	mgr.active.Store(m)
	if mgr.metrics != nil {
		mgr.metrics.ModelVersion.Set(float64(m.Version))
	}
	mgr.logger.Info().
		Int("version", m.Version).
		Uint64("window_from", m.WindowFrom).
		Uint64("window_to", m.WindowTo).
		Int("window_events", m.WindowEvents).
		Float64("contamination", m.Contamination).
		Msg("model promoted")
}

// TrainAndPromote runs one training attempt. Failures are logged and counted;
// the previously active model stays in place.
func (mgr *Manager) TrainAndPromote(ctx context.Context) error {
	m, err := mgr.Train(ctx)
	if err != nil {
		if mgr.metrics != nil {
			mgr.metrics.TrainingFailures.Inc()
		}
		mgr.logger.Warn().Err(err).Msg("training failed, keeping previous model")
		return err
	}
	if mgr.metrics != nil {
		mgr.metrics.TrainingRuns.Inc()
	}
	mgr.Promote(m)
	return nil
}

// Run retrains on the configured cadence until ctx is cancelled. It is the
// independent training task of the engine: its only interaction with scoring
// is the atomic promotion in TrainAndPromote.
func (mgr *Manager) Run(ctx context.Context) error {
	cadence := mgr.cfg.Cadence
	if cadence <= 0 {
		cadence = 30 * time.Minute
	}

	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	mgr.logger.Info().Dur("cadence", cadence).Msg("retrain loop started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = mgr.TrainAndPromote(ctx)
		}
	}
}
