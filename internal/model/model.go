package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/logwarden-project/logwarden/internal/core"
	"github.com/logwarden-project/logwarden/internal/feature"
)

// Model is one trained, immutable detection artifact: the isolation forest
// plus everything scoring needs to reproduce the training-time encoding —
// the categorical encoder, the scaler, and the fitted decision offset.
// Models are swapped whole, never mutated, so a scorer holding a snapshot
// always sees a consistent artifact.
//
// Score convention: Score returns a decision-function value. Negative means
// anomalous, and more negative means further outside learned behavior. The
// boundary at zero is fitted from the contamination rate at training time;
// callers must use IsAnomalous rather than re-deriving a threshold.
type Model struct {
	Version       int
	TrainedAt     time.Time
	WindowFrom    uint64
	WindowTo      uint64
	WindowEvents  int
	Contamination float64
	Schema        []string

	extractor *feature.Extractor
	scaler    *Scaler
	forest    *Forest
	offset    float64
}

// Extract converts an event into this model's feature space. gap is the time
// since the same source's previous event.
func (m *Model) Extract(ev *core.Event, gap time.Duration) ([]float64, error) {
	return m.extractor.Extract(ev, gap)
}

// Score returns the decision-function value for a raw (unscaled) vector.
func (m *Model) Score(vec []float64) float64 {
	scaled := m.scaler.Transform(vec)
	// RawScore grows toward 1 for anomalies; negate so anomalous is low.
	return -m.forest.RawScore(scaled) - m.offset
}

// IsAnomalous applies the fitted decision boundary to a score.
func (m *Model) IsAnomalous(score float64) bool {
	return score < 0
}

// ScoreEvent extracts and scores in one step.
func (m *Model) ScoreEvent(ev *core.Event, gap time.Duration) (float64, error) {
	vec, err := m.Extract(ev, gap)
	if err != nil {
		return 0, err
	}
	return m.Score(vec), nil
}

// Explain names the features of a raw vector that deviate most from the
// training distribution, for the alert reason text.
func (m *Model) Explain(vec []float64) string {
	devs := m.scaler.Deviations(vec)

	type featureDev struct {
		name string
		z    float64
	}
	ranked := make([]featureDev, 0, len(devs))
	for i, z := range devs {
		if i < len(m.Schema) && z >= 1.5 {
			ranked = append(ranked, featureDev{m.Schema[i], z})
		}
	}
	if len(ranked) == 0 {
		return "statistical outlier across learned behavior"
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].z > ranked[j].z })
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}

	names := make([]string, len(ranked))
	for i, fd := range ranked {
		names[i] = fd.name
	}
	return fmt.Sprintf("unusual %s", strings.Join(names, ", "))
}
