// Package feature converts events into the fixed-length numeric vectors the
// model trains on and scores. The categorical encoding table is built once
// per training run and frozen into the model artifact, so training and
// scoring always share one encoding scheme.
package feature

import (
	"fmt"
	"math"
	"time"

	"github.com/logwarden-project/logwarden/internal/core"
)

// Names is the feature schema, in vector order. The order is part of the
// model artifact; changing it invalidates every trained model.
var Names = []string{
	"hour_of_day",
	"is_weekend",
	"status_failed",
	"gap_log_seconds",
	"source_freq",
	"event_type_freq",
	"user_freq",
}

// Dim is the vector dimensionality.
var Dim = len(Names)

// maxGap caps the inter-event gap feature. A source silent for longer than
// this is simply "long silent"; the exact duration carries no extra signal.
const maxGap = 7 * 24 * time.Hour

// Encoder holds per-field categorical frequency tables learned from a
// training window. A value never seen in training encodes as frequency 0,
// the designated unknown bucket, so novel-but-benign values degrade the
// score gracefully instead of failing extraction.
type Encoder struct {
	Fields map[string]map[string]float64 `json:"fields"`
}

// Encoded categorical fields. "user" comes from the event's context
// attributes; the other two are first-class columns.
const (
	FieldSource = "source"
	FieldType   = "event_type"
	FieldUser   = "user"
)

// BuildEncoder computes frequency tables over a training window.
func BuildEncoder(events []core.Event) *Encoder {
	counts := map[string]map[string]int{
		FieldSource: {},
		FieldType:   {},
		FieldUser:   {},
	}
	for i := range events {
		ev := &events[i]
		counts[FieldSource][ev.Source]++
		counts[FieldType][ev.Type]++
		if user := ev.Attr("user"); user != "" {
			counts[FieldUser][user]++
		}
	}

	enc := &Encoder{Fields: make(map[string]map[string]float64, len(counts))}
	total := float64(len(events))
	for field, values := range counts {
		table := make(map[string]float64, len(values))
		for value, n := range values {
			table[value] = float64(n) / total
		}
		enc.Fields[field] = table
	}
	return enc
}

// Frequency returns the relative frequency of value within field as seen at
// training time. Unknown values return 0.
func (e *Encoder) Frequency(field, value string) float64 {
	table, ok := e.Fields[field]
	if !ok {
		return 0
	}
	return table[value]
}

// Extractor turns events into vectors using a frozen Encoder.
type Extractor struct {
	enc *Encoder
}

// NewExtractor wraps an encoder built from a training window.
func NewExtractor(enc *Encoder) *Extractor {
	return &Extractor{enc: enc}
}

// Extract maps an event to a feature vector. gap is the time since the same
// source's previous event (zero when unknown). Deterministic: the same event,
// gap, and encoder always produce the same vector.
func (x *Extractor) Extract(ev *core.Event, gap time.Duration) ([]float64, error) {
	if !ev.Valid() {
		return nil, fmt.Errorf("%w: event %d missing source, type, or timestamp", core.ErrMalformedEvent, ev.ID)
	}

	ts := ev.Timestamp.UTC()
	weekend := 0.0
	if wd := ts.Weekday(); wd == time.Saturday || wd == time.Sunday {
		weekend = 1.0
	}
	failed := 0.0
	if ev.Status == "failure" || ev.Status == "failed" {
		failed = 1.0
	}

	if gap < 0 {
		gap = 0
	}
	if gap > maxGap {
		gap = maxGap
	}
	// log1p keeps bursts (sub-second gaps) and long silences on one scale.
	gapLog := math.Log1p(gap.Seconds())

	return []float64{
		float64(ts.Hour()),
		weekend,
		failed,
		gapLog,
		x.enc.Frequency(FieldSource, ev.Source),
		x.enc.Frequency(FieldType, ev.Type),
		x.enc.Frequency(FieldUser, ev.Attr("user")),
	}, nil
}

// SourceClock tracks the last event time per source so the loop and trainer
// can derive inter-event gaps. Not safe for concurrent use; each consumer
// owns its own clock.
type SourceClock struct {
	last map[string]time.Time
}

// NewSourceClock creates an empty clock.
func NewSourceClock() *SourceClock {
	return &SourceClock{last: make(map[string]time.Time)}
}

// Observe returns the gap since the source's previous event and records this
// one. The first event from a source observes a zero gap.
func (c *SourceClock) Observe(source string, ts time.Time) time.Duration {
	prev, ok := c.last[source]
	c.last[source] = ts
	if !ok {
		return 0
	}
	gap := ts.Sub(prev)
	if gap < 0 {
		gap = 0
	}
	return gap
}
