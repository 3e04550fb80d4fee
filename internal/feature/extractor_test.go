package feature

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/logwarden-project/logwarden/internal/core"
)

func trainingEvents() []core.Event {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) // a Monday
	events := make([]core.Event, 0, 10)
	for i := 0; i < 8; i++ {
		events = append(events, core.Event{
			ID:        uint64(i + 1),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Source:    "auth-svc",
			Type:      "login",
			Status:    "success",
			Attrs:     map[string]string{"user": "alice"},
		})
	}
	events = append(events, core.Event{
		ID: 9, Timestamp: base.Add(8 * time.Minute),
		Source: "db", Type: "query", Status: "success",
		Attrs: map[string]string{"user": "bob"},
	})
	events = append(events, core.Event{
		ID: 10, Timestamp: base.Add(9 * time.Minute),
		Source: "db", Type: "query", Status: "failure",
		Attrs: map[string]string{"user": "bob"},
	})
	return events
}

func TestBuildEncoder_RelativeFrequencies(t *testing.T) {
	enc := BuildEncoder(trainingEvents())

	if got := enc.Frequency(FieldSource, "auth-svc"); got != 0.8 {
		t.Errorf("expected auth-svc frequency 0.8, got %g", got)
	}
	if got := enc.Frequency(FieldSource, "db"); got != 0.2 {
		t.Errorf("expected db frequency 0.2, got %g", got)
	}
	if got := enc.Frequency(FieldUser, "alice"); got != 0.8 {
		t.Errorf("expected alice frequency 0.8, got %g", got)
	}
}

func TestEncoder_UnknownValue_IsZero(t *testing.T) {
	enc := BuildEncoder(trainingEvents())
	if got := enc.Frequency(FieldSource, "never-seen"); got != 0 {
		t.Errorf("unknown value should encode as 0, got %g", got)
	}
	if got := enc.Frequency("no-such-field", "x"); got != 0 {
		t.Errorf("unknown field should encode as 0, got %g", got)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	x := NewExtractor(BuildEncoder(trainingEvents()))
	ev := core.Event{
		ID: 11, Timestamp: time.Date(2026, 3, 7, 3, 0, 0, 0, time.UTC), // Saturday 03:00
		Source: "auth-svc", Type: "login", Status: "failure",
		Attrs: map[string]string{"user": "alice"},
	}

	v1, err := x.Extract(&ev, 90*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	v2, err := x.Extract(&ev, 90*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	if len(v1) != Dim {
		t.Fatalf("expected %d features, got %d", Dim, len(v1))
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Errorf("feature %s not deterministic: %g vs %g", Names[i], v1[i], v2[i])
		}
	}

	if v1[0] != 3 {
		t.Errorf("expected hour_of_day 3, got %g", v1[0])
	}
	if v1[1] != 1 {
		t.Errorf("Saturday should set is_weekend, got %g", v1[1])
	}
	if v1[2] != 1 {
		t.Errorf("failure status should set status_failed, got %g", v1[2])
	}
	if want := math.Log1p(90); v1[3] != want {
		t.Errorf("expected gap_log_seconds %g, got %g", want, v1[3])
	}
}

func TestExtract_MalformedEvent(t *testing.T) {
	x := NewExtractor(BuildEncoder(trainingEvents()))
	ev := core.Event{ID: 12, Timestamp: time.Now(), Type: "login"} // missing source

	_, err := x.Extract(&ev, 0)
	if !errors.Is(err, core.ErrMalformedEvent) {
		t.Errorf("expected ErrMalformedEvent, got %v", err)
	}
}

func TestExtract_GapClamped(t *testing.T) {
	x := NewExtractor(BuildEncoder(trainingEvents()))
	ev := core.Event{ID: 13, Timestamp: time.Now(), Source: "auth-svc", Type: "login"}

	atCap, err := x.Extract(&ev, 7*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	beyond, err := x.Extract(&ev, 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if atCap[3] != beyond[3] {
		t.Errorf("gaps beyond the cap should encode identically: %g vs %g", atCap[3], beyond[3])
	}

	negative, err := x.Extract(&ev, -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if negative[3] != 0 {
		t.Errorf("negative gap should encode as 0, got %g", negative[3])
	}
}

func TestSourceClock_Observe(t *testing.T) {
	c := NewSourceClock()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	if gap := c.Observe("auth-svc", base); gap != 0 {
		t.Errorf("first observation should have zero gap, got %s", gap)
	}
	if gap := c.Observe("auth-svc", base.Add(time.Minute)); gap != time.Minute {
		t.Errorf("expected 1m gap, got %s", gap)
	}
	// A different source has its own clock
	if gap := c.Observe("db", base.Add(2*time.Minute)); gap != 0 {
		t.Errorf("new source should have zero gap, got %s", gap)
	}
	// Timestamps going backward clamp to zero
	if gap := c.Observe("auth-svc", base); gap != 0 {
		t.Errorf("backward timestamp should clamp gap to 0, got %s", gap)
	}
}
