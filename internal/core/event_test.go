package core

import (
	"testing"
	"time"
)

func TestSeverity_StringRoundTrip(t *testing.T) {
	for _, s := range []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if got := ParseSeverity(s.String()); got != s {
			t.Errorf("ParseSeverity(%q) = %v, want %v", s.String(), got, s)
		}
	}
}

func TestParseSeverity_Unknown_MapsToInfo(t *testing.T) {
	if got := ParseSeverity("BANANAS"); got != SeverityInfo {
		t.Errorf("unknown severity should map to INFO, got %v", got)
	}
}

func TestSeverity_Ordering(t *testing.T) {
	if !(SeverityInfo < SeverityLow && SeverityLow < SeverityMedium &&
		SeverityMedium < SeverityHigh && SeverityHigh < SeverityCritical) {
		t.Error("severity tiers must be ordered INFO < LOW < MEDIUM < HIGH < CRITICAL")
	}
}

func TestEvent_Valid(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name  string
		event Event
		want  bool
	}{
		{"complete", Event{ID: 1, Timestamp: now, Source: "auth-svc", Type: "login"}, true},
		{"missing source", Event{ID: 1, Timestamp: now, Type: "login"}, false},
		{"missing type", Event{ID: 1, Timestamp: now, Source: "auth-svc"}, false},
		{"zero timestamp", Event{ID: 1, Source: "auth-svc", Type: "login"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.event.Valid(); got != tc.want {
				t.Errorf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvent_Attr_NilMap(t *testing.T) {
	e := Event{}
	if got := e.Attr("user"); got != "" {
		t.Errorf("Attr on nil map should return empty string, got %q", got)
	}
}

func TestNewAlert_CopiesEventContext(t *testing.T) {
	ev := &Event{
		ID:        42,
		Timestamp: time.Date(2026, 3, 1, 3, 14, 0, 0, time.UTC),
		Source:    "vpn-gw",
		Type:      "session_start",
		Attrs:     map[string]string{"user": "mallory", "ip": "10.0.0.9"},
	}
	a := NewAlert(ev, -0.12, SeverityHigh, 3, "abc123", "unusual hour_of_day, source_freq")

	if a.ID == "" {
		t.Error("alert should get a generated ID")
	}
	if a.EventID != 42 {
		t.Errorf("expected event ID 42, got %d", a.EventID)
	}
	if !a.EventTime.Equal(ev.Timestamp) {
		t.Errorf("expected event time %s, got %s", ev.Timestamp, a.EventTime)
	}
	if a.Severity != SeverityHigh {
		t.Errorf("expected HIGH severity, got %s", a.Severity)
	}
	if a.ModelVersion != 3 {
		t.Errorf("expected model version 3, got %d", a.ModelVersion)
	}
	if a.Details["user"] != "mallory" {
		t.Errorf("expected event attrs copied into details, got %v", a.Details)
	}

	// The copy must be independent of the event's map
	ev.Attrs["user"] = "changed"
	if a.Details["user"] != "mallory" {
		t.Error("alert details should not alias the event's attrs map")
	}
}

func TestAlert_MarshalRoundTrip(t *testing.T) {
	ev := &Event{ID: 7, Timestamp: time.Now().UTC(), Source: "db", Type: "query"}
	a := NewAlert(ev, -0.2, SeverityCritical, 1, "key", "statistical outlier across learned behavior")

	data, err := a.Marshal()
	if err != nil {
		t.Fatalf("marshaling alert: %v", err)
	}
	got, err := UnmarshalAlert(data)
	if err != nil {
		t.Fatalf("unmarshaling alert: %v", err)
	}
	if got.ID != a.ID || got.Severity != SeverityCritical || got.AnomalyScore != -0.2 {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}
