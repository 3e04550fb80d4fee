package core

import (
	"encoding/json"
	"time"
)

// Severity represents the severity tier assigned to an alert.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseSeverity(str)
	return nil
}

// ParseSeverity maps a severity string back to its enum value. Unknown
// strings map to INFO.
func ParseSeverity(str string) Severity {
	switch str {
	case "LOW":
		return SeverityLow
	case "MEDIUM":
		return SeverityMedium
	case "HIGH":
		return SeverityHigh
	case "CRITICAL":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Event is a single ingested security event as stored in the events table.
// Events are append-only: the ingestion collaborator assigns a monotonically
// increasing ID and never updates a row after insert.
type Event struct {
	ID        uint64            `json:"id" ch:"id"`
	Timestamp time.Time         `json:"timestamp" ch:"timestamp"`
	Source    string            `json:"source" ch:"source"`
	Type      string            `json:"type" ch:"event_type"`
	Status    string            `json:"status" ch:"status"`
	Attrs     map[string]string `json:"attrs,omitempty" ch:"attrs"`
}

// Attr returns a context attribute, or "" when absent.
func (e *Event) Attr(key string) string {
	if e.Attrs == nil {
		return ""
	}
	return e.Attrs[key]
}

// Valid reports whether the event carries every field the feature extractor
// requires. Events that fail this check are counted as malformed and skipped.
func (e *Event) Valid() bool {
	return e.Source != "" && e.Type != "" && !e.Timestamp.IsZero()
}

// Marshal serializes the event to JSON.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
