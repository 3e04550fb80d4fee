package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Alert is a persisted anomaly detection. Alerts reference the originating
// event by ID and are immutable once written; retention is handled outside
// the engine.
//
// AnomalyScore follows the decision-function convention: values below zero
// are anomalous, and more negative means further outside learned behavior.
type Alert struct {
	ID           string            `json:"id" ch:"id"`
	EventID      uint64            `json:"event_id" ch:"event_id"`
	DetectedAt   time.Time         `json:"detected_at" ch:"detected_at"`
	EventTime    time.Time         `json:"event_time" ch:"event_time"`
	Source       string            `json:"source" ch:"source"`
	EventType    string            `json:"event_type" ch:"event_type"`
	AnomalyScore float64           `json:"anomaly_score" ch:"anomaly_score"`
	Severity     Severity          `json:"severity" ch:"severity"`
	ModelVersion int               `json:"model_version" ch:"model_version"`
	DedupKey     string            `json:"dedup_key" ch:"dedup_key"`
	Reason       string            `json:"reason" ch:"reason"`
	Details      map[string]string `json:"details,omitempty" ch:"details"`
}

// NewAlert creates an Alert for an anomalous event.
func NewAlert(event *Event, score float64, severity Severity, modelVersion int, dedupKey, reason string) *Alert {
	details := make(map[string]string, len(event.Attrs))
	for k, v := range event.Attrs {
		details[k] = v
	}
	return &Alert{
		ID:           uuid.New().String(),
		EventID:      event.ID,
		DetectedAt:   time.Now().UTC(),
		EventTime:    event.Timestamp,
		Source:       event.Source,
		EventType:    event.Type,
		AnomalyScore: score,
		Severity:     severity,
		ModelVersion: modelVersion,
		DedupKey:     dedupKey,
		Reason:       reason,
		Details:      details,
	}
}

// Marshal serializes the alert to JSON.
func (a *Alert) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalAlert deserializes an Alert from JSON.
func UnmarshalAlert(data []byte) (*Alert, error) {
	var alert Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}
