package detect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Watermark is the highest event ID the scoring loop has processed. It is
// owned exclusively by the loop, strictly non-decreasing, and optionally
// persisted so a restart resumes where the previous run stopped instead of
// re-scoring history.
type Watermark struct {
	mu    sync.Mutex
	value uint64
	path  string
}

type watermarkState struct {
	Watermark uint64    `json:"watermark"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoadWatermark restores a watermark from path, starting at zero when the
// file does not exist. An empty path keeps the watermark in memory only.
func LoadWatermark(path string) (*Watermark, error) {
	w := &Watermark{path: path}
	if path == "" {
		return w, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return w, nil
		}
		return nil, fmt.Errorf("reading watermark state: %w", err)
	}

	var state watermarkState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing watermark state %s: %w", path, err)
	}
	w.value = state.Watermark
	return w, nil
}

// Value returns the current watermark.
func (w *Watermark) Value() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// Advance moves the watermark to id. Lower or equal values are ignored, so
// the watermark never rewinds.
func (w *Watermark) Advance(id uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if id <= w.value {
		return nil
	}
	w.value = id

	if w.path == "" {
		return nil
	}
	return w.persistLocked()
}

// persistLocked writes the state file atomically via rename.
func (w *Watermark) persistLocked() error {
	data, err := json.Marshal(watermarkState{
		Watermark: w.value,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshaling watermark state: %w", err)
	}

	tmp := w.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("creating watermark dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing watermark state: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("replacing watermark state: %w", err)
	}
	return nil
}
