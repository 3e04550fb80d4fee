package detect

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWatermark_StartsAtZero(t *testing.T) {
	w, err := LoadWatermark(filepath.Join(t.TempDir(), "watermark.json"))
	if err != nil {
		t.Fatal(err)
	}
	if w.Value() != 0 {
		t.Errorf("missing state file should start at 0, got %d", w.Value())
	}
}

func TestWatermark_AdvanceIsMonotonic(t *testing.T) {
	w, err := LoadWatermark("")
	if err != nil {
		t.Fatal(err)
	}

	w.Advance(10)
	if w.Value() != 10 {
		t.Fatalf("expected 10, got %d", w.Value())
	}

	w.Advance(5)
	if w.Value() != 10 {
		t.Errorf("watermark must never rewind, got %d", w.Value())
	}

	w.Advance(10)
	if w.Value() != 10 {
		t.Errorf("equal advance should be a no-op, got %d", w.Value())
	}

	w.Advance(11)
	if w.Value() != 11 {
		t.Errorf("expected 11, got %d", w.Value())
	}
}

func TestWatermark_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "watermark.json")

	w, err := LoadWatermark(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Advance(1234); err != nil {
		t.Fatal(err)
	}

	restored, err := LoadWatermark(path)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Value() != 1234 {
		t.Errorf("expected restored watermark 1234, got %d", restored.Value())
	}
}

func TestWatermark_CorruptState_Fails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watermark.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadWatermark(path); err == nil {
		t.Error("corrupt state file should fail to load")
	}
}

func TestWatermark_EmptyPath_MemoryOnly(t *testing.T) {
	w, err := LoadWatermark("")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Advance(42); err != nil {
		t.Errorf("memory-only watermark should advance without error: %v", err)
	}
	if w.Value() != 42 {
		t.Errorf("expected 42, got %d", w.Value())
	}
}
