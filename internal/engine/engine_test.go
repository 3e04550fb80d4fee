package engine

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/logwarden-project/logwarden/internal/core"
	"github.com/logwarden-project/logwarden/internal/store"
)

func testConfig(t *testing.T) *core.Config {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Store.Backend = "memory"
	cfg.Bus.Enabled = false
	cfg.DataDir = t.TempDir()
	cfg.Detector.PollInterval = 5 * time.Millisecond
	cfg.Logging.Level = "error"
	return cfg
}

func TestEngine_StartAndShutdown(t *testing.T) {
	eng, err := New(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(); err != nil {
		t.Fatalf("starting engine: %v", err)
	}

	// Let the tasks spin a few cycles before stopping
	time.Sleep(30 * time.Millisecond)

	if err := eng.Shutdown(); err != nil {
		t.Fatalf("shutting down engine: %v", err)
	}
}

func TestEngine_MetricsEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "127.0.0.1:0"

	eng, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(); err != nil {
		t.Fatalf("starting engine: %v", err)
	}
	defer eng.Shutdown()

	addr := eng.MetricsAddr()
	if addr == "" {
		t.Fatal("metrics endpoint should report its bound address")
	}

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("scraping metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "logwarden_events_scored_total") {
		t.Error("scrape output should carry the engine counters")
	}
}

func TestEngine_ShutdownAfterFailedStart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "clickhouse"
	cfg.Store.Addr = "127.0.0.1:1" // nothing listens here
	cfg.Store.DialTimeout = 100 * time.Millisecond

	eng, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(); err == nil {
		t.Fatal("start should fail with an unreachable store")
	}
	if err := eng.Shutdown(); err != nil {
		t.Errorf("shutdown after failed start should not error: %v", err)
	}
}

func TestOpenStore_MemoryBackend(t *testing.T) {
	cfg := core.DefaultConfig().Store
	cfg.Backend = "memory"

	st, err := OpenStore(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if _, ok := st.(*store.Memory); !ok {
		t.Errorf("expected memory store, got %T", st)
	}
}

func TestEngine_WatermarkPathUnderDataDir(t *testing.T) {
	cfg := testConfig(t)
	eng, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(); err != nil {
		t.Fatal(err)
	}
	defer eng.Shutdown()

	// Seed enough history through the store for a bootstrap, then confirm
	// the watermark file appears under the data dir once events are scored.
	mem, ok := eng.Store.(*store.Memory)
	if !ok {
		t.Fatalf("expected memory store, got %T", eng.Store)
	}
	base := time.Now().UTC().Add(-time.Hour)
	for i := 1; i <= 150; i++ {
		mem.AppendEvent(core.Event{
			ID:        uint64(i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Source:    "auth-svc",
			Type:      "login",
			Status:    "success",
		})
	}

	wmPath := filepath.Join(cfg.DataDir, "watermark.json")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if eng.Loop.Watermark() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if eng.Loop.Watermark() == 0 {
		t.Fatal("engine never bootstrapped from the seeded history")
	}
	if _, err := os.ReadFile(wmPath); err != nil {
		t.Errorf("expected watermark state at %s: %v", wmPath, err)
	}
}
