package alert

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/logwarden-project/logwarden/internal/core"
)

func webhookConfig(urls ...string) core.AlertsConfig {
	cfg := testAlertsConfig()
	cfg.WebhookURLs = urls
	return cfg
}

func testAlert() *core.Alert {
	ev := testEvent(1, "vpn-gw")
	return core.NewAlert(ev, -0.12, core.SeverityHigh, 1, DedupKey(ev), "unusual hour_of_day")
}

func waitForDelivery(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("delivery never completed")
}

func TestDispatcher_NoURLs_IsNil(t *testing.T) {
	if d := NewDispatcher(testAlertsConfig(), zerolog.Nop()); d != nil {
		t.Error("dispatcher without URLs should be nil")
		d.Close()
	}
}

func TestDispatcher_DeliversAlertJSON(t *testing.T) {
	var hits atomic.Int64
	var gotID atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotID.Store(r.Header.Get("X-Logwarden-Alert-ID"))
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(webhookConfig(srv.URL), zerolog.Nop())
	defer d.Close()

	a := testAlert()
	d.Notify(a)
	waitForDelivery(t, func() bool { return hits.Load() == 1 })

	if id, _ := gotID.Load().(string); id != a.ID {
		t.Errorf("expected alert ID header %q, got %q", a.ID, id)
	}
	if len(d.DeadLetters(10)) != 0 {
		t.Errorf("successful delivery should leave no dead letters")
	}
}

func TestDispatcher_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher(webhookConfig(srv.URL), zerolog.Nop())
	defer d.Close()

	d.Notify(testAlert())
	waitForDelivery(t, func() bool { return hits.Load() >= 3 })

	// Give the worker a beat to finish the successful attempt
	time.Sleep(20 * time.Millisecond)
	if dl := d.DeadLetters(10); len(dl) != 0 {
		t.Errorf("recovered delivery should not dead-letter, got %v", dl)
	}
}

func TestDispatcher_ClientError_DeadLettersImmediately(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewDispatcher(webhookConfig(srv.URL), zerolog.Nop())
	defer d.Close()

	a := testAlert()
	d.Notify(a)
	waitForDelivery(t, func() bool { return len(d.DeadLetters(10)) == 1 })

	if hits.Load() != 1 {
		t.Errorf("a 400 should not be retried, got %d attempts", hits.Load())
	}
	dl := d.DeadLetters(10)[0]
	if dl.AlertID != a.ID {
		t.Errorf("dead letter should reference the alert, got %q", dl.AlertID)
	}
}

func TestDispatcher_FansOutToAllURLs(t *testing.T) {
	var hitsA, hitsB atomic.Int64
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsA.Add(1)
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsB.Add(1)
	}))
	defer srvB.Close()

	d := NewDispatcher(webhookConfig(srvA.URL, srvB.URL), zerolog.Nop())
	defer d.Close()

	d.Notify(testAlert())
	waitForDelivery(t, func() bool { return hitsA.Load() == 1 && hitsB.Load() == 1 })
}
