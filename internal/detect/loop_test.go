package detect

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/logwarden-project/logwarden/internal/alert"
	"github.com/logwarden-project/logwarden/internal/core"
	"github.com/logwarden-project/logwarden/internal/model"
	"github.com/logwarden-project/logwarden/internal/store"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

// seedTraffic appends n routine weekday events starting at the given ID:
// known sources and users, business hours, mostly successes, steady cadence.
func seedTraffic(m *store.Memory, fromID uint64, n int, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	sources := []string{"auth-svc", "web-frontend", "db"}
	users := []string{"alice", "bob", "carol"}
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) // a Monday

	for i := 0; i < n; i++ {
		status := "success"
		if rng.Float64() < 0.05 {
			status = "failure"
		}
		m.AppendEvent(core.Event{
			ID:        fromID + uint64(i),
			Timestamp: base.Add(time.Duration(fromID+uint64(i))*time.Minute + time.Duration(rng.Intn(20))*time.Second),
			Source:    sources[rng.Intn(len(sources))],
			Type:      "login",
			Status:    status,
			Attrs:     map[string]string{"user": users[rng.Intn(len(users))]},
		})
	}
}

func anomalousEvent(id uint64) core.Event {
	return core.Event{
		ID:        id,
		Timestamp: time.Date(2026, 3, 8, 3, 0, 0, 0, time.UTC), // Sunday 03:00
		Source:    "shadow-host",
		Type:      "beacon",
		Status:    "failure",
		Attrs:     map[string]string{"user": "mallory"},
	}
}

type loopHarness struct {
	alerts  *store.Memory
	loop    *Loop
	metrics *core.Metrics
	wm      *Watermark

	cancel context.CancelFunc
	done   chan struct{}
}

// newHarness wires a loop against in-memory stores with fast test timings.
// events is also the alert sink.
func newHarness(t *testing.T, events store.EventStore, windowSize int) *loopHarness {
	t.Helper()

	alerts := store.NewMemory()
	metrics := core.NewMetrics()
	wm, err := LoadWatermark("")
	if err != nil {
		t.Fatal(err)
	}

	trainCfg := core.TrainingConfig{
		Cadence:       time.Hour, // retraining driven manually in tests
		WindowSize:    windowSize,
		MinSamples:    50,
		Contamination: 0.05,
		NumTrees:      100,
		SampleSize:    128,
		Seed:          7,
	}
	alertCfg := core.AlertsConfig{
		SuppressionWindow: 10 * time.Minute,
		MediumBelow:       -0.05,
		HighBelow:         -0.10,
		CriticalBelow:     -0.15,
		MaxRetries:        1,
		InitialBackoff:    time.Millisecond,
	}
	loopCfg := core.DetectorConfig{
		PollInterval:   5 * time.Millisecond,
		BatchSize:      100,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	}

	models := model.NewManager(trainCfg, events, wm.Value, metrics, zerolog.Nop())
	writer := alert.NewWriter(alerts, nil, alertCfg, metrics, zerolog.Nop())
	loop := NewLoop(events, models, writer, wm, loopCfg, metrics, zerolog.Nop())

	return &loopHarness{alerts: alerts, loop: loop, metrics: metrics, wm: wm}
}

func (h *loopHarness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	go func() {
		h.loop.Run(ctx)
		close(h.done)
	}()
}

func (h *loopHarness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// ---------------------------------------------------------------------------
// End to end: bootstrap, score, alert
// ---------------------------------------------------------------------------

func TestLoop_BootstrapScoresAndAlerts(t *testing.T) {
	events := store.NewMemory()
	seedTraffic(events, 1, 250, 1) // history consumed by the first training run
	seedTraffic(events, 251, 10, 2)
	events.AppendEvent(anomalousEvent(261))

	h := newHarness(t, events, 250)
	h.start()
	defer h.stop(t)

	waitFor(t, 5*time.Second, func() bool { return h.wm.Value() >= 261 },
		"loop never processed the anomalous event")

	alerts, err := h.alerts.ListAlerts(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}

	var hit *core.Alert
	for i := range alerts {
		if alerts[i].EventID == 261 {
			hit = &alerts[i]
			break
		}
	}
	if hit == nil {
		t.Fatal("expected an alert for the anomalous event")
	}
	if hit.AnomalyScore >= 0 {
		t.Errorf("anomaly score should be negative, got %g", hit.AnomalyScore)
	}
	if hit.Severity < core.SeverityLow {
		t.Errorf("expected at least LOW severity, got %s", hit.Severity)
	}
	if hit.ModelVersion != 1 {
		t.Errorf("expected model version 1, got %d", hit.ModelVersion)
	}
	if hit.Reason == "" {
		t.Error("alert should carry a reason")
	}
	if hit.Details["user"] != "mallory" {
		t.Errorf("alert should carry event context, got %v", hit.Details)
	}
}

func TestLoop_BootstrapWindowNeverScored(t *testing.T) {
	events := store.NewMemory()
	seedTraffic(events, 1, 250, 1)
	spy := &spyEventStore{inner: events}

	h := newHarness(t, spy, 250)
	h.start()
	defer h.stop(t)

	waitFor(t, 5*time.Second, func() bool { return h.wm.Value() >= 250 },
		"bootstrap never advanced the watermark")

	if min := spy.minReturnedID(); min != 0 && min <= 250 {
		t.Errorf("training-window event %d was handed to the scoring loop", min)
	}
	if got := testutil.ToFloat64(h.metrics.TrainingRuns); got != 1 {
		t.Errorf("expected 1 training run, got %g", got)
	}
}

func TestLoop_RetrainTaskFirstModel_WindowNotScored(t *testing.T) {
	events := store.NewMemory()
	seedTraffic(events, 1, 250, 1)
	spy := &spyEventStore{inner: events}

	h := newHarness(t, spy, 250)

	// The retrain task can win the race for the first training run; the loop
	// has not moved the watermark yet when the model lands.
	if err := h.loop.models.TrainAndPromote(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.wm.Value() != 0 {
		t.Fatalf("watermark moved before the loop ran: %d", h.wm.Value())
	}
	seedTraffic(events, 251, 10, 2)

	h.start()
	defer h.stop(t)

	waitFor(t, 5*time.Second, func() bool { return h.wm.Value() >= 260 },
		"loop never caught up past the training window")

	if min := spy.minReturnedID(); min != 0 && min <= 250 {
		t.Errorf("event %d from the training window was handed to scoring", min)
	}
	if got := testutil.ToFloat64(h.metrics.EventsScored); got != 10 {
		t.Errorf("expected only the 10 post-window events scored, got %g", got)
	}
}

func TestLoop_MalformedEventAdvancesWatermark(t *testing.T) {
	events := store.NewMemory()
	seedTraffic(events, 1, 250, 1)
	seedTraffic(events, 251, 1, 2)
	events.AppendEvent(core.Event{ID: 252, Timestamp: time.Now().UTC(), Type: "login"}) // no source
	seedTraffic(events, 253, 1, 3)

	h := newHarness(t, events, 250)
	h.start()
	defer h.stop(t)

	waitFor(t, 5*time.Second, func() bool { return h.wm.Value() >= 253 },
		"malformed event stalled the loop")

	if got := testutil.ToFloat64(h.metrics.EventsMalformed); got != 1 {
		t.Errorf("expected 1 malformed event counted, got %g", got)
	}
}

func TestLoop_WaitsForEnoughHistory(t *testing.T) {
	events := store.NewMemory()
	seedTraffic(events, 1, 10, 1) // below MinSamples

	h := newHarness(t, events, 250)
	h.start()
	time.Sleep(50 * time.Millisecond)
	h.stop(t)

	if h.wm.Value() != 0 {
		t.Errorf("watermark should not move before the first model exists, got %d", h.wm.Value())
	}
	if got := testutil.ToFloat64(h.metrics.EventsScored); got != 0 {
		t.Errorf("no events should be scored before the first model, got %g", got)
	}
}

// ---------------------------------------------------------------------------
// Exactly-once delivery across batches
// ---------------------------------------------------------------------------

// spyEventStore records every event ID returned by EventsAfter.
type spyEventStore struct {
	inner store.EventStore

	mu       sync.Mutex
	returned []uint64
	failLeft int
	polls    int
}

func (s *spyEventStore) EventsAfter(ctx context.Context, afterID uint64, limit int) ([]core.Event, error) {
	s.mu.Lock()
	s.polls++
	if s.failLeft > 0 {
		s.failLeft--
		s.mu.Unlock()
		return nil, errors.New("connection refused")
	}
	s.mu.Unlock()

	events, err := s.inner.EventsAfter(ctx, afterID, limit)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for i := range events {
		s.returned = append(s.returned, events[i].ID)
	}
	s.mu.Unlock()
	return events, nil
}

func (s *spyEventStore) TrainingWindow(ctx context.Context, upTo uint64, limit int) ([]core.Event, error) {
	return s.inner.TrainingWindow(ctx, upTo, limit)
}

func (s *spyEventStore) minReturnedID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var min uint64
	for _, id := range s.returned {
		if min == 0 || id < min {
			min = id
		}
	}
	return min
}

func (s *spyEventStore) duplicates() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[uint64]bool, len(s.returned))
	var dups []uint64
	for _, id := range s.returned {
		if seen[id] {
			dups = append(dups, id)
		}
		seen[id] = true
	}
	return dups
}

func TestLoop_EachEventScoredOnce(t *testing.T) {
	events := store.NewMemory()
	seedTraffic(events, 1, 250, 1)
	seedTraffic(events, 251, 20, 2)
	spy := &spyEventStore{inner: events}

	h := newHarness(t, spy, 250)
	h.loop.cfg.BatchSize = 5 // force multiple polls over the 20 events
	h.start()
	defer h.stop(t)

	waitFor(t, 5*time.Second, func() bool { return h.wm.Value() >= 270 },
		"loop never caught up with the event stream")

	if dups := spy.duplicates(); len(dups) != 0 {
		t.Errorf("events handed to the loop more than once: %v", dups)
	}
	if got := testutil.ToFloat64(h.metrics.EventsScored); got != 20 {
		t.Errorf("expected 20 scored events, got %g", got)
	}
}

// ---------------------------------------------------------------------------
// Store failure handling
// ---------------------------------------------------------------------------

func TestLoop_PollFailure_BacksOffAndRecovers(t *testing.T) {
	events := store.NewMemory()
	seedTraffic(events, 1, 250, 1)
	seedTraffic(events, 251, 5, 2)
	spy := &spyEventStore{inner: events, failLeft: 3}

	h := newHarness(t, spy, 250)
	h.start()
	defer h.stop(t)

	waitFor(t, 5*time.Second, func() bool { return h.wm.Value() >= 255 },
		"loop never recovered from poll failures")

	if got := testutil.ToFloat64(h.metrics.PollFailures); got != 3 {
		t.Errorf("expected 3 poll failures counted, got %g", got)
	}
	if dups := spy.duplicates(); len(dups) != 0 {
		t.Errorf("recovery must not rescore events: %v", dups)
	}
}

func TestLoop_BackoffDelayGrowsAndCaps(t *testing.T) {
	h := newHarness(t, store.NewMemory(), 250)
	h.loop.cfg.InitialBackoff = time.Second
	h.loop.cfg.MaxBackoff = 10 * time.Second

	h.loop.pollFailures = 1
	if got := h.loop.backoffDelay(); got != time.Second {
		t.Errorf("first failure should wait the initial backoff, got %s", got)
	}
	h.loop.pollFailures = 3
	if got := h.loop.backoffDelay(); got != 4*time.Second {
		t.Errorf("third failure should wait 4s, got %s", got)
	}
	h.loop.pollFailures = 20
	if got := h.loop.backoffDelay(); got != 10*time.Second {
		t.Errorf("backoff should cap at max, got %s", got)
	}

	// Long outages: the doubling would overflow time.Duration around 35
	// failures; the cap must still hold instead of going negative.
	for _, failures := range []int{35, 40, 64, 1000} {
		h.loop.pollFailures = failures
		if got := h.loop.backoffDelay(); got != 10*time.Second {
			t.Errorf("backoff after %d failures should stay at max, got %s", failures, got)
		}
	}
}
