package alert

// ---------------------------------------------------------------------------
// webhook.go — reliable webhook delivery of raised alerts.
//
// On-call teams depend on these notifications reaching PagerDuty/Slack/etc.
// A transient 503 from a receiver shouldn't silently drop a CRITICAL alert.
//
//   - Async delivery queue; Notify never blocks the scoring loop
//   - Exponential backoff up to MaxRetries per delivery
//   - Per-URL circuit breaker so one dead receiver doesn't stall the rest
//   - Dead letter buffer for permanently failed deliveries
// ---------------------------------------------------------------------------

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/logwarden-project/logwarden/internal/core"
)

// webhookDelivery is one alert bound for one URL.
type webhookDelivery struct {
	Alert    *core.Alert
	URL      string
	Attempts int
}

// DeadLetter is a failed delivery preserved for inspection.
type DeadLetter struct {
	AlertID   string    `json:"alert_id"`
	URL       string    `json:"url"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
	LastError string    `json:"last_error"`
}

// Dispatcher fans raised alerts out to the configured webhook URLs.
type Dispatcher struct {
	urls   []string
	cfg    core.AlertsConfig
	logger zerolog.Logger

	queue chan *webhookDelivery

	bkMu     sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	dlMu       sync.Mutex
	deadLetter []DeadLetter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const (
	webhookQueueSize   = 1000
	webhookWorkers     = 4
	maxDeadLetters     = 500
	webhookHTTPTimeout = 15 * time.Second
)

// NewDispatcher starts background delivery workers for cfg.WebhookURLs.
// Returns nil when no URLs are configured.
func NewDispatcher(cfg core.AlertsConfig, logger zerolog.Logger) *Dispatcher {
	if len(cfg.WebhookURLs) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		urls:     cfg.WebhookURLs,
		cfg:      cfg,
		logger:   logger.With().Str("component", "webhook_dispatcher").Logger(),
		queue:    make(chan *webhookDelivery, webhookQueueSize),
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(cfg.WebhookURLs)),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < webhookWorkers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	d.logger.Info().Int("urls", len(d.urls)).Msg("webhook dispatcher started")
	return d
}

// Notify queues the alert for delivery to every configured URL. It returns
// immediately; a full queue drops the delivery into the dead letter buffer.
func (d *Dispatcher) Notify(a *core.Alert) {
	for _, url := range d.urls {
		delivery := &webhookDelivery{Alert: a, URL: url}
		select {
		case d.queue <- delivery:
		default:
			d.addDeadLetter(delivery, "queue full")
		}
	}
}

// DeadLetters returns the most recent failed deliveries, oldest first.
func (d *Dispatcher) DeadLetters(limit int) []DeadLetter {
	d.dlMu.Lock()
	defer d.dlMu.Unlock()

	if limit <= 0 || limit > len(d.deadLetter) {
		limit = len(d.deadLetter)
	}
	out := make([]DeadLetter, limit)
	copy(out, d.deadLetter[len(d.deadLetter)-limit:])
	return out
}

// Close stops the workers. Queued deliveries that have not started are lost.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
	d.logger.Info().Int("dead_letters", len(d.deadLetter)).Msg("webhook dispatcher stopped")
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	client := &http.Client{Timeout: webhookHTTPTimeout}

	for {
		select {
		case <-d.ctx.Done():
			return
		case delivery := <-d.queue:
			d.deliver(client, delivery)
		}
	}
}

// deliver posts the alert, retrying server errors with backoff. Client errors
// other than 429 dead-letter immediately; retrying a 400 never helps.
func (d *Dispatcher) deliver(client *http.Client, delivery *webhookDelivery) {
	data, err := delivery.Alert.Marshal()
	if err != nil {
		d.addDeadLetter(delivery, fmt.Sprintf("marshal error: %v", err))
		return
	}

	maxRetries := d.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr string
	for attempt := 0; attempt <= maxRetries; attempt++ {
		delivery.Attempts = attempt + 1
		if attempt > 0 && !d.backoff(attempt-1) {
			return
		}

		_, err := d.breaker(delivery.URL).Execute(func() (interface{}, error) {
			return nil, d.post(client, delivery, data)
		})
		if err == nil {
			d.logger.Debug().
				Str("alert_id", delivery.Alert.ID).
				Str("url", delivery.URL).
				Int("attempts", delivery.Attempts).
				Msg("webhook delivered")
			return
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			d.addDeadLetter(delivery, perm.Error())
			return
		}
		lastErr = err.Error()
	}

	d.addDeadLetter(delivery, lastErr)
}

func (d *Dispatcher) post(client *http.Client, delivery *webhookDelivery, data []byte) error {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, delivery.URL, bytes.NewReader(data))
	if err != nil {
		return &permanentError{msg: fmt.Sprintf("building request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "logwarden-webhook/1.0")
	req.Header.Set("X-Logwarden-Alert-ID", delivery.Alert.ID)
	req.Header.Set("X-Logwarden-Attempt", fmt.Sprintf("%d", delivery.Attempts))

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return &permanentError{msg: fmt.Sprintf("client error: HTTP %d", resp.StatusCode)}
	default:
		return fmt.Errorf("server error: HTTP %d", resp.StatusCode)
	}
}

// breaker returns the circuit breaker for a URL, creating it on first use.
func (d *Dispatcher) breaker(url string) *gobreaker.CircuitBreaker {
	d.bkMu.Lock()
	defer d.bkMu.Unlock()

	cb, ok := d.breakers[url]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "webhook:" + url,
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		d.breakers[url] = cb
	}
	return cb
}

func (d *Dispatcher) backoff(attempt int) bool {
	initial := d.cfg.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	delay := time.Duration(float64(initial) * math.Pow(2, float64(attempt)))
	if d.cfg.MaxBackoff > 0 && delay > d.cfg.MaxBackoff {
		delay = d.cfg.MaxBackoff
	}
	select {
	case <-time.After(delay):
		return true
	case <-d.ctx.Done():
		return false
	}
}

func (d *Dispatcher) addDeadLetter(delivery *webhookDelivery, reason string) {
	d.dlMu.Lock()
	if len(d.deadLetter) >= maxDeadLetters {
		d.deadLetter = d.deadLetter[maxDeadLetters/10:]
	}
	d.deadLetter = append(d.deadLetter, DeadLetter{
		AlertID:   delivery.Alert.ID,
		URL:       delivery.URL,
		Attempts:  delivery.Attempts,
		FailedAt:  time.Now().UTC(),
		LastError: reason,
	})
	d.dlMu.Unlock()

	d.logger.Warn().
		Str("alert_id", delivery.Alert.ID).
		Str("url", delivery.URL).
		Int("attempts", delivery.Attempts).
		Str("error", reason).
		Msg("webhook moved to dead letter")
}

// permanentError marks a delivery failure that retrying cannot fix.
type permanentError struct {
	msg string
}

func (e *permanentError) Error() string { return e.msg }
