package core

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// AlertBus publishes persisted alerts to NATS JetStream so downstream
// consumers (dashboard, pagers) can subscribe without touching the alert
// store. The bus is optional and strictly fire-and-forget from the engine's
// point of view: a publish failure never blocks or fails a detection.
type AlertBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	ns     *server.Server
	logger zerolog.Logger
	mu     sync.RWMutex
	subs   []*nats.Subscription
}

// NewAlertBus connects to NATS. If cfg.Embedded is true, it starts an
// embedded NATS server first.
func NewAlertBus(cfg *BusConfig, logger zerolog.Logger) (*AlertBus, error) {
	bus := &AlertBus{
		logger: logger.With().Str("component", "alert_bus").Logger(),
		subs:   make([]*nats.Subscription, 0),
	}

	if cfg.Embedded {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating NATS data dir: %w", err)
		}

		opts := &server.Options{
			Host:      "127.0.0.1",
			Port:      cfg.Port,
			JetStream: true,
			StoreDir:  cfg.DataDir,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return nil, fmt.Errorf("creating embedded NATS server: %w", err)
		}

		ns.Start()

		if !ns.ReadyForConnections(10 * time.Second) {
			return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
		}

		bus.ns = ns
		bus.logger.Info().Int("port", cfg.Port).Msg("embedded NATS server started")
	}

	url := cfg.URL
	if cfg.Embedded {
		// Ask the server for its address: with port 0 or -1 the bound port
		// is only known after startup.
		url = bus.ns.ClientURL()
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			bus.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	bus.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	bus.js = js

	// Create or update the alerts stream. AddStream returns the existing
	// stream if config matches; if it exists with a different config after an
	// upgrade, we update it.
	alertsStreamCfg := &nats.StreamConfig{
		Name:      "LOGWARDEN_ALERTS",
		Subjects:  []string{"logwarden.alerts.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour * 30, // 30 days retention
		MaxBytes:  512 * 1024 * 1024,   // 512MB max
		Storage:   nats.FileStorage,
		Discard:   nats.DiscardOld,
	}
	if _, err := js.AddStream(alertsStreamCfg); err != nil {
		if _, updateErr := js.UpdateStream(alertsStreamCfg); updateErr != nil {
			return nil, fmt.Errorf("creating/updating alerts stream: %w (original: %v)", updateErr, err)
		}
	}

	bus.logger.Info().Str("url", url).Msg("connected to NATS JetStream")
	return bus, nil
}

// PublishAlert publishes an Alert to the alert stream, keyed by severity.
func (b *AlertBus) PublishAlert(alert *Alert) error {
	data, err := alert.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}

	subject := fmt.Sprintf("logwarden.alerts.%s", alert.Severity.String())
	if _, err := b.js.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing alert to %s: %w", subject, err)
	}

	b.logger.Debug().
		Str("alert_id", alert.ID).
		Str("subject", subject).
		Msg("alert published")

	return nil
}

// SubscribeToAlerts creates a durable subscription to all published alerts.
func (b *AlertBus) SubscribeToAlerts(durableName string, handler func(alert *Alert)) error {
	opts := []nats.SubOpt{nats.DeliverNew(), nats.AckExplicit()}
	if durableName != "" {
		opts = append(opts, nats.Durable(durableName))
	}
	sub, err := b.js.Subscribe("logwarden.alerts.>", func(msg *nats.Msg) {
		alert, err := UnmarshalAlert(msg.Data)
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to unmarshal alert")
			_ = msg.Nak()
			return
		}
		handler(alert)
		_ = msg.Ack()
	}, opts...)
	if err != nil {
		return fmt.Errorf("subscribing to alerts: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return nil
}

// Close shuts down the bus and the embedded server if one was started.
func (b *AlertBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if b.nc != nil {
		b.nc.Close()
	}

	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
		b.logger.Info().Msg("embedded NATS server stopped")
	}

	return nil
}

// IsConnected returns true if the NATS connection is active.
func (b *AlertBus) IsConnected() bool {
	return b.nc != nil && b.nc.IsConnected()
}
