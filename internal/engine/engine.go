package engine

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/logwarden-project/logwarden/internal/alert"
	"github.com/logwarden-project/logwarden/internal/core"
	"github.com/logwarden-project/logwarden/internal/detect"
	"github.com/logwarden-project/logwarden/internal/model"
	"github.com/logwarden-project/logwarden/internal/store"
)

// Engine is the logwarden process: it owns the store connection, the model
// manager, the scoring loop, and the alert writer, and runs the scoring and
// retrain loops as tasks until a shutdown signal arrives.
type Engine struct {
	Config  *core.Config
	Store   store.Store
	Models  *model.Manager
	Loop    *detect.Loop
	Writer  *alert.Writer
	Bus     *core.AlertBus
	Hooks   *alert.Dispatcher
	Metrics *core.Metrics
	Logger  zerolog.Logger

	runner      *taskRunner
	metricsSrv  *http.Server
	metricsAddr string
	ctx         context.Context
	cancel      context.CancelFunc
}

// New creates an engine from config. No I/O happens here; connections are
// opened in Start.
func New(cfg *core.Config) (*Engine, error) {
	// Configure logger
	var logger zerolog.Logger
	if cfg.Logging.Format == "json" {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}

	switch cfg.LogLevel() {
	case "debug":
		logger = logger.Level(zerolog.DebugLevel)
	case "warn":
		logger = logger.Level(zerolog.WarnLevel)
	case "error":
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		Config:  cfg,
		Metrics: core.NewMetrics(),
		Logger:  logger.With().Str("component", "engine").Logger(),
		runner:  newTaskRunner(logger),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// OpenStore opens the configured store backend and ensures the schema exists.
func OpenStore(ctx context.Context, cfg core.StoreConfig, logger zerolog.Logger) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Backend {
	case "memory":
		st = store.NewMemory()
	default:
		st, err = store.OpenClickHouse(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return st, nil
}

// Start opens the store and bus, builds the detection pipeline, and launches
// the scoring and retrain tasks.
func (e *Engine) Start() error {
	e.Logger.Info().Msg("starting logwarden engine")

	st, err := OpenStore(e.ctx, e.Config.Store, e.Logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	e.Store = st

	if e.Config.Bus.Enabled {
		bus, err := core.NewAlertBus(&e.Config.Bus, e.Logger)
		if err != nil {
			return fmt.Errorf("starting alert bus: %w", err)
		}
		e.Bus = bus
	}

	wmPath := ""
	if e.Config.DataDir != "" {
		wmPath = filepath.Join(e.Config.DataDir, "watermark.json")
	}
	wm, err := detect.LoadWatermark(wmPath)
	if err != nil {
		return fmt.Errorf("loading watermark: %w", err)
	}

	// The manager trains only on events at or below the loop's watermark, so
	// a model never sees an event it will later be asked to score.
	e.Models = model.NewManager(e.Config.Training, e.Store, wm.Value, e.Metrics, e.Logger)
	e.Writer = alert.NewWriter(e.Store, e.Bus, e.Config.Alerts, e.Metrics, e.Logger)
	if e.Hooks = alert.NewDispatcher(e.Config.Alerts, e.Logger); e.Hooks != nil {
		e.Writer.AttachWebhooks(e.Hooks)
	}
	e.Loop = detect.NewLoop(e.Store, e.Models, e.Writer, wm, e.Config.Detector, e.Metrics, e.Logger)

	if e.Config.Metrics.Enabled {
		if err := e.serveMetrics(); err != nil {
			return fmt.Errorf("starting metrics endpoint: %w", err)
		}
	}

	e.runner.StartAll(e.ctx, []Task{
		{Name: "scoring_loop", Run: e.Loop.Run},
		{Name: "retrain_loop", Run: e.Models.Run},
	})

	e.Logger.Info().
		Str("backend", e.Config.Store.Backend).
		Dur("poll_interval", e.Config.Detector.PollInterval).
		Dur("retrain_cadence", e.Config.Training.Cadence).
		Msg("logwarden engine started")

	return nil
}

// Run starts the engine and blocks until a shutdown signal is received.
func (e *Engine) Run() error {
	if err := e.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		e.Logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-e.ctx.Done():
		e.Logger.Info().Msg("context cancelled")
	}

	return e.Shutdown()
}

// Shutdown cancels the tasks, waits for the scoring loop to finish its
// in-flight event, then closes the bus and store.
func (e *Engine) Shutdown() error {
	e.Logger.Info().Msg("shutting down logwarden engine")
	e.cancel()
	e.runner.Wait()

	if e.metricsSrv != nil {
		if err := e.metricsSrv.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing metrics endpoint")
		}
	}
	if e.Hooks != nil {
		e.Hooks.Close()
	}
	if e.Bus != nil {
		if err := e.Bus.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing alert bus")
		}
	}
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			e.Logger.Error().Err(err).Msg("error closing store")
		}
	}

	done := e.Logger.Info()
	if e.Loop != nil {
		done = done.Uint64("watermark", e.Loop.Watermark())
	}
	done.Msg("logwarden engine stopped")
	return nil
}

// serveMetrics exposes the engine's counters for Prometheus scraping.
func (e *Engine) serveMetrics() error {
	ln, err := net.Listen("tcp", e.Config.Metrics.Listen)
	if err != nil {
		return err
	}
	e.metricsAddr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.Metrics.Registry(), promhttp.HandlerOpts{}))
	e.metricsSrv = &http.Server{Handler: mux}

	go func() {
		if err := e.metricsSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			e.Logger.Error().Err(err).Msg("metrics endpoint stopped")
		}
	}()

	e.Logger.Info().Str("addr", e.metricsAddr).Msg("metrics endpoint listening")
	return nil
}

// MetricsAddr returns the bound metrics listen address, empty when the
// endpoint is disabled. With a ":0" listen config this is the resolved port.
func (e *Engine) MetricsAddr() string {
	return e.metricsAddr
}
