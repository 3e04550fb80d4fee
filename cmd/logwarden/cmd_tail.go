package main

// ---------------------------------------------------------------------------
// cmd_tail.go — follow alerts live from the bus of a running instance
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/logwarden-project/logwarden/internal/core"
)

func cmdTail(args []string) {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	jsonOut := fs.Bool("json", false, "Print alerts as raw JSON lines")
	durable := fs.String("durable", "", "Durable consumer name (resume across restarts)")
	fs.Parse(args)

	cfg, err := core.LoadConfig(envConfig(*configPath))
	if err != nil {
		errorf("loading config: %v", err)
	}
	if !cfg.Bus.Enabled {
		errorf("the alert bus is disabled; set bus.enabled to tail alerts")
	}

	// Connect as a client to the running engine's bus; never start our own
	// embedded server here, the engine owns it.
	busCfg := cfg.Bus
	if busCfg.Embedded {
		busCfg.Embedded = false
		busCfg.URL = fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)
	}

	bus, err := core.NewAlertBus(&busCfg, zerolog.Nop())
	if err != nil {
		errorf("connecting to alert bus: %v", err)
	}
	defer bus.Close()
	if !bus.IsConnected() {
		errorf("not connected to the alert bus at %s; is the engine running?", busCfg.URL)
	}

	err = bus.SubscribeToAlerts(*durable, func(a *core.Alert) {
		if *jsonOut {
			data, err := json.Marshal(a)
			if err != nil {
				return
			}
			fmt.Println(string(data))
			return
		}
		fmt.Println(tailLine(a))
	})
	if err != nil {
		errorf("subscribing to alerts: %v", err)
	}

	fmt.Fprintln(os.Stderr, dim("tailing alerts, ctrl-c to stop"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func tailLine(a *core.Alert) string {
	sev := a.Severity.String()
	switch a.Severity {
	case core.SeverityCritical, core.SeverityHigh:
		sev = red(sev)
	case core.SeverityMedium:
		sev = yellow(sev)
	default:
		sev = green(sev)
	}
	return fmt.Sprintf("%s  %-8s %s/%s score=%.4f v%d  %s",
		a.DetectedAt.Format(time.RFC3339), sev, a.Source, a.EventType,
		a.AnomalyScore, a.ModelVersion, dim(a.Reason))
}
