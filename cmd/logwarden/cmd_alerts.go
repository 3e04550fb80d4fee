package main

// ---------------------------------------------------------------------------
// cmd_alerts.go — list recent alerts straight from the alert store
// ---------------------------------------------------------------------------

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/logwarden-project/logwarden/internal/core"
	"github.com/logwarden-project/logwarden/internal/engine"
)

func cmdAlerts(args []string) {
	fs := flag.NewFlagSet("alerts", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	severity := fs.String("severity", "", "Minimum severity: LOW, MEDIUM, HIGH, CRITICAL")
	source := fs.String("source", "", "Filter by event source")
	limit := fs.Int("limit", 20, "Maximum alerts to fetch")
	format := fs.String("format", "table", "Output format: table, json, csv")
	jsonOut := fs.Bool("json", false, "Output raw JSON (shorthand for --format json)")
	output := fs.String("output", "", "Write output to file")
	timeoutStr := fs.String("timeout", "10s", "Store query timeout")
	fs.Parse(args)

	if *jsonOut {
		*format = "json"
	}
	outFmt := parseFormat(*format)

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		errorf("invalid timeout %q: %v", *timeoutStr, err)
	}

	cfg, err := core.LoadConfig(envConfig(*configPath))
	if err != nil {
		errorf("loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	st, err := engine.OpenStore(ctx, cfg.Store, zerolog.Nop())
	if err != nil {
		errorf("%v", err)
	}
	defer st.Close()

	alerts, err := st.ListAlerts(ctx, *limit)
	if err != nil {
		errorf("listing alerts: %v", err)
	}

	minSev := core.SeverityLow
	if *severity != "" {
		minSev = core.ParseSeverity(strings.ToUpper(*severity))
	}
	filtered := alerts[:0]
	for _, a := range alerts {
		if a.Severity < minSev {
			continue
		}
		if *source != "" && !strings.EqualFold(a.Source, *source) {
			continue
		}
		filtered = append(filtered, a)
	}
	alerts = filtered

	w, cleanup := outputWriter(*output)
	defer cleanup()

	switch outFmt {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(alerts); err != nil {
			errorf("encoding alerts: %v", err)
		}
	case FormatCSV:
		rows := make([][]string, 0, len(alerts))
		for _, a := range alerts {
			rows = append(rows, alertRow(&a))
		}
		writeCSV(w, alertHeaders, rows)
	default:
		if len(alerts) == 0 {
			fmt.Fprintln(w, dim("no alerts"))
			return
		}
		t := NewTable(w, alertHeaders...)
		for _, a := range alerts {
			t.AddRow(alertRow(&a)...)
		}
		t.Render()
	}
}

var alertHeaders = []string{"DETECTED", "SEVERITY", "SOURCE", "TYPE", "SCORE", "MODEL", "REASON"}

func alertRow(a *core.Alert) []string {
	return []string{
		a.DetectedAt.Format(time.RFC3339),
		a.Severity.String(),
		a.Source,
		a.EventType,
		fmt.Sprintf("%.4f", a.AnomalyScore),
		fmt.Sprintf("v%d", a.ModelVersion),
		a.Reason,
	}
}
