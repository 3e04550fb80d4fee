package main

// ---------------------------------------------------------------------------
// banner.go — version/usage printing
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	goruntime "runtime"
	"runtime/debug"
)

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "logwarden v%s", version)
	if commit != "dev" {
		fmt.Fprintf(w, " (%s)", commit[:min(7, len(commit))])
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, " built %s", buildDate)
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, " %s", bi.GoVersion)
	}
	fmt.Fprintf(w, " %s/%s", goruntime.GOOS, goruntime.GOARCH)
	fmt.Fprintln(w)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "\n  %s %s\n\n", bold("logwarden"), dim("v"+version))
	fmt.Fprintf(w, "  Anomaly detection over append-only security event logs.\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("USAGE"))
	fmt.Fprintf(w, "  logwarden <command> [flags]\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("COMMANDS"))
	fmt.Fprintf(w, "  %-10s  %s\n", bold("run"), "Start the detection engine (poll, score, alert, retrain)")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("alerts"), "List recent alerts from the alert store")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("tail"), "Follow alerts live from a running instance's bus")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("config"), "Show, validate, or initialize configuration")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("check"), "Run pre-flight diagnostics (config, store, data dir)")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("version"), "Print version and build info")
	fmt.Fprintf(w, "  %-10s  %s\n", bold("help"), "Show this help")
	fmt.Fprintf(w, "\n%s\n\n", bold("GLOBAL FLAGS"))
	fmt.Fprintf(w, "  %-22s  %s\n", "--config <path>", "Config file path (default: configs/default.yaml, env: LOGWARDEN_CONFIG)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--version, -V", "Print version and exit")
	fmt.Fprintf(w, "  %-22s  %s\n", "--help, -h", "Show help")
	fmt.Fprintf(w, "\n%s\n\n", bold("EXAMPLES"))
	fmt.Fprintf(w, "  %s\n", dim("# Start with defaults"))
	fmt.Fprintf(w, "  logwarden run\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Start against a specific ClickHouse instance"))
	fmt.Fprintf(w, "  logwarden run --config configs/prod.yaml\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Show the 20 most recent alerts as JSON"))
	fmt.Fprintf(w, "  logwarden alerts --limit 20 --json\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Validate configuration before deploying"))
	fmt.Fprintf(w, "  logwarden config --validate\n\n")
}
