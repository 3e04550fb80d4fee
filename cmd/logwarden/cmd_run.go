package main

// ---------------------------------------------------------------------------
// cmd_run.go — start the detection engine
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"

	"github.com/logwarden-project/logwarden/internal/core"
	"github.com/logwarden-project/logwarden/internal/engine"
)

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	storeFlag := fs.String("store", "", "Store backend override: clickhouse, memory")
	pollFlag := fs.Duration("poll-interval", 0, "Poll interval override")
	fs.Parse(args)

	cfg, err := core.LoadConfig(envConfig(*configPath))
	if err != nil {
		errorf("loading config: %v", err)
	}

	if *storeFlag != "" {
		cfg.Store.Backend = *storeFlag
	}
	if *pollFlag > 0 {
		cfg.Detector.PollInterval = *pollFlag
	}
	if err := cfg.Validate(); err != nil {
		errorf("invalid config: %v", err)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		errorf("initializing engine: %v", err)
	}

	if err := eng.Run(); err != nil {
		fmt.Fprintf(os.Stderr, red("error: ")+"engine exited: %v\n", err)
		os.Exit(1)
	}
}
