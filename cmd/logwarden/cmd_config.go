package main

// ---------------------------------------------------------------------------
// cmd_config.go — show, validate, or initialize configuration
// ---------------------------------------------------------------------------

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/logwarden-project/logwarden/internal/core"
)

func cmdConfig(args []string) {
	if len(args) > 0 && args[0] == "init" {
		cmdConfigInit(args[1:])
		return
	}

	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	validate := fs.Bool("validate", false, "Validate config and exit")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	output := fs.String("output", "", "Write output to file")
	fs.Parse(args)

	path := envConfig(*configPath)
	cfg, err := core.LoadConfig(path)
	if err != nil {
		if *validate {
			fmt.Fprintf(os.Stderr, "%s Config invalid: %v\n", red("✗"), err)
			os.Exit(1)
		}
		errorf("loading config: %v", err)
	}

	if *validate {
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "%s Config invalid (%s): %v\n", red("✗"), path, err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stdout, "%s Config valid (%s). Store backend: %s, poll interval: %s.\n",
			green("✓"), path, cfg.Store.Backend, cfg.Detector.PollInterval)
		os.Exit(0)
	}

	w, cleanup := outputWriter(*output)
	defer cleanup()

	if *jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			errorf("encoding config: %v", err)
		}
		return
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		errorf("encoding config: %v", err)
	}
	w.Write(data)
}

// cmdConfigInit writes a starter config file with defaults.
func cmdConfigInit(args []string) {
	fs := flag.NewFlagSet("config init", flag.ExitOnError)
	outPath := fs.String("output", defaultConfigPath, "Where to write the config file")
	force := fs.Bool("force", false, "Overwrite an existing file")
	fs.Parse(args)

	if _, err := os.Stat(*outPath); err == nil && !*force {
		errorf("%s already exists (use --force to overwrite)", *outPath)
	}

	if err := core.SaveConfig(core.DefaultConfig(), *outPath); err != nil {
		errorf("writing config: %v", err)
	}
	fmt.Fprintf(os.Stdout, "%s Wrote starter config to %s\n", green("✓"), *outPath)
}
