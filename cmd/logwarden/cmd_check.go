package main

// ---------------------------------------------------------------------------
// cmd_check.go — pre-flight diagnostics
// ---------------------------------------------------------------------------

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/logwarden-project/logwarden/internal/core"
	"github.com/logwarden-project/logwarden/internal/engine"
)

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	jsonOut := fs.Bool("json", false, "Output results as JSON")
	fs.Parse(args)

	type checkResult struct {
		Name   string `json:"name"`
		Status string `json:"status"`
		Detail string `json:"detail,omitempty"`
	}

	results := make([]checkResult, 0)
	pass := func(name, detail string) { results = append(results, checkResult{name, "pass", detail}) }
	fail := func(name, detail string) { results = append(results, checkResult{name, "fail", detail}) }
	warn := func(name, detail string) { results = append(results, checkResult{name, "warn", detail}) }

	path := envConfig(*configPath)
	cfg, err := core.LoadConfig(path)
	if err != nil {
		fail("config", fmt.Sprintf("failed to load %s: %v", path, err))
	} else if verr := cfg.Validate(); verr != nil {
		fail("config", fmt.Sprintf("%s is invalid: %v", path, verr))
	} else {
		pass("config", fmt.Sprintf("loaded %s", path))
	}

	if cfg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		st, err := engine.OpenStore(ctx, cfg.Store, zerolog.Nop())
		if err != nil {
			fail("store", fmt.Sprintf("%s backend unreachable: %v", cfg.Store.Backend, err))
		} else {
			st.Close()
			pass("store", fmt.Sprintf("%s backend reachable, schema ensured", cfg.Store.Backend))
		}
		cancel()

		if cfg.DataDir == "" {
			warn("data_dir", "no data dir configured — watermark will not survive restarts")
		} else if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			fail("data_dir", fmt.Sprintf("cannot create %s: %v", cfg.DataDir, err))
		} else {
			testFile := filepath.Join(cfg.DataDir, ".logwarden-check")
			if err := os.WriteFile(testFile, []byte("ok"), 0644); err != nil {
				fail("data_dir", fmt.Sprintf("cannot write to %s: %v", cfg.DataDir, err))
			} else {
				os.Remove(testFile)
				pass("data_dir", fmt.Sprintf("%s is writable", cfg.DataDir))
			}
		}

		if cfg.Bus.Enabled && cfg.Bus.Embedded {
			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Bus.Port))
			if err != nil {
				fail("nats_port", fmt.Sprintf("port %d is already in use", cfg.Bus.Port))
			} else {
				ln.Close()
				pass("nats_port", fmt.Sprintf("port %d is available", cfg.Bus.Port))
			}
		} else if cfg.Bus.Enabled {
			pass("nats_port", "external NATS — skipped port check")
		}
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(results)
	} else {
		failed := 0
		for _, r := range results {
			switch r.Status {
			case "pass":
				fmt.Printf("%s %-10s %s\n", green("✓"), r.Name, dim(r.Detail))
			case "warn":
				fmt.Printf("%s %-10s %s\n", yellow("!"), r.Name, r.Detail)
			default:
				failed++
				fmt.Printf("%s %-10s %s\n", red("✗"), r.Name, r.Detail)
			}
		}
		if failed > 0 {
			fmt.Printf("\n%d check(s) failed\n", failed)
		}
	}

	for _, r := range results {
		if r.Status == "fail" {
			os.Exit(1)
		}
	}
}
