// Command logshipper is the agent binary: it loads configuration, wires
// every pipeline component via internal/supervisor, and runs until an
// interrupt or terminate signal is observed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sysflow-telemetry/logshipper/internal/config"
	"github.com/sysflow-telemetry/logshipper/internal/logging"
	"github.com/sysflow-telemetry/logshipper/internal/supervisor"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 on graceful shutdown, non-zero on
// any unrecoverable startup failure, per spec's CLI surface contract.
func run() int {
	configPath := flag.String("config", defaultConfigPath(), "path to the agent's YAML configuration file")
	verbose := flag.Bool("verbose", false, "enable human-readable development logging")
	flag.Parse()

	if *verbose {
		logging.SetLogger(logging.NewDevelopment())
	}
	defer logging.L.Sync() //nolint:errcheck // best-effort flush on exit

	cfg, err := loadOrBootstrapConfig(*configPath)
	if err != nil {
		logging.L.Errorw("startup failed", "error", err)
		return 1
	}
	if cfg == nil {
		// Bootstrap wrote a fresh config from environment variables; the
		// operator still needs to add `sources` before the agent has
		// anything to tail. Exiting 0 here is not a failure: it's the
		// documented first-run handoff, not a crash.
		logging.L.Infow("wrote initial configuration, add `sources` and restart", "path", *configPath)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(cfg)
	if err := sup.Run(ctx); err != nil {
		logging.L.Errorw("supervisor exited with error", "error", err)
		return 1
	}
	return 0
}

// loadOrBootstrapConfig loads the YAML config at path. If the file is
// absent, it falls back to SERVER_ADDR/PROJECT_KEY environment variables
// (spec §6, "used only on first run before config is materialized"),
// writes a bootstrap config carrying them plus defaults, and returns a nil
// Config to signal the caller that this run only materialized the file
// and did not start the pipeline.
func loadOrBootstrapConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	switch {
	case err == nil:
		return cfg, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, bootstrapFromEnv(path)
	default:
		return nil, err
	}
}

func bootstrapFromEnv(path string) error {
	serverAddr := os.Getenv("SERVER_ADDR")
	projectKey := os.Getenv("PROJECT_KEY")
	if serverAddr == "" || projectKey == "" {
		return fmt.Errorf("no config at %s and SERVER_ADDR/PROJECT_KEY not set", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return config.WriteBootstrap(path, serverAddr, projectKey)
}

func defaultConfigPath() string {
	if p := os.Getenv("LOGSHIPPER_CONFIG"); p != "" {
		return p
	}
	return "/etc/logshipper/config.yaml"
}
