// ABOUTME: Entry point for the gatedb operator CLI
// ABOUTME: Opens the configured store behind a gate and runs one command against it

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/gatedb/internal/config"
	"github.com/2389/gatedb/internal/gate"
	"github.com/2389/gatedb/internal/records"
)

// version is set at build time.
var version = "dev"

const banner = `
             _            _ _
  __ _  __ _| |_ ___   __| | |__
 / _' |/ _' | __/ _ \ / _' | '_ \
| (_| | (_| | ||  __/| (_| | |_) |
 \__, |\__,_|\__\___| \__,_|_.__/
 |___/
`

// getConfigPath returns the path to the config file.
// Priority: GATEDB_CONFIG env var > XDG_CONFIG_HOME/gatedb/config.yaml > ~/.config/gatedb/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("GATEDB_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "gatedb", "config.yaml")
}

// loadConfig reads the config file, falling back to defaults when the
// default location does not exist. An explicit GATEDB_CONFIG must exist.
func loadConfig() (*config.Config, error) {
	path := getConfigPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && os.Getenv("GATEDB_CONFIG") == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "help", "-h", "--help":
		printUsage()
		return
	case "version":
		fmt.Println(version)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		color.Red("Error: loading config: %v\n", err)
		os.Exit(1)
	}
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	switch cmd {
	case "put":
		err = cmdPut(ctx, cfg, logger, args)
	case "get":
		err = cmdGet(ctx, cfg, logger, args)
	case "count":
		err = cmdCount(ctx, cfg, logger, args)
	case "delete":
		err = cmdDelete(ctx, cfg, logger, args)
	case "bench":
		err = cmdBench(ctx, cfg, logger, args)
	case "destroy":
		err = cmdDestroy(ctx, cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)
	fmt.Println("Usage: gatedb <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  put <kind> [id] <json>   Store a JSON document (random id when omitted)")
	fmt.Println("  get <kind> <id>          Print a stored document")
	fmt.Println("  count <kind>             Count documents of a kind")
	fmt.Println("  delete <kind> <id>       Delete a document")
	fmt.Println("  bench [flags]            Run concurrent reads and writes, print metrics")
	fmt.Println("      -readers N           Reader goroutines (default 8)")
	fmt.Println("      -writers N           Writer goroutines (default 2)")
	fmt.Println("      -ops N               Operations per goroutine (default 100)")
	fmt.Println("  destroy                  Delete the store and its files")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  GATEDB_CONFIG            Config file (default: ~/.config/gatedb/config.yaml)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  gatedb put wallet '{\"name\":\"wallet 1\",\"balance\":100}'")
	fmt.Println("  gatedb get wallet 3f1c...")
	fmt.Println("  gatedb bench -readers 16 -writers 4")
	fmt.Println()
}

// openGate opens the configured store with the records schema.
func openGate(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *gate.Metrics) (*gate.Gate, error) {
	schema, err := records.Schema()
	if err != nil {
		return nil, fmt.Errorf("loading records schema: %w", err)
	}

	if metrics == nil && cfg.Metrics.Enabled {
		metrics = gate.NewMetrics(prometheus.DefaultRegisterer)
	}

	storageOpts := cfg.StorageOptions()
	storageOpts.Logger = logger

	g, err := gate.Open(ctx, cfg.StorageMode(), schema, cfg.Database.Name, gate.Options{
		Logger:  logger,
		Metrics: metrics,
		Storage: storageOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", cfg.Database.Name, err)
	}
	return g, nil
}
