// cmd/tapguardd/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/colebrumley/tapguard/internal/client"
	"github.com/colebrumley/tapguard/internal/config"
	"github.com/colebrumley/tapguard/internal/daemon"
	"github.com/colebrumley/tapguard/internal/mcp"
	"github.com/colebrumley/tapguard/internal/state"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "mcp-server" {
		runMCPServer()
		return
	}
	runDaemon()
}

// defaultConfigDir is the per-user tapguard directory.
func defaultConfigDir() string {
	return filepath.Dir(config.DefaultStatePath())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runMCPServer() {
	// history is read straight from the state database; attempts go through
	// the running daemon so they share its triggers
	var history *state.DB
	dbPath := envOr("TAPGUARD_STATE_DB", config.DefaultStatePath())
	if db, err := state.Open(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "attempt history unavailable: %v\n", err)
	} else {
		history = db
	}

	server := mcp.NewServer(client.New(os.Getenv("TAPGUARD_API")), history)
	defer server.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := server.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon() {
	configPath := envOr("TAPGUARD_CONFIG", filepath.Join(defaultConfigDir(), "config.yaml"))
	rulesDir := envOr("TAPGUARD_RULES_DIR", filepath.Join(defaultConfigDir(), "rules"))

	d := daemon.New(configPath, rulesDir)

	ctx, cancel := signalContext()
	defer cancel()

	if err := d.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "daemon error: %v\n", err)
		os.Exit(1)
	}
}
