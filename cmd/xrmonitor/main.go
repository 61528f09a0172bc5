// XR Monitor Core - personal monitor mixing for the Behringer XR18.
//
// This is the main entry point. It bridges the mixer's OSC interface to a
// REST and WebSocket API so each musician can set their own monitor mix
// from a phone, and optionally relays every change to MQTT and InfluxDB.
//
//	xrmonitor                   # same as "xrmonitor serve"
//	xrmonitor migrate status
//	xrmonitor version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/xrmonitor-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar overrides the default config path when --config is not set.
const configEnvVar = "XRMONITOR_CONFIG"

func main() {
	// Cancel on Ctrl+C or SIGTERM so every component shuts down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel already called
	}
}

// getConfigPath resolves the config file: the flag wins, then
// XRMONITOR_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}
