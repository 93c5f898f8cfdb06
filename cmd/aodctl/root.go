// Package main provides the control CLI for aodd.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/aodd/internal/config"
	"github.com/jmylchreest/aodd/internal/dbus"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

var (
	cfg        *config.Config
	globalOpts struct {
		verbose    bool
		configPath string
		bus        string
	}
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "aodctl",
	Short: "Control the aodd Always-On-Display daemon",
	Long: `aodctl talks to a running aodd over D-Bus.

It shows which displays are in Always-On-Display, toggles AOD by hand,
reads the transition journal and can inject sensor events into the
daemon's event stream for testing.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()

		path := globalOpts.configPath
		if path == "" {
			path = config.ConfigPath()
		}

		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&globalOpts.verbose, "verbose", "v", false,
		"Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&globalOpts.configPath, "config", "",
		"Path to config file (default: ~/.config/aodd/aodd.toml)")
	rootCmd.PersistentFlags().StringVar(&globalOpts.bus, "bus", "",
		"D-Bus bus to use (system, session; default from config)")
}

func main() {
	Execute()
}

// setupLogger configures the global slog logger.
func setupLogger() {
	level := slog.LevelWarn
	if globalOpts.verbose {
		level = slog.LevelDebug
	}

	// Log to stderr so stdout is clean for output
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// busName returns the bus selected by flag or config.
func busName() string {
	if globalOpts.bus != "" {
		return globalOpts.bus
	}
	if cfg != nil && cfg.DBus.Bus != "" {
		return cfg.DBus.Bus
	}
	return config.BusSystem
}

// newClient connects to the daemon.
func newClient() (*dbus.Client, error) {
	bus := busName()
	if bus != config.BusSystem && bus != config.BusSession {
		return nil, fmt.Errorf("unknown bus %q", bus)
	}
	client, err := dbus.NewClient(bus)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to aodd on the %s bus: %w", bus, err)
	}
	return client, nil
}
