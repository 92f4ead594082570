package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MLeprich/stabsstelle-pi-deploy/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagConfigDir  string
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg and resolvedCfgPath hold the effective configuration loaded
// by PersistentPreRunE. Available to all subcommands after the root
// pre-run phase completes.
var (
	resolvedCfg     *config.Config
	resolvedCfgPath string
)

// errReported signals main() to exit 1 after a command already printed
// its own ERROR line, without adding a second error message.
var errReported = errors.New("reported")

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "stabsstelle-sync",
		Short:   "Stabsstelle Pi Sync Service",
		Long:    "Sync-Agent für Stabsstelle-Appliances: Lizenzvalidierung, Geräteregistrierung und Datenabgleich mit dem zentralen Server.",
		Version: version,
		// Silence Cobra's default error/usage printing; main() handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Pfad zur Konfigurationsdatei")
	cmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "Konfigurations-Verzeichnis")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug-Logging aktivieren")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "nur Fehler ausgeben")

	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newRegisterCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newInitialCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newHeartbeatCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain and stores the result for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		ConfigDir:  flagConfigDir,
	}

	// Only pass --interval to the resolver if the user explicitly set it.
	if f := cmd.Flags().Lookup("interval"); f != nil && f.Changed {
		if v, err := cmd.Flags().GetInt("interval"); err == nil {
			cli.Interval = &v
		}
	}

	cfg, path, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg
	resolvedCfgPath = path

	return nil
}

// configDir returns the directory holding license.json and device.json.
func configDir() string {
	if flagConfigDir != "" {
		return flagConfigDir
	}

	return config.DefaultConfigDir()
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. Logs go to stderr and,
// when the configured log file is writable, to that file as well.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(logWriter(), &slog.HandlerOptions{Level: level}))
}

// logWriter returns stderr plus the configured log file. A log file that
// cannot be opened degrades to stderr-only; logging must never stop the
// agent.
func logWriter() io.Writer {
	if resolvedCfg == nil || resolvedCfg.LogFile == "" {
		return os.Stderr
	}

	f, err := os.OpenFile(resolvedCfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNUNG: Log-Datei %s nicht beschreibbar: %v\n", resolvedCfg.LogFile, err)

		return os.Stderr
	}

	return io.MultiWriter(os.Stderr, f)
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
