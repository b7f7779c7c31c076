// ABOUTME: Entry point for the sdrhub radio driver runtime.
// ABOUTME: Wires config, logging, registries, module loader, device factory and store behind CLI commands.

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/sdrhub/internal/config"
	"github.com/2389/sdrhub/internal/logging"
	_ "github.com/2389/sdrhub/plugins/loopback" // Register loopback driver
	_ "github.com/2389/sdrhub/plugins/null"     // Register null driver
)

// app holds the flag values shared by every command.
type app struct {
	configPath string
	root       string
	pluginPath []string
	ttl        time.Duration
	dbPath     string
	history    bool
	logOpts    logging.Options

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{logOpts: config.Default().Log}

	rootCmd := &cobra.Command{
		Use:   "sdrhub",
		Short: "sdrhub - radio driver runtime and diagnostics",
		Long: `sdrhub discovers radio hardware through pluggable drivers.

Drivers are compiled in or loaded from module files found under the install
root and SDRHUB_PLUGIN_PATH. Devices are enumerated with key=value arguments
such as "driver=loopback, serial=LB0000".

Quick Start:
  sdrhub info                    # versions, modules, drivers and converters
  sdrhub find                    # list every attached device
  sdrhub make driver=loopback    # open a device and print its capabilities
  sdrhub serve                   # diagnostics HTTP API`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ./"+config.DefaultFile+" if present)")
	flags.StringVar(&a.root, "root", "", "install root holding lib/sdrhub/modules*")
	flags.StringSliceVar(&a.pluginPath, "plugin-path", nil, "extra module directories")
	flags.DurationVar(&a.ttl, "ttl", 0, "enumeration cache lifetime")
	flags.StringVarP(&a.dbPath, "db", "d", "", "history database path")
	flags.BoolVar(&a.history, "history", false, "record probes and module events in the history database")
	logging.RegisterFlags(flags, &a.logOpts)

	rootCmd.AddCommand(
		newInfoCmd(a),
		newFindCmd(a),
		newMakeCmd(a),
		newCheckCmd(a),
		newServeCmd(a),
		newProbesCmd(a),
	)
	return rootCmd
}

// setup layers explicitly set flags over the loaded config and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, config.DefaultEnvFiles()...)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Root = a.root
	}
	if flags.Changed("plugin-path") {
		cfg.PluginPath = a.pluginPath
	}
	if flags.Changed("ttl") {
		cfg.CacheTTL = a.ttl
	}
	if flags.Changed("db") {
		cfg.DBPath = a.dbPath
	}
	if flags.Changed("loglevel") {
		cfg.Log.Level = a.logOpts.Level
	}
	if flags.Changed("logformat") {
		cfg.Log.Format = a.logOpts.Format
	}
	if flags.Changed("logfile") {
		cfg.Log.File = a.logOpts.File
	}

	logger, closer, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.cfg, a.logger, a.logCloser = cfg, logger, closer
	return nil
}

// validateAndCleanDBPath validates and cleans a database path.
// Handles Unix/Linux, macOS, and Windows paths (including UNC and drive letters).
func validateAndCleanDBPath(path string) (string, error) {
	cleanPath := strings.TrimSpace(path)
	cleanPath = filepath.Clean(cleanPath)

	// Reject empty and root-like paths
	if cleanPath == "" || cleanPath == "." || cleanPath == "/" {
		return "", fmt.Errorf("database path cannot be empty, '.', or '/'")
	}

	// Windows: reject bare drive letters (e.g., "C:", "D:")
	if runtime.GOOS == "windows" && len(cleanPath) == 2 && cleanPath[1] == ':' {
		return "", fmt.Errorf("database path cannot be a bare drive letter")
	}

	if strings.Contains(cleanPath, "..") {
		return "", fmt.Errorf("database path cannot contain '..'")
	}

	badPatterns := []string{".git", ".svn", "node_modules", ".env", "credentials", "secret"}
	lowerPath := strings.ToLower(cleanPath)
	for _, pattern := range badPatterns {
		if strings.Contains(lowerPath, pattern) {
			return "", fmt.Errorf("database path cannot contain '%s' directory", pattern)
		}
	}

	return cleanPath, nil
}
