package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zsprackett/claude-usage/internal/applog"
	"github.com/zsprackett/claude-usage/internal/config"
)

var (
	version    = "dev"
	configPath string
	dataDir    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "claude-usage",
	Short: "Track claude.ai plan usage and alert before you hit the limit",
	Long: `claude-usage fetches your claude.ai session and weekly usage, caches the
latest reading for status bars, and raises a desktop notification when a
window crosses 75% or 90%. It is meant to be run every few minutes by
launchd, systemd or cron.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	// the scheduler invokes the bare binary
	RunE: runOnce,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "dir", "", "Override the data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Mirror log output to stderr")
}

// exitError carries a specific process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	code := 1
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(code)
}

// app is what every subcommand starts from.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	close  func()
}

func setup(cmd *cobra.Command) *app {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load config: %v\n", err)
		cfg = config.Defaults()
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
		cfg.LogDir = filepath.Join(dataDir, "logs")
	}

	a := &app{cfg: cfg, close: func() {}}
	logger, logCloser, err := applog.Init(applog.InitConfig{
		LogDir:   cfg.LogDir,
		LogLevel: cfg.LogLevel,
		Stderr:   verbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not init log file: %v\n", err)
		logger = slog.Default()
	} else {
		a.close = func() { logCloser.Close() }
	}
	a.logger = applog.WithRun(logger, cmd.Name())
	return a
}
