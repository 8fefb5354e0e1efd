package cli

import (
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/trackq/internal/config"
	"github.com/roach88/trackq/internal/tracker"
)

// loadConfig resolves the effective configuration: file (if --config),
// environment overrides, then --db. The result is validated.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		var vErr *config.ValidationError
		if errors.As(err, &vErr) {
			return config.Config{}, WrapExitError(ExitFailure, "invalid configuration", err)
		}
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.Database != "" {
		cfg.DatabasePath = opts.Database
	}
	return cfg, nil
}

// newLogger builds the process logger from the log section of cfg.
// --verbose forces debug level.
func newLogger(cfg config.Config, verbose bool, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Log.Level)
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openTracker loads config, lets the caller adjust it, and builds a tracker
// logging to the command's stderr.
func openTracker(opts *RootOptions, cmd *cobra.Command, adjust func(*config.Config), extra ...tracker.Option) (*tracker.Tracker, config.Config, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, config.Config{}, err
	}
	if adjust != nil {
		adjust(&cfg)
	}
	if cfg.ProjectID == "" {
		return nil, cfg, NewExitError(ExitCommandError, "project_id is required (config file or TRACKQ_PROJECT_ID)")
	}

	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())
	trOpts := append([]tracker.Option{tracker.WithLogger(logger)}, extra...)
	tr, err := tracker.New(cfg, trOpts...)
	if err != nil {
		return nil, cfg, WrapExitError(ExitCommandError, "failed to open tracker", err)
	}
	return tr, cfg, nil
}

// manualMode keeps short-lived commands from starting background flushes.
func manualMode(cfg *config.Config) {
	cfg.FlushMode = config.FlushManual
}
