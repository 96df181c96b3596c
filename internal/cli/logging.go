package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/watzon/cadence/internal/config"
)

// setupLogging configures the global zerolog logger. Logs never go to stdout, which
// carries the tool protocol. The returned func closes the log file, if any.
func setupLogging(cfg config.LoggingConfig, verbose bool) (func() error, error) {
	logger, closer, err := newLogger(cfg, verbose)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(logger.GetLevel())
	log.Logger = logger
	return closer, nil
}

// applyLogLevel changes the level of the global logger in place.
func applyLogLevel(cfg config.LoggingConfig, verbose bool) {
	level := logLevel(cfg, verbose)
	if level == zerolog.GlobalLevel() {
		return
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Logger.Level(level)
	log.Info().Str("level", level.String()).Msg("Log level changed")
}

func logLevel(cfg config.LoggingConfig, verbose bool) zerolog.Level {
	if verbose {
		return zerolog.DebugLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		return zerolog.InfoLevel
	}
	return level
}

func newLogger(cfg config.LoggingConfig, verbose bool) (zerolog.Logger, func() error, error) {
	level := logLevel(cfg, verbose)

	var out io.Writer = os.Stderr
	closer := func() error { return nil }
	if cfg.Output != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		closer = f.Close
	}

	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: cfg.Output != ""}
	}

	ctx := zerolog.New(out).Level(level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}

	return ctx.Logger(), closer, nil
}
