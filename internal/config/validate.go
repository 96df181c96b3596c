package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/gobwas/glob"
	"github.com/robfig/cron/v3"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func (e ValidationErrors) Unwrap() error {
	return ErrInvalidConfig
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateMCP(&cfg.MCP)...)
	errs = append(errs, validateRecurrence(&cfg.Recurrence)...)
	errs = append(errs, validateMetrics(&cfg.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "required",
		})
	}

	if cfg.BusyTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.busy_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.MaxOpenConns < 0 || cfg.MaxIdleConns < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.max_open_conns",
			Message: "connection pool sizes must be non-negative",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}

func validateMCP(cfg *MCPConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "mcp.name",
			Message: "required",
		})
	}

	for _, pattern := range cfg.Tools {
		if _, err := glob.Compile(pattern); err != nil {
			errs = append(errs, ValidationError{
				Field:   "mcp.tools",
				Message: fmt.Sprintf("invalid pattern %q: %v", pattern, err),
			})
		}
	}

	if cfg.MaxMessageSize < 1024 {
		errs = append(errs, ValidationError{
			Field:   "mcp.max_message_size",
			Message: "must be at least 1024 bytes",
		})
	}

	return errs
}

func validateRecurrence(cfg *RecurrenceConfig) ValidationErrors {
	var errs ValidationErrors

	if _, err := cfg.Location(); err != nil {
		errs = append(errs, ValidationError{
			Field:   "recurrence.timezone",
			Message: err.Error(),
		})
	}

	if cfg.Reconcile.Enabled {
		if cfg.Reconcile.Schedule == "" {
			errs = append(errs, ValidationError{
				Field:   "recurrence.reconcile.schedule",
				Message: "required when reconciliation is enabled",
			})
		} else if _, err := cron.ParseStandard(cfg.Reconcile.Schedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "recurrence.reconcile.schedule",
				Message: fmt.Sprintf("invalid schedule: %v", err),
			})
		}
	}

	return errs
}

func validateMetrics(cfg *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		errs = append(errs, ValidationError{
			Field:   "metrics.address",
			Message: "must be a host:port address",
		})
	}

	return errs
}
