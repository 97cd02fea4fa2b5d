package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	// Listen address is required; metrics may be disabled with an empty address
	if err := validateAddr(cfg.ListenAddr); err != nil {
		errs = append(errs, ValidationError{Field: "listen_addr", Message: err.Error()})
	}
	if cfg.MetricsAddr != "" {
		if err := validateAddr(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{Field: "metrics_addr", Message: err.Error()})
		}
	}

	errs = append(errs, validateWorker(cfg)...)

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(cfg.LogLevel)] {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be one of: debug, info, warn, error (got %q)", cfg.LogLevel),
		})
	}

	if cfg.StatsBufferSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "stats_buffer_size",
			Message: "must be at least 1",
		})
	}

	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "shutdown_timeout",
			Message: "must be positive",
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ValidateWorker checks only the fields needed to launch a worker. Used by
// commands that do not start the servers.
func ValidateWorker(cfg *Config) error {
	return errors.Join(validateWorker(cfg)...)
}

func validateWorker(cfg *Config) []error {
	var errs []error

	if strings.TrimSpace(cfg.Interpreter) == "" {
		errs = append(errs, ValidationError{Field: "interpreter", Message: "must not be empty"})
	}
	if strings.TrimSpace(cfg.EntryScript) == "" {
		errs = append(errs, ValidationError{Field: "entry_script", Message: "must not be empty"})
	}

	if cfg.WorkerPort < 0 || cfg.WorkerPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "worker_port",
			Message: fmt.Sprintf("must be between 0 and 65535 (got %d)", cfg.WorkerPort),
		})
	}
	if cfg.WorkerMetricsPort < 0 || cfg.WorkerMetricsPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "worker_metrics_port",
			Message: fmt.Sprintf("must be between 0 and 65535 (got %d)", cfg.WorkerMetricsPort),
		})
	}

	// Timeouts must be positive
	if cfg.ReadyTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "ready_timeout", Message: "must be positive"})
	}
	if cfg.KillWait <= 0 {
		errs = append(errs, ValidationError{Field: "kill_wait", Message: "must be positive"})
	}
	if cfg.SettleDelay < 0 {
		errs = append(errs, ValidationError{Field: "settle_delay", Message: "must not be negative"})
	}

	for i, p := range cfg.ReadinessPatterns {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, ValidationError{
				Field:   "readiness_patterns",
				Message: fmt.Sprintf("pattern %d is empty", i),
			})
		}
	}

	return errs
}

// validateAddr checks a host:port listen address.
func validateAddr(addr string) error {
	if addr == "" {
		return errors.New("must not be empty")
	}
	if strings.Contains(addr, "://") {
		return errors.New("must be host:port, not a URL")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	return nil
}

// ApplyForegroundMode modifies config for the one-shot start command: no
// servers and no dashboard, with worker output echoed.
func ApplyForegroundMode(cfg *Config) {
	cfg.MetricsAddr = ""
	cfg.TUIEnabled = false
	cfg.Verbose = true
}
