// Package config provides configuration management for room-agent-supervisor.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the supervisor.
type Config struct {
	// Servers
	ListenAddr  string `json:"listen_addr" yaml:"listen_addr"`
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`

	// Worker
	WorkerHome        string   `json:"worker_home" yaml:"worker_home"`
	Interpreter       string   `json:"interpreter" yaml:"interpreter"`
	EntryScript       string   `json:"entry_script" yaml:"entry_script"`
	WorkerArgs        []string `json:"worker_args" yaml:"worker_args"`
	WorkerPort        int      `json:"worker_port" yaml:"worker_port"`
	WorkerMetricsPort int      `json:"worker_metrics_port" yaml:"worker_metrics_port"` // 0 = disabled

	// Start policy
	ReadyTimeout      time.Duration `json:"ready_timeout" yaml:"ready_timeout"`
	SettleDelay       time.Duration `json:"settle_delay" yaml:"settle_delay"`
	KillWait          time.Duration `json:"kill_wait" yaml:"kill_wait"`
	ReadinessPatterns []string      `json:"readiness_patterns" yaml:"readiness_patterns"`

	// Cleanup
	StraySignature string `json:"stray_signature" yaml:"stray_signature"` // empty = derived from the entry script
	SkipCleanup    bool   `json:"skip_cleanup" yaml:"skip_cleanup"`

	// Observability
	Verbose   bool   `json:"verbose" yaml:"verbose"`
	LogFormat string `json:"log_format" yaml:"log_format"` // json, text
	LogLevel  string `json:"log_level" yaml:"log_level"`

	// Diagnostic modes
	SkipPreflight bool `json:"skip_preflight" yaml:"skip_preflight"`

	// Worker output
	StatsBufferSize int `json:"stats_buffer_size" yaml:"stats_buffer_size"`

	// Dashboard
	TUIEnabled bool `json:"tui_enabled" yaml:"tui_enabled"`

	// ShutdownTimeout bounds StopAll and server shutdown.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Servers
		ListenAddr:  "0.0.0.0:17090",
		MetricsAddr: "0.0.0.0:17091",

		// Worker
		WorkerHome:  "backend",
		Interpreter: "venv/bin/python",
		EntryScript: "agent.py",
		WorkerArgs:  []string{"start"},
		WorkerPort:  8081,

		// Start policy
		ReadyTimeout: 15 * time.Second,
		SettleDelay:  1500 * time.Millisecond,
		KillWait:     2 * time.Second,

		// Observability
		LogFormat: "json",
		LogLevel:  "info",

		StatsBufferSize: 1000,
		TUIEnabled:      false,
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the file
// keep their current value.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := decodeYAML(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
