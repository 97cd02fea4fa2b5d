package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// FlagCategory groups related flags for help output.
type FlagCategory struct {
	Title string
	Names []string
}

// Categories lists the serve flags in help order.
var Categories = []FlagCategory{
	{"Servers", []string{"listen", "metrics"}},
	{"Worker", []string{"worker-home", "interpreter", "entry-script", "worker-arg", "worker-port", "worker-metrics-port"}},
	{"Start Policy", []string{"ready-timeout", "settle-delay", "kill-wait", "ready-pattern"}},
	{"Cleanup", []string{"stray-signature", "skip-cleanup"}},
	{"Observability", []string{"verbose", "log-format", "log-level", "stats-buffer"}},
	{"Safety & Diagnostics", []string{"skip-preflight", "shutdown-timeout"}},
	{"Dashboard", []string{"tui"}},
}

// BindWorkerFlags registers the flags that describe how a worker is launched.
// Shared by every command that spawns or prints a worker.
func BindWorkerFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.WorkerHome, "worker-home", cfg.WorkerHome, "Worker working directory (interpreter and script resolve against it)")
	fs.StringVar(&cfg.Interpreter, "interpreter", cfg.Interpreter, "Worker interpreter, relative to --worker-home or a bare name looked up in PATH")
	fs.StringVar(&cfg.EntryScript, "entry-script", cfg.EntryScript, "Worker entry script, relative to --worker-home")
	fs.StringSliceVar(&cfg.WorkerArgs, "worker-arg", cfg.WorkerArgs, "Arguments after the entry script (can repeat)")
	fs.IntVar(&cfg.WorkerPort, "worker-port", cfg.WorkerPort, "Well-known port the worker binds; reclaimed before each start (0 = never)")
}

// BindStartFlags registers the start policy and cleanup flags.
func BindStartFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.DurationVar(&cfg.ReadyTimeout, "ready-timeout", cfg.ReadyTimeout, "How long to wait for a readiness line before reporting the worker as still connecting")
	fs.DurationVar(&cfg.SettleDelay, "settle-delay", cfg.SettleDelay, "Pause after cleanup so the OS releases the worker port")
	fs.DurationVar(&cfg.KillWait, "kill-wait", cfg.KillWait, "How long to wait for a killed worker to be reaped")
	fs.StringArrayVar(&cfg.ReadinessPatterns, "ready-pattern", cfg.ReadinessPatterns, "Stdout substring that means the worker is serving (can repeat; default: built-in set)")
	fs.StringVar(&cfg.StraySignature, "stray-signature", cfg.StraySignature, "Command-line substring identifying stray workers (default: entry script and args)")
	fs.BoolVar(&cfg.SkipCleanup, "skip-cleanup", cfg.SkipCleanup, "Do not reclaim the worker port or terminate stray workers")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
}

// BindLogFlags registers the logging flags.
func BindLogFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose logging (log every worker output line)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn" or "error"`)
	fs.IntVar(&cfg.StatsBufferSize, "stats-buffer", cfg.StatsBufferSize, "Worker output lines to buffer per stream (increase if seeing drops)")
}

// BindServeFlags registers every flag of the serve command.
func BindServeFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Control API address")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.IntVar(&cfg.WorkerMetricsPort, "worker-metrics-port", cfg.WorkerMetricsPort, "Worker Prometheus port probed by the agents API (0 = disabled)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Upper bound for stopping workers and servers on exit")
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")

	BindWorkerFlags(fs, cfg)
	BindStartFlags(fs, cfg)
	BindLogFlags(fs, cfg)
}

// PrintUsage writes the flags of fs grouped by category.
func PrintUsage(w io.Writer, fs *pflag.FlagSet) {
	for i, c := range Categories {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s:\n", c.Title)
		printFlagCategory(w, fs, c.Names)
	}
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(w io.Writer, fs *pflag.FlagSet, names []string) {
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil || f.Hidden {
			continue
		}
		fmt.Fprintf(w, "  --%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" && f.DefValue != "[]" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *pflag.Flag) string {
	switch t := f.Value.Type(); {
	case t == "bool":
		return ""
	case strings.HasSuffix(t, "Slice"), strings.HasSuffix(t, "Array"):
		return "strings"
	default:
		return t
	}
}

// Resolve builds the effective configuration: defaults, then the YAML file at
// path (if any), then every flag the user set on parsed. bind must be the
// function that registered parsed's config flags.
func Resolve(path string, parsed *pflag.FlagSet, bind func(*pflag.FlagSet, *Config)) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// Rebinding onto cfg makes the file values the defaults; replaying the
	// changed flags then overrides them.
	overlay := pflag.NewFlagSet("overlay", pflag.ContinueOnError)
	bind(overlay, cfg)

	var errs []error
	parsed.Visit(func(f *pflag.Flag) {
		target := overlay.Lookup(f.Name)
		if target == nil {
			return
		}
		if src, ok := f.Value.(pflag.SliceValue); ok {
			if dst, ok := target.Value.(pflag.SliceValue); ok {
				if err := dst.Replace(src.GetSlice()); err != nil {
					errs = append(errs, fmt.Errorf("--%s: %w", f.Name, err))
				}
				return
			}
		}
		if err := target.Value.Set(f.Value.String()); err != nil {
			errs = append(errs, fmt.Errorf("--%s: %w", f.Name, err))
		}
	})
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}
