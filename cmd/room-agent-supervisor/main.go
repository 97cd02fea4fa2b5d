// Package main provides the room-agent-supervisor CLI entry point.
//
// room-agent-supervisor starts, monitors and stops one agent worker process
// per room session, behind a small HTTP control API.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/randomizedcoder/go-room-agent-supervisor/internal/config"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "room-agent-supervisor",
	Short: "Supervise one agent worker per room session",
	Long: `room-agent-supervisor runs agent workers on demand.

Each start request kills any previous worker for the session, reclaims the
worker port, terminates stray workers, spawns a fresh worker and waits for it
to report that it joined the room. A worker that stays quiet past the ready
timeout is reported as still connecting rather than failed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger. The dashboard owns the terminal, so
// logs are discarded while it runs.
func newLogger(cfg *config.Config) *slog.Logger {
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", cfg.LogLevel)
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)
	return logger
}

// categorizedHelp prints flags grouped the way config.Categories orders them,
// followed by any flag the categories do not cover.
func categorizedHelp(cmd *cobra.Command, _ []string) {
	w := cmd.OutOrStdout()
	if cmd.Long != "" {
		fmt.Fprintf(w, "%s\n\n", cmd.Long)
	}
	fmt.Fprintf(w, "Usage:\n  %s [flags]\n\n", cmd.CommandPath())
	config.PrintUsage(w, cmd.Flags())

	listed := make(map[string]bool)
	for _, c := range config.Categories {
		for _, name := range c.Names {
			listed[name] = true
		}
	}
	var other []*pflag.Flag
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !listed[f.Name] && !f.Hidden {
			other = append(other, f)
		}
	})
	if len(other) == 0 {
		return
	}
	fmt.Fprintln(w, "\nOther:")
	for _, f := range other {
		fmt.Fprintf(w, "  --%s\n    \t%s\n", f.Name, f.Usage)
	}
}
