package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-room-agent-supervisor/internal/config"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/orchestrator"
)

var (
	serveConfigPath string
	serveFlags      = config.DefaultConfig()
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API and supervise agent workers",
	Long: `Run the control API and supervise agent workers.

Endpoints:
  POST /api/start-agent   {roomUrl, roomToken, roomName[, sessionId]}
  POST /api/stop-agent    {sessionId} or {roomName}
  GET  /api/agents        registered workers
  GET  /api/agents/{id}   one worker, with a live probe

Configuration is read from defaults, then --config, then flags.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Resolve(serveConfigPath, cmd.Flags(), config.BindServeFlags)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		logger.Info("starting",
			"version", Version,
			"listen_addr", cfg.ListenAddr,
			"metrics_addr", cfg.MetricsAddr,
			"worker_home", cfg.WorkerHome,
			"worker_port", cfg.WorkerPort,
			"ready_timeout", cfg.ReadyTimeout.String(),
		)
		if !cfg.TUIEnabled {
			printBanner(cmd.OutOrStdout(), cfg)
		}

		orch := orchestrator.New(cfg, logger, orchestrator.Options{Version: Version})
		return orch.Run(cmd.Context())
	},
}

func init() {
	fs := serveCmd.Flags()
	config.BindServeFlags(fs, serveFlags)
	fs.StringVar(&serveConfigPath, "config", "", "YAML config file; flags override its values")
	serveCmd.SetHelpFunc(categorizedHelp)
	rootCmd.AddCommand(serveCmd)
}

// printBanner prints the startup banner.
func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                     room-agent-supervisor                         ║")
	fmt.Fprintln(w, "║          One agent worker per room, started on demand             ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  API:         http://%s/api\n", cfg.ListenAddr)
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(w, "  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Fprintf(w, "  Worker:      %s/%s %v\n", cfg.WorkerHome, cfg.EntryScript, cfg.WorkerArgs)
	if cfg.WorkerPort > 0 {
		fmt.Fprintf(w, "  Port:        %d (reclaimed before each start)\n", cfg.WorkerPort)
	}
	if cfg.SkipCleanup {
		fmt.Fprintln(w, "  Cleanup:     DISABLED")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Press Ctrl+C to stop.")
	fmt.Fprintln(w)
}
