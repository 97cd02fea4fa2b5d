package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/randomizedcoder/go-room-agent-supervisor/internal/config"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/orchestrator"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/process"
)

var (
	startConfigPath string
	startSession    string
	startCreds      process.Credentials
	startFlags      = config.DefaultConfig()
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start one worker in the foreground",
	Long: `Start one session's worker in the foreground.

The outcome is printed as soon as the worker reports readiness or the ready
timeout elapses. The worker then runs until Ctrl+C, when it is stopped, or
until it exits on its own. Optional credentials (API key and secret, model
provider keys) are taken from the environment.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Resolve(startConfigPath, cmd.Flags(), bindStartCommandFlags)
		if err != nil {
			return err
		}
		config.ApplyForegroundMode(cfg)
		logger := newLogger(cfg)

		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		session := strings.TrimSpace(startSession)
		if session == "" {
			session = startCreds.RoomName
		}

		orch := orchestrator.New(cfg, logger, orchestrator.Options{Version: Version})
		return orch.RunForeground(cmd.Context(), session, startCreds)
	},
}

// bindStartCommandFlags registers the config flags of the start command.
func bindStartCommandFlags(fs *pflag.FlagSet, cfg *config.Config) {
	config.BindWorkerFlags(fs, cfg)
	config.BindStartFlags(fs, cfg)
	config.BindLogFlags(fs, cfg)
}

func init() {
	fs := startCmd.Flags()
	bindStartCommandFlags(fs, startFlags)
	fs.StringVar(&startConfigPath, "config", "", "YAML config file; flags override its values")
	fs.StringVar(&startSession, "session", "", "Session ID (default: the room name)")
	fs.StringVar(&startCreds.ServerURL, "url", "", "Room server URL")
	fs.StringVar(&startCreds.Token, "token", "", "Room access token")
	fs.StringVar(&startCreds.RoomName, "room", "", "Room name")
	startCmd.SetHelpFunc(categorizedHelp)
	rootCmd.AddCommand(startCmd)
}
