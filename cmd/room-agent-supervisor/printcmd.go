package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-room-agent-supervisor/internal/config"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/process"
)

var (
	printConfigPath string
	printFlags      = config.DefaultConfig()
)

var printCmdCmd = &cobra.Command{
	Use:   "print-cmd",
	Short: "Print the worker command and environment",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Resolve(printConfigPath, cmd.Flags(), config.BindWorkerFlags)
		if err != nil {
			return err
		}
		if err := config.ValidateWorker(cfg); err != nil {
			return err
		}

		runner := process.NewAgentRunner(&process.AgentConfig{
			HomeDir:     cfg.WorkerHome,
			Interpreter: cfg.Interpreter,
			EntryScript: cfg.EntryScript,
			Args:        cfg.WorkerArgs,
		})

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, "# Worker command that would be run for each session:")
		fmt.Fprintln(w)
		fmt.Fprintf(w, "cd %s && %s\n", cfg.WorkerHome, runner.CommandString())
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# Environment set per session:")
		vars := process.Credentials{}.Vars(nil)
		names := make([]string, 0, len(vars))
		for name := range vars {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "%s=...\n", name)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "# Stray workers match: %q\n", runner.Signature())
		return nil
	},
}

func init() {
	fs := printCmdCmd.Flags()
	config.BindWorkerFlags(fs, printFlags)
	fs.StringVar(&printConfigPath, "config", "", "YAML config file; flags override its values")
	rootCmd.AddCommand(printCmdCmd)
}
