package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// These variables are set via ldflags during build:
//
//	go build -ldflags "-X main.Version=1.0.0" ./cmd/room-agent-supervisor
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "room-agent-supervisor %s\n", Version)
		if Commit != "" && Commit != "unknown" {
			fmt.Fprintf(w, "commit: %s\n", Commit)
		}
		if BuildDate != "" && BuildDate != "unknown" {
			fmt.Fprintf(w, "built at: %s\n", BuildDate)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
