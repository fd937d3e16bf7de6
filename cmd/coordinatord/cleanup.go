package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmesh/coordinator/internal/agentregistry"
)

var cleanupStalenessMinutes int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Dead-agent cleanup",
}

var cleanupRunOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Run one dead-agent cleanup pass and report the counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gw, closeGW, err := openGateway(cfg)
		if err != nil {
			return err
		}
		defer closeGW()

		reg := agentregistry.New(gw)
		agentsCleaned, locksReleased, err := reg.CleanupDeadAgents(cmd.Context(), time.Duration(cleanupStalenessMinutes)*time.Minute)
		if err != nil {
			return err
		}
		setResult(map[string]any{"agents_cleaned": agentsCleaned, "locks_released": locksReleased})
		return nil
	},
}

func init() {
	cleanupRunOnceCmd.Flags().IntVar(&cleanupStalenessMinutes, "staleness-minutes", 15, "sessions with no heartbeat in this many minutes are reclaimed")
	cleanupCmd.AddCommand(cleanupRunOnceCmd)
}
