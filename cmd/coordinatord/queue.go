package main

import (
	"github.com/spf13/cobra"

	"github.com/agentmesh/coordinator/internal/guardrails"
	"github.com/agentmesh/coordinator/internal/policy/native"
	"github.com/agentmesh/coordinator/internal/queue"
)

var queuePendingTypes []string
var queuePendingLimit int

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the work queue",
}

var queuePendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending tasks, lowest priority number first",
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

		trust := native.NewTrustStore(gw, cfg.Profiles.DefaultTrustLevel)
		svc := queue.New(gw, guardrails.New(gw), trust)
		tasks, err := svc.GetPending(cmd.Context(), queuePendingTypes, queuePendingLimit)
		if err != nil {
			return err
		}
		setResult(map[string]any{"tasks": tasks, "count": len(tasks)})
		return nil
	},
}

func init() {
	queuePendingCmd.Flags().StringSliceVar(&queuePendingTypes, "type", nil, "restrict to these task types")
	queuePendingCmd.Flags().IntVar(&queuePendingLimit, "priority-window", 100, "maximum rows to return, capped at 100")
	queueCmd.AddCommand(queuePendingCmd)
}
