package main

import (
	"github.com/spf13/cobra"

	"github.com/agentmesh/coordinator/internal/locks"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Inspect lock state",
}

var locksDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump all active, non-expired leases",
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

		svc := locks.New(gw, cfg)
		leases, err := svc.Check(cmd.Context(), nil, "")
		if err != nil {
			return err
		}
		setResult(map[string]any{"leases": leases, "count": len(leases)})
		return nil
	},
}

func init() {
	locksCmd.AddCommand(locksDumpCmd)
}
