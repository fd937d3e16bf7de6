package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentmesh/coordinator/internal/coorderr"
	"github.com/agentmesh/coordinator/internal/scheduler"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Work against a declarative work-package document",
}

var planValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Run the preflight pipeline and print the topological order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return coorderr.Wrap(coorderr.KindValidationFailed, "read work-package document", err)
		}
		doc, err := scheduler.ParseDocument(data)
		if err != nil {
			return err
		}

		order, err := scheduler.Preflight(doc, filepath.Dir(path))
		if err != nil {
			return err
		}
		setResult(map[string]any{"feature_id": doc.FeatureID, "order": order, "package_count": len(doc.Packages)})
		return nil
	},
}

func init() {
	planCmd.AddCommand(planValidateCmd)
}
