package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentmesh/coordinator/internal/coorderr"
)

var rootCmd = &cobra.Command{
	Use:   "coordinatord",
	Short: "Multi-agent coordinator daemon",
	Long: `coordinatord fronts the coordinator core: locks, the work
queue, the DAG scheduler, and the rest of the coordinator components,
all reachable through the Persistence Gateway.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, locksCmd, queueCmd, cleanupCmd, planCmd)
}

// Execute runs the root command and exits with the coorderr-mapped
// code for whatever error (if any) the command returned.
func Execute() {
	err := rootCmd.Execute()
	printEnvelope(err)
	os.Exit(coorderr.ExitCode(err))
}

// envelope is the CLI's uniform output shape: every operation prints
// {decision, reason, diagnostics} with the exit code reflecting the
// decision class, not the message.
type envelope struct {
	Decision    string         `json:"decision"`
	Reason      string         `json:"reason,omitempty"`
	Diagnostics map[string]any `json:"diagnostics,omitempty"`
}

// result holds whatever data the running subcommand produced, surfaced
// under the envelope's diagnostics field. Set it via setResult instead
// of printing ad hoc JSON from within a command.
var result map[string]any

func setResult(v map[string]any) { result = v }

func printEnvelope(err error) {
	env := envelope{Decision: "ok", Diagnostics: result}
	if err != nil {
		env.Decision = "error"
		env.Reason = err.Error()
		var ce *coorderr.CoordError
		if c, ok := err.(*coorderr.CoordError); ok {
			ce = c
		}
		if ce != nil {
			env.Decision = string(ce.Kind)
			env.Reason = ce.Reason
			env.Diagnostics = ce.Diagnostics
		}
	}
	data, marshalErr := json.MarshalIndent(env, "", "  ")
	if marshalErr != nil {
		fmt.Fprintf(os.Stderr, "coordinatord: failed to marshal output envelope: %v\n", marshalErr)
		return
	}
	fmt.Println(string(data))
}
