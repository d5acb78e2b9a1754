package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "govsim",
		Short: "Agent-based simulation of urban digital governance",
		Long: `govsim runs round-based simulations of a city's digital governance:
government, enterprise, and resident agents act on decisions from an
external reasoning backend, interact through probabilistic rules, and
respond to scheduled policy interventions.

Runs are reproducible: the same scenario and seed always produce the
same trace.`,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("trace-dir", "", "Override the scenario's trace directory")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newValidateCmd(),
		newTraceCmd(),
		newExportCmd(),
		newMCPServerCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]string{"version": version})
			} else {
				fmt.Printf("govsim version %s\n", version)
			}
		},
	}
}
