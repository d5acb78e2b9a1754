package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/citykit/govsim/internal/logging"
	"github.com/citykit/govsim/internal/mcp"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Run the MCP server over stdio",
		Long: `Run the Model Context Protocol server over stdio, exposing
simulation tools to MCP clients:

  run_simulation  run a scenario and record its trace
  list_runs       list recorded runs
  get_trace       inspect a run's trace
  list_rules      list a scenario's rules and interventions

The server writes run traces to the trace directory's database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			traceDir, _ := cmd.Flags().GetString("trace-dir")
			level, _ := cmd.Flags().GetString("log-level")

			// Logs go to stderr; stdout carries the MCP transport.
			log := logging.NewLogger(level, os.Stderr)

			server, err := mcp.NewServer(&mcp.Config{
				Name:     "govsim",
				Version:  version,
				TraceDir: traceDir,
				Log:      log,
			})
			if err != nil {
				return err
			}
			return server.Run(context.Background())
		},
	}

	cmd.Flags().String("log-level", "info", "Log verbosity: info, debug, or trace")
	return cmd
}
