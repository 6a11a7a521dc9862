package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	tsmcp "tasksync/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the tasksync MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tasksync MCP server on stdio",
	Long: `Start the tasksync MCP server on stdio transport.

The server exposes the sync engine as MCP tools that AI assistants can
call: list_tasks, create_task, update_task, delete_task, trigger_sync,
queue_status, get_metrics. Mutations are optimistic and pushed by the
background sync, so the tools work offline.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Engine == nil {
			return fmt.Errorf("sync engine not initialized")
		}

		srv := tsmcp.NewServer(Engine, MetricsCalc, appVersion)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}

		return nil
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
