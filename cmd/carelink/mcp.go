package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mbocsi/carelink/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the realtime session to an MCP host over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := NewApp(cfg, appOptions{console: false})
		if err != nil {
			return err
		}

		tools := mcp.NewMCPClient(mcp.NewMCPServer(slog.Default()), app.Client, app.Dashboard, app.Credentials)

		errCh := make(chan error, 1)
		go func() { errCh <- app.Start(ctx) }()

		// stdin closing ends the MCP session and the realtime session with it.
		if err := tools.Start(); err != nil {
			slog.Error("MCP server stopped", "error", err)
		}
		stop()
		return <-errCh
	},
}
