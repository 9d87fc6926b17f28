package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"r"},
	Short:   "Connect and stream realtime updates to the terminal and dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := NewApp(cfg, appOptions{console: true})
		if err != nil {
			return err
		}
		return app.Start(ctx)
	},
}

func init() {
	runCmd.Flags().String("origin", "", "page origin of the backend, e.g. https://care.example.org (empty discovers a relay)")
	runCmd.Flags().String("api-url", "", "backend REST base URL used to reload lists after updates")
	runCmd.Flags().String("dashboard-addr", "127.0.0.1:8090", "listen address of the local dashboard")
	runCmd.Flags().Bool("dashboard", true, "serve the local dashboard")
	runCmd.Flags().Bool("bell", true, "ring the terminal bell for alerts and reminders")

	viper.BindPFlag("realtime.origin", runCmd.Flags().Lookup("origin"))
	viper.BindPFlag("api.base_url", runCmd.Flags().Lookup("api-url"))
	viper.BindPFlag("dashboard.addr", runCmd.Flags().Lookup("dashboard-addr"))
	viper.BindPFlag("dashboard.enabled", runCmd.Flags().Lookup("dashboard"))
	viper.BindPFlag("console.bell", runCmd.Flags().Lookup("bell"))
}
