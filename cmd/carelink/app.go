package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mbocsi/carelink/api"
	"github.com/mbocsi/carelink/client"
	"github.com/mbocsi/carelink/config"
	"github.com/mbocsi/carelink/console"
	"github.com/mbocsi/carelink/credentials"
	"github.com/mbocsi/carelink/dashboard"
)

const shutdownTimeout = 5 * time.Second

// App is one running realtime session with its sinks.
type App struct {
	Client        *client.Client
	Dashboard     *dashboard.Dashboard
	Server        *dashboard.Server // nil when the HTTP dashboard is off
	Credentials   *credentials.Store
	DashboardAddr string
}

type appOptions struct {
	console bool // MCP mode owns stdout
}

func NewApp(cfg *config.Config, opts appOptions) (*App, error) {
	logger := slog.Default()

	store, err := credentials.Open(cfg.Credentials.Path)
	if err != nil {
		return nil, err
	}

	origin := cfg.Realtime.Origin
	if origin == "" {
		svc, err := client.DiscoverService(cfg.Realtime.DiscoveryTimeout)
		if err != nil {
			return nil, fmt.Errorf("no realtime.origin configured and discovery failed: %w", err)
		}
		origin = svc.Origin()
	}

	var backend api.BackendAPI
	if cfg.API.BaseURL != "" {
		c, err := api.New(cfg.API.BaseURL, store, cfg.API.Timeout)
		if err != nil {
			return nil, err
		}
		backend = c
	}

	dash := dashboard.New(backend, logger)
	ui := client.MultiUI{dash}
	if opts.console && cfg.Console.Enabled {
		ui = append(ui, console.New(os.Stdout, cfg.Console.Bell))
	}

	rt := client.NewClient(origin, client.NewWebSocketDialer(), ui,
		client.WithTokenSource(store),
		client.WithBackoff(cfg.Backoff()),
		client.WithLogger(logger),
	)

	app := &App{
		Client:        rt,
		Dashboard:     dash,
		Credentials:   store,
		DashboardAddr: cfg.Dashboard.Addr,
	}
	if cfg.Dashboard.Enabled {
		app.Server = dashboard.NewServer(dash, rt, store, logger)
	}
	return app, nil
}

// Start runs the client and dashboard until ctx is cancelled or one of them
// fails.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	if a.Server != nil {
		go func() { errCh <- a.Server.Start(a.DashboardAddr) }()
	}
	go func() { errCh <- a.Client.Run(ctx) }()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	slog.Info("Shutting down client and dashboard")
	cancel()
	a.Client.Disconnect()
	if a.Server != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if serr := a.Server.Shutdown(shutdownCtx); serr != nil {
			slog.Warn("Dashboard shutdown failed", "error", serr)
		}
	}
	return err
}
