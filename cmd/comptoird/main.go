package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"comptoir/internal/app"

	"github.com/urfave/cli/v2"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "configs/config.yaml",
		Usage:   "path to the YAML configuration",
		EnvVars: []string{"COMPTOIR_CONFIG"},
	}

	cliApp := &cli.App{
		Name:  "comptoird",
		Usage: "custodial marketplace ledger",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "seed configured marketplaces and serve the read API",
				Action: serve,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "pprof", Value: "", Usage: "pprof listen address, disabled when empty"},
				},
			},
			{
				Name:   "migrate",
				Usage:  "migrate the database and seed configured marketplaces, then exit",
				Action: migrate,
			},
		},
		Action: serve,
	}

	if err := cliApp.Run(os.Args); err != nil {
		slog.Error("Comptoir failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	// Pprof Server (for performance profiling)
	if addr := c.String("pprof"); addr != "" {
		go func() {
			slog.Info("Pprof server started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	bootstrap := app.NewBootstrap(c.String("config"))
	if err := bootstrap.Initialize(); err != nil {
		return err
	}
	defer bootstrap.Close()

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.Seed(ctx); err != nil {
		return err
	}
	go bootstrap.SyncIcons(ctx)

	slog.InfoContext(ctx, "Comptoir fully operational. Press Ctrl+C to exit.")
	if err := bootstrap.Run(ctx); err != nil {
		return err
	}

	slog.InfoContext(context.Background(), "Shutting down gracefully...")
	return nil
}

func migrate(c *cli.Context) error {
	bootstrap := app.NewBootstrap(c.String("config"))
	if err := bootstrap.Initialize(); err != nil {
		return err
	}
	defer bootstrap.Close()

	if err := bootstrap.Seed(c.Context); err != nil {
		return err
	}
	slog.Info("Database migrated and seeded")
	return nil
}
