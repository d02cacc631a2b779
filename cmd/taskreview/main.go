package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mtlprog/taskreview/internal/config"
	"github.com/mtlprog/taskreview/internal/database"
	"github.com/mtlprog/taskreview/internal/logger"
)

const configKey = "config"

func main() {
	app := &cli.App{
		Name:     "taskreview",
		Usage:    "Claim-based task review service",
		Metadata: map[string]any{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"TASKREVIEW_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Aliases: []string{"d"},
				Usage:   "PostgreSQL database URL",
				EnvVars: []string{"DATABASE_URL"},
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger.Setup(logger.ParseLevel(cfg.Server.LogLevel))
			c.App.Metadata[configKey] = cfg
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the web server and the expiry sweeper",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Value:   config.DefaultPort,
						Usage:   "HTTP server port",
						EnvVars: []string{"PORT"},
					},
				},
				Action: runServe,
			},
			{
				Name:   "sweep",
				Usage:  "Run one expiry sweep and exit",
				Action: runSweep,
			},
			{
				Name:   "migrate",
				Usage:  "Apply database migrations and exit",
				Action: runMigrate,
			},
		},
		Action: runServe,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

// loadConfig layers explicitly set global flags over file and environment.
// The serve command's --port is applied later in configFrom.
func loadConfig(c *cli.Context) (*config.Config, error) {
	overrides := map[string]any{}
	if c.IsSet("log-level") {
		overrides["server.log_level"] = c.String("log-level")
	}
	if c.IsSet("database-url") {
		overrides["database.url"] = c.String("database-url")
	}

	cfg, err := config.Load(c.String("config"), overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func configFrom(c *cli.Context) (*config.Config, error) {
	cfg, ok := c.App.Metadata[configKey].(*config.Config)
	if !ok {
		return nil, fmt.Errorf("config not loaded")
	}
	// serve's --port is only visible from the subcommand context.
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	return cfg, nil
}

func runServe(c *cli.Context) error {
	ctx := c.Context

	cfg, err := configFrom(c)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := database.RunMigrations(ctx, a.db.Pool()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	if cfg.Sweeper.Enabled {
		go a.sweeper.Run(sweepCtx)
	} else {
		slog.Info("sweeper disabled")
	}

	port := strconv.Itoa(cfg.Server.Port)
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           a.handler().Routes(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "server_addr", "http://localhost:"+port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-done:
		slog.Info("shutting down server")
	}

	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func runSweep(c *cli.Context) error {
	ctx := c.Context

	cfg, err := configFrom(c)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	for rt, n := range removed {
		slog.Info("expired claims removed", "resource_type", rt, "count", n)
	}
	return nil
}

func runMigrate(c *cli.Context) error {
	ctx := c.Context

	cfg, err := configFrom(c)
	if err != nil {
		return err
	}

	db, err := database.New(ctx, cfg.Database.URL, database.Options{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("migrations applied")
	return nil
}
