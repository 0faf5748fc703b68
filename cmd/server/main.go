/*
main.go - Application entry point

PURPOSE:
  Starts the timeclock HTTP server or exports the timesheet.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  timeclock serve    run the HTTP server and the open shift monitor
  timeclock export   write the XLSX timesheet and exit

STARTUP SEQUENCE (serve):
  1. Load .env and TIMECLOCK_* variables
  2. Initialize SQLite store
  3. Build notifier (log, plus Slack when a token is set)
  4. Build session store (Redis when a URL is set, else memory)
  5. Create service, handler and router
  6. Start server and monitor with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the monitor, close sessions and the database

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/warp/timeclock/api"
	"github.com/warp/timeclock/attendance"
	"github.com/warp/timeclock/config"
	"github.com/warp/timeclock/export"
	"github.com/warp/timeclock/notify"
	"github.com/warp/timeclock/session"
	"github.com/warp/timeclock/store/sqlite"
)

func main() {
	cmd := &cli.Command{
		Name:  "timeclock",
		Usage: "attendance punches, hours and wages",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file to load before reading TIMECLOCK_* variables",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			exportCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "run the HTTP server",
		Action: serve,
		Description: `
Environment variables:
	TIMECLOCK_LISTEN_ADDR       (default: :8080)
	TIMECLOCK_DB_PATH           (default: timeclock.db)
	TIMECLOCK_LOG_LEVEL         (default: info)
	TIMECLOCK_CORS_ORIGINS      (default: *)
	TIMECLOCK_MODE              strict | repair (default: strict)
	TIMECLOCK_DEFAULT_RATE      (default: 100)
	TIMECLOCK_DEFAULT_LUNCH     (default: 30m)
	TIMECLOCK_FULL_DAY          (default: 8h)
	TIMECLOCK_END_OF_DAY        (default: 23:59)
	TIMECLOCK_TIMEZONE          (default: Local)
	TIMECLOCK_ADMIN_IDS         (comma-separated list)
	TIMECLOCK_SESSION_TTL       (default: 10m)
	TIMECLOCK_RETRY_ATTEMPTS    (default: 3)
	TIMECLOCK_RETRY_DELAY       (default: 100ms)
	TIMECLOCK_REDIS_URL         (optional)
	TIMECLOCK_SLACK_TOKEN       (optional)
	TIMECLOCK_MONITOR_INTERVAL  (default: 1h)
`,
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:   "export",
		Usage:  "write the XLSX timesheet",
		Action: exportTimesheet,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Value:   "timesheet.xlsx",
				Usage:   "output file",
			},
		},
	}
}

func load(ctx context.Context, cmd *cli.Command) (*config.Config, *slog.Logger, error) {
	var files []string
	if f := cmd.String("env-file"); f != "" {
		files = append(files, f)
	}
	cfg, err := config.Load(ctx, files...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With(slog.String("app", "timeclock"))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := load(ctx, cmd)
	if err != nil {
		return err
	}
	rules, err := cfg.Rules()
	if err != nil {
		return err
	}
	level, _ := cfg.Level()

	store, err := sqlite.New(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	notifier := notify.Multi{notify.NewLog(logger)}
	if cfg.Integrations.SlackToken != "" {
		notifier = append(notifier, notify.NewSlack(cfg.Integrations.SlackToken, cfg.Admin.IDs))
		logger.Info("slack notifications enabled", "admins", len(cfg.Admin.IDs))
	}

	var sessions attendance.SessionStore = session.NewMemory()
	if cfg.Integrations.RedisURL != "" {
		rs, err := session.NewRedis(ctx, cfg.Integrations.RedisURL)
		if err != nil {
			return err
		}
		defer rs.Close()
		sessions = rs
		logger.Info("redis sessions enabled")
	}

	svc := attendance.NewService(store, notifier, sessions, attendance.ServiceConfig{
		Rules:         rules,
		Admins:        cfg.Admin.IDs,
		SessionTTL:    cfg.Admin.SessionTTL,
		RetryAttempts: cfg.Store.RetryAttempts,
		RetryDelay:    cfg.Store.RetryDelay,
		Logger:        logger,
	})

	handler := api.NewHandler(svc, export.New(store, rules.Location), logger)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AccessLog:      os.Stdout,
		LogLevel:       level,
	})

	monitor := api.NewOpenShiftMonitor(svc, notifier, logger)
	monitor.CheckInterval = cfg.Integrations.MonitorInterval
	monitor.Start()
	defer monitor.Stop()

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Server.ListenAddr, "mode", rules.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func exportTimesheet(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := load(ctx, cmd)
	if err != nil {
		return err
	}
	rules, err := cfg.Rules()
	if err != nil {
		return err
	}

	store, err := sqlite.New(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	out := cmd.String("out")
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := export.New(store, rules.Location).Write(ctx, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info("timesheet written", "path", out)
	return nil
}
