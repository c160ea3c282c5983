// Package app wires configuration, cache tiers, snapshots and the admin HTTP
// server into a running process.
package app

import (
	"context"
	stderrors "errors"
	"fmt"

	"cache-manager/internal/common/logging"
	"cache-manager/internal/config"
	"cache-manager/internal/factory"
	"cache-manager/internal/handlers"
	"cache-manager/internal/ratelimit"
	"cache-manager/internal/server"
	"cache-manager/internal/snapshot"
)

// purgeSchedule is how often expired rows are deleted from the sql tier
const purgeSchedule = "@every 10m"

// App holds all the application dependencies
type App struct {
	Config    *config.Config
	Tiers     *factory.Tiers
	Scheduler *snapshot.Scheduler
	Server    *server.Server
	Logger    logging.Logger
}

// New builds the tier stack, restores the memory snapshot when one is
// configured and registers the scheduled jobs. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	logger = logging.OrGlobal(logger)

	tiers, err := factory.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:    cfg,
		Tiers:     tiers,
		Scheduler: snapshot.NewScheduler(logger),
		Logger:    logger,
	}

	if err := app.restore(); err != nil {
		tiers.Close()
		return nil, err
	}

	if err := app.scheduleJobs(); err != nil {
		tiers.Close()
		return nil, err
	}

	limits := ratelimit.DefaultConfig()
	limits.RequestsPerSecond = cfg.RateLimitRPS
	limits.Burst = cfg.RateLimitBurst
	limiter, err := ratelimit.NewLimiter(limits)
	if err != nil {
		tiers.Close()
		return nil, err
	}

	h := handlers.New(tiers, cfg, limiter, logger)
	app.Server = server.New(h.Router(logger), fmt.Sprintf(":%d", cfg.Port), logger)

	return app, nil
}

func (app *App) snapshotsEnabled() bool {
	return app.Config.SnapshotPath != "" && app.Tiers.Memory != nil
}

func (app *App) restore() error {
	if !app.snapshotsEnabled() {
		return nil
	}

	entries, found, err := snapshot.Restore(app.Config.SnapshotPath, app.Tiers.Memory)
	if err != nil {
		return err
	}
	if !found {
		app.Logger.Info("No snapshot to restore", logging.String("path", app.Config.SnapshotPath))
		return nil
	}
	app.Logger.Info("Snapshot restored",
		logging.String("path", app.Config.SnapshotPath),
		logging.Int("entries", entries),
	)
	return nil
}

func (app *App) scheduleJobs() error {
	if app.snapshotsEnabled() && app.Config.SnapshotSchedule != "" {
		if err := app.Scheduler.Add("snapshot", app.Config.SnapshotSchedule, app.saveSnapshot); err != nil {
			return err
		}
	}

	if app.Tiers.SQL != nil {
		store := app.Tiers.SQL
		err := app.Scheduler.Add("sql-purge", purgeSchedule, func(ctx context.Context) error {
			_, err := store.PurgeExpired(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (app *App) saveSnapshot(context.Context) error {
	entries, err := snapshot.Save(app.Config.SnapshotPath, app.Tiers.Memory)
	if err != nil {
		return err
	}
	app.Logger.Debug("Snapshot saved", logging.Int("entries", entries))
	return nil
}

// Start runs the scheduler and the HTTP server
func (app *App) Start() error {
	if err := app.Server.Start(); err != nil {
		return err
	}
	app.Scheduler.Start()
	return nil
}

// Shutdown stops the server and the scheduler, writes a final snapshot and
// closes every tier. It keeps going after a failed step and reports them all.
func (app *App) Shutdown(ctx context.Context) error {
	var errs []error

	if err := app.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	if err := app.Scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
	}

	if app.snapshotsEnabled() {
		if err := app.saveSnapshot(ctx); err != nil {
			errs = append(errs, fmt.Errorf("final snapshot: %w", err))
		} else {
			app.Logger.Info("Final snapshot saved", logging.String("path", app.Config.SnapshotPath))
		}
	}

	if err := app.Tiers.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close tiers: %w", err))
	}

	return stderrors.Join(errs...)
}
