package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cache-manager/internal/common/logging"
	"cache-manager/internal/common/validation"
	"cache-manager/internal/config"
)

const shutdownTimeout = 30 * time.Second

// Run is the main entry point for the application
func Run() error {
	// A missing .env file is fine
	_ = godotenv.Load()

	logging.InitGlobalLogger()
	defer logging.MustSync()

	logging.Info("Starting cache manager", logging.Int("cpus", runtime.NumCPU()))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		for _, field := range validation.FieldErrors(cfg) {
			logging.Error("Invalid setting", nil, logging.String("setting", field.Field), logging.String("rule", field.Tag))
		}
		logging.Error("Configuration validation failed", err)
		return err
	}
	logging.Info("Configuration loaded", logging.String("config", cfg.String()))

	app, err := New(context.Background(), cfg, logging.GetGlobalLogger())
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}

	if err := app.Start(); err != nil {
		logging.Error("Server failed to start", err)
		app.Tiers.Close()
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-quit:
		logging.Info("Shutting down", logging.String("signal", sig.String()))
	case serveErr = <-app.Server.Errors():
		logging.Error("Server stopped unexpectedly", serveErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		logging.Error("Shutdown finished with errors", err)
		return err
	}

	logging.Info("Cache manager exited")
	return serveErr
}
