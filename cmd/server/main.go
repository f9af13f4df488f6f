/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fridge ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Wire engine, services, views, reconciler into the API handler
  5. Start server with graceful shutdown

CONFIGURATION:
  SERVER_ADDRESS / -a           HTTP listen address (default :8080)
  DATABASE_PATH / -d            SQLite path, ":memory:" for in-memory
  OVERDRAFT_POLICY / -overdraft "deny" (default) or "allow"
  LOG_LEVEL / -log-level        zap level string
  CORS_ORIGINS                  comma-separated allowed origins

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - config/config.go: Configuration loading
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/fridge-ledger/account"
	"github.com/warp/fridge-ledger/api"
	"github.com/warp/fridge-ledger/catalog"
	"github.com/warp/fridge-ledger/config"
	"github.com/warp/fridge-ledger/ledger"
	"github.com/warp/fridge-ledger/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	engine := ledger.NewEngine(store, ledger.Config{
		Overdraft: ledger.OverdraftPolicy(cfg.Overdraft),
	})
	reconciler := ledger.NewReconciler(store)
	handler := api.NewHandler(
		catalog.NewService(store),
		account.NewService(store),
		engine,
		ledger.NewViews(store, store),
		reconciler,
		logger,
	)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	auditor := api.NewDriftAuditor(reconciler, logger)
	auditor.Start()
	defer auditor.Stop()

	server := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("address", cfg.Address),
			zap.String("database", cfg.DatabasePath),
			zap.String("overdraft", cfg.Overdraft),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
