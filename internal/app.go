// internal/app.go
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"

	router "propflow-wallet/internal/api"
	"propflow-wallet/internal/api/handler"
	"propflow-wallet/internal/config"
	"propflow-wallet/internal/gateway"
	"propflow-wallet/internal/ledger"
	"propflow-wallet/internal/repository"
	filerepo "propflow-wallet/internal/repository/file"
	pgrepo "propflow-wallet/internal/repository/postgres"
	"propflow-wallet/internal/util"
	"propflow-wallet/pkg/db"
)

// Application holds all the initialized components of the application.
type Application struct {
	Config *config.AppConfig
	Logger *slog.Logger
	DB     *sqlx.DB // nil when the file storage driver is selected

	Snapshots repository.SnapshotRepository
	Gateway   gateway.PaymentGateway
	Ledger    *ledger.Store

	// HTTP API
	HTTPHandler http.Handler
}

// NewApplication creates a new Application instance.
func NewApplication() *Application {
	return &Application{}
}

// Initialize initializes all application components.
func (app *Application) Initialize(ctx context.Context) error {
	// 1. Initialize Logger
	util.InitLogger()
	app.Logger = util.GetLogger()

	// 2. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	app.Config = cfg
	app.Logger.Info("Application configuration loaded successfully.")

	// 3. Initialize the snapshot repository
	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		database, err := db.NewPostgresDB(cfg.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		app.DB = database
		app.Snapshots, err = pgrepo.NewSnapshotRepository(ctx, database, cfg.StorageKey)
		if err != nil {
			return fmt.Errorf("failed to initialize postgres snapshot repository: %w", err)
		}
		app.Logger.Info("Postgres snapshot repository initialized.", "key", cfg.StorageKey)
	default:
		app.Snapshots, err = filerepo.NewSnapshotRepository(cfg.DataDir, cfg.StorageKey)
		if err != nil {
			return fmt.Errorf("failed to initialize file snapshot repository: %w", err)
		}
		app.Logger.Info("File snapshot repository initialized.", "dir", cfg.DataDir, "key", cfg.StorageKey)
	}

	// 4. Initialize the simulated payment gateway
	app.Gateway = gateway.NewSimulated(cfg.GatewayLatency, cfg.GatewayFailRate)
	app.Logger.Info("Simulated payment gateway initialized.",
		"latency", cfg.GatewayLatency.String(), "failure_rate", cfg.GatewayFailRate)

	// 5. Initialize and hydrate the ledger store
	app.Ledger = ledger.NewStore(app.Gateway, app.Snapshots, cfg.SeedBalance, app.Logger)
	if err := app.Ledger.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to hydrate ledger store: %w", err)
	}
	app.Logger.Info("Ledger store hydrated.",
		"balance", app.Ledger.Balance().String(), "escrow_balance", app.Ledger.EscrowBalance().String())

	// 6. Initialize HTTP Handlers and Router
	walletHandler := handler.NewWalletHandler(app.Ledger, app.Logger)
	app.HTTPHandler = router.NewRouter(walletHandler, app.Logger)
	app.Logger.Info("HTTP router and handlers initialized.")

	return nil
}

// Shutdown gracefully shuts down application resources.
func (app *Application) Shutdown(ctx context.Context) error {
	app.Logger.Info("Shutting down application...")
	if app.DB != nil {
		if err := app.DB.Close(); err != nil {
			app.Logger.Error("Failed to close database connection", "error", err)
			return fmt.Errorf("failed to close database connection: %w", err)
		}
		app.Logger.Info("Database connection closed.")
	}
	app.Logger.Info("Application shut down gracefully.")
	return nil
}
