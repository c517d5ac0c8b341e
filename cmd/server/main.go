package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mapleledger/mapleledger/internal/clientdata"
	"github.com/mapleledger/mapleledger/internal/clients/bankofcanada"
	"github.com/mapleledger/mapleledger/internal/config"
	"github.com/mapleledger/mapleledger/internal/database"
	"github.com/mapleledger/mapleledger/internal/modules/catalog"
	"github.com/mapleledger/mapleledger/internal/modules/ledger"
	"github.com/mapleledger/mapleledger/internal/scheduler"
	"github.com/mapleledger/mapleledger/internal/server"
	"github.com/mapleledger/mapleledger/pkg/logger"
)

func main() {
	// Load configuration first so the logger picks up the configured level
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info"})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting MapleLedger")

	// The raw-event ledger gets the durability profile; the API cache gets
	// the speed profile. Both are migrated on every startup.
	ledgerDB, err := database.New(database.Config{
		Path:    cfg.LedgerDBPath(),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	clientDataDB, err := database.New(database.Config{
		Path:    cfg.ClientDataDBPath(),
		Profile: database.ProfileCache,
		Name:    "client_data",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open client data database")
	}
	defer clientDataDB.Close()

	for _, db := range []*database.DB{ledgerDB, clientDataDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("db", db.Name()).Msg("Failed to run migrations")
		}
	}

	// External clients
	cacheRepo := clientdata.NewRepository(clientDataDB.Conn())
	fxClient := bankofcanada.NewClient(cfg.FxBaseURL, cacheRepo, log)

	// Catalog module
	securityRepo := catalog.NewSecurityRepository(ledgerDB.Conn(), log)
	accountRepo := catalog.NewAccountRepository(ledgerDB.Conn(), log)
	catalogHandler := catalog.NewHandler(securityRepo, accountRepo, log)

	// Ledger module
	txRepo := ledger.NewTransactionRepository(ledgerDB.Conn(), log)
	viewRepo := ledger.NewViewRepository(ledgerDB.Conn(), log)
	ledgerService := ledger.NewService(
		ledgerDB.Conn(), txRepo, viewRepo, securityRepo, fxClient, cfg.SliceTimeout, log)
	ledgerHandler := ledger.NewHandler(ledgerService, log)

	// Scheduler and background jobs
	sched := scheduler.New(log)
	registerJobs(sched, fxClient, cacheRepo, log)
	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Port:           cfg.Port,
		Log:            log,
		LedgerDB:       ledgerDB,
		ClientDataDB:   clientDataDB,
		Config:         cfg,
		DevMode:        cfg.DevMode,
		Scheduler:      sched,
		LedgerHandler:  ledgerHandler,
		CatalogHandler: catalogHandler,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func registerJobs(sched *scheduler.Scheduler, fxClient *bankofcanada.Client, cacheRepo *clientdata.Repository, log zerolog.Logger) {
	// Bank of Canada publishes daily rates around 16:30 ET; prefetch in the
	// evening, and once at startup so the first non-CAD write never waits on
	// a cold cache.
	prefetch := bankofcanada.NewPrefetchJob(fxClient, log)
	if err := sched.AddJob("0 0 22 * * *", prefetch); err != nil {
		log.Error().Err(err).Msg("Failed to register fx prefetch job")
	}
	if err := sched.RunNow(prefetch); err != nil {
		log.Warn().Err(err).Msg("Startup fx prefetch failed")
	}
	if err := sched.AddJob("0 30 3 * * *", clientdata.NewCleanupJob(cacheRepo, log)); err != nil {
		log.Error().Err(err).Msg("Failed to register cache cleanup job")
	}
}
