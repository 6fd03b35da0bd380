package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"crypto-ledger/internal/blockchain"
	"crypto-ledger/internal/config"
	"crypto-ledger/internal/db"
	"crypto-ledger/internal/logger"
	"crypto-ledger/internal/models"
	"crypto-ledger/internal/router"
	"crypto-ledger/internal/services"
	"crypto-ledger/internal/worker"
)

func main() {
	cfg := config.LoadConfig()

	log := logger.InitLogger()
	log.Info().Msg("Starting crypto ledger")

	database := db.InitDB(cfg.DBUrl)
	defer database.Close()

	db.RunMigrations(database)

	unit := services.NewSQLUnitOfWork(database, log)
	balances := services.NewSQLBalanceStore(database, log)
	journal := services.NewSQLTransactionJournal(database, log)
	ledger := services.NewLedgerService(unit, balances, journal, cfg.Currencies, log)

	node := blockchain.NewClient(blockchain.ClientConfig{
		RPCURL:        cfg.RPCURL,
		Timeout:       cfg.RPCTimeout,
		Confirmations: cfg.DefaultConfirmations,
	}, log)

	scheduler := worker.NewScheduler(log)

	confirmationPolicy := worker.RetryPolicy{
		MaxAttempts: cfg.ConfirmationMaxAttempts,
		Delay:       cfg.ConfirmationDelay,
	}
	withdrawalPolicy := worker.RetryPolicy{
		MaxAttempts: cfg.WithdrawalMaxAttempts,
		Delay:       cfg.WithdrawalDelay,
	}

	ledger.OnPendingCredit(func(txn *models.Transaction) {
		scheduler.Schedule(worker.NewConfirmationReconciler(
			txn.ID,
			cfg.RequiredConfirmations(txn.Currency),
			confirmationPolicy,
			journal, ledger, node, log,
		), confirmationPolicy)
	})

	ledger.OnWithdrawal(func(txn *models.Transaction) {
		scheduler.Schedule(worker.NewWithdrawalDispatcher(
			txn.ID,
			cfg.Currencies[txn.Currency].Decimals,
			withdrawalPolicy,
			journal, ledger, node, log,
		), withdrawalPolicy)
	})

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "default-secret-key-change-in-production"
		log.Warn().Msg("JWT_SECRET not set, using default key")
	}
	auth := services.NewAuthService(jwtSecret, log)

	mux := router.SetupRouter(database, ledger, auth, log)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		log.Info().Msgf("Server listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	log.Info().Msg("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	scheduler.Shutdown()
	log.Info().Msg("Server stopped")
}
