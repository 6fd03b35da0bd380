package router

import (
	"database/sql"
	"net/http"
	"time"

	"crypto-ledger/internal/handlers"
	"crypto-ledger/internal/middleware"
	"crypto-ledger/internal/services"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func SetupRouter(db *sql.DB, ledger *services.LedgerService, auth *services.AuthService, logger zerolog.Logger) *mux.Router {
	authHandler := handlers.NewAuthHandler(db, auth, logger)
	ledgerHandler := handlers.NewLedgerHandler(ledger, logger)

	r := mux.NewRouter()

	rateLimiter := middleware.NewRateLimiter(rate.Limit(10), 20)
	authenticated := middleware.Authentication(auth, logger)

	r.Use(middleware.ErrorHandling(logger))
	r.Use(middleware.PerformanceMonitoring(time.Second, logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	r.Use(rateLimiter.Middleware())

	api := r.PathPrefix("/api/v1").Subrouter()

	authAPI := api.PathPrefix("/auth").Subrouter()
	authAPI.HandleFunc("/register", authHandler.Register).Methods("POST")
	authAPI.HandleFunc("/login", authHandler.Login).Methods("POST")
	authAPI.HandleFunc("/refresh", authHandler.Refresh).Methods("POST")

	ledgerAPI := api.PathPrefix("/ledger").Subrouter()
	ledgerAPI.Use(authenticated)
	ledgerAPI.Use(middleware.RequestValidation())
	ledgerAPI.HandleFunc("/credit", ledgerHandler.Credit).Methods("POST")
	ledgerAPI.HandleFunc("/debit", ledgerHandler.Debit).Methods("POST")

	balances := api.PathPrefix("/balances").Subrouter()
	balances.Use(authenticated)
	balances.HandleFunc("/{currency}", ledgerHandler.GetBalance).Methods("GET")

	transactions := api.PathPrefix("/transactions").Subrouter()
	transactions.Use(authenticated)
	transactions.HandleFunc("", ledgerHandler.ListTransactions).Methods("GET")
	transactions.HandleFunc("/{uuid}", ledgerHandler.GetTransaction).Methods("GET")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	return r
}
