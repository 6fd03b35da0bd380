package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"crypto-ledger/internal/middleware"
	"crypto-ledger/internal/models"
	"crypto-ledger/internal/money"
	"crypto-ledger/internal/services"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type LedgerHandler struct {
	ledger *services.LedgerService
	logger zerolog.Logger
}

func NewLedgerHandler(ledger *services.LedgerService, logger zerolog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		logger: logger,
	}
}

func (h *LedgerHandler) Credit(w http.ResponseWriter, r *http.Request) {
	var req models.CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	userRole, ok := middleware.GetUserRole(r)
	if !ok || userRole != string(models.RoleAdmin) {
		h.respondWithError(w, http.StatusForbidden, "forbidden", "Only admins can credit accounts")
		return
	}

	userID, ok := middleware.GetUserID(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "unauthorized", "User not authenticated")
		return
	}
	if targetID := r.URL.Query().Get("user_id"); targetID != "" {
		if id, err := strconv.ParseInt(targetID, 10, 64); err == nil {
			userID = id
		}
	}

	txn, err := h.ledger.Credit(r.Context(), userID, req.Currency, req.Amount, models.TransactionMeta{
		TxHash:      req.TxHash,
		FromAddress: req.FromAddress,
		Description: req.Description,
		Fee:         req.Fee,
		Instant:     req.Instant,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Credit failed")
		h.respondWithError(w, businessStatus(err), "credit_failed", err.Error())
		return
	}

	h.respondWithJSON(w, http.StatusCreated, h.transactionResponse(txn))
}

func (h *LedgerHandler) Debit(w http.ResponseWriter, r *http.Request) {
	var req models.DebitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	userID, ok := middleware.GetUserID(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "unauthorized", "User not authenticated")
		return
	}

	kind := models.TransactionKind(req.Type)
	if kind == models.KindWithdrawal && req.ToAddress == "" {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", "to_address is required for withdrawals")
		return
	}

	txn, err := h.ledger.Debit(r.Context(), userID, req.Currency, req.Amount, kind, models.TransactionMeta{
		ToAddress:   req.ToAddress,
		Description: req.Description,
		Fee:         req.Fee,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Debit failed")
		h.respondWithError(w, businessStatus(err), "debit_failed", err.Error())
		return
	}

	h.respondWithJSON(w, http.StatusCreated, h.transactionResponse(txn))
}

func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "unauthorized", "User not authenticated")
		return
	}

	currency := mux.Vars(r)["currency"]
	balance, err := h.ledger.GetBalance(r.Context(), userID, currency)
	if err != nil {
		h.logger.Error().Err(err).Str("currency", currency).Msg("Failed to fetch balance")
		h.respondWithError(w, businessStatus(err), "fetch_failed", err.Error())
		return
	}

	decimals := h.ledger.Decimals(currency)
	h.respondWithJSON(w, http.StatusOK, map[string]any{
		"currency":  currency,
		"total":     money.ToDecimalString(balance.TotalMinor, decimals),
		"locked":    money.ToDecimalString(balance.LockedMinor, decimals),
		"available": money.ToDecimalString(balance.AvailableMinor(), decimals),
	})
}

func (h *LedgerHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "unauthorized", "User not authenticated")
		return
	}

	txn, err := h.ledger.GetTransaction(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		h.respondWithError(w, http.StatusNotFound, "not_found", "Transaction not found")
		return
	}

	userRole, _ := middleware.GetUserRole(r)
	if txn.UserID != userID && userRole != string(models.RoleAdmin) {
		h.respondWithError(w, http.StatusForbidden, "forbidden", "You can only view your own transactions")
		return
	}

	h.respondWithJSON(w, http.StatusOK, txn)
}

func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "unauthorized", "User not authenticated")
		return
	}

	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	transactions, err := h.ledger.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to list transactions")
		h.respondWithError(w, http.StatusInternalServerError, "fetch_failed", "Failed to fetch transactions")
		return
	}

	h.respondWithJSON(w, http.StatusOK, transactions)
}

func (h *LedgerHandler) transactionResponse(txn *models.Transaction) models.TransactionResponse {
	decimals := h.ledger.Decimals(txn.Currency)
	return models.TransactionResponse{
		ID:     txn.ID,
		UUID:   txn.UUID,
		Amount: money.ToDecimalString(txn.AmountMinor, decimals),
		Fee:    money.ToDecimalString(txn.FeeMinor, decimals),
		Status: string(txn.Status),
	}
}

// businessStatus maps expected business outcomes to 400-equivalents;
// anything else is a server-side problem.
func businessStatus(err error) int {
	switch {
	case errors.Is(err, money.ErrMalformedAmount),
		errors.Is(err, services.ErrUnsupportedCurrency),
		errors.Is(err, services.ErrInvalidTransactionKind),
		errors.Is(err, services.ErrBalanceNotFound),
		errors.Is(err, services.ErrInsufficientFunds),
		errors.Is(err, services.ErrInsufficientBalance),
		errors.Is(err, services.ErrWithdrawalOutOfRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *LedgerHandler) respondWithError(w http.ResponseWriter, code int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

func (h *LedgerHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
