package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"crypto-ledger/internal/config"
	"crypto-ledger/internal/models"
	"crypto-ledger/internal/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LedgerService orchestrates the balance store and the transaction journal.
// Credits apply their balance effect immediately and optimistically;
// confirmation only finalizes bookkeeping or rolls the credit back. Debits
// apply their effect as a lock; confirmation converts the lock into a real
// deduction, cancellation releases it. Every finalizer is idempotent
// because it is invoked from at-least-once-delivered background work.
type LedgerService struct {
	unit       UnitOfWork
	balances   BalanceStore
	journal    TransactionJournal
	currencies map[string]config.CurrencyParams
	logger     zerolog.Logger

	// Per (user, currency) mutex. The store already serializes single
	// operations through row locking; this serializes the multi-step
	// credit/debit/finalize units against each other.
	mu sync.Map

	scheduleConfirmationCheck func(txn *models.Transaction)
	scheduleWithdrawal        func(txn *models.Transaction)
}

func NewLedgerService(unit UnitOfWork, balances BalanceStore, journal TransactionJournal, currencies map[string]config.CurrencyParams, logger zerolog.Logger) *LedgerService {
	return &LedgerService{
		unit:       unit,
		balances:   balances,
		journal:    journal,
		currencies: currencies,
		logger:     logger,
	}
}

// OnPendingCredit registers the hook invoked after a non-instant credit
// with a blockchain hash commits. The hook schedules the confirmation
// reconciler; registration happens once at wiring time.
func (s *LedgerService) OnPendingCredit(fn func(txn *models.Transaction)) {
	s.scheduleConfirmationCheck = fn
}

// OnWithdrawal registers the hook invoked after a withdrawal debit commits.
func (s *LedgerService) OnWithdrawal(fn func(txn *models.Transaction)) {
	s.scheduleWithdrawal = fn
}

func (s *LedgerService) pairMutex(userID int64, currency string) *sync.Mutex {
	key := fmt.Sprintf("%d:%s", userID, currency)
	mu, _ := s.mu.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Credit adds amount to the user's total balance and journals the attempt.
// Funds become spendable immediately even while the transaction is pending;
// a later FailCredit rolls the speculative credit back.
func (s *LedgerService) Credit(ctx context.Context, userID int64, currency, amount string, meta models.TransactionMeta) (*models.Transaction, error) {
	params, ok := s.currencies[currency]
	if !ok {
		return nil, ErrUnsupportedCurrency
	}

	amountMinor, err := money.ToMinorUnits(amount, params.Decimals)
	if err != nil {
		return nil, err
	}
	if amountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", money.ErrMalformedAmount)
	}

	feeMinor, err := s.feeMinor(meta.Fee, params.Decimals)
	if err != nil {
		return nil, err
	}

	mu := s.pairMutex(userID, currency)
	mu.Lock()
	defer mu.Unlock()

	// The same chain deposit may be reported more than once; the hash is
	// the dedup key within one (user, currency) pair. The same hash on
	// another account is a distinct deposit.
	if meta.TxHash != "" {
		existing, err := s.journal.GetByHash(ctx, userID, currency, meta.TxHash)
		if err == nil && existing.Kind == models.KindCredit {
			s.logger.Info().
				Str("hash", meta.TxHash).
				Int64("transaction_id", existing.ID).
				Msg("Deposit already journaled, skipping")
			return existing, nil
		}
		if err != nil && !errors.Is(err, ErrTransactionNotFound) {
			return nil, err
		}
	}

	var txn *models.Transaction
	err = s.unit.Atomically(ctx, func(ctx context.Context) error {
		balance, err := s.balances.GetOrCreate(ctx, userID, currency)
		if err != nil {
			return err
		}

		totalBefore := balance.TotalMinor
		lockedBefore := balance.LockedMinor

		balance, err = s.balances.IncreaseTotal(ctx, balance.ID, amountMinor)
		if err != nil {
			return err
		}

		status := models.StatusPending
		if meta.Instant {
			status = models.StatusCompleted
		}

		txn, err = s.journal.Create(ctx, &models.Transaction{
			UUID:               uuid.NewString(),
			UserID:             userID,
			BalanceID:          balance.ID,
			Currency:           currency,
			Kind:               models.KindCredit,
			Status:             status,
			AmountMinor:        amountMinor,
			FeeMinor:           feeMinor,
			BalanceBeforeMinor: totalBefore,
			BalanceAfterMinor:  balance.TotalMinor,
			LockedBeforeMinor:  lockedBefore,
			LockedAfterMinor:   balance.LockedMinor,
			TxHash:             meta.TxHash,
			FromAddress:        meta.FromAddress,
			Description:        defaultDescription(meta.Description, "Credit of funds"),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if meta.TxHash != "" && !meta.Instant && s.scheduleConfirmationCheck != nil {
		s.scheduleConfirmationCheck(txn)
	}

	s.logger.Info().
		Int64("transaction_id", txn.ID).
		Str("uuid", txn.UUID).
		Int64("user_id", userID).
		Str("currency", currency).
		Int64("amount_minor", amountMinor).
		Str("status", string(txn.Status)).
		Msg("Credit applied")

	return txn, nil
}

// Debit locks amount+fee on the user's balance and journals a pending
// transaction. Withdrawals are handed to the dispatcher; confirmation later
// converts the lock into a deduction, cancellation releases it.
func (s *LedgerService) Debit(ctx context.Context, userID int64, currency, amount string, kind models.TransactionKind, meta models.TransactionMeta) (*models.Transaction, error) {
	params, ok := s.currencies[currency]
	if !ok {
		return nil, ErrUnsupportedCurrency
	}

	if !isDebitKind(kind) {
		return nil, ErrInvalidTransactionKind
	}

	amountMinor, err := money.ToMinorUnits(amount, params.Decimals)
	if err != nil {
		return nil, err
	}
	if amountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", money.ErrMalformedAmount)
	}

	feeMinor, err := s.feeMinor(meta.Fee, params.Decimals)
	if err != nil {
		return nil, err
	}

	if kind == models.KindWithdrawal {
		if err := s.checkWithdrawalLimits(amountMinor, params); err != nil {
			return nil, err
		}
	}

	mu := s.pairMutex(userID, currency)
	mu.Lock()
	defer mu.Unlock()

	totalMinor := amountMinor + feeMinor

	var txn *models.Transaction
	err = s.unit.Atomically(ctx, func(ctx context.Context) error {
		balance, err := s.balances.Get(ctx, userID, currency)
		if err != nil {
			return err
		}

		if balance.AvailableMinor() < totalMinor {
			return ErrInsufficientFunds
		}

		totalBefore := balance.TotalMinor
		lockedBefore := balance.LockedMinor

		balance, err = s.balances.Lock(ctx, balance.ID, totalMinor)
		if err != nil {
			return err
		}

		txn, err = s.journal.Create(ctx, &models.Transaction{
			UUID:        uuid.NewString(),
			UserID:      userID,
			BalanceID:   balance.ID,
			Currency:    currency,
			Kind:        kind,
			Status:      models.StatusPending,
			AmountMinor: amountMinor,
			FeeMinor:    feeMinor,
			// BalanceAfter is the projected total once the debit confirms;
			// the lock itself leaves the total untouched.
			BalanceBeforeMinor: totalBefore,
			BalanceAfterMinor:  totalBefore - totalMinor,
			LockedBeforeMinor:  lockedBefore,
			LockedAfterMinor:   balance.LockedMinor,
			ToAddress:          meta.ToAddress,
			Description:        defaultDescription(meta.Description, capitalize(string(kind))+" of funds"),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if kind == models.KindWithdrawal && s.scheduleWithdrawal != nil {
		s.scheduleWithdrawal(txn)
	}

	s.logger.Info().
		Int64("transaction_id", txn.ID).
		Str("uuid", txn.UUID).
		Int64("user_id", userID).
		Str("currency", currency).
		Str("kind", string(kind)).
		Int64("locked_minor", totalMinor).
		Msg("Debit locked")

	return txn, nil
}

// ConfirmDebit converts a pending debit's lock into a real deduction and
// completes the transaction. Idempotent: a second call on a terminal
// transaction returns the stored row unchanged.
func (s *LedgerService) ConfirmDebit(ctx context.Context, transactionID int64) (*models.Transaction, error) {
	return s.finalize(ctx, transactionID, func(ctx context.Context, txn *models.Transaction) (models.TransactionStatus, TransitionExtra, error) {
		total := txn.TotalMinor()
		if _, err := s.balances.Unlock(ctx, txn.BalanceID, total); err != nil {
			return "", TransitionExtra{}, err
		}
		if _, err := s.balances.DecreaseTotal(ctx, txn.BalanceID, total); err != nil {
			return "", TransitionExtra{}, err
		}
		now := time.Now()
		return models.StatusCompleted, TransitionExtra{ConfirmedAt: &now}, nil
	})
}

// CancelDebit releases a pending debit's lock without touching the total:
// the funds return to the available balance. Idempotent.
func (s *LedgerService) CancelDebit(ctx context.Context, transactionID int64, reason string) (*models.Transaction, error) {
	return s.finalize(ctx, transactionID, func(ctx context.Context, txn *models.Transaction) (models.TransactionStatus, TransitionExtra, error) {
		if _, err := s.balances.Unlock(ctx, txn.BalanceID, txn.TotalMinor()); err != nil {
			return "", TransitionExtra{}, err
		}
		return models.StatusFailed, TransitionExtra{Reason: reason}, nil
	})
}

// ConfirmCredit completes a pending credit. The total was already applied
// when the credit was created, so only the status changes. Idempotent.
func (s *LedgerService) ConfirmCredit(ctx context.Context, transactionID int64) (*models.Transaction, error) {
	return s.finalize(ctx, transactionID, func(ctx context.Context, txn *models.Transaction) (models.TransactionStatus, TransitionExtra, error) {
		now := time.Now()
		return models.StatusCompleted, TransitionExtra{ConfirmedAt: &now}, nil
	})
}

// FailCredit rolls back the speculative credit and fails the transaction.
// Idempotent.
func (s *LedgerService) FailCredit(ctx context.Context, transactionID int64, reason string) (*models.Transaction, error) {
	return s.finalize(ctx, transactionID, func(ctx context.Context, txn *models.Transaction) (models.TransactionStatus, TransitionExtra, error) {
		if _, err := s.balances.DecreaseTotal(ctx, txn.BalanceID, txn.AmountMinor); err != nil {
			return "", TransitionExtra{}, err
		}
		return models.StatusFailed, TransitionExtra{Reason: reason}, nil
	})
}

// finalize runs one idempotent terminal transition under the pair mutex.
// fn applies the balance effect and names the terminal state; it runs only
// when the transaction is still pending. The balance effect and the status
// transition commit as one unit: a redelivery after a failed attempt finds
// the transaction still pending and the balance untouched.
func (s *LedgerService) finalize(ctx context.Context, transactionID int64, fn func(ctx context.Context, txn *models.Transaction) (models.TransactionStatus, TransitionExtra, error)) (*models.Transaction, error) {
	txn, err := s.journal.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	mu := s.pairMutex(txn.UserID, txn.Currency)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the mutex; another path may have finalized meanwhile.
	txn, err = s.journal.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Terminal() {
		return txn, nil
	}

	var updated *models.Transaction
	err = s.unit.Atomically(ctx, func(ctx context.Context) error {
		newStatus, extra, err := fn(ctx, txn)
		if err != nil {
			return err
		}
		updated, err = s.journal.TransitionTo(ctx, transactionID, newStatus, extra)
		return err
	})
	// A terminal row inside the unit means another path won the race; the
	// rollback discards fn's balance effect and the stored row stands.
	if errors.Is(err, ErrInvalidTransition) {
		return updated, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("transaction_id", updated.ID).
		Str("kind", string(updated.Kind)).
		Str("status", string(updated.Status)).
		Msg("Transaction finalized")

	return updated, nil
}

// GetBalance returns the stored balance, or a zeroed one when the pair has
// never been credited.
func (s *LedgerService) GetBalance(ctx context.Context, userID int64, currency string) (*models.Balance, error) {
	if _, ok := s.currencies[currency]; !ok {
		return nil, ErrUnsupportedCurrency
	}

	balance, err := s.balances.Get(ctx, userID, currency)
	if errors.Is(err, ErrBalanceNotFound) {
		return &models.Balance{UserID: userID, Currency: currency}, nil
	}
	return balance, err
}

// GetTransaction looks a transaction up by its external identifier.
func (s *LedgerService) GetTransaction(ctx context.Context, uuid string) (*models.Transaction, error) {
	return s.journal.GetByUUID(ctx, uuid)
}

// ListTransactions returns a user's journal, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error) {
	return s.journal.ListByUser(ctx, userID, limit, offset)
}

// Decimals returns the minor-unit decimal places of a configured currency.
func (s *LedgerService) Decimals(currency string) int32 {
	if params, ok := s.currencies[currency]; ok {
		return params.Decimals
	}
	return 0
}

func (s *LedgerService) feeMinor(fee string, decimals int32) (int64, error) {
	if fee == "" {
		return 0, nil
	}
	feeMinor, err := money.ToMinorUnits(fee, decimals)
	if err != nil {
		return 0, err
	}
	return feeMinor, nil
}

func (s *LedgerService) checkWithdrawalLimits(amountMinor int64, params config.CurrencyParams) error {
	if params.MinWithdrawal != "" {
		if minMinor, err := money.ToMinorUnits(params.MinWithdrawal, params.Decimals); err == nil && amountMinor < minMinor {
			return ErrWithdrawalOutOfRange
		}
	}
	if params.MaxWithdrawal != "" {
		// A maximum that does not fit in minor units cannot be exceeded by
		// an amount that does.
		if maxMinor, err := money.ToMinorUnits(params.MaxWithdrawal, params.Decimals); err == nil && amountMinor > maxMinor {
			return ErrWithdrawalOutOfRange
		}
	}
	return nil
}

func isDebitKind(kind models.TransactionKind) bool {
	for _, k := range models.DebitKinds {
		if kind == k {
			return true
		}
	}
	return false
}

func defaultDescription(description, fallback string) string {
	if description != "" {
		return description
	}
	return fallback
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
