package services

import (
	"context"
	"database/sql"
	"fmt"

	"crypto-ledger/internal/models"

	"github.com/rs/zerolog"
)

// BalanceStore owns the durable (user, currency) -> {total, locked} record.
// Every mutation is one atomic read-modify-write; concurrent callers on the
// same balance serialize through row locking, different balances proceed
// independently.
type BalanceStore interface {
	GetOrCreate(ctx context.Context, userID int64, currency string) (*models.Balance, error)
	Get(ctx context.Context, userID int64, currency string) (*models.Balance, error)
	GetByID(ctx context.Context, balanceID int64) (*models.Balance, error)
	IncreaseTotal(ctx context.Context, balanceID, amount int64) (*models.Balance, error)
	DecreaseTotal(ctx context.Context, balanceID, amount int64) (*models.Balance, error)
	Lock(ctx context.Context, balanceID, amount int64) (*models.Balance, error)
	Unlock(ctx context.Context, balanceID, amount int64) (*models.Balance, error)
}

// SQLBalanceStore implements BalanceStore on MySQL using SELECT ... FOR
// UPDATE. Each mutation runs in its own transaction unless the context
// carries one from a UnitOfWork, in which case the mutation joins it and
// commits or rolls back with the rest of the unit.
type SQLBalanceStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSQLBalanceStore(db *sql.DB, logger zerolog.Logger) *SQLBalanceStore {
	return &SQLBalanceStore{
		db:     db,
		logger: logger,
	}
}

func (s *SQLBalanceStore) q(ctx context.Context) querier {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return s.db
}

func (s *SQLBalanceStore) GetOrCreate(ctx context.Context, userID int64, currency string) (*models.Balance, error) {
	balance, err := s.Get(ctx, userID, currency)
	if err == nil {
		return balance, nil
	}
	if err != ErrBalanceNotFound {
		return nil, err
	}

	_, err = s.q(ctx).ExecContext(ctx,
		"INSERT INTO crypto_balances (user_id, currency, total_minor, locked_minor) VALUES (?, ?, 0, 0)",
		userID, currency,
	)
	if err != nil {
		// A concurrent creator may have won the unique (user_id, currency)
		// key; the row exists either way.
		if existing, getErr := s.Get(ctx, userID, currency); getErr == nil {
			return existing, nil
		}
		s.logger.Error().Err(err).Int64("user_id", userID).Str("currency", currency).Msg("Error initializing balance")
		return nil, fmt.Errorf("failed to initialize balance: %w", err)
	}

	return s.Get(ctx, userID, currency)
}

func (s *SQLBalanceStore) Get(ctx context.Context, userID int64, currency string) (*models.Balance, error) {
	var balance models.Balance

	err := s.q(ctx).QueryRowContext(ctx,
		"SELECT id, user_id, currency, total_minor, locked_minor, updated_at FROM crypto_balances WHERE user_id = ? AND currency = ?",
		userID, currency,
	).Scan(&balance.ID, &balance.UserID, &balance.Currency, &balance.TotalMinor, &balance.LockedMinor, &balance.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Str("currency", currency).Msg("Error fetching balance")
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &balance, nil
}

func (s *SQLBalanceStore) GetByID(ctx context.Context, balanceID int64) (*models.Balance, error) {
	var balance models.Balance

	err := s.q(ctx).QueryRowContext(ctx,
		"SELECT id, user_id, currency, total_minor, locked_minor, updated_at FROM crypto_balances WHERE id = ?",
		balanceID,
	).Scan(&balance.ID, &balance.UserID, &balance.Currency, &balance.TotalMinor, &balance.LockedMinor, &balance.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("balance_id", balanceID).Msg("Error fetching balance")
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &balance, nil
}

func (s *SQLBalanceStore) IncreaseTotal(ctx context.Context, balanceID, amount int64) (*models.Balance, error) {
	return s.adjust(ctx, balanceID, func(total, locked int64) (int64, int64, error) {
		return total + amount, locked, nil
	})
}

func (s *SQLBalanceStore) DecreaseTotal(ctx context.Context, balanceID, amount int64) (*models.Balance, error) {
	return s.adjust(ctx, balanceID, func(total, locked int64) (int64, int64, error) {
		if total-amount < locked {
			return 0, 0, ErrInsufficientBalance
		}
		return total - amount, locked, nil
	})
}

func (s *SQLBalanceStore) Lock(ctx context.Context, balanceID, amount int64) (*models.Balance, error) {
	return s.adjust(ctx, balanceID, func(total, locked int64) (int64, int64, error) {
		if amount > total-locked {
			return 0, 0, ErrInsufficientFunds
		}
		return total, locked + amount, nil
	})
}

func (s *SQLBalanceStore) Unlock(ctx context.Context, balanceID, amount int64) (*models.Balance, error) {
	return s.adjust(ctx, balanceID, func(total, locked int64) (int64, int64, error) {
		if locked-amount < 0 {
			s.logger.Error().
				Int64("balance_id", balanceID).
				Int64("locked_minor", locked).
				Int64("unlock_minor", amount).
				Bool("alert", true).
				Msg("Unlock would drive locked balance negative")
			return 0, 0, ErrInvariantViolation
		}
		return total, locked - amount, nil
	})
}

// adjust applies fn to the current (total, locked) pair under a row lock
// and persists the result. fn returning an error aborts the transaction
// with the balance unchanged. With a UnitOfWork transaction in the context
// the row stays locked and uncommitted until the whole unit commits.
func (s *SQLBalanceStore) adjust(ctx context.Context, balanceID int64, fn func(total, locked int64) (int64, int64, error)) (*models.Balance, error) {
	if tx := txFrom(ctx); tx != nil {
		return s.adjustOn(ctx, tx, balanceID, fn)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Error starting balance transaction")
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	balance, err := s.adjustOn(ctx, tx, balanceID, fn)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		s.logger.Error().Err(err).Msg("Error committing balance update")
		return nil, fmt.Errorf("failed to commit balance update: %w", err)
	}

	return balance, nil
}

func (s *SQLBalanceStore) adjustOn(ctx context.Context, tx *sql.Tx, balanceID int64, fn func(total, locked int64) (int64, int64, error)) (*models.Balance, error) {
	var balance models.Balance
	err := tx.QueryRowContext(ctx,
		"SELECT id, user_id, currency, total_minor, locked_minor, updated_at FROM crypto_balances WHERE id = ? FOR UPDATE",
		balanceID,
	).Scan(&balance.ID, &balance.UserID, &balance.Currency, &balance.TotalMinor, &balance.LockedMinor, &balance.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}

	newTotal, newLocked, err := fn(balance.TotalMinor, balance.LockedMinor)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE crypto_balances SET total_minor = ?, locked_minor = ? WHERE id = ?",
		newTotal, newLocked, balanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	balance.TotalMinor = newTotal
	balance.LockedMinor = newLocked
	return &balance, nil
}
