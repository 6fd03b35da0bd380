package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"crypto-ledger/internal/models"

	"github.com/rs/zerolog"
)

// TransitionExtra carries the optional fields written together with a
// status transition.
type TransitionExtra struct {
	Reason      string
	ConfirmedAt *time.Time
}

// TransactionJournal owns the immutable-once-terminal record of every
// credit and debit attempt.
type TransactionJournal interface {
	Create(ctx context.Context, txn *models.Transaction) (*models.Transaction, error)
	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	GetByUUID(ctx context.Context, uuid string) (*models.Transaction, error)

	// GetByHash finds the earliest transaction journaled for a chain hash
	// on one (user, currency) pair. Credit uses it to keep deposit
	// ingestion idempotent; a hash seen for a different account is a
	// distinct deposit, not a replay.
	GetByHash(ctx context.Context, userID int64, currency, hash string) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error)

	// TransitionTo moves a transaction to newStatus. If the current status
	// is already terminal it returns the stored row together with
	// ErrInvalidTransition; redelivered background jobs treat that as a
	// no-op rather than an error.
	TransitionTo(ctx context.Context, id int64, newStatus models.TransactionStatus, extra TransitionExtra) (*models.Transaction, error)

	// RecordConfirmations updates the confirmation counter of a
	// still-pending transaction. Terminal rows are left untouched.
	RecordConfirmations(ctx context.Context, id, confirmations int64) error

	// RecordHash stores the broadcast hash on a still-pending transaction.
	RecordHash(ctx context.Context, id int64, hash string) error
}

// SQLTransactionJournal implements TransactionJournal on MySQL.
type SQLTransactionJournal struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSQLTransactionJournal(db *sql.DB, logger zerolog.Logger) *SQLTransactionJournal {
	return &SQLTransactionJournal{
		db:     db,
		logger: logger,
	}
}

func (j *SQLTransactionJournal) q(ctx context.Context) querier {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return j.db
}

const transactionColumns = `id, uuid, user_id, balance_id, currency, kind, status,
	amount_minor, fee_minor,
	balance_before_minor, balance_after_minor, locked_before_minor, locked_after_minor,
	blockchain_tx_hash, from_address, to_address, description,
	confirmations, fail_reason, confirmed_at, created_at`

func (j *SQLTransactionJournal) Create(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	if txn.Status == "" {
		txn.Status = models.StatusPending
	}

	result, err := j.q(ctx).ExecContext(ctx,
		`INSERT INTO crypto_transactions
			(uuid, user_id, balance_id, currency, kind, status,
			amount_minor, fee_minor,
			balance_before_minor, balance_after_minor, locked_before_minor, locked_after_minor,
			blockchain_tx_hash, from_address, to_address, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.UUID, txn.UserID, txn.BalanceID, txn.Currency, string(txn.Kind), string(txn.Status),
		txn.AmountMinor, txn.FeeMinor,
		txn.BalanceBeforeMinor, txn.BalanceAfterMinor, txn.LockedBeforeMinor, txn.LockedAfterMinor,
		nullable(txn.TxHash), nullable(txn.FromAddress), nullable(txn.ToAddress), nullable(txn.Description),
	)
	if err != nil {
		j.logger.Error().Err(err).Str("uuid", txn.UUID).Msg("Error creating transaction")
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction ID: %w", err)
	}

	return j.GetByID(ctx, id)
}

func (j *SQLTransactionJournal) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	row := j.q(ctx).QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM crypto_transactions WHERE id = ?", id)
	return j.scanTransaction(row)
}

func (j *SQLTransactionJournal) GetByUUID(ctx context.Context, uuid string) (*models.Transaction, error) {
	row := j.q(ctx).QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM crypto_transactions WHERE uuid = ?", uuid)
	return j.scanTransaction(row)
}

func (j *SQLTransactionJournal) GetByHash(ctx context.Context, userID int64, currency, hash string) (*models.Transaction, error) {
	row := j.q(ctx).QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM crypto_transactions WHERE blockchain_tx_hash = ? AND user_id = ? AND currency = ? ORDER BY id LIMIT 1",
		hash, userID, currency)
	return j.scanTransaction(row)
}

func (j *SQLTransactionJournal) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error) {
	rows, err := j.q(ctx).QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM crypto_transactions WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?",
		userID, limit, offset,
	)
	if err != nil {
		j.logger.Error().Err(err).Int64("user_id", userID).Msg("Error listing transactions")
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		txn, err := j.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}

	return transactions, rows.Err()
}

func (j *SQLTransactionJournal) TransitionTo(ctx context.Context, id int64, newStatus models.TransactionStatus, extra TransitionExtra) (*models.Transaction, error) {
	if tx := txFrom(ctx); tx != nil {
		return j.transitionOn(ctx, tx, id, newStatus, extra)
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		j.logger.Error().Err(err).Msg("Error starting transition transaction")
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	txn, err := j.transitionOn(ctx, tx, id, newStatus, extra)
	if err != nil {
		return txn, err
	}

	if err = tx.Commit(); err != nil {
		j.logger.Error().Err(err).Msg("Error committing status transition")
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	return txn, nil
}

func (j *SQLTransactionJournal) transitionOn(ctx context.Context, tx *sql.Tx, id int64, newStatus models.TransactionStatus, extra TransitionExtra) (*models.Transaction, error) {
	var status string
	err := tx.QueryRowContext(ctx,
		"SELECT status FROM crypto_transactions WHERE id = ? FOR UPDATE", id,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}

	current := models.TransactionStatus(status)
	if current == models.StatusCompleted || current == models.StatusFailed {
		stored, getErr := j.scanTransaction(tx.QueryRowContext(ctx,
			"SELECT "+transactionColumns+" FROM crypto_transactions WHERE id = ?", id))
		if getErr != nil {
			return nil, getErr
		}
		return stored, ErrInvalidTransition
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE crypto_transactions SET status = ?, fail_reason = ?, confirmed_at = ? WHERE id = ?",
		string(newStatus), nullable(extra.Reason), extra.ConfirmedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction status: %w", err)
	}

	return j.scanTransaction(tx.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM crypto_transactions WHERE id = ?", id))
}

func (j *SQLTransactionJournal) RecordConfirmations(ctx context.Context, id, confirmations int64) error {
	_, err := j.q(ctx).ExecContext(ctx,
		"UPDATE crypto_transactions SET confirmations = ? WHERE id = ? AND status = ?",
		confirmations, id, string(models.StatusPending),
	)
	if err != nil {
		j.logger.Error().Err(err).Int64("transaction_id", id).Msg("Error recording confirmations")
		return fmt.Errorf("failed to record confirmations: %w", err)
	}
	return nil
}

func (j *SQLTransactionJournal) RecordHash(ctx context.Context, id int64, hash string) error {
	_, err := j.q(ctx).ExecContext(ctx,
		"UPDATE crypto_transactions SET blockchain_tx_hash = ? WHERE id = ? AND status = ?",
		hash, id, string(models.StatusPending),
	)
	if err != nil {
		j.logger.Error().Err(err).Int64("transaction_id", id).Msg("Error recording tx hash")
		return fmt.Errorf("failed to record tx hash: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (j *SQLTransactionJournal) scanTransaction(row rowScanner) (*models.Transaction, error) {
	var txn models.Transaction
	var kind, status string
	var txHash, fromAddr, toAddr, description, failReason sql.NullString
	var confirmedAt sql.NullTime

	err := row.Scan(
		&txn.ID, &txn.UUID, &txn.UserID, &txn.BalanceID, &txn.Currency, &kind, &status,
		&txn.AmountMinor, &txn.FeeMinor,
		&txn.BalanceBeforeMinor, &txn.BalanceAfterMinor, &txn.LockedBeforeMinor, &txn.LockedAfterMinor,
		&txHash, &fromAddr, &toAddr, &description,
		&txn.Confirmations, &failReason, &confirmedAt, &txn.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		j.logger.Error().Err(err).Msg("Error scanning transaction")
		return nil, fmt.Errorf("database error: %w", err)
	}

	txn.Kind = models.TransactionKind(kind)
	txn.Status = models.TransactionStatus(status)
	txn.TxHash = txHash.String
	txn.FromAddress = fromAddr.String
	txn.ToAddress = toAddr.String
	txn.Description = description.String
	txn.FailReason = failReason.String
	if confirmedAt.Valid {
		t := confirmedAt.Time
		txn.ConfirmedAt = &t
	}

	return &txn, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
