package worker

import (
	"context"
	"fmt"

	"crypto-ledger/internal/blockchain"
	"crypto-ledger/internal/models"

	"github.com/rs/zerolog"
)

// ledgerFinalizer is the slice of LedgerService the background tasks drive.
// Every method is idempotent on the ledger side.
type ledgerFinalizer interface {
	ConfirmCredit(ctx context.Context, transactionID int64) (*models.Transaction, error)
	FailCredit(ctx context.Context, transactionID int64, reason string) (*models.Transaction, error)
	ConfirmDebit(ctx context.Context, transactionID int64) (*models.Transaction, error)
	CancelDebit(ctx context.Context, transactionID int64, reason string) (*models.Transaction, error)
}

// transactionReader is the slice of the journal the tasks need.
type transactionReader interface {
	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	RecordConfirmations(ctx context.Context, id, confirmations int64) error
	RecordHash(ctx context.Context, id int64, hash string) error
}

// ConfirmationReconciler polls the oracle about one pending transaction's
// hash and drives the ledger to confirm, fail, or try again later. The
// required confirmation depth is captured at schedule time; it feeds the
// failure reason, while the oracle's own depth threshold stays
// authoritative for what counts as confirmed.
type ConfirmationReconciler struct {
	transactionID int64
	required      int64
	policy        RetryPolicy

	journal transactionReader
	ledger  ledgerFinalizer
	oracle  blockchain.Oracle
	logger  zerolog.Logger
}

func NewConfirmationReconciler(
	transactionID int64,
	required int64,
	policy RetryPolicy,
	journal transactionReader,
	ledger ledgerFinalizer,
	oracle blockchain.Oracle,
	logger zerolog.Logger,
) *ConfirmationReconciler {
	return &ConfirmationReconciler{
		transactionID: transactionID,
		required:      required,
		policy:        policy,
		journal:       journal,
		ledger:        ledger,
		oracle:        oracle,
		logger:        logger,
	}
}

func (r *ConfirmationReconciler) Name() string {
	return fmt.Sprintf("confirmation-check:%d", r.transactionID)
}

func (r *ConfirmationReconciler) Invoke(ctx context.Context, attempt int) bool {
	txn, err := r.journal.GetByID(ctx, r.transactionID)
	if err != nil {
		r.logger.Error().Err(err).Int64("transaction_id", r.transactionID).Msg("Failed to load transaction")
		return attempt < r.policy.MaxAttempts
	}

	// Another path may have resolved the transaction already.
	if txn.Status != models.StatusPending {
		r.logger.Info().
			Int64("transaction_id", txn.ID).
			Str("status", string(txn.Status)).
			Msg("Transaction already processed")
		return false
	}

	// No hash means an internal operation with nothing to reconcile
	// against the chain.
	if txn.TxHash == "" {
		if txn.Kind == models.KindCredit {
			if _, err := r.ledger.ConfirmCredit(ctx, txn.ID); err != nil {
				r.logger.Error().Err(err).Int64("transaction_id", txn.ID).Msg("Failed to confirm internal credit")
				return attempt < r.policy.MaxAttempts
			}
		}
		return false
	}

	status, err := r.oracle.CheckTransactionStatus(ctx, txn.TxHash)
	if err != nil {
		// An unreachable oracle is never a confirmed failure; treat it
		// like a still-pending answer, but do not persist the zero count
		// over a previously observed one.
		r.logger.Warn().Err(err).Int64("transaction_id", txn.ID).Msg("Oracle query failed")
		status = blockchain.TxStatus{Status: blockchain.StatusPending}
	} else if recErr := r.journal.RecordConfirmations(ctx, txn.ID, status.Confirmations); recErr != nil {
		r.logger.Warn().Err(recErr).Int64("transaction_id", txn.ID).Msg("Failed to record confirmation count")
	}

	r.logger.Debug().
		Int64("transaction_id", txn.ID).
		Str("hash", txn.TxHash).
		Str("status", string(status.Status)).
		Int64("confirmations", status.Confirmations).
		Msg("Blockchain status check")

	switch {
	case status.Status == blockchain.StatusConfirmed && status.Success:
		if err := r.confirm(ctx, txn); err != nil {
			r.logger.Error().Err(err).Int64("transaction_id", txn.ID).Msg("Failed to confirm transaction")
			return attempt < r.policy.MaxAttempts
		}
		r.logger.Info().
			Int64("transaction_id", txn.ID).
			Int64("confirmations", status.Confirmations).
			Msg("Transaction confirmed")
		return false

	case status.Status == blockchain.StatusConfirmed && !status.Success:
		if err := r.fail(ctx, txn, "blockchain transaction failed"); err != nil {
			r.logger.Error().Err(err).Int64("transaction_id", txn.ID).Msg("Failed to fail transaction")
			return attempt < r.policy.MaxAttempts
		}
		r.logger.Error().Int64("transaction_id", txn.ID).Msg("Transaction failed in blockchain")
		return false

	default:
		if attempt < r.policy.MaxAttempts {
			r.logger.Info().
				Int64("transaction_id", txn.ID).
				Int64("current", status.Confirmations).
				Int64("required", r.required).
				Int("attempt", attempt).
				Msg("Waiting for confirmations")
			return true
		}

		reason := fmt.Sprintf(
			"max confirmation check attempts exceeded: observed %d of %d required confirmations",
			status.Confirmations, r.required,
		)
		if err := r.fail(ctx, txn, reason); err != nil {
			r.logger.Error().Err(err).Int64("transaction_id", txn.ID).Bool("alert", true).
				Msg("Failed to terminate transaction after exhausting attempts")
			return false
		}
		r.logger.Error().
			Int64("transaction_id", txn.ID).
			Int("attempts", attempt).
			Msg("Max confirmation attempts exceeded")
		return false
	}
}

func (r *ConfirmationReconciler) confirm(ctx context.Context, txn *models.Transaction) error {
	if txn.Kind == models.KindCredit {
		_, err := r.ledger.ConfirmCredit(ctx, txn.ID)
		return err
	}
	_, err := r.ledger.ConfirmDebit(ctx, txn.ID)
	return err
}

func (r *ConfirmationReconciler) fail(ctx context.Context, txn *models.Transaction, reason string) error {
	if txn.Kind == models.KindCredit {
		_, err := r.ledger.FailCredit(ctx, txn.ID, reason)
		return err
	}
	_, err := r.ledger.CancelDebit(ctx, txn.ID, reason)
	return err
}
