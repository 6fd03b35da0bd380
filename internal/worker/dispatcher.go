package worker

import (
	"context"
	"fmt"

	"crypto-ledger/internal/blockchain"
	"crypto-ledger/internal/models"
	"crypto-ledger/internal/money"

	"github.com/rs/zerolog"
)

// WithdrawalDispatcher broadcasts one pending withdrawal to the network and
// reports the outcome back to the ledger: confirm on success, retry or
// cancel on failure.
type WithdrawalDispatcher struct {
	transactionID int64
	decimals      int32
	policy        RetryPolicy

	journal     transactionReader
	ledger      ledgerFinalizer
	broadcaster blockchain.Broadcaster
	logger      zerolog.Logger
}

func NewWithdrawalDispatcher(
	transactionID int64,
	decimals int32,
	policy RetryPolicy,
	journal transactionReader,
	ledger ledgerFinalizer,
	broadcaster blockchain.Broadcaster,
	logger zerolog.Logger,
) *WithdrawalDispatcher {
	return &WithdrawalDispatcher{
		transactionID: transactionID,
		decimals:      decimals,
		policy:        policy,
		journal:       journal,
		ledger:        ledger,
		broadcaster:   broadcaster,
		logger:        logger,
	}
}

func (d *WithdrawalDispatcher) Name() string {
	return fmt.Sprintf("process-withdrawal:%d", d.transactionID)
}

func (d *WithdrawalDispatcher) Invoke(ctx context.Context, attempt int) bool {
	txn, err := d.journal.GetByID(ctx, d.transactionID)
	if err != nil {
		d.logger.Error().Err(err).Int64("transaction_id", d.transactionID).Msg("Failed to load withdrawal")
		return attempt < d.policy.MaxAttempts
	}

	if txn.Status != models.StatusPending {
		return false
	}

	amount := money.ToDecimalString(txn.AmountMinor, d.decimals)
	hash, err := d.broadcaster.SendTransaction(ctx, txn.ToAddress, amount, txn.Currency)
	if err != nil {
		d.logger.Error().Err(err).
			Int64("transaction_id", txn.ID).
			Int("attempt", attempt).
			Msg("Withdrawal broadcast failed")

		if attempt >= d.policy.MaxAttempts {
			if _, cancelErr := d.ledger.CancelDebit(ctx, txn.ID, err.Error()); cancelErr != nil {
				d.logger.Error().Err(cancelErr).Int64("transaction_id", txn.ID).Bool("alert", true).
					Msg("Failed to cancel withdrawal after exhausting attempts")
			}
			return false
		}
		return true
	}

	if err := d.journal.RecordHash(ctx, txn.ID, hash); err != nil {
		d.logger.Warn().Err(err).Int64("transaction_id", txn.ID).Msg("Failed to record broadcast hash")
	}

	if _, err := d.ledger.ConfirmDebit(ctx, txn.ID); err != nil {
		d.logger.Error().Err(err).Int64("transaction_id", txn.ID).Msg("Failed to confirm withdrawal")
		return attempt < d.policy.MaxAttempts
	}

	d.logger.Info().
		Int64("transaction_id", txn.ID).
		Str("hash", hash).
		Msg("Withdrawal confirmed")
	return false
}
