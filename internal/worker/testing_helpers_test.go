package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"crypto-ledger/internal/blockchain"
	"crypto-ledger/internal/models"
)

// fakeJournal holds a single transaction and mimics the journal's
// pending-only write guards.
type fakeJournal struct {
	mu      sync.Mutex
	txn     *models.Transaction
	loadErr error

	recordedConfirmations []int64
	recordedHashes        []string
}

func newFakeJournal(txn *models.Transaction) *fakeJournal {
	return &fakeJournal{txn: txn}
}

func (j *fakeJournal) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.loadErr != nil {
		return nil, j.loadErr
	}
	if j.txn == nil || j.txn.ID != id {
		return nil, errors.New("transaction not found")
	}
	c := *j.txn
	return &c, nil
}

func (j *fakeJournal) RecordConfirmations(ctx context.Context, id, confirmations int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.recordedConfirmations = append(j.recordedConfirmations, confirmations)
	if j.txn.Status == models.StatusPending {
		j.txn.Confirmations = confirmations
	}
	return nil
}

func (j *fakeJournal) RecordHash(ctx context.Context, id int64, hash string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.recordedHashes = append(j.recordedHashes, hash)
	if j.txn.Status == models.StatusPending {
		j.txn.TxHash = hash
	}
	return nil
}

func (j *fakeJournal) setStatus(status models.TransactionStatus, reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.txn.Status == models.StatusPending {
		j.txn.Status = status
		j.txn.FailReason = reason
	}
}

// fakeLedger records finalizer calls and flips the journaled transaction to
// its terminal state, like the real ledger does.
type fakeLedger struct {
	journal *fakeJournal

	confirmedCredits int
	failedCredits    int
	confirmedDebits  int
	cancelledDebits  int
	reasons          []string
	err              error
}

func (l *fakeLedger) ConfirmCredit(ctx context.Context, id int64) (*models.Transaction, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.confirmedCredits++
	l.journal.setStatus(models.StatusCompleted, "")
	return l.journal.GetByID(ctx, id)
}

func (l *fakeLedger) FailCredit(ctx context.Context, id int64, reason string) (*models.Transaction, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.failedCredits++
	l.reasons = append(l.reasons, reason)
	l.journal.setStatus(models.StatusFailed, reason)
	return l.journal.GetByID(ctx, id)
}

func (l *fakeLedger) ConfirmDebit(ctx context.Context, id int64) (*models.Transaction, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.confirmedDebits++
	l.journal.setStatus(models.StatusCompleted, "")
	return l.journal.GetByID(ctx, id)
}

func (l *fakeLedger) CancelDebit(ctx context.Context, id int64, reason string) (*models.Transaction, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.cancelledDebits++
	l.reasons = append(l.reasons, reason)
	l.journal.setStatus(models.StatusFailed, reason)
	return l.journal.GetByID(ctx, id)
}

type oracleAnswer struct {
	status blockchain.TxStatus
	err    error
}

// scriptedOracle returns its answers in order, repeating the last one.
type scriptedOracle struct {
	answers []oracleAnswer
	calls   int
}

func (o *scriptedOracle) CheckTransactionStatus(ctx context.Context, hash string) (blockchain.TxStatus, error) {
	i := o.calls
	if i >= len(o.answers) {
		i = len(o.answers) - 1
	}
	o.calls++
	answer := o.answers[i]
	return answer.status, answer.err
}

type scriptedBroadcaster struct {
	hashes []string
	errs   []error
	calls  int

	sentTo       []string
	sentAmounts  []string
	sentCurrency []string
}

func (b *scriptedBroadcaster) SendTransaction(ctx context.Context, toAddress, amount, currency string) (string, error) {
	i := b.calls
	b.calls++
	b.sentTo = append(b.sentTo, toAddress)
	b.sentAmounts = append(b.sentAmounts, amount)
	b.sentCurrency = append(b.sentCurrency, currency)

	if i < len(b.errs) && b.errs[i] != nil {
		return "", b.errs[i]
	}
	if i < len(b.hashes) {
		return b.hashes[i], nil
	}
	return "", errors.New("script exhausted")
}

func pendingCredit(id int64, hash string) *models.Transaction {
	return &models.Transaction{
		ID:          id,
		UUID:        "test-uuid",
		UserID:      1,
		BalanceID:   1,
		Currency:    "BTC",
		Kind:        models.KindCredit,
		Status:      models.StatusPending,
		AmountMinor: 100000000,
		TxHash:      hash,
		CreatedAt:   time.Now(),
	}
}

func pendingWithdrawal(id int64) *models.Transaction {
	return &models.Transaction{
		ID:          id,
		UUID:        "test-uuid",
		UserID:      1,
		BalanceID:   1,
		Currency:    "BTC",
		Kind:        models.KindWithdrawal,
		Status:      models.StatusPending,
		AmountMinor: 50000000,
		FeeMinor:    50000,
		ToAddress:   "bc1qtest",
		CreatedAt:   time.Now(),
	}
}

// runUntilDone invokes the task the way the scheduler would, without the
// delays, and returns the number of attempts consumed.
func runUntilDone(task Task, policy RetryPolicy) int {
	for attempt := 1; ; attempt++ {
		retry := task.Invoke(context.Background(), attempt)
		if !retry || attempt >= policy.MaxAttempts {
			return attempt
		}
	}
}
