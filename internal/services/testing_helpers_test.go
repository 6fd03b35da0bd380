package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crypto-ledger/internal/config"
	"crypto-ledger/internal/models"
)

// In-memory BalanceStore and TransactionJournal with the same atomicity
// and validation behavior as the SQL implementations, so the ledger's
// arithmetic and state machine can be exercised without a database.

type memBalanceStore struct {
	mu    sync.Mutex
	seq   int64
	rows  map[int64]*models.Balance
	index map[string]int64
}

func newMemBalanceStore() *memBalanceStore {
	return &memBalanceStore{
		rows:  make(map[int64]*models.Balance),
		index: make(map[string]int64),
	}
}

func pairKey(userID int64, currency string) string {
	return fmt.Sprintf("%d:%s", userID, currency)
}

func (m *memBalanceStore) GetOrCreate(ctx context.Context, userID int64, currency string) (*models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.index[pairKey(userID, currency)]; ok {
		return copyBalance(m.rows[id]), nil
	}

	m.seq++
	balance := &models.Balance{
		ID:        m.seq,
		UserID:    userID,
		Currency:  currency,
		UpdatedAt: time.Now(),
	}
	m.rows[balance.ID] = balance
	m.index[pairKey(userID, currency)] = balance.ID
	return copyBalance(balance), nil
}

func (m *memBalanceStore) Get(ctx context.Context, userID int64, currency string) (*models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.index[pairKey(userID, currency)]
	if !ok {
		return nil, ErrBalanceNotFound
	}
	return copyBalance(m.rows[id]), nil
}

func (m *memBalanceStore) GetByID(ctx context.Context, balanceID int64) (*models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.rows[balanceID]
	if !ok {
		return nil, ErrBalanceNotFound
	}
	return copyBalance(balance), nil
}

func (m *memBalanceStore) IncreaseTotal(ctx context.Context, balanceID, amount int64) (*models.Balance, error) {
	return m.adjust(balanceID, func(total, locked int64) (int64, int64, error) {
		return total + amount, locked, nil
	})
}

func (m *memBalanceStore) DecreaseTotal(ctx context.Context, balanceID, amount int64) (*models.Balance, error) {
	return m.adjust(balanceID, func(total, locked int64) (int64, int64, error) {
		if total-amount < locked {
			return 0, 0, ErrInsufficientBalance
		}
		return total - amount, locked, nil
	})
}

func (m *memBalanceStore) Lock(ctx context.Context, balanceID, amount int64) (*models.Balance, error) {
	return m.adjust(balanceID, func(total, locked int64) (int64, int64, error) {
		if amount > total-locked {
			return 0, 0, ErrInsufficientFunds
		}
		return total, locked + amount, nil
	})
}

func (m *memBalanceStore) Unlock(ctx context.Context, balanceID, amount int64) (*models.Balance, error) {
	return m.adjust(balanceID, func(total, locked int64) (int64, int64, error) {
		if locked-amount < 0 {
			return 0, 0, ErrInvariantViolation
		}
		return total, locked - amount, nil
	})
}

func (m *memBalanceStore) adjust(balanceID int64, fn func(total, locked int64) (int64, int64, error)) (*models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.rows[balanceID]
	if !ok {
		return nil, ErrBalanceNotFound
	}

	newTotal, newLocked, err := fn(balance.TotalMinor, balance.LockedMinor)
	if err != nil {
		return nil, err
	}

	balance.TotalMinor = newTotal
	balance.LockedMinor = newLocked
	balance.UpdatedAt = time.Now()
	return copyBalance(balance), nil
}

// snapshot captures the store's state and returns a closure that restores
// it, mirroring a rolled-back SQL transaction.
func (m *memBalanceStore) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := m.seq
	rows := make(map[int64]*models.Balance, len(m.rows))
	for id, b := range m.rows {
		rows[id] = copyBalance(b)
	}
	index := make(map[string]int64, len(m.index))
	for k, v := range m.index {
		index[k] = v
	}

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.seq, m.rows, m.index = seq, rows, index
	}
}

func copyBalance(b *models.Balance) *models.Balance {
	c := *b
	return &c
}

type memJournal struct {
	mu   sync.Mutex
	seq  int64
	rows map[int64]*models.Transaction

	// One-shot fault injection for exercising redelivery paths.
	failNextCreates     int
	failNextTransitions int
}

func newMemJournal() *memJournal {
	return &memJournal{rows: make(map[int64]*models.Transaction)}
}

func (m *memJournal) Create(ctx context.Context, txn *models.Transaction) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNextCreates > 0 {
		m.failNextCreates--
		return nil, fmt.Errorf("failed to create transaction: connection reset")
	}

	m.seq++
	stored := *txn
	stored.ID = m.seq
	if stored.Status == "" {
		stored.Status = models.StatusPending
	}
	stored.CreatedAt = time.Now()
	m.rows[stored.ID] = &stored
	return copyTransaction(&stored), nil
}

func (m *memJournal) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.rows[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return copyTransaction(txn), nil
}

func (m *memJournal) GetByUUID(ctx context.Context, uuid string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, txn := range m.rows {
		if txn.UUID == uuid {
			return copyTransaction(txn), nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (m *memJournal) GetByHash(ctx context.Context, userID int64, currency, hash string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := int64(1); id <= m.seq; id++ {
		txn, ok := m.rows[id]
		if ok && txn.TxHash == hash && txn.UserID == userID && txn.Currency == currency {
			return copyTransaction(txn), nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (m *memJournal) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Transaction
	for id := m.seq; id >= 1 && len(out) < limit; id-- {
		txn, ok := m.rows[id]
		if !ok || txn.UserID != userID {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		out = append(out, copyTransaction(txn))
	}
	return out, nil
}

func (m *memJournal) TransitionTo(ctx context.Context, id int64, newStatus models.TransactionStatus, extra TransitionExtra) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.rows[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if txn.Terminal() {
		return copyTransaction(txn), ErrInvalidTransition
	}

	if m.failNextTransitions > 0 {
		m.failNextTransitions--
		return nil, fmt.Errorf("failed to commit transition: connection reset")
	}

	txn.Status = newStatus
	txn.FailReason = extra.Reason
	txn.ConfirmedAt = extra.ConfirmedAt
	return copyTransaction(txn), nil
}

func (m *memJournal) RecordConfirmations(ctx context.Context, id, confirmations int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn, ok := m.rows[id]; ok && txn.Status == models.StatusPending {
		txn.Confirmations = confirmations
	}
	return nil
}

func (m *memJournal) RecordHash(ctx context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn, ok := m.rows[id]; ok && txn.Status == models.StatusPending {
		txn.TxHash = hash
	}
	return nil
}

func (m *memJournal) snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := m.seq
	rows := make(map[int64]*models.Transaction, len(m.rows))
	for id, t := range m.rows {
		rows[id] = copyTransaction(t)
	}

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.seq, m.rows = seq, rows
	}
}

// memUnit gives the in-memory stores the same all-or-nothing behavior as
// SQLUnitOfWork: on error every mutation made inside fn is rolled back.
type memUnit struct {
	store   *memBalanceStore
	journal *memJournal
}

func (u *memUnit) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	restoreStore := u.store.snapshot()
	restoreJournal := u.journal.snapshot()

	if err := fn(ctx); err != nil {
		restoreJournal()
		restoreStore()
		return err
	}
	return nil
}

func copyTransaction(t *models.Transaction) *models.Transaction {
	c := *t
	if t.ConfirmedAt != nil {
		ts := *t.ConfirmedAt
		c.ConfirmedAt = &ts
	}
	return &c
}

func testCurrencies() map[string]config.CurrencyParams {
	return map[string]config.CurrencyParams{
		"BTC": {
			Name:          "Bitcoin",
			Decimals:      8,
			MinWithdrawal: "0.001",
			MaxWithdrawal: "10",
			Confirmations: 3,
			Fee:           "0.0005",
		},
		"USDT": {
			Name:          "Tether USD",
			Decimals:      6,
			MinWithdrawal: "10",
			MaxWithdrawal: "10000",
			Confirmations: 12,
			Fee:           "5",
		},
	}
}
