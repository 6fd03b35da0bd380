package models

import "time"

type TransactionKind string

const (
	KindCredit     TransactionKind = "credit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindPayment    TransactionKind = "payment"
	KindFee        TransactionKind = "fee"
)

// DebitKinds are the kinds accepted by LedgerService.Debit.
var DebitKinds = []TransactionKind{KindWithdrawal, KindPayment, KindFee}

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Transaction is one journaled credit or debit attempt. Identity fields are
// immutable; once the status reaches completed or failed no field but audit
// metadata may change.
type Transaction struct {
	ID        int64             `json:"id"`
	UUID      string            `json:"uuid"`
	UserID    int64             `json:"user_id"`
	BalanceID int64             `json:"balance_id"`
	Currency  string            `json:"currency"`
	Kind      TransactionKind   `json:"kind"`
	Status    TransactionStatus `json:"status"`

	AmountMinor int64 `json:"amount_minor"`
	FeeMinor    int64 `json:"fee_minor"`

	// Balance snapshots captured when the operation was applied. For audit,
	// never for replay.
	BalanceBeforeMinor int64 `json:"balance_before_minor"`
	BalanceAfterMinor  int64 `json:"balance_after_minor"`
	LockedBeforeMinor  int64 `json:"locked_before_minor"`
	LockedAfterMinor   int64 `json:"locked_after_minor"`

	TxHash        string     `json:"blockchain_tx_hash,omitempty"`
	FromAddress   string     `json:"from_address,omitempty"`
	ToAddress     string     `json:"to_address,omitempty"`
	Description   string     `json:"description,omitempty"`
	Confirmations int64      `json:"confirmations"`
	FailReason    string     `json:"fail_reason,omitempty"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Terminal reports whether the transaction has reached its final state.
func (t *Transaction) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// TotalMinor is the full amount a debit reserves: amount plus fee.
func (t *Transaction) TotalMinor() int64 {
	return t.AmountMinor + t.FeeMinor
}

// TransactionMeta carries the optional caller-supplied fields of a credit
// or debit. Fee is a decimal string in major units, like the amount itself.
type TransactionMeta struct {
	TxHash      string
	FromAddress string
	ToAddress   string
	Description string
	Fee         string
	Instant     bool
}

type CreditRequest struct {
	Currency    string `json:"currency"`
	Amount      string `json:"amount"`
	TxHash      string `json:"tx_hash,omitempty"`
	FromAddress string `json:"from_address,omitempty"`
	Description string `json:"description,omitempty"`
	Fee         string `json:"fee,omitempty"`
	Instant     bool   `json:"instant,omitempty"`
}

type DebitRequest struct {
	Currency    string `json:"currency"`
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	ToAddress   string `json:"to_address,omitempty"`
	Description string `json:"description,omitempty"`
	Fee         string `json:"fee,omitempty"`
}

// TransactionResponse is the HTTP shape of a created transaction.
type TransactionResponse struct {
	ID     int64  `json:"id"`
	UUID   string `json:"uuid"`
	Amount string `json:"amount"`
	Fee    string `json:"fee"`
	Status string `json:"status"`
}
