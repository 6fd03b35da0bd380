// Package blockchain talks to the chain node. The rest of the system treats
// it as an oracle: it answers "what happened to this hash" and broadcasts
// withdrawals, nothing more.
package blockchain

import (
	"context"
	"errors"
)

type StatusTag string

const (
	StatusPending   StatusTag = "pending"
	StatusConfirmed StatusTag = "confirmed"
)

// TxStatus is the oracle's answer for one transaction hash. Success is only
// meaningful once Status is confirmed.
type TxStatus struct {
	Status        StatusTag `json:"status"`
	Confirmations int64     `json:"confirmations"`
	BlockNumber   int64     `json:"block_number,omitempty"`
	Success       bool      `json:"success,omitempty"`
}

// Oracle reports the chain-side status of a transaction. Implementations
// must degrade to {pending, 0} on transport errors instead of propagating
// them: an unreachable node never means the money failed.
type Oracle interface {
	CheckTransactionStatus(ctx context.Context, hash string) (TxStatus, error)
}

// Broadcaster performs the act of sending a withdrawal to the network.
type Broadcaster interface {
	SendTransaction(ctx context.Context, toAddress, amount, currency string) (hash string, err error)
}

// ErrUnavailable wraps transport-level failures. Callers treat it as
// retryable, never as a confirmed on-chain failure.
var ErrUnavailable = errors.New("blockchain node unavailable")
