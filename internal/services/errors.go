package services

import "errors"

var (
	// ErrUnsupportedCurrency is returned when no parameters are configured
	// for the requested currency.
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrInvalidTransactionKind is returned by Debit for kinds outside
	// withdrawal, payment and fee.
	ErrInvalidTransactionKind = errors.New("invalid transaction kind")

	// ErrBalanceNotFound is returned by Debit when the user holds no
	// balance in the requested currency. Credits create the row lazily.
	ErrBalanceNotFound = errors.New("balance not found")

	// ErrInsufficientFunds: the requested lock exceeds the available
	// (total minus locked) balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientBalance: decreasing the total would drop it below the
	// locked sub-balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidTransition marks an attempt to move a transaction out of a
	// terminal state. Finalizers swallow it: redelivered jobs re-running a
	// confirm or cancel must be a no-op, not a failure.
	ErrInvalidTransition = errors.New("transaction already in terminal state")

	// ErrInvariantViolation indicates the locked sub-balance would go
	// negative. That can only come from a programming error upstream; it is
	// logged at the highest severity and never retried.
	ErrInvariantViolation = errors.New("balance invariant violation")

	// ErrWithdrawalOutOfRange: withdrawal amount outside the currency's
	// configured minimum/maximum window.
	ErrWithdrawalOutOfRange = errors.New("withdrawal amount out of range")

	// ErrTransactionNotFound is returned by journal lookups.
	ErrTransactionNotFound = errors.New("transaction not found")
)
