package models

import "time"

// Balance is the per (user, currency) custodial balance. All amounts are
// kept in the currency's minor units (satoshi for BTC, wei for ETH).
// Invariant: 0 <= LockedMinor <= TotalMinor.
type Balance struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Currency    string    `json:"currency"`
	TotalMinor  int64     `json:"total_minor"`
	LockedMinor int64     `json:"locked_minor"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AvailableMinor is the spendable part of the balance.
func (b *Balance) AvailableMinor() int64 {
	return b.TotalMinor - b.LockedMinor
}
