package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction type enum.
const (
	TxTypeCoursePayment = "course_payment"
	TxTypeCourseEarning = "course_earning"
	TxTypeCourseRefund  = "course_refund"
	TxTypeAppealRefund  = "appeal_refund"
)

// Funds status enum: which wallet bucket a transaction's amount sits in.
const (
	FundsAvailable = "available"
	FundsFrozen    = "frozen"
	FundsLocked    = "locked"
)

// Transaction status enum.
const (
	TxStatusProcessing = "processing"
	TxStatusCompleted  = "completed"
	TxStatusCancelled  = "cancelled"
)

// Wallet is a per-user cached projection over completed transactions.
// Invariant: TotalCents == AvailableCents + FrozenCents + LockedCents.
type Wallet struct {
	UserID         uuid.UUID `json:"user_id"`
	AvailableCents int64     `json:"available_cents"`
	FrozenCents    int64     `json:"frozen_cents"`
	LockedCents    int64     `json:"locked_cents"`
	TotalCents     int64     `json:"total_cents"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Transaction is an immutable ledger entry. Once completed, amount and type
// never change; funds-status transitions are recorded as new rows or explicit
// status flips, never silent rewrites of history.
type Transaction struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	Type        string     `json:"type"`
	AmountCents int64      `json:"amount_cents"`
	FundsStatus string     `json:"funds_status"`
	BookingID   *uuid.UUID `json:"booking_id,omitempty"`
	Status      string     `json:"status"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SignedAmount returns the delta this entry represents for the owning user's
// total balance: payments debit, everything else credits.
func (t *Transaction) SignedAmount() int64 {
	if t.Type == TxTypeCoursePayment {
		return -t.AmountCents
	}
	return t.AmountCents
}
