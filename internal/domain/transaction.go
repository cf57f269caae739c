// internal/domain/transaction.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal" // For precise monetary calculations
)

// TransactionType defines the type of a ledger transaction.
type TransactionType string

const (
	TransactionTypeDeposit       TransactionType = "deposit"
	TransactionTypeWithdrawal    TransactionType = "withdrawal"
	TransactionTypeEscrowHold    TransactionType = "escrow_hold"
	TransactionTypeEscrowRelease TransactionType = "escrow_release"
	TransactionTypeRefund        TransactionType = "refund"
)

// TransactionStatus defines the status of a ledger transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Transaction represents an immutable, historical ledger record. A transaction
// is created exactly once, by exactly one ledger operation, at the moment that
// operation commits, and is never mutated or deleted afterward.
type Transaction struct {
	ID            string            `json:"id"`                       // UUID, assigned at creation
	Type          TransactionType   `json:"type"`                     // deposit, withdrawal, escrow_hold, escrow_release, refund
	Amount        decimal.Decimal   `json:"amount"`                   // Always positive; the delta applied to the affected balance
	Description   string            `json:"description"`              // Derived at creation from payment method label and/or property title
	PropertyID    string            `json:"property_id,omitempty"`    // Set for escrow-related types only
	PropertyTitle string            `json:"property_title,omitempty"` // Set for escrow-related types only
	Status        TransactionStatus `json:"status"`                   // The gateway commits synchronously, so always completed
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   time.Time         `json:"completed_at"` // Equal to or after CreatedAt
}

// NewTransaction creates a new completed Transaction record.
func NewTransaction(txType TransactionType, amount decimal.Decimal, description string) Transaction {
	now := time.Now().UTC()
	return Transaction{
		ID:          uuid.NewString(),
		Type:        txType,
		Amount:      amount,
		Description: description,
		Status:      TransactionStatusCompleted,
		CreatedAt:   now,
		CompletedAt: now,
	}
}

// NewPropertyTransaction creates a completed Transaction record carrying the
// property reference of the escrow it belongs to.
func NewPropertyTransaction(txType TransactionType, amount decimal.Decimal, description, propertyID, propertyTitle string) Transaction {
	tx := NewTransaction(txType, amount, description)
	tx.PropertyID = propertyID
	tx.PropertyTitle = propertyTitle
	return tx
}
