// internal/domain/escrow.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EscrowStatus defines the custody state of an escrow transaction.
type EscrowStatus string

const (
	EscrowStatusPending  EscrowStatus = "pending"
	EscrowStatusApproved EscrowStatus = "approved"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

// escrowTransitions maps each status to the set of statuses it may move to.
// released and refunded are terminal.
var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowStatusPending:  {EscrowStatusApproved, EscrowStatusRefunded},
	EscrowStatusApproved: {EscrowStatusReleased, EscrowStatusRefunded},
	EscrowStatusReleased: {},
	EscrowStatusRefunded: {},
}

// CanTransition reports whether an escrow may move from one status to another.
func CanTransition(from, to EscrowStatus) bool {
	for _, next := range escrowTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EscrowTransaction tracks the custody state of one property purchase. The
// held amount is fixed at creation; only Status and the transition timestamps
// change afterward, and each timestamp is set exactly once.
type EscrowTransaction struct {
	ID            string          `json:"id"`
	PropertyID    string          `json:"property_id"`    // Denormalized from the catalog at creation time
	PropertyTitle string          `json:"property_title"` // Denormalized from the catalog at creation time
	BuyerID       string          `json:"buyer_id"`
	SellerID      string          `json:"seller_id"`
	Amount        decimal.Decimal `json:"amount"` // Held amount; never changed after creation
	Status        EscrowStatus    `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	ApprovedAt    *time.Time      `json:"approved_at,omitempty"`
	ReleasedAt    *time.Time      `json:"released_at,omitempty"`
	RefundedAt    *time.Time      `json:"refunded_at,omitempty"`
}

// NewEscrowTransaction creates a new pending escrow record.
func NewEscrowTransaction(propertyID, propertyTitle, buyerID, sellerID string, amount decimal.Decimal) EscrowTransaction {
	return EscrowTransaction{
		ID:            uuid.NewString(),
		PropertyID:    propertyID,
		PropertyTitle: propertyTitle,
		BuyerID:       buyerID,
		SellerID:      sellerID,
		Amount:        amount,
		Status:        EscrowStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
}

// Terminal reports whether the escrow has reached a final status.
func (e *EscrowTransaction) Terminal() bool {
	return e.Status == EscrowStatusReleased || e.Status == EscrowStatusRefunded
}
