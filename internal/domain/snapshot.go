// internal/domain/snapshot.go
package domain

import (
	"github.com/shopspring/decimal"
)

// SnapshotSchemaVersion is the current on-disk schema version of the wallet
// snapshot. Bump it whenever the persisted layout changes so loaders can
// refuse (or later migrate) older blobs instead of misreading them.
const SnapshotSchemaVersion = 1

// WalletSnapshot is the whole wallet state as one serializable aggregate.
// It is persisted as a single JSON blob under one storage key and rehydrated
// on load. Both record lists are ordered newest-first.
type WalletSnapshot struct {
	SchemaVersion      int                 `json:"schema_version"`
	Balance            decimal.Decimal     `json:"balance"`        // Spendable funds
	EscrowBalance      decimal.Decimal     `json:"escrow_balance"` // Funds held in escrow, not spendable
	Transactions       []Transaction       `json:"transactions"`
	EscrowTransactions []EscrowTransaction `json:"escrow_transactions"`
	PaymentMethods     []PaymentMethod     `json:"payment_methods"`
}

// NewWalletSnapshot creates an empty snapshot at the current schema version
// with the given opening balance.
func NewWalletSnapshot(openingBalance decimal.Decimal) *WalletSnapshot {
	return &WalletSnapshot{
		SchemaVersion:      SnapshotSchemaVersion,
		Balance:            openingBalance,
		EscrowBalance:      decimal.Zero,
		Transactions:       []Transaction{},
		EscrowTransactions: []EscrowTransaction{},
		PaymentMethods:     []PaymentMethod{},
	}
}

// Clone returns a deep copy of the snapshot. The ledger store commits by
// mutating a clone and swapping it in only after persistence succeeds, so a
// failed commit never leaves partially applied state behind.
func (s *WalletSnapshot) Clone() *WalletSnapshot {
	out := &WalletSnapshot{
		SchemaVersion:      s.SchemaVersion,
		Balance:            s.Balance,
		EscrowBalance:      s.EscrowBalance,
		Transactions:       make([]Transaction, len(s.Transactions)),
		EscrowTransactions: make([]EscrowTransaction, len(s.EscrowTransactions)),
		PaymentMethods:     make([]PaymentMethod, len(s.PaymentMethods)),
	}
	copy(out.Transactions, s.Transactions)
	copy(out.EscrowTransactions, s.EscrowTransactions)
	copy(out.PaymentMethods, s.PaymentMethods)
	return out
}
