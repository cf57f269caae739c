// internal/repository/snapshot_repo.go
package repository

import (
	"context"

	"propflow-wallet/internal/domain"
)

// SnapshotRepository defines the interface for persisting the wallet state.
// The whole wallet is stored as one snapshot blob under a named storage key,
// written on every committed ledger operation and rehydrated on load.
type SnapshotRepository interface {
	// Load retrieves the stored snapshot. It returns util.ErrNotFound when no
	// snapshot has been written yet and util.ErrSchemaVersionMismatch when the
	// stored blob was written by an incompatible schema version.
	Load(ctx context.Context) (*domain.WalletSnapshot, error)
	// Save persists the snapshot, replacing any previous one.
	Save(ctx context.Context, snapshot *domain.WalletSnapshot) error
}
