// internal/repository/postgres/snapshot_pg.go
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"propflow-wallet/internal/domain"
	"propflow-wallet/internal/repository"
	"propflow-wallet/internal/util"
	"propflow-wallet/pkg/db"
)

// SnapshotRepository implements repository.SnapshotRepository on PostgreSQL.
// The snapshot is upserted as a jsonb blob keyed by its storage key; every
// save also appends a row to wallet_audit in the same database transaction,
// giving an out-of-band history of balance movements.
type SnapshotRepository struct {
	db         *sqlx.DB
	storageKey string
}

// NewSnapshotRepository creates a Postgres-backed snapshot repository and
// ensures its tables exist.
func NewSnapshotRepository(ctx context.Context, database *sqlx.DB, storageKey string) (repository.SnapshotRepository, error) {
	r := &SnapshotRepository{db: database, storageKey: storageKey}
	if err := r.migrate(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SnapshotRepository) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS wallet_snapshots (
			storage_key    TEXT PRIMARY KEY,
			schema_version INT NOT NULL,
			data           JSONB NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS wallet_audit (
			id                BIGSERIAL PRIMARY KEY,
			storage_key       TEXT NOT NULL,
			balance           NUMERIC(20, 4) NOT NULL,
			escrow_balance    NUMERIC(20, 4) NOT NULL,
			transaction_count INT NOT NULL,
			recorded_at       TIMESTAMPTZ NOT NULL
		);`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create snapshot tables: %w", err)
	}
	return nil
}

// Load retrieves the snapshot blob for the configured storage key.
func (r *SnapshotRepository) Load(ctx context.Context) (*domain.WalletSnapshot, error) {
	var row struct {
		SchemaVersion int    `db:"schema_version"`
		Data          []byte `db:"data"`
	}
	query := `SELECT schema_version, data FROM wallet_snapshots WHERE storage_key = $1`
	if err := r.db.GetContext(ctx, &row, query, r.storageKey); err != nil {
		if err == sql.ErrNoRows {
			return nil, util.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load snapshot for key %s: %w", r.storageKey, err)
	}
	if row.SchemaVersion != domain.SnapshotSchemaVersion {
		return nil, fmt.Errorf("snapshot key %s has schema version %d, want %d: %w",
			r.storageKey, row.SchemaVersion, domain.SnapshotSchemaVersion, util.ErrSchemaVersionMismatch)
	}

	var snapshot domain.WalletSnapshot
	if err := json.Unmarshal(row.Data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for key %s: %w", r.storageKey, err)
	}
	return &snapshot, nil
}

// Save upserts the snapshot blob and appends the audit row atomically.
func (r *SnapshotRepository) Save(ctx context.Context, snapshot *domain.WalletSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tx, err := db.BeginTx(ctx, r.db)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	defer db.RollbackTx(tx)

	now := time.Now().UTC()
	upsert := `
		INSERT INTO wallet_snapshots (storage_key, schema_version, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (storage_key)
		DO UPDATE SET schema_version = EXCLUDED.schema_version, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	if _, err := tx.ExecContext(ctx, upsert, r.storageKey, snapshot.SchemaVersion, data, now); err != nil {
		return fmt.Errorf("failed to upsert snapshot for key %s: %w", r.storageKey, err)
	}

	audit := `
		INSERT INTO wallet_audit (storage_key, balance, escrow_balance, transaction_count, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.ExecContext(ctx, audit, r.storageKey, snapshot.Balance, snapshot.EscrowBalance, len(snapshot.Transactions), now); err != nil {
		return fmt.Errorf("failed to append audit row for key %s: %w", r.storageKey, err)
	}

	if err := db.CommitTx(tx); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
