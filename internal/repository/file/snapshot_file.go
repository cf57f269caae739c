// internal/repository/file/snapshot_file.go
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"propflow-wallet/internal/domain"
	"propflow-wallet/internal/repository"
	"propflow-wallet/internal/util"
)

// SnapshotRepository implements repository.SnapshotRepository on the local
// filesystem: one JSON file named after the storage key inside a data
// directory. This mirrors the single wallet-storage blob the browser
// original kept in local storage.
type SnapshotRepository struct {
	path string
}

// NewSnapshotRepository creates a file-backed snapshot repository. The data
// directory is created if it does not exist.
func NewSnapshotRepository(dataDir, storageKey string) (repository.SnapshotRepository, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dataDir, err)
	}
	return &SnapshotRepository{path: filepath.Join(dataDir, storageKey+".json")}, nil
}

// Load reads and decodes the snapshot file.
func (r *SnapshotRepository) Load(ctx context.Context) (*domain.WalletSnapshot, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, util.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot %s: %w", r.path, err)
	}

	var snapshot domain.WalletSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", r.path, err)
	}
	if snapshot.SchemaVersion != domain.SnapshotSchemaVersion {
		return nil, fmt.Errorf("snapshot %s has schema version %d, want %d: %w",
			r.path, snapshot.SchemaVersion, domain.SnapshotSchemaVersion, util.ErrSchemaVersionMismatch)
	}
	return &snapshot, nil
}

// Save writes the snapshot atomically: encode to a temp file in the same
// directory, then rename over the previous blob so a crash mid-write never
// leaves a truncated snapshot behind.
func (r *SnapshotRepository) Save(ctx context.Context, snapshot *domain.WalletSnapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".wallet-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot %s: %w", r.path, err)
	}
	return nil
}
