package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/CptDat9/loomix-vault-factory/internal/model"
)

// ErrNotFound is returned by Load when no snapshot exists for the id.
var ErrNotFound = errors.New("store: snapshot not found")

// Store persists whole vault snapshots. Save replaces the previous snapshot of
// the same vault in one step, so readers never see a partial write.
type Store interface {
	Save(snap model.VaultSnapshot) error
	Load(id string) (model.VaultSnapshot, error)
	LoadAll() ([]model.VaultSnapshot, error)
	Close() error
}

// Open returns the backend named by driver: "leveldb" or "file".
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "leveldb", "":
		return OpenLevelDB(path)
	case "file", "json":
		return NewFileStore(path)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

func validID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("store: vault id is required")
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("store: invalid vault id %q", id)
	}
	return nil
}
