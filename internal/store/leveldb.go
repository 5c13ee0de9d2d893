package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/CptDat9/loomix-vault-factory/internal/model"
)

const vaultKeyPrefix = "vault:"

// Core deterministic encoding: identical snapshots produce identical bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// LevelDBStore keeps CBOR-encoded snapshots in LevelDB, keyed by vault id.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a LevelDB database at path.
func OpenLevelDB(path string) (*LevelDBStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, errors.New("leveldb store path required")
	}
	db, err := leveldb.OpenFile(filepath.Clean(trimmed), nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb store: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

func vaultKey(id string) []byte { return []byte(vaultKeyPrefix + id) }

// Save replaces the snapshot with a single Put, which LevelDB applies atomically.
func (s *LevelDBStore) Save(snap model.VaultSnapshot) error {
	if err := validID(snap.ID); err != nil {
		return err
	}
	data, err := encMode.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}
	if err := s.db.Put(vaultKey(snap.ID), data, nil); err != nil {
		return fmt.Errorf("write snapshot %s: %w", snap.ID, err)
	}
	return nil
}

func (s *LevelDBStore) Load(id string) (model.VaultSnapshot, error) {
	if err := validID(id); err != nil {
		return model.VaultSnapshot{}, err
	}
	data, err := s.db.Get(vaultKey(id), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return model.VaultSnapshot{}, ErrNotFound
	case err != nil:
		return model.VaultSnapshot{}, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	var snap model.VaultSnapshot
	if err := decMode.Unmarshal(data, &snap); err != nil {
		return model.VaultSnapshot{}, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return snap, nil
}

// LoadAll iterates every vault key in id order.
func (s *LevelDBStore) LoadAll() ([]model.VaultSnapshot, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(vaultKeyPrefix)), nil)
	defer iter.Release()

	out := make([]model.VaultSnapshot, 0)
	for iter.Next() {
		var snap model.VaultSnapshot
		if err := decMode.Unmarshal(iter.Value(), &snap); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		out = append(out, snap)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// Close releases the underlying LevelDB resources.
func (s *LevelDBStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
