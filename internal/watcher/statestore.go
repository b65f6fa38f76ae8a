package watcher

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const stateBucket = "filestate"

// FileState is the last-observed state of one watched path.
type FileState struct {
	ModTimeUnixNano int64
	Size            int64
}

// StateStore persists per-path observation state so a restart does not
// re-announce every unchanged file. The startup reconciliation scan covers
// anything that changed while the process was down.
type StateStore struct {
	db *bbolt.DB
}

// NewStateStore opens the BoltDB file at dbPath.
func NewStateStore(dbPath string) (*StateStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// A lock timeout usually means a previous instance is still running
		return nil, fmt.Errorf("failed to open state db (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(stateBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Info().
		Str("db_path", dbPath).
		Msg("File state store initialized")

	return &StateStore{db: db}, nil
}

// Get retrieves the last-observed state for a path. ok is false on first
// sight of the path.
func (s *StateStore) Get(sourceID, path string) (FileState, bool, error) {
	var state FileState
	var found bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(stateBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := b.Get(makeKey(sourceID, path))
		if val == nil {
			return nil
		}
		if len(val) < 16 {
			return fmt.Errorf("invalid state value")
		}

		state.ModTimeUnixNano = int64(binary.BigEndian.Uint64(val[:8]))
		state.Size = int64(binary.BigEndian.Uint64(val[8:16]))
		found = true
		return nil
	})
	if err != nil {
		return FileState{}, false, fmt.Errorf("failed to get file state: %w", err)
	}

	return state, found, nil
}

// Set stores the observed state for a path.
func (s *StateStore) Set(sourceID, path string, state FileState) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(stateBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		val := make([]byte, 16)
		binary.BigEndian.PutUint64(val[:8], uint64(state.ModTimeUnixNano))
		binary.BigEndian.PutUint64(val[8:16], uint64(state.Size))

		return b.Put(makeKey(sourceID, path), val)
	})
	if err != nil {
		return fmt.Errorf("failed to set file state: %w", err)
	}
	return nil
}

// Delete removes the state for a path.
func (s *StateStore) Delete(sourceID, path string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(stateBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete(makeKey(sourceID, path))
	})
	if err != nil {
		return fmt.Errorf("failed to delete file state: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *StateStore) Close() error {
	log.Info().Msg("Closing file state store")
	return s.db.Close()
}

// makeKey creates a composite key from source ID and file path
func makeKey(sourceID, path string) []byte {
	return []byte(fmt.Sprintf("%s:%s", sourceID, path))
}
