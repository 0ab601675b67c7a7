package cas

import (
	"errors"
	"fmt"

	pebblestore "github.com/rzbill/strata/internal/storage/pebble"
)

var casKeyPrefix = []byte("cas/")

func casKey(hash string) []byte {
	k := make([]byte, 0, len(casKeyPrefix)+len(hash))
	k = append(k, casKeyPrefix...)
	k = append(k, hash...)
	return k
}

// PebbleStore keeps blobs inside the shared Pebble database under cas/<hash>
// keys. Useful for single-directory deployments where a separate blob tree
// is unwanted.
type PebbleStore struct {
	db *pebblestore.DB
}

// NewPebbleStore wraps the given database.
func NewPebbleStore(db *pebblestore.DB) *PebbleStore { return &PebbleStore{db: db} }

// Put writes the blob if absent and returns its hash.
func (s *PebbleStore) Put(b []byte) (string, error) {
	hash := HashBytes(b)
	key := casKey(hash)
	ok, err := s.db.Has(key)
	if err != nil {
		return "", fmt.Errorf("cas: probe blob: %w", err)
	}
	if ok {
		return hash, nil
	}
	if err := s.db.Set(key, b); err != nil {
		return "", fmt.Errorf("cas: write blob: %w", err)
	}
	return hash, nil
}

// Get returns the blob bytes, or ErrNotFound.
func (s *PebbleStore) Get(hash string) ([]byte, error) {
	if err := validateHash(hash); err != nil {
		return nil, err
	}
	b, err := s.db.Get(casKey(hash))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("cas: read blob: %w", err)
	}
	return b, nil
}

// Has reports whether the blob exists.
func (s *PebbleStore) Has(hash string) (bool, error) {
	if err := validateHash(hash); err != nil {
		return false, err
	}
	return s.db.Has(casKey(hash))
}
