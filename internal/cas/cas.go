package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a blob is absent from the store.
var ErrNotFound = errors.New("cas: blob not found")

// ErrHashMismatch is returned when stored bytes do not match their address.
// Callers must treat this as a fatal integrity condition.
var ErrHashMismatch = errors.New("cas: content hash mismatch")

// HashBytes returns the store address for the given content.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Store is the capability interface the record store requires from a blob
// backend. Put is idempotent: re-writing identical content is a no-op that
// returns the same hash.
type Store interface {
	Put(b []byte) (string, error)
	Get(hash string) ([]byte, error)
	Has(hash string) (bool, error)
}

// GetVerified reads a blob and recomputes its hash. A mismatch wraps
// ErrHashMismatch with both hashes for the operator.
func GetVerified(s Store, hash string) ([]byte, error) {
	b, err := s.Get(hash)
	if err != nil {
		return nil, err
	}
	actual := HashBytes(b)
	if actual != hash {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrHashMismatch, hash, actual)
	}
	return b, nil
}

func validateHash(hash string) error {
	if len(hash) != sha256.Size*2 {
		return fmt.Errorf("cas: malformed hash %q", hash)
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("cas: malformed hash %q", hash)
		}
	}
	return nil
}
