package cas

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FSStore stores one file per blob under root/<hh>/<hash>, sharded by the
// first two hash characters to keep directories small.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, errors.New("cas: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cas: create root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Root returns the store's root directory.
func (s *FSStore) Root() string { return s.root }

func (s *FSStore) blobPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash)
}

// Put writes the blob if absent. The write goes to a temp file in the same
// directory and is renamed into place, so readers never observe a partial
// blob and concurrent identical puts converge on the same file.
func (s *FSStore) Put(b []byte) (string, error) {
	hash := HashBytes(b)
	path := s.blobPath(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cas: shard dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+hash+".tmp-")
	if err != nil {
		return "", fmt.Errorf("cas: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("cas: write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("cas: sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("cas: close blob: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("cas: publish blob: %w", err)
	}
	return hash, nil
}

// Get returns the blob bytes, or ErrNotFound.
func (s *FSStore) Get(hash string) ([]byte, error) {
	if err := validateHash(hash); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("cas: read blob: %w", err)
	}
	return b, nil
}

// Has reports whether the blob exists.
func (s *FSStore) Has(hash string) (bool, error) {
	if err := validateHash(hash); err != nil {
		return false, err
	}
	_, err := os.Stat(s.blobPath(hash))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
