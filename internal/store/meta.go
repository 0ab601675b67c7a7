package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rzbill/strata/internal/record"
	pebblestore "github.com/rzbill/strata/internal/storage/pebble"
)

// Policy bounds one scope's hot window and archive queue.
type Policy struct {
	// MaxHotRecords caps resident records. Zero disables the count bound.
	MaxHotRecords int `json:"maxHotRecords"`
	// MaxHotBytes caps resident payload bytes. Zero disables.
	MaxHotBytes int64 `json:"maxHotBytes"`
	// SegmentTargetBytes sizes cold segments written by the archiver.
	SegmentTargetBytes int64 `json:"segmentTargetBytes"`
	// MaxPendingRecords bounds the archive queue; the ingest gate pushes
	// back at this limit and overflow past it fails the scope.
	MaxPendingRecords int `json:"maxPendingRecords"`
	// Block makes the gate wait for archival instead of rejecting.
	Block bool `json:"block"`
	// BlockTimeoutMs bounds the wait. Zero waits DefaultBlockTimeoutMs.
	BlockTimeoutMs int64 `json:"blockTimeoutMs"`
}

const DefaultBlockTimeoutMs = 5000

// DefaultPolicy returns the limits applied when Configure omits them.
func DefaultPolicy() Policy {
	return Policy{
		MaxHotRecords:      1024,
		MaxHotBytes:        64 << 20,
		SegmentTargetBytes: 1 << 20,
		MaxPendingRecords:  4096,
	}
}

// Meta is the persisted per-scope configuration.
type Meta struct {
	Scope       string       `json:"scope"`
	Class       record.Class `json:"class"`
	Policy      Policy       `json:"policy"`
	CreatedAtMs int64        `json:"createdAtMs"`
}

var metaPrefix = []byte("scmeta/")

func metaKey(scope string) []byte {
	k := make([]byte, 0, len(metaPrefix)+len(scope))
	k = append(k, metaPrefix...)
	k = append(k, scope...)
	return k
}

func loadMeta(db *pebblestore.DB, scope string) (Meta, error) {
	b, err := db.Get(metaKey(scope))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Meta{}, fmt.Errorf("%w: %q", ErrNotFound, scope)
	}
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, fmt.Errorf("store: decode meta for %q: %w", scope, err)
	}
	return m, nil
}

func saveMeta(db *pebblestore.DB, m Meta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return db.Set(metaKey(m.Scope), b)
}
