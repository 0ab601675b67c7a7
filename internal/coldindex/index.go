package coldindex

import (
	"encoding/json"
	"errors"
	"fmt"

	pebblestore "github.com/rzbill/strata/internal/storage/pebble"
)

// ErrVersionConflict is returned by Swap when the index changed since the
// caller loaded it. Recoverable: reload and retry.
var ErrVersionConflict = errors.New("coldindex: version conflict")

// ErrCorrupt is returned when the persisted document cannot be decoded or
// violates ordering invariants. Fatal for the scope until repaired.
var ErrCorrupt = errors.New("coldindex: corrupt index document")

// Ref points at one immutable archived segment in CAS.
type Ref struct {
	MinSeq      uint64 `json:"minSeq"`
	MaxSeq      uint64 `json:"maxSeq"`
	ContentHash string `json:"contentHash"`
	RecordCount int    `json:"recordCount"`
	ByteSize    int64  `json:"byteSize"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// Doc is a scope's complete cold index at one version. Treat as immutable
// once loaded; mutations go through Append and Swap.
type Doc struct {
	Version uint64 `json:"version"`
	Refs    []Ref  `json:"refs"`
}

// MaxArchivedSeq returns the highest sequence covered by any ref, 0 if none.
func (d Doc) MaxArchivedSeq() uint64 {
	if len(d.Refs) == 0 {
		return 0
	}
	return d.Refs[len(d.Refs)-1].MaxSeq
}

// TotalRecords returns the record count summed across refs.
func (d Doc) TotalRecords() int {
	n := 0
	for _, r := range d.Refs {
		n += r.RecordCount
	}
	return n
}

// Overlapping returns the refs whose range intersects [minSeq, maxSeq].
// maxSeq of zero means no upper bound.
func (d Doc) Overlapping(minSeq, maxSeq uint64) []Ref {
	var out []Ref
	for _, r := range d.Refs {
		if maxSeq != 0 && r.MinSeq > maxSeq {
			break
		}
		if r.MaxSeq < minSeq {
			continue
		}
		out = append(out, r)
	}
	return out
}

var coldSuffix = []byte("/cold")

// Key builds the index document key for a scope.
func Key(scope string) []byte {
	k := make([]byte, 0, 3+len(scope)+len(coldSuffix))
	k = append(k, "sc/"...)
	k = append(k, scope...)
	k = append(k, coldSuffix...)
	return k
}

func validateRefs(refs []Ref) error {
	var prevMax uint64
	for i, r := range refs {
		if r.MinSeq == 0 || r.MaxSeq < r.MinSeq {
			return fmt.Errorf("%w: ref %d has bad range [%d,%d]", ErrCorrupt, i, r.MinSeq, r.MaxSeq)
		}
		if r.ContentHash == "" {
			return fmt.Errorf("%w: ref %d has empty hash", ErrCorrupt, i)
		}
		if i > 0 && r.MinSeq <= prevMax {
			return fmt.Errorf("%w: ref %d overlaps previous (min %d <= %d)", ErrCorrupt, i, r.MinSeq, prevMax)
		}
		prevMax = r.MaxSeq
	}
	return nil
}

// Load reads a scope's index document. An absent document is an empty
// version-zero index.
func Load(db *pebblestore.DB, scope string) (Doc, error) {
	b, err := db.Get(Key(scope))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return Doc{}, nil
		}
		return Doc{}, err
	}
	var d Doc
	if err := json.Unmarshal(b, &d); err != nil {
		return Doc{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := validateRefs(d.Refs); err != nil {
		return Doc{}, err
	}
	return d, nil
}

func write(db *pebblestore.DB, scope string, d Doc) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return db.Set(Key(scope), b)
}

// Append adds one ref past the current archived range and returns the new
// document. Re-appending the last ref (same range and hash) is a no-op, so
// a retried archival after a crash does not duplicate index entries.
func Append(db *pebblestore.DB, scope string, ref Ref) (Doc, error) {
	d, err := Load(db, scope)
	if err != nil {
		return Doc{}, err
	}
	if n := len(d.Refs); n > 0 {
		last := d.Refs[n-1]
		if last.MinSeq == ref.MinSeq && last.MaxSeq == ref.MaxSeq && last.ContentHash == ref.ContentHash {
			return d, nil
		}
		if ref.MinSeq <= last.MaxSeq {
			return Doc{}, fmt.Errorf("%w: appended ref [%d,%d] overlaps archived range ending %d",
				ErrCorrupt, ref.MinSeq, ref.MaxSeq, last.MaxSeq)
		}
	}
	next := Doc{Version: d.Version + 1, Refs: append(append([]Ref(nil), d.Refs...), ref)}
	if err := validateRefs(next.Refs); err != nil {
		return Doc{}, err
	}
	if err := write(db, scope, next); err != nil {
		return Doc{}, err
	}
	return next, nil
}

// Swap atomically replaces the whole ref set, publishing only if the index
// version is still expectedVersion. The new document is complete and
// self-consistent or nothing is published.
func Swap(db *pebblestore.DB, scope string, expectedVersion uint64, refs []Ref) (Doc, error) {
	if err := validateRefs(refs); err != nil {
		return Doc{}, err
	}
	cur, err := Load(db, scope)
	if err != nil {
		return Doc{}, err
	}
	if cur.Version != expectedVersion {
		return Doc{}, fmt.Errorf("%w: have %d, expected %d", ErrVersionConflict, cur.Version, expectedVersion)
	}
	next := Doc{Version: cur.Version + 1, Refs: append([]Ref(nil), refs...)}
	if err := write(db, scope, next); err != nil {
		return Doc{}, err
	}
	return next, nil
}
