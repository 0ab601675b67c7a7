package record

import (
	"encoding/json"
	"fmt"
)

// Class selects the eviction obligation for a scope. It is an explicit
// configuration choice, never inferred from usage.
type Class int

const (
	// ClassTraceable scopes archive evicted records to cold storage before
	// dropping them from the hot window. Dead-letter queues, audit history,
	// and commit logs are traceable.
	ClassTraceable Class = iota
	// ClassLossy scopes silently drop the oldest records under capacity
	// pressure. Diagnostic caches of recent messages or errors are lossy.
	ClassLossy
)

// String returns the configuration name of the class.
func (c Class) String() string {
	switch c {
	case ClassTraceable:
		return "traceable"
	case ClassLossy:
		return "lossy"
	default:
		return "unknown"
	}
}

// ParseClass converts a configuration name to a Class.
func ParseClass(s string) (Class, error) {
	switch s {
	case "traceable":
		return ClassTraceable, nil
	case "lossy":
		return ClassLossy, nil
	}
	return ClassTraceable, fmt.Errorf("record: unknown class %q", s)
}

// MarshalJSON persists the class by name.
func (c Class) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts the configuration name.
func (c *Class) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseClass(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Record is an immutable payload admitted into a scope. Seq is strictly
// increasing per scope with no gaps or duplicates.
type Record struct {
	Scope       string
	Seq         uint64
	TimestampMs int64
	Payload     []byte
}

// DeliveryMetric carries derived delivery counters keyed to a record's
// sequence. It lives and dies in the same tier as its record.
type DeliveryMetric struct {
	Seq               uint64 `json:"seq"`
	Attempts          uint32 `json:"attempts"`
	LastAttemptMs     int64  `json:"lastAttemptMs"`
	LastFailureReason string `json:"lastFailureReason,omitempty"`
}
