package pebblestore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Options{DataDir: t.TempDir(), Fsync: FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenRequiresDataDir(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Fatalf("expected error for empty DataDir")
	}
}

func TestSetGetDelete(t *testing.T) {
	db := openTestDB(t)
	if err := db.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("get: %q %v", got, err)
	}
	ok, err := db.Has([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("has: %v %v", ok, err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestBatchCommitAtomic(t *testing.T) {
	db := openTestDB(t)
	b := db.NewBatch()
	defer b.Close()
	_ = b.Set([]byte("a"), []byte("1"), nil)
	_ = b.Set([]byte("b"), []byte("2"), nil)
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if _, err := db.Get([]byte(k)); err != nil {
			t.Fatalf("get %s: %v", k, err)
		}
	}
}

type countingHook struct {
	writes, reads, commits int
}

func (h *countingHook) ObserveWrite(time.Duration, int)       { h.writes++ }
func (h *countingHook) ObserveRead(time.Duration, int)        { h.reads++ }
func (h *countingHook) ObserveBatchCommit(time.Duration, int) { h.commits++ }

func TestCompactRangeAfterDelete(t *testing.T) {
	db := openTestDB(t)
	for i := byte(0); i < 16; i++ {
		if err := db.Set([]byte{'c', i}, []byte("v")); err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	for i := byte(0); i < 15; i++ {
		if err := db.Delete([]byte{'c', i}); err != nil {
			t.Fatalf("delete: %v", err)
		}
	}
	if err := db.CompactRange([]byte{'c', 0}, []byte{'c', 0xff}); err != nil {
		t.Fatalf("compact: %v", err)
	}
	// survivors stay readable after the compaction
	if _, err := db.Get([]byte{'c', 15}); err != nil {
		t.Fatalf("get survivor: %v", err)
	}
}

func TestMetricsHookObserved(t *testing.T) {
	hook := &countingHook{}
	db, err := Open(Options{DataDir: t.TempDir(), Fsync: FsyncModeNever, Metrics: hook})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	_ = db.Set([]byte("k"), []byte("v"))
	_, _ = db.Get([]byte("k"))
	if hook.writes == 0 || hook.reads == 0 || hook.commits == 0 {
		t.Fatalf("expected hook observations, got %+v", hook)
	}
}
