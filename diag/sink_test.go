package diag

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func openTestSink(t *testing.T, numCores int) *Sink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "diag.db")
	s, err := Open(path, numCores, 64)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestRecordFlushesToSqlite(t *testing.T) {
	s := openTestSink(t, 2)

	s.Record(EventSpawn, 0, 3, 1, 0)
	s.Record(EventTerminate, 1, 3, 1, 42)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if countRows(t, s.db, "events") >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := countRows(t, s.db, "events"); got != 2 {
		t.Fatalf("events rows = %d, want 2", got)
	}
	if got := countRows(t, s.db, "batches"); got < 1 {
		t.Fatalf("batches rows = %d, want at least 1", got)
	}
}

func TestRecordOutOfRangeCoreIsDropped(t *testing.T) {
	s := openTestSink(t, 1)

	s.Record(EventSpawn, 5, 0, 0, 0)

	if got := s.Dropped(); got != 1 {
		t.Fatalf("Dropped() = %d, want 1", got)
	}
}

func TestRecordOverflowIsDroppedNotBlocking(t *testing.T) {
	s := openTestSink(t, 1)

	// Ring capacity is 64; push far more than that back-to-back before the
	// flush loop has a chance to drain, and confirm none of it blocks.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10_000; i++ {
			s.Record(EventSpawn, 0, uint32(i), 1, 0)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked under overflow")
	}
}

func TestChecksumBatchIsDeterministic(t *testing.T) {
	batch := []Event{
		{Kind: EventSpawn, CoreID: 1, Slot: 2, Generation: 3, Extra: -7},
		{Kind: EventTimeout, CoreID: 4, Slot: 5, Generation: 6, Extra: 0},
	}
	a := checksumBatch(batch)
	b := checksumBatch(batch)
	if a != b {
		t.Fatalf("checksumBatch not deterministic: %x != %x", a, b)
	}

	other := []Event{batch[1], batch[0]}
	if checksumBatch(other) == a {
		t.Fatal("checksumBatch ignored record order")
	}
}
