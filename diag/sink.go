// sink.go — sqlite-backed diagnostics sink.
//
// Grounded on syncharvester/syncharvester.go's csv batching shape
// (per-connection buffer, background ticker flush, sync.Mutex-guarded
// write) and router/router.go's mustDB (sql.Open("sqlite3", path) then
// verify with Ping). Batching is generalized from syncharvester's
// per-connection []byte buffers to one internal/xring.Ring[Event] per
// core — the same "one SPSC lane per producer, drained by a single
// consumer" shape as fiber's wakering rings — so Record never contends
// across cores. Batch checksums use golang.org/x/crypto/sha3, the same
// package router/update_test.go uses to derive its test fixture
// addresses (there, Sum256 of a seed byte; here, Sum256 of an encoded
// batch).
//
// This sink is advisory: a full ring drops the event rather than
// blocking the dispatch loop that's trying to record it, and a database
// error is logged and swallowed rather than propagated, since losing a
// diagnostics record must never take down a core.

package diag

import (
	"database/sql"
	"encoding/binary"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/sha3"

	"quantumfiber/internal/xlog"
	"quantumfiber/internal/xring"
)

const flushInterval = 200 * time.Millisecond
const flushThreshold = 512

// Sink is an sqlite-backed implementation of fiber.DiagSink. One Sink
// serves an entire Runtime: each core gets its own producer ring, and a
// single background goroutine drains all of them into batched inserts.
type Sink struct {
	db    *sql.DB
	rings []*xring.Ring[Event]

	dropped atomic.Int64

	quit chan struct{}
	done chan struct{}
}

// Open creates or reuses the sqlite database at path, lays down its
// schema if absent, and returns a Sink with one producer ring per core.
// ringCapacity must be a power of two (see internal/xring.New).
func Open(path string, numCores, ringCapacity int) (*Sink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Sink{
		db:    db,
		rings: make([]*xring.Ring[Event], numCores),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for i := range s.rings {
		s.rings[i] = xring.New[Event](ringCapacity)
	}
	go s.flushLoop()
	return s, nil
}

func createSchema(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       INTEGER NOT NULL,
	core_id    INTEGER NOT NULL,
	slot       INTEGER NOT NULL,
	generation INTEGER NOT NULL,
	extra      INTEGER NOT NULL,
	batch_id   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS batches (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	checksum   BLOB NOT NULL,
	count      INTEGER NOT NULL,
	flushed_at INTEGER NOT NULL
);
`
	_, err := db.Exec(ddl)
	return err
}

// Record implements fiber.DiagSink. coreID must be within the range
// passed to Open; anything else is silently dropped, since a bad coreID
// here indicates a caller bug rather than a condition worth crashing the
// dispatch loop over.
func (s *Sink) Record(kind byte, coreID uint16, slot, generation uint32, extra int64) {
	if int(coreID) >= len(s.rings) {
		s.dropped.Add(1)
		return
	}
	ev := Event{Kind: kind, CoreID: coreID, Slot: slot, Generation: generation, Extra: extra}
	if !s.rings[coreID].Push(ev) {
		s.dropped.Add(1)
	}
}

// Dropped reports how many events have been discarded so far, either to
// ring overflow or an out-of-range core id.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Close stops the flush loop, drains whatever is left one final time,
// and closes the database.
func (s *Sink) Close() error {
	close(s.quit)
	<-s.done
	s.drainOnce()
	return s.db.Close()
}

func (s *Sink) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, flushThreshold)
	for {
		select {
		case <-ticker.C:
			batch = s.collect(batch[:0])
			if len(batch) > 0 {
				s.flush(batch)
			}
		case <-s.quit:
			return
		}
	}
}

func (s *Sink) drainOnce() {
	batch := s.collect(make([]Event, 0, flushThreshold))
	if len(batch) > 0 {
		s.flush(batch)
	}
}

// collect drains every core's ring round-robin into dst, capped at
// flushThreshold so one flush cannot starve the next tick indefinitely
// under sustained load.
func (s *Sink) collect(dst []Event) []Event {
	for len(dst) < flushThreshold {
		progressed := false
		for _, ring := range s.rings {
			if ev, ok := ring.Pop(); ok {
				dst = append(dst, ev)
				progressed = true
				if len(dst) >= flushThreshold {
					break
				}
			}
		}
		if !progressed {
			break
		}
	}
	return dst
}

// flush writes one batch inside a transaction and records its sha3-256
// checksum alongside it, giving an offline auditor a way to detect a
// batch that was truncated or tampered with in storage.
func (s *Sink) flush(batch []Event) {
	checksum := checksumBatch(batch)

	tx, err := s.db.Begin()
	if err != nil {
		xlog.Errf("diag: begin transaction", err)
		return
	}

	res, err := tx.Exec(
		`INSERT INTO batches (checksum, count, flushed_at) VALUES (?, ?, ?)`,
		checksum[:], len(batch), time.Now().UnixNano(),
	)
	if err != nil {
		xlog.Errf("diag: insert batch row", err)
		tx.Rollback()
		return
	}
	batchID, err := res.LastInsertId()
	if err != nil {
		xlog.Errf("diag: read batch id", err)
		tx.Rollback()
		return
	}

	stmt, err := tx.Prepare(`INSERT INTO events (kind, core_id, slot, generation, extra, batch_id) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		xlog.Errf("diag: prepare insert", err)
		tx.Rollback()
		return
	}
	for _, ev := range batch {
		if _, err := stmt.Exec(ev.Kind, ev.CoreID, ev.Slot, ev.Generation, ev.Extra, batchID); err != nil {
			xlog.Errf("diag: insert event row", err)
			stmt.Close()
			tx.Rollback()
			return
		}
	}
	stmt.Close()

	if err := tx.Commit(); err != nil {
		xlog.Errf("diag: commit batch", err)
	}
}

// checksumBatch hashes a batch's canonical encoding: each event as a
// fixed 19-byte record, concatenated in arrival order.
func checksumBatch(batch []Event) [32]byte {
	const recSize = 19
	buf := make([]byte, 0, len(batch)*recSize)
	var tmp [recSize]byte
	for _, ev := range batch {
		tmp[0] = ev.Kind
		binary.LittleEndian.PutUint16(tmp[1:3], ev.CoreID)
		binary.LittleEndian.PutUint32(tmp[3:7], ev.Slot)
		binary.LittleEndian.PutUint32(tmp[7:11], ev.Generation)
		binary.LittleEndian.PutUint64(tmp[11:19], uint64(ev.Extra))
		buf = append(buf, tmp[:]...)
	}
	return sha3.Sum256(buf)
}
