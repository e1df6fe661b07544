// Package record stores simulation results in a SQLite database.
package record

import (
	"database/sql"
	"fmt"
	"os"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// AccessEntry is one bank access.
type AccessEntry struct {
	Seq           uint64
	Bank          string
	Op            string
	Addr          uint32
	Hit           bool
	WroteBack     bool
	WritebackAddr uint32
}

// SummaryEntry holds the final counters of one bank.
type SummaryEntry struct {
	Bank       string
	Hits       uint64
	Misses     uint64
	Reads      uint64
	Writes     uint64
	Evictions  uint64
	Writebacks uint64
	// HitRatio is only meaningful when HitRatioDefined is set.
	HitRatio        float64
	HitRatioDefined bool
}

// A Recorder collects the results of a simulation run.
type Recorder interface {
	// RecordAccess buffers one access.
	RecordAccess(entry AccessEntry)

	// RecordSummary buffers the final statistics of a bank.
	RecordSummary(entry SummaryEntry)

	// Flush writes all buffered entries.
	Flush() error

	// Close flushes and releases the recorder.
	Close() error
}

// SQLiteRecorder writes entries into a SQLite database, batching inserts in
// transactions.
type SQLiteRecorder struct {
	*sql.DB

	runID     string
	dbName    string
	batchSize int
	closed    bool

	accesses  []AccessEntry
	summaries []SummaryEntry
}

// NewSQLiteRecorder creates <path>.sqlite3. An empty path names the file
// after the run ID. An existing file is never overwritten.
//
// Each recorder registers an atexit handler that flushes pending rows. The
// handler stays registered after Close and becomes a no-op.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	r := &SQLiteRecorder{
		runID:     xid.New().String(),
		dbName:    path,
		batchSize: 100000,
	}

	if r.dbName == "" {
		r.dbName = "cachesim_" + r.runID
	}

	if err := r.init(); err != nil {
		return nil, err
	}

	atexit.Register(func() { _ = r.Flush() })

	return r, nil
}

// RunID returns the identifier stored with every row.
func (r *SQLiteRecorder) RunID() string {
	return r.runID
}

// Filename returns the database file.
func (r *SQLiteRecorder) Filename() string {
	return r.dbName + ".sqlite3"
}

func (r *SQLiteRecorder) init() error {
	filename := r.Filename()

	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filename, err)
	}
	r.DB = db

	for _, stmt := range []string{
		`CREATE TABLE accesses (
	run_id TEXT,
	seq INTEGER,
	bank TEXT,
	op TEXT,
	addr INTEGER,
	hit INTEGER,
	wrote_back INTEGER,
	writeback_addr INTEGER
);`,
		`CREATE TABLE summaries (
	run_id TEXT,
	bank TEXT,
	hits INTEGER,
	misses INTEGER,
	reads INTEGER,
	writes INTEGER,
	evictions INTEGER,
	writebacks INTEGER,
	hit_ratio REAL
);`,
	} {
		if _, err := r.Exec(stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// RecordAccess buffers one access and flushes when the batch is full.
func (r *SQLiteRecorder) RecordAccess(entry AccessEntry) {
	r.accesses = append(r.accesses, entry)
	if len(r.accesses) >= r.batchSize {
		if err := r.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "Error flushing recorder: %v\n", err)
		}
	}
}

// RecordSummary buffers the final statistics of a bank.
func (r *SQLiteRecorder) RecordSummary(entry SummaryEntry) {
	r.summaries = append(r.summaries, entry)
}

// Flush writes all buffered entries in one transaction.
func (r *SQLiteRecorder) Flush() error {
	if r.closed || (len(r.accesses) == 0 && len(r.summaries) == 0) {
		return nil
	}

	tx, err := r.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := r.insertAccesses(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := r.insertSummaries(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	r.accesses = nil
	r.summaries = nil

	return nil
}

func (r *SQLiteRecorder) insertAccesses(tx *sql.Tx) error {
	if len(r.accesses) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(`INSERT INTO accesses VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare access insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range r.accesses {
		_, err := stmt.Exec(r.runID, e.Seq, e.Bank, e.Op, e.Addr,
			e.Hit, e.WroteBack, e.WritebackAddr)
		if err != nil {
			return fmt.Errorf("failed to insert access %d: %w", e.Seq, err)
		}
	}

	return nil
}

func (r *SQLiteRecorder) insertSummaries(tx *sql.Tx) error {
	if len(r.summaries) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(
		`INSERT INTO summaries VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare summary insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range r.summaries {
		ratio := sql.NullFloat64{Float64: e.HitRatio, Valid: e.HitRatioDefined}
		_, err := stmt.Exec(r.runID, e.Bank, e.Hits, e.Misses, e.Reads,
			e.Writes, e.Evictions, e.Writebacks, ratio)
		if err != nil {
			return fmt.Errorf("failed to insert summary for %s: %w", e.Bank, err)
		}
	}

	return nil
}

// Close flushes the remaining entries and closes the database.
func (r *SQLiteRecorder) Close() error {
	if r.closed {
		return nil
	}

	flushErr := r.Flush()
	r.closed = true

	if err := r.DB.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", r.Filename(), err)
	}

	return flushErr
}
