package report

import (
	"database/sql"
	"sync"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/pkg/errors"
	"github.com/tebeka/atexit"
)

const createSummaries = `
CREATE TABLE IF NOT EXISTS summaries (
	run_id     TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	server     TEXT NOT NULL,
	mode       TEXT NOT NULL,
	samples    INTEGER NOT NULL,
	completed  INTEGER NOT NULL,
	mean       REAL,
	median     INTEGER,
	min        INTEGER,
	max        INTEGER,
	variance   REAL,
	stddev     REAL,
	p95        INTEGER
)`

const insertSummary = `
INSERT INTO summaries
	(run_id, created_at, server, mode, samples, completed,
	 mean, median, min, max, variance, stddev, p95)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteSink buffers summaries and writes them to a SQLite database in
// batches. Buffered rows are also flushed when the process exits through
// atexit.
type SQLiteSink struct {
	*sql.DB
	statement *sql.Stmt

	mu        sync.Mutex
	pending   []Summary
	batchSize int
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if _, err := db.Exec(createSummaries); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create summaries table")
	}
	stmt, err := db.Prepare(insertSummary)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "prepare insert")
	}

	s := &SQLiteSink{DB: db, statement: stmt, batchSize: 64}
	atexit.Register(func() { _ = s.Flush() })
	return s, nil
}

// Append buffers s and flushes once a batch is full.
func (s *SQLiteSink) Append(sum Summary) error {
	s.mu.Lock()
	s.pending = append(s.pending, sum)
	full := len(s.pending) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush()
	}
	return nil
}

// Flush writes all buffered summaries in one transaction.
func (s *SQLiteSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	tx, err := s.Begin()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	stmt := tx.Stmt(s.statement)
	for _, sum := range s.pending {
		st := sum.Stats
		_, err := stmt.Exec(
			sum.RunID,
			sum.CreatedAt.UnixMicro(),
			sum.ServerAddr,
			sum.Mode,
			sum.Samples,
			sum.Completed,
			st.Mean,
			st.Median,
			st.Min,
			st.Max,
			st.Variance,
			st.StdDev,
			st.P95,
		)
		if err != nil {
			_ = tx.Rollback()
			return errors.Wrapf(err, "insert summary %s", sum.RunID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit summaries")
	}

	s.pending = nil
	return nil
}

// Close flushes and closes the database.
func (s *SQLiteSink) Close() error {
	ferr := s.Flush()
	s.statement.Close()
	if err := s.DB.Close(); err != nil {
		return errors.Wrap(err, "close database")
	}
	return ferr
}
