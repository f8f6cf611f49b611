package statefile

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"seedlink/streams"
)

// SQLiteStore persists connection state in an SQLite database, for clients
// that already carry a database and want transactional state updates
// instead of rewriting a text file.
type SQLiteStore struct {
	db *sql.DB
}

const stateSchema = `
CREATE TABLE IF NOT EXISTS stream_state (
    station_id TEXT PRIMARY KEY,
    seqnum     INTEGER NOT NULL,
    timestamp  TEXT NOT NULL DEFAULT ''
);`

// OpenSQLiteStore opens (or creates) the database at path, running a
// bounded integrity preflight before the schema check so a damaged file
// fails fast instead of stalling startup.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("statefile: ensure dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("statefile: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var check string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check(1)").Scan(&check); err != nil {
		db.Close()
		return nil, fmt.Errorf("statefile: sqlite preflight: %w", err)
	}
	if check != "ok" {
		db.Close()
		return nil, fmt.Errorf("statefile: sqlite preflight: %s", check)
	}

	if _, err := db.Exec(stateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("statefile: init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save upserts the state of every subscription. Sequence numbers are
// stored as signed 64-bit values, so the unset sentinel round-trips as -1.
func (s *SQLiteStore) Save(list *streams.List) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statefile: begin: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO stream_state (station_id, seqnum, timestamp)
		VALUES (?, ?, ?)
		ON CONFLICT(station_id) DO UPDATE SET seqnum = excluded.seqnum, timestamp = excluded.timestamp`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("statefile: prepare: %w", err)
	}
	defer stmt.Close()

	for _, entry := range list.All() {
		if _, err := stmt.Exec(entry.NetStaID, int64(entry.SeqNum), entry.Timestamp); err != nil {
			tx.Rollback()
			return fmt.Errorf("statefile: upsert %s: %w", entry.NetStaID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("statefile: commit: %w", err)
	}
	return nil
}

// Recover applies stored state to matching entries of the list.
func (s *SQLiteStore) Recover(list *streams.List) error {
	rows, err := s.db.Query("SELECT station_id, seqnum, timestamp FROM stream_state")
	if err != nil {
		return fmt.Errorf("statefile: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, timestamp string
		var seqnum int64
		if err := rows.Scan(&id, &seqnum, &timestamp); err != nil {
			return fmt.Errorf("statefile: scan: %w", err)
		}
		if entry := list.Find(id); entry != nil {
			entry.SeqNum = uint64(seqnum)
			entry.Timestamp = timestamp
		}
	}
	return rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
