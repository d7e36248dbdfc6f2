package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/davidahmann/canon/internal/ledger"
)

type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenSQLite opens dsn with the pure-Go sqlite driver and applies the
// embedded ledger migrations.
func OpenSQLite(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ledger.Migrate(ctx, db, ledger.DBSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Append assigns the next sequence inside the insert statement itself, so
// the sequence and the row become visible together or not at all.
func (s *Store) Append(ctx context.Context, record []byte, signature string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordedAt := s.now().UTC().Format(time.RFC3339Nano)
	var seq int64
	row := s.db.QueryRowContext(ctx, `INSERT INTO ledger_entries(sequence, entry, signature, recorded_at)
SELECT COALESCE(MAX(sequence), 0) + 1, ?, ?, ? FROM ledger_entries
RETURNING sequence`, string(record), signature, recordedAt)
	if err := row.Scan(&seq); err != nil {
		return 0, ledger.Wrap("append", err)
	}
	return seq, nil
}

func (s *Store) ScanAll(ctx context.Context) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sequence, entry, signature, recorded_at FROM ledger_entries ORDER BY sequence ASC`)
	if err != nil {
		return nil, ledger.Wrap("scan", err)
	}
	defer rows.Close()

	out := []ledger.Entry{}
	for rows.Next() {
		var (
			e          ledger.Entry
			entry      string
			recordedAt string
		)
		if err := rows.Scan(&e.Sequence, &entry, &e.Signature, &recordedAt); err != nil {
			return nil, ledger.Wrap("scan", err)
		}
		e.Record = []byte(entry)
		e.RecordedAt = parseRecordedAt(recordedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Wrap("scan", err)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries`).Scan(&n); err != nil {
		return 0, ledger.Wrap("count", err)
	}
	return n, nil
}

// recorded_at is informational; an unparsable value yields the zero time
// rather than failing a verification scan.
func parseRecordedAt(raw string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
