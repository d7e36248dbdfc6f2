package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/davidahmann/canon/internal/ledger"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgres connects with lib/pq and applies the embedded ledger
// migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ledger.Migrate(ctx, db, ledger.DBPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Append holds a SHARE ROW EXCLUSIVE lock on the entries table for the
// duration of the insert so concurrent writers cannot claim the same
// sequence or leave a gap.
func (s *Store) Append(ctx context.Context, record []byte, signature string) (int64, error) {
	var seq int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE canon_ledger_entries IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `INSERT INTO canon_ledger_entries(sequence, entry, signature, recorded_at)
SELECT COALESCE(MAX(sequence), 0) + 1, $1, $2, $3 FROM canon_ledger_entries
RETURNING sequence`, string(record), signature, s.now().UTC())
		return row.Scan(&seq)
	})
	if err != nil {
		return 0, ledger.Wrap("append", err)
	}
	return seq, nil
}

func (s *Store) ScanAll(ctx context.Context) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sequence, entry, signature, recorded_at FROM canon_ledger_entries ORDER BY sequence ASC`)
	if err != nil {
		return nil, ledger.Wrap("scan", err)
	}
	defer rows.Close()

	out := []ledger.Entry{}
	for rows.Next() {
		var (
			e     ledger.Entry
			entry string
		)
		if err := rows.Scan(&e.Sequence, &entry, &e.Signature, &e.RecordedAt); err != nil {
			return nil, ledger.Wrap("scan", err)
		}
		e.Record = []byte(entry)
		e.RecordedAt = e.RecordedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Wrap("scan", err)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM canon_ledger_entries`).Scan(&n); err != nil {
		return 0, ledger.Wrap("count", err)
	}
	return n, nil
}
