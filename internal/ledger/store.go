package ledger

import (
	"context"
	"time"
)

// Store is an append-only sequence of signed records. Implementations
// assign sequences 1, 2, 3, ... with no gaps and expose no way to change or
// remove an entry once written.
type Store interface {
	// Append durably writes one record and its signature and returns the
	// assigned sequence. The write is atomic.
	Append(ctx context.Context, record []byte, signature string) (int64, error)
	// ScanAll returns every entry in sequence order.
	ScanAll(ctx context.Context) ([]Entry, error)
	Count(ctx context.Context) (int64, error)
}

type Entry struct {
	Sequence   int64
	Record     []byte
	Signature  string
	RecordedAt time.Time
}
