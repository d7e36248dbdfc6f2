package ledger

import (
	"context"
	"sync"
	"time"
)

type InMemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{now: time.Now}
}

func (s *InMemoryStore) Append(ctx context.Context, record []byte, signature string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, Wrap("append", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := make([]byte, len(record))
	copy(rec, record)
	seq := int64(len(s.entries)) + 1
	s.entries = append(s.entries, Entry{
		Sequence:   seq,
		Record:     rec,
		Signature:  signature,
		RecordedAt: s.now().UTC(),
	})
	return seq, nil
}

func (s *InMemoryStore) ScanAll(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("scan", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		rec := make([]byte, len(e.Record))
		copy(rec, e.Record)
		e.Record = rec
		out[i] = e
	}
	return out, nil
}

func (s *InMemoryStore) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, Wrap("count", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries)), nil
}

func (s *InMemoryStore) Close() error { return nil }
