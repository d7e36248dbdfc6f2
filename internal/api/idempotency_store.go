package api

import "sync"

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayHeader         = "Idempotent-Replay"
)

// IdemRecord is the outcome of an executed action, stored under the
// caller's Idempotency-Key so a retried request returns the same trace
// instead of appending a second entry.
type IdemRecord struct {
	IdemKey  string
	Action   string
	Payload  string
	Response ActionResponse
}

func (r IdemRecord) matches(req ActionRequest) bool {
	return r.Action == req.Action && r.Payload == req.Payload
}

type IdemStore interface {
	Get(idemKey string) (IdemRecord, bool)
	Put(record IdemRecord)
}

// InMemoryIdemStore keeps records for the life of the process. Keys do not
// survive a gateway restart; the ledger itself is the durable record.
type InMemoryIdemStore struct {
	mu    sync.Mutex
	items map[string]IdemRecord
}

func NewInMemoryIdemStore() *InMemoryIdemStore {
	return &InMemoryIdemStore{items: make(map[string]IdemRecord)}
}

func (s *InMemoryIdemStore) Get(idemKey string) (IdemRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[idemKey]
	return rec, ok
}

func (s *InMemoryIdemStore) Put(record IdemRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[record.IdemKey] = record
}
