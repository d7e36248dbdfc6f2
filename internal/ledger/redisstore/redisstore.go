// Package redisstore keeps the ledger in a single Redis list. The list index
// is the sequence: RPUSH is atomic and returns the new length, so sequences
// are assigned without gaps and without a separate counter.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidahmann/canon/internal/ledger"
)

const DefaultKey = "canon:ledger"

type envelope struct {
	Entry      string    `json:"entry"`
	Signature  string    `json:"signature"`
	RecordedAt time.Time `json:"recorded_at"`
}

type Store struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

// Open parses a redis:// URL, pings the server and returns a store on
// DefaultKey.
func Open(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return New(client, DefaultKey), nil
}

func New(client *redis.Client, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{client: client, key: key, now: time.Now}
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Client() *redis.Client { return s.client }

func (s *Store) Append(ctx context.Context, record []byte, signature string) (int64, error) {
	raw, err := json.Marshal(envelope{Entry: string(record), Signature: signature, RecordedAt: s.now().UTC()})
	if err != nil {
		return 0, ledger.Wrap("append", err)
	}
	seq, err := s.client.RPush(ctx, s.key, raw).Result()
	if err != nil {
		return 0, ledger.Wrap("append", err)
	}
	return seq, nil
}

func (s *Store) ScanAll(ctx context.Context) ([]ledger.Entry, error) {
	items, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, ledger.Wrap("scan", err)
	}
	out := make([]ledger.Entry, 0, len(items))
	for i, item := range items {
		var env envelope
		if err := json.Unmarshal([]byte(item), &env); err != nil {
			return nil, ledger.Wrap("scan", fmt.Errorf("decode entry %d: %w", i+1, err))
		}
		out = append(out, ledger.Entry{
			Sequence:   int64(i + 1),
			Record:     []byte(env.Entry),
			Signature:  env.Signature,
			RecordedAt: env.RecordedAt,
		})
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, s.key).Result()
	if err != nil {
		return 0, ledger.Wrap("count", err)
	}
	return n, nil
}
