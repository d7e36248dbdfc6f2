package trace

import (
	"context"
	"fmt"
	"time"

	"github.com/davidahmann/canon/internal/crypto"
	"github.com/davidahmann/canon/internal/ledger"
)

type Input struct {
	AgentID       string
	LiabilityLink string
	Action        string
	Payload       string
	Result        string
}

// Handle is the caller's immediate proof of an action: the stored record and
// its signature, without a read back from the ledger.
type Handle struct {
	Sequence  int64
	Record    []byte
	Signature string
}

func (h Handle) String() string {
	return string(h.Record) + "." + h.Signature
}

type Generator struct {
	Signer *crypto.HMACSigner
	Store  ledger.Store
	Now    func() time.Time
	Nonce  func() (string, error)
}

// Build returns the record for in without signing or storing it.
func (g *Generator) Build(in Input) (Record, error) {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	nonce := crypto.NewNonce
	if g.Nonce != nil {
		nonce = g.Nonce
	}

	n, err := nonce()
	if err != nil {
		return Record{}, fmt.Errorf("nonce: %w", err)
	}

	r := Record{
		T:            now().UnixMicro(),
		Nonce:        n,
		AgentID:      in.AgentID,
		Action:       in.Action,
		Payload:      in.Payload,
		ResultDigest: crypto.DigestHex([]byte(in.Result)),
	}
	if in.LiabilityLink != "" {
		link := in.LiabilityLink
		r.LiabilityLink = &link
	}
	return r, nil
}

// BuildAndPersist signs the canonical record for in and appends it. A store
// failure comes back as a *ledger.StorageError and no handle is returned.
func (g *Generator) BuildAndPersist(ctx context.Context, in Input) (Handle, error) {
	if g.Signer == nil || g.Store == nil {
		return Handle{}, fmt.Errorf("trace generator requires a signer and a store")
	}
	r, err := g.Build(in)
	if err != nil {
		return Handle{}, err
	}
	record, err := Encode(r)
	if err != nil {
		return Handle{}, fmt.Errorf("encode record: %w", err)
	}
	sig := g.Signer.Sign(record)

	seq, err := g.Store.Append(ctx, record, sig)
	if err != nil {
		return Handle{}, ledger.Wrap("append", err)
	}
	return Handle{Sequence: seq, Record: record, Signature: sig}, nil
}
