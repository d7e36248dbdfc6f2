// Package trace builds, signs and persists the canonical record of one
// executed action.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/davidahmann/canon/internal/crypto"
)

var ErrNotCanonical = errors.New("record is not in canonical form")

// Record is the signed body of a ledger entry. T is Unix time in
// microseconds; a nil LiabilityLink is written as null.
type Record struct {
	T             int64   `json:"t"`
	Nonce         string  `json:"nonce"`
	AgentID       string  `json:"aid"`
	Action        string  `json:"act"`
	Payload       string  `json:"pay"`
	ResultDigest  string  `json:"res"`
	LiabilityLink *string `json:"lib"`
}

func (r Record) fields() map[string]any {
	var lib any
	if r.LiabilityLink != nil {
		lib = *r.LiabilityLink
	}
	return map[string]any{
		"act":   r.Action,
		"aid":   r.AgentID,
		"lib":   lib,
		"nonce": r.Nonce,
		"pay":   r.Payload,
		"res":   r.ResultDigest,
		"t":     r.T,
	}
}

// Encode returns the canonical bytes that get signed and stored.
func Encode(r Record) ([]byte, error) {
	return crypto.Canonicalize(r.fields())
}

// Decode parses a stored record. Unknown keys and non-integer timestamps are
// rejected, and the bytes must be exactly what Encode would produce.
func Decode(raw []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var r Record
	if err := dec.Decode(&r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if dec.More() {
		return Record{}, fmt.Errorf("decode record: trailing data")
	}

	again, err := Encode(r)
	if err != nil {
		return Record{}, err
	}
	if !bytes.Equal(again, raw) {
		return Record{}, ErrNotCanonical
	}
	return r, nil
}
