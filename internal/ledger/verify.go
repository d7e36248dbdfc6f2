package ledger

import (
	"bytes"
	"context"

	"github.com/gowebpki/jcs"
)

const (
	ReasonSignatureMismatch = "signature_mismatch"
	ReasonNonCanonical      = "non_canonical"
	ReasonSequenceGap       = "sequence_gap"
)

// VerifyFunc recomputes the signature over record and compares it to
// signature. It must compare in constant time.
type VerifyFunc func(record []byte, signature string) bool

type Failure struct {
	Sequence int64  `json:"sequence"`
	Reason   string `json:"reason"`
}

type Report struct {
	Total    int       `json:"total"`
	Failures []Failure `json:"failures"`
}

func (r Report) OK() bool { return len(r.Failures) == 0 }

// Err returns an *IntegrityViolation when any entry failed, nil otherwise.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	failures := make([]Failure, len(r.Failures))
	copy(failures, r.Failures)
	return &IntegrityViolation{Failures: failures}
}

// FailedSequences returns the distinct failing sequences in ledger order.
func (r Report) FailedSequences() []int64 {
	out := []int64{}
	seen := map[int64]struct{}{}
	for _, f := range r.Failures {
		if _, ok := seen[f.Sequence]; ok {
			continue
		}
		seen[f.Sequence] = struct{}{}
		out = append(out, f.Sequence)
	}
	return out
}

// Verify walks the full ledger and checks every entry: the signature must
// match its record, the record must be in canonical form, and sequences must
// run without gaps. Every failure is reported, not only the first.
func Verify(ctx context.Context, store Store, verify VerifyFunc) (Report, error) {
	entries, err := store.ScanAll(ctx)
	if err != nil {
		return Report{}, Wrap("scan", err)
	}

	report := Report{Total: len(entries), Failures: []Failure{}}
	var prev int64
	for _, e := range entries {
		if e.Sequence != prev+1 {
			report.Failures = append(report.Failures, Failure{Sequence: e.Sequence, Reason: ReasonSequenceGap})
		}
		prev = e.Sequence

		if !verify(e.Record, e.Signature) {
			report.Failures = append(report.Failures, Failure{Sequence: e.Sequence, Reason: ReasonSignatureMismatch})
			continue
		}
		if !isCanonical(e.Record) {
			report.Failures = append(report.Failures, Failure{Sequence: e.Sequence, Reason: ReasonNonCanonical})
		}
	}
	return report, nil
}

func isCanonical(record []byte) bool {
	transformed, err := jcs.Transform(record)
	if err != nil {
		return false
	}
	return bytes.Equal(transformed, record)
}
