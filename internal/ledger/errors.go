package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrStorage   = errors.New("ledger storage failure")
	ErrIntegrity = errors.New("ledger integrity violation")
)

// StorageError wraps a durability-layer failure. An action whose record hit a
// StorageError is unproven and must be treated as not authorized.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Wrap returns err as a *StorageError for op, leaving nil and existing
// storage errors untouched.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IntegrityViolation lists every entry that failed verification.
type IntegrityViolation struct {
	Failures []Failure
}

func (e *IntegrityViolation) Error() string {
	seqs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		seqs = append(seqs, strconv.FormatInt(f.Sequence, 10))
	}
	return fmt.Sprintf("ledger integrity violation at sequence %s", strings.Join(seqs, ","))
}

func (e *IntegrityViolation) Is(target error) bool { return target == ErrIntegrity }
