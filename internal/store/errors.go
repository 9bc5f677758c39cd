package store

import (
	"errors"
	"fmt"
)

var (
	// ErrTypeMismatch indicates a write would change the concrete type of an
	// existing record.
	ErrTypeMismatch = errors.New("store: record type mismatch")
)

// TypeMismatchError reports the record whose typename conflicted.
type TypeMismatchError struct {
	ID       string
	Existing string
	Incoming string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("store: record %q has type %q, cannot write %q", e.ID, e.Existing, e.Incoming)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }
