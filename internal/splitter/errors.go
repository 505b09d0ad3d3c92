package splitter

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyRecipients indicates an empty recipient list.
	ErrEmptyRecipients = errors.New("splitter: empty recipients")

	// ErrLengthMismatch indicates recipients and amounts differ in length.
	ErrLengthMismatch = errors.New("splitter: recipients and amounts length mismatch")

	// ErrZeroRecipient indicates a zero-address recipient.
	ErrZeroRecipient = errors.New("splitter: zero address recipient")

	// ErrZeroAmount indicates a zero transfer amount.
	ErrZeroAmount = errors.New("splitter: zero amount")

	// ErrTotalOverflow indicates the amount sum overflowed 256 bits.
	ErrTotalOverflow = errors.New("splitter: total amount overflow")

	// ErrInsufficientBalance indicates the caller's token balance doesn't cover the total.
	ErrInsufficientBalance = errors.New("splitter: insufficient balance")

	// ErrInsufficientAllowance indicates the engine's spend allowance doesn't cover the total.
	ErrInsufficientAllowance = errors.New("splitter: insufficient allowance")

	// ErrNotAuthorized indicates the caller failed the access gate.
	ErrNotAuthorized = errors.New("splitter: caller not authorized")

	// ErrReentrant indicates a settlement re-entered while one was in flight.
	ErrReentrant = errors.New("splitter: reentrant call")
)

// IndexedError wraps a validation error with the first offending index.
// Validation runs in ascending index order, so the index is deterministic.
type IndexedError struct {
	Index int
	err   error
}

func (e *IndexedError) Error() string {
	return fmt.Sprintf("%v at index %d", e.err, e.Index)
}

func (e *IndexedError) Unwrap() error {
	return e.err
}

func indexed(err error, i int) *IndexedError {
	return &IndexedError{Index: i, err: err}
}
