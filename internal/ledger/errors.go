package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound is returned when an account is missing or soft-deleted.
	ErrAccountNotFound = errors.New("account not found")
	// ErrConcurrentWrite is returned when the compare-and-set on an account
	// row loses to another writer.
	ErrConcurrentWrite = errors.New("concurrent balance write")
	// ErrAlreadyApplied is returned when applying a transaction whose effect
	// is already reflected in balances.
	ErrAlreadyApplied = errors.New("balance effect already applied")
	// ErrNotApplied is returned when reversing a transaction whose effect is
	// absent.
	ErrNotApplied = errors.New("balance effect not applied")
)

// Error is a failed balance mutation. The caller may retry the whole storage
// transaction.
type Error struct {
	Op        string
	AccountID string
	TxID      string
	Err       error
}

func (e *Error) Error() string {
	switch {
	case e.TxID != "" && e.AccountID != "":
		return fmt.Sprintf("ledger %s tx %s account %s: %v", e.Op, e.TxID, e.AccountID, e.Err)
	case e.TxID != "":
		return fmt.Sprintf("ledger %s tx %s: %v", e.Op, e.TxID, e.Err)
	case e.AccountID != "":
		return fmt.Sprintf("ledger %s account %s: %v", e.Op, e.AccountID, e.Err)
	}
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable is always true for ledger errors.
func (e *Error) Retryable() bool { return true }

// IsRetryable reports whether err carries a ledger error.
func IsRetryable(err error) bool {
	var le *Error
	return errors.As(err, &le)
}
