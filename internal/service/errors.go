package service

import (
	"errors"
	"fmt"

	"github.com/jask/ledgerflow/internal/dedup"
	"github.com/jask/ledgerflow/internal/domain"
)

var (
	// ErrDuplicateDetected marks a create that needs a resolution from the
	// caller. It is a decision point, not a failure.
	ErrDuplicateDetected = errors.New("possible duplicate")
	// ErrAlreadyResolved is returned when a pending duplicate was decided
	// before.
	ErrAlreadyResolved = errors.New("pending duplicate already resolved")
	// ErrStaleRead is returned when the row changed between the read and the
	// locked write. Retry the whole operation.
	ErrStaleRead = errors.New("transaction changed concurrently")
)

// DuplicateDetectedError carries the candidate and the existing row it
// resembles. It matches ErrDuplicateDetected with errors.Is.
type DuplicateDetectedError struct {
	Candidate domain.Transaction
	Match     dedup.Match
}

func (e *DuplicateDetectedError) Error() string {
	return fmt.Sprintf("%v: %s matches existing %s (similarity %.2f)",
		ErrDuplicateDetected, e.Candidate.Description, e.Match.Existing.ID, e.Match.Similarity)
}

func (e *DuplicateDetectedError) Is(target error) bool { return target == ErrDuplicateDetected }
