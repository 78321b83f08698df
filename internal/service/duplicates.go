package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jask/ledgerflow/internal/database/repository"
	"github.com/jask/ledgerflow/internal/dedup"
	"github.com/jask/ledgerflow/internal/domain"
	"github.com/jask/ledgerflow/internal/ledger"
)

// ImportOutcome is what happened to one imported candidate.
type ImportOutcome struct {
	Transaction  domain.Transaction
	AppliedRules []domain.AppliedRule
	Skipped      bool
	Pending      *repository.PendingDuplicate
}

// Import is the non-interactive create used by file and parser imports. A
// candidate whose source hash is already stored is skipped. A probable
// duplicate never blocks the insert; it is queued for review instead.
func (s *TransactionService) Import(ctx context.Context, candidate domain.Transaction, rawText *string) (ImportOutcome, error) {
	cand := normalize(candidate)
	if cand.SourceHash != nil {
		seen, err := s.Transactions.HasSourceHash(ctx, *cand.SourceHash)
		if err != nil {
			return ImportOutcome{}, err
		}
		if seen {
			return ImportOutcome{Skipped: true}, nil
		}
	}

	res, err := s.ApplyAutomationRules(ctx, cand, rawText)
	if err != nil {
		return ImportOutcome{}, err
	}
	tx := res.Transaction
	if s.opts.RecordProvenance {
		tx.AppliedRules = res.AppliedRules
	}
	if err := tx.Validate(); err != nil {
		return ImportOutcome{}, err
	}
	m, err := s.FindDuplicate(ctx, tx)
	if err != nil {
		return ImportOutcome{}, err
	}

	out := ImportOutcome{AppliedRules: res.AppliedRules}
	if m != nil {
		out.Pending = &repository.PendingDuplicate{
			ID:            uuid.NewString(),
			TransactionID: tx.ID,
			ExistingID:    m.Existing.ID,
			Similarity:    m.Similarity,
			Status:        repository.DuplicatePending,
		}
	}
	err = s.locked(ctx, ledger.AccountsOf(tx), func(q *sql.Tx) error {
		if err := s.Transactions.WithTx(q).Insert(ctx, tx); err != nil {
			return err
		}
		if err := s.Ledger.ApplyTransaction(ctx, q, tx); err != nil {
			return err
		}
		if out.Pending != nil {
			return s.Duplicates.WithTx(q).Add(ctx, *out.Pending)
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ImportOutcome{Skipped: true}, nil
		}
		return ImportOutcome{}, err
	}
	tx.BalanceApplied = true
	out.Transaction = tx
	return out, nil
}

// ResolvePendingDuplicate settles a queued duplicate. CreateAnyway keeps both
// rows. ReplaceExisting deletes the older row and reverses its effect; the
// imported row is already applied.
func (s *TransactionService) ResolvePendingDuplicate(ctx context.Context, pendingID string, choice dedup.Resolution) error {
	if !choice.Valid() {
		return &domain.ValidationError{Field: "resolution", Reason: fmt.Sprintf("unknown resolution %q", choice)}
	}
	pd, err := s.Duplicates.Get(ctx, pendingID)
	if err != nil {
		return err
	}
	if pd == nil {
		return fmt.Errorf("pending duplicate %s: %w", pendingID, sql.ErrNoRows)
	}
	if pd.Status != repository.DuplicatePending {
		return fmt.Errorf("%s: %w", pendingID, ErrAlreadyResolved)
	}

	if choice == dedup.CreateAnyway {
		ok, err := s.Duplicates.Resolve(ctx, pendingID, repository.DuplicateKept)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", pendingID, ErrAlreadyResolved)
		}
		return nil
	}

	existing, err := s.Transactions.GetLive(ctx, pd.ExistingID)
	if err != nil {
		if !errors.Is(err, repository.ErrTransactionNotFound) {
			return err
		}
		// Already gone; only the queue entry is left to settle.
		_, err = s.Duplicates.Resolve(ctx, pendingID, repository.DuplicateReplaced)
		return err
	}
	return s.locked(ctx, ledger.AccountsOf(existing), func(q *sql.Tx) error {
		ok, err := s.Duplicates.WithTx(q).Resolve(ctx, pendingID, repository.DuplicateReplaced)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", pendingID, ErrAlreadyResolved)
		}
		return s.retire(ctx, q, existing)
	})
}

// ParseResolution accepts the resolution names used on the command line.
// keep_both is the queue's name for create_anyway.
func ParseResolution(s string) (dedup.Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keep_both", string(dedup.CreateAnyway):
		return dedup.CreateAnyway, nil
	case "replace", string(dedup.ReplaceExisting):
		return dedup.ReplaceExisting, nil
	}
	return "", &domain.ValidationError{Field: "resolution", Reason: fmt.Sprintf("unknown resolution %q", s)}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE")
}
