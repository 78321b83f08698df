package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jask/ledgerflow/internal/database/repository"
	"github.com/jask/ledgerflow/internal/domain"
	"github.com/jask/ledgerflow/internal/ledger"
)

// BulkDeleteResult lists what happened to every requested id.
type BulkDeleteResult struct {
	Deleted []string
	// Failed maps an id to why it was not fully deleted. A row whose
	// reversal failed stays soft-deleted with its effect still applied;
	// BackfillBalances reverses it later.
	Failed map[string]error
}

// BulkDelete soft-deletes the live rows among ids in one batch write, then
// reverses each effect concurrently. Rows sharing an account are serialized
// by the ledger locks. A failed reversal never aborts the others.
func (s *TransactionService) BulkDelete(ctx context.Context, ids []string) (BulkDeleteResult, error) {
	out := BulkDeleteResult{Failed: make(map[string]error)}
	live, err := s.Transactions.LiveByIDs(ctx, ids)
	if err != nil {
		return out, fmt.Errorf("load transactions: %w", err)
	}
	found := make(map[string]bool, len(live))
	liveIDs := make([]string, 0, len(live))
	for _, t := range live {
		found[t.ID] = true
		liveIDs = append(liveIDs, t.ID)
	}
	for _, id := range ids {
		if !found[id] {
			out.Failed[id] = fmt.Errorf("%s: %w", id, repository.ErrTransactionNotFound)
		}
	}
	if len(live) == 0 {
		return out, nil
	}

	if _, err := s.Transactions.SoftDeleteMany(ctx, liveIDs); err != nil {
		return out, fmt.Errorf("soft delete batch: %w", err)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.BulkConcurrency)
	for _, t := range live {
		g.Go(func() error {
			err := s.reverseDeleted(ctx, t)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failed[t.ID] = err
				s.Log.Error().Err(err).Str("tx_id", t.ID).Str("account_id", t.AccountID).Msg("bulk delete reversal failed")
				return nil
			}
			out.Deleted = append(out.Deleted, t.ID)
			return nil
		})
	}
	_ = g.Wait()
	s.Log.Info().Int("deleted", len(out.Deleted)).Int("failed", len(out.Failed)).Msg("bulk delete")
	return out, nil
}

// reverseDeleted reverses the stored effect of a soft-deleted row if it is
// still applied. snap only widens the lock set: the row is read again under
// the locks and reversed as persisted, so an edit that committed after snap
// was taken is not reversed twice.
func (s *TransactionService) reverseDeleted(ctx context.Context, snap domain.Transaction) error {
	cur, err := s.Transactions.Get(ctx, snap.ID)
	if err != nil {
		return err
	}
	if cur == nil {
		return fmt.Errorf("%s: %w", snap.ID, repository.ErrTransactionNotFound)
	}
	lock := ledger.AccountsOf(snap, *cur)
	return s.locked(ctx, lock, func(q *sql.Tx) error {
		now, err := s.Transactions.WithTx(q).Get(ctx, snap.ID)
		if err != nil {
			return err
		}
		if now == nil {
			return fmt.Errorf("%s: %w", snap.ID, repository.ErrTransactionNotFound)
		}
		if !now.BalanceApplied {
			return nil
		}
		if !covers(lock, ledger.AccountsOf(*now)) {
			return &ledger.Error{Op: "delete", TxID: snap.ID, Err: ErrStaleRead}
		}
		return s.Ledger.ReverseTransaction(ctx, q, *now)
	})
}

func covers(locked, need []string) bool {
	held := make(map[string]bool, len(locked))
	for _, id := range locked {
		held[id] = true
	}
	for _, id := range need {
		if !held[id] {
			return false
		}
	}
	return true
}

// BackfillResult counts the repairs made by BackfillBalances.
type BackfillResult struct {
	Applied  int
	Reversed int
	Failed   map[string]error
}

// BackfillBalances brings every row's ledger state in line with its
// lifecycle: live rows whose effect is absent get applied, deleted rows whose
// effect is still applied get reversed.
func (s *TransactionService) BackfillBalances(ctx context.Context) (BackfillResult, error) {
	out := BackfillResult{Failed: make(map[string]error)}

	pending, err := s.Transactions.Unapplied(ctx)
	if err != nil {
		return out, fmt.Errorf("load unapplied: %w", err)
	}
	for _, t := range pending {
		err := s.locked(ctx, ledger.AccountsOf(t), func(q *sql.Tx) error {
			return s.Ledger.ApplyTransaction(ctx, q, t)
		})
		if err != nil {
			out.Failed[t.ID] = err
			continue
		}
		out.Applied++
	}

	stale, err := s.Transactions.DeletedApplied(ctx)
	if err != nil {
		return out, fmt.Errorf("load deleted: %w", err)
	}
	for _, t := range stale {
		if err := s.reverseDeleted(ctx, t); err != nil {
			out.Failed[t.ID] = err
			continue
		}
		out.Reversed++
	}
	s.Log.Info().Int("applied", out.Applied).Int("reversed", out.Reversed).Int("failed", len(out.Failed)).Msg("balance backfill")
	return out, nil
}
