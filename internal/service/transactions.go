package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jask/ledgerflow/internal/database"
	"github.com/jask/ledgerflow/internal/database/repository"
	"github.com/jask/ledgerflow/internal/dedup"
	"github.com/jask/ledgerflow/internal/domain"
	"github.com/jask/ledgerflow/internal/ledger"
	"github.com/jask/ledgerflow/internal/rules"
)

// TransactionOptions tunes the transaction service.
type TransactionOptions struct {
	NoteDelimiter    string
	RecordProvenance bool
	Duplicates       dedup.Options
	BulkConcurrency  int
}

// TransactionService runs every transaction write through the rule engine,
// the duplicate detector and the ledger.
type TransactionService struct {
	DB           *sql.DB
	Transactions *repository.TransactionRepo
	Accounts     *repository.AccountRepo
	Categories   *repository.CategoryRepo
	Rules        *repository.AutomationRuleRepo
	Duplicates   *repository.DuplicateRepo
	Ledger       *ledger.Ledger
	Engine       *rules.Engine
	Detector     *dedup.Detector
	Log          zerolog.Logger

	opts     TransactionOptions
	compiled ruleCache
}

// NewTransactionService wires the repositories over db.
func NewTransactionService(db *sql.DB, log zerolog.Logger, opts TransactionOptions) *TransactionService {
	if opts.BulkConcurrency < 1 {
		opts.BulkConcurrency = 1
	}
	return &TransactionService{
		DB:           db,
		Transactions: repository.NewTransactionRepo(db),
		Accounts:     repository.NewAccountRepo(db),
		Categories:   repository.NewCategoryRepo(db),
		Rules:        repository.NewAutomationRuleRepo(db),
		Duplicates:   repository.NewDuplicateRepo(db),
		Ledger:       ledger.New(log),
		Engine:       rules.NewEngine(rules.Options{NoteDelimiter: opts.NoteDelimiter}),
		Detector:     dedup.New(opts.Duplicates),
		Log:          log.With().Str("component", "transactions").Logger(),
		opts:         opts,
	}
}

type refSet struct {
	accounts   map[string]bool
	categories map[string]bool
}

func (r refSet) AccountExists(id string) bool  { return r.accounts[id] }
func (r refSet) CategoryExists(id string) bool { return r.categories[id] }

// ApplyAutomationRules runs the active rules over candidate. Automation fails
// open: when rules or references cannot be loaded the candidate comes back
// unchanged with an issue describing why.
func (s *TransactionService) ApplyAutomationRules(ctx context.Context, candidate domain.Transaction, rawText *string) (rules.Result, error) {
	if err := ctx.Err(); err != nil {
		return rules.Result{}, err
	}
	unchanged := func(err error) rules.Result {
		s.Log.Warn().Err(err).Str("tx_id", candidate.ID).Msg("automation rules skipped")
		return rules.Result{
			Transaction: candidate.Clone(),
			Issues:      []rules.Issue{{Kind: rules.IssueValidation, Field: "rules", Message: err.Error()}},
		}
	}

	defs, err := s.Rules.ListActive(ctx)
	if err != nil {
		return unchanged(fmt.Errorf("load rules: %w", err)), nil
	}
	if len(defs) == 0 {
		return rules.Result{Transaction: candidate.Clone()}, nil
	}
	accounts, err := s.Accounts.LiveIDs(ctx)
	if err != nil {
		return unchanged(fmt.Errorf("load accounts: %w", err)), nil
	}
	categories, err := s.Categories.LiveIDs(ctx)
	if err != nil {
		return unchanged(fmt.Errorf("load categories: %w", err)), nil
	}

	compiled, fresh := s.compiled.compile(defs)
	if fresh > 0 {
		s.Log.Debug().Int("compiled", fresh).Int("active", len(defs)).Msg("rules compiled")
	}
	res := s.Engine.Run(compiled, candidate, rawText, refSet{accounts: accounts, categories: categories})
	for _, is := range res.Issues {
		s.Log.Warn().
			Str("tx_id", candidate.ID).Str("rule_id", is.RuleID).
			Str("kind", string(is.Kind)).Str("field", is.Field).
			Msg(is.Message)
	}
	for _, ar := range res.AppliedRules {
		s.Log.Debug().Str("tx_id", candidate.ID).Str("rule_id", ar.RuleID).Str("rule", ar.RuleName).Msg("rule applied")
	}
	return res, nil
}

// BalanceChange is a raw ledger request outside the transaction lifecycle.
type BalanceChange struct {
	Type       domain.TxType
	AccountID  string
	Amount     decimal.Decimal
	TransferTo *string
	Reverse    bool
}

// ApplyTransactionBalance posts or reverses one effect under the account
// locks, in its own storage transaction. It does not track per-transaction
// state; the lifecycle methods below do.
func (s *TransactionService) ApplyTransactionBalance(ctx context.Context, c BalanceChange) error {
	e, err := ledger.EffectOf(domain.Transaction{
		Type:                c.Type,
		AccountID:           c.AccountID,
		Amount:              c.Amount,
		TransferToAccountID: c.TransferTo,
	})
	if err != nil {
		return err
	}
	return s.locked(ctx, ledger.Accounts(e), func(tx *sql.Tx) error {
		if c.Reverse {
			return s.Ledger.Reverse(ctx, tx, e)
		}
		return s.Ledger.Apply(ctx, tx, e)
	})
}

// locked takes the account locks, then runs fn in a storage transaction.
func (s *TransactionService) locked(ctx context.Context, accountIDs []string, fn func(tx *sql.Tx) error) error {
	return s.Ledger.Serialize(ctx, accountIDs, func() error {
		return database.WithTx(ctx, s.DB, fn)
	})
}

// CreateInput is a candidate plus how to treat a probable duplicate.
type CreateInput struct {
	Transaction domain.Transaction
	RawText     *string
	// CheckDuplicates stops the create with ErrDuplicateDetected when a
	// probable duplicate exists and no Resolution is given.
	CheckDuplicates bool
	Resolution      dedup.Resolution
	// ExistingID names the row to replace with ReplaceExisting. When empty
	// the detector finds it.
	ExistingID string
}

// CreateResult is the persisted transaction and what automation did to it.
type CreateResult struct {
	Transaction  domain.Transaction
	AppliedRules []domain.AppliedRule
	Warnings     []rules.Issue
	ReplacedID   string
}

// Create runs rules on the candidate, consults the duplicate detector and
// inserts the row with its balance effect in one storage transaction.
func (s *TransactionService) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	if in.Resolution != "" && !in.Resolution.Valid() {
		return CreateResult{}, &domain.ValidationError{Field: "resolution", Reason: fmt.Sprintf("unknown resolution %q", in.Resolution)}
	}
	cand := normalize(in.Transaction)
	res, err := s.ApplyAutomationRules(ctx, cand, in.RawText)
	if err != nil {
		return CreateResult{}, err
	}
	tx := res.Transaction
	if s.opts.RecordProvenance {
		tx.AppliedRules = res.AppliedRules
	}
	if err := tx.Validate(); err != nil {
		return CreateResult{}, err
	}
	out := CreateResult{AppliedRules: res.AppliedRules, Warnings: res.Issues}
	if w, err := s.currencyWarning(ctx, tx); err != nil {
		return CreateResult{}, err
	} else if w != nil {
		out.Warnings = append(out.Warnings, *w)
	}

	var existing *domain.Transaction
	if in.CheckDuplicates || in.Resolution == dedup.ReplaceExisting {
		m, err := s.findExisting(ctx, tx, in)
		if err != nil {
			return CreateResult{}, err
		}
		switch {
		case m != nil && in.Resolution == "":
			return out, &DuplicateDetectedError{Candidate: tx, Match: *m}
		case m != nil && in.Resolution == dedup.ReplaceExisting:
			existing = &m.Existing
		}
	}

	lock := ledger.AccountsOf(tx)
	if existing != nil {
		lock = ledger.AccountsOf(tx, *existing)
	}
	err = s.locked(ctx, lock, func(q *sql.Tx) error {
		txs := s.Transactions.WithTx(q)
		if existing != nil {
			if err := s.retire(ctx, q, *existing); err != nil {
				return err
			}
		}
		if err := txs.Insert(ctx, tx); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return s.Ledger.ApplyTransaction(ctx, q, tx)
	})
	if err != nil {
		return out, err
	}
	tx.BalanceApplied = true
	out.Transaction = tx
	if existing != nil {
		out.ReplacedID = existing.ID
	}
	s.Log.Info().
		Str("tx_id", tx.ID).Str("account_id", tx.AccountID).
		Str("type", string(tx.Type)).Str("amount", tx.Amount.String()).
		Int("rules", len(res.AppliedRules)).Str("replaced", out.ReplacedID).
		Msg("transaction created")
	return out, nil
}

// currencyWarning flags a transfer between accounts of different currencies.
// The face amount is posted on both sides; there is no conversion.
func (s *TransactionService) currencyWarning(ctx context.Context, t domain.Transaction) (*rules.Issue, error) {
	if t.Type != domain.TypeTransfer || t.TransferToAccountID == nil {
		return nil, nil
	}
	from, err := s.Accounts.Get(ctx, t.AccountID)
	if err != nil {
		return nil, err
	}
	to, err := s.Accounts.Get(ctx, *t.TransferToAccountID)
	if err != nil {
		return nil, err
	}
	if from == nil || to == nil || from.Currency == to.Currency {
		return nil, nil
	}
	s.Log.Warn().Str("tx_id", t.ID).Str("from", from.Currency).Str("to", to.Currency).
		Msg("cross-currency transfer posted at face value")
	return &rules.Issue{
		Kind:    rules.IssueConflict,
		Field:   "currency",
		Message: fmt.Sprintf("transfer from %s to %s posts %s on both accounts", from.Currency, to.Currency, t.Amount),
	}, nil
}

func (s *TransactionService) findExisting(ctx context.Context, tx domain.Transaction, in CreateInput) (*dedup.Match, error) {
	if in.Resolution == dedup.ReplaceExisting && in.ExistingID != "" {
		ex, err := s.Transactions.GetLive(ctx, in.ExistingID)
		if err != nil {
			return nil, err
		}
		return &dedup.Match{Existing: ex, Similarity: dedup.Similarity(ex.Description, tx.Description)}, nil
	}
	return s.FindDuplicate(ctx, tx)
}

// retire soft-deletes a live row and reverses its effect when applied. The
// caller holds the locks of prior's accounts; a row that moved accounts since
// prior was read is refused.
func (s *TransactionService) retire(ctx context.Context, q *sql.Tx, prior domain.Transaction) error {
	txs := s.Transactions.WithTx(q)
	cur, err := txs.GetLive(ctx, prior.ID)
	if err != nil {
		return err
	}
	if domain.BalanceChanged(prior, cur) {
		return &ledger.Error{Op: "delete", TxID: prior.ID, Err: ErrStaleRead}
	}
	if err := txs.SoftDelete(ctx, cur.ID); err != nil {
		return err
	}
	if !cur.BalanceApplied {
		return nil
	}
	return s.Ledger.ReverseTransaction(ctx, q, cur)
}

// TransactionPatch lists the fields an edit sets. Nil fields are left alone.
type TransactionPatch struct {
	AccountID           *string
	TransferToAccountID *string
	ClearTransfer       bool
	Type                *domain.TxType
	Amount              *decimal.Decimal
	Date                *time.Time
	Time                *string
	Description         *string
	CategoryID          *string
	ClearCategory       bool
	Notes               *string
	Reconciled          *bool
	RawText             *string
	SkipRules           bool
}

func (p TransactionPatch) apply(t *domain.Transaction) {
	if p.AccountID != nil {
		t.AccountID = strings.TrimSpace(*p.AccountID)
	}
	if p.ClearTransfer {
		t.TransferToAccountID = nil
	}
	if p.TransferToAccountID != nil {
		t.TransferToAccountID = domain.Str(*p.TransferToAccountID)
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Date != nil {
		t.Date = domain.DateOnly(*p.Date)
	}
	if p.Time != nil {
		t.Time = strings.TrimSpace(*p.Time)
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.ClearCategory {
		t.CategoryID = nil
	}
	if p.CategoryID != nil {
		t.CategoryID = domain.Str(*p.CategoryID)
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.Reconciled != nil {
		t.Reconciled = *p.Reconciled
	}
}

// UpdateResult reports the edited row and whether the ledger was touched.
type UpdateResult struct {
	Transaction    domain.Transaction
	AppliedRules   []domain.AppliedRule
	Warnings       []rules.Issue
	BalanceChanged bool
}

// Update edits a live transaction. Rules run again over the patched row and
// explicitly patched fields win over rule output. The prior effect is
// reversed and the new one applied only when type, amount, account or
// transfer destination changed.
func (s *TransactionService) Update(ctx context.Context, id string, p TransactionPatch) (UpdateResult, error) {
	prior, err := s.Transactions.GetLive(ctx, id)
	if err != nil {
		return UpdateResult{}, err
	}
	next := prior.Clone()
	p.apply(&next)

	var out UpdateResult
	if !p.SkipRules {
		res, err := s.ApplyAutomationRules(ctx, next, p.RawText)
		if err != nil {
			return UpdateResult{}, err
		}
		next = res.Transaction
		p.apply(&next)
		out.AppliedRules = res.AppliedRules
		out.Warnings = res.Issues
		if s.opts.RecordProvenance && len(res.AppliedRules) > 0 {
			next.AppliedRules = res.AppliedRules
		}
	}
	if err := next.Validate(); err != nil {
		return UpdateResult{}, err
	}
	changed := domain.BalanceChanged(prior, next)
	if changed {
		w, err := s.currencyWarning(ctx, next)
		if err != nil {
			return UpdateResult{}, err
		}
		if w != nil {
			out.Warnings = append(out.Warnings, *w)
		}
	}

	err = s.locked(ctx, ledger.AccountsOf(prior, next), func(q *sql.Tx) error {
		txs := s.Transactions.WithTx(q)
		cur, err := txs.GetLive(ctx, id)
		if err != nil {
			return err
		}
		if domain.BalanceChanged(prior, cur) {
			return &ledger.Error{Op: "update", TxID: id, Err: ErrStaleRead}
		}
		if changed && cur.BalanceApplied {
			if err := s.Ledger.ReverseTransaction(ctx, q, cur); err != nil {
				return err
			}
		}
		if err := txs.Update(ctx, next); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		if changed {
			return s.Ledger.ApplyTransaction(ctx, q, next)
		}
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}
	if changed {
		next.BalanceApplied = true
	}
	out.Transaction = next
	out.BalanceChanged = changed
	s.Log.Info().Str("tx_id", id).Bool("balance_changed", changed).Msg("transaction updated")
	return out, nil
}

// Delete soft-deletes a live transaction and reverses its effect exactly
// once, in one storage transaction.
func (s *TransactionService) Delete(ctx context.Context, id string) error {
	prior, err := s.Transactions.GetLive(ctx, id)
	if err != nil {
		return err
	}
	err = s.locked(ctx, ledger.AccountsOf(prior), func(q *sql.Tx) error {
		return s.retire(ctx, q, prior)
	})
	if err != nil {
		return err
	}
	s.Log.Info().Str("tx_id", id).Msg("transaction deleted")
	return nil
}

// FindDuplicate returns the most likely existing duplicate of candidate, or
// nil.
func (s *TransactionService) FindDuplicate(ctx context.Context, candidate domain.Transaction) (*dedup.Match, error) {
	if candidate.AccountID == "" || candidate.Date.IsZero() {
		return nil, nil
	}
	from, to := s.Detector.Window(candidate.Date)
	recent, err := s.Transactions.Window(ctx, candidate.AccountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load recent transactions: %w", err)
	}
	return s.Detector.FindCandidate(candidate, recent), nil
}

func normalize(t domain.Transaction) domain.Transaction {
	t = t.Clone()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Source == "" {
		t.Source = domain.SourceManual
	}
	if !t.Date.IsZero() {
		t.Date = domain.DateOnly(t.Date)
	}
	t.AccountID = strings.TrimSpace(t.AccountID)
	t.Description = strings.TrimSpace(t.Description)
	t.Time = strings.TrimSpace(t.Time)
	t.BalanceApplied = false
	t.DeletedAt = nil
	return t
}

// IsRetryable reports whether err came from a balance mutation the caller may
// retry.
func IsRetryable(err error) bool {
	return ledger.IsRetryable(err) || errors.Is(err, ErrStaleRead)
}
