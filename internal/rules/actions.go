package rules

import (
	"fmt"
	"strings"

	"github.com/jask/ledgerflow/internal/domain"
)

// ActionKind names an effect; the values double as JSON keys.
type ActionKind string

const (
	KindSetType       ActionKind = "set_type"
	KindSetCategory   ActionKind = "set_category"
	KindSetAccount    ActionKind = "set_account"
	KindLinkToAccount ActionKind = "link_to_account"
	KindAutoReconcile ActionKind = "auto_reconcile"
	KindAddNote       ActionKind = "add_note"
)

// Outcome is the result of one action on one candidate.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeSkippedConflict Outcome = "skipped_conflict"
	OutcomeSkippedInvalid  Outcome = "skipped_invalid"
)

// References answers whether ids named by rule actions still exist. A nil
// References accepts every id.
type References interface {
	AccountExists(id string) bool
	CategoryExists(id string) bool
}

// Action is a closed set of effects. Every implementation lives in this file.
type Action interface {
	Kind() ActionKind
	apply(tx *domain.Transaction, env applyEnv) (Outcome, string)
}

type applyEnv struct {
	refs          References
	noteDelimiter string
}

func (e applyEnv) accountOK(id string) bool {
	return id != "" && (e.refs == nil || e.refs.AccountExists(id))
}

func (e applyEnv) categoryOK(id string) bool {
	return id != "" && (e.refs == nil || e.refs.CategoryExists(id))
}

// SetType overwrites the transaction type. It refuses to break a linked
// transfer or to create a transfer with no counterpart.
type SetType struct {
	Type domain.TxType
}

func (SetType) Kind() ActionKind { return KindSetType }

func (a SetType) apply(tx *domain.Transaction, _ applyEnv) (Outcome, string) {
	if !a.Type.Valid() {
		return OutcomeSkippedInvalid, fmt.Sprintf("unknown type %q", a.Type)
	}
	if tx.Type == a.Type {
		return OutcomeApplied, "unchanged"
	}
	linked := tx.TransferToAccountID != nil
	if tx.Type == domain.TypeTransfer && linked {
		return OutcomeSkippedConflict, fmt.Sprintf("transfer is linked to %s; set_type %s would leave a dangling pair", *tx.TransferToAccountID, a.Type)
	}
	if a.Type == domain.TypeTransfer && !linked {
		return OutcomeSkippedConflict, "set_type transfer needs a linked destination account"
	}
	tx.Type = a.Type
	return OutcomeApplied, ""
}

// SetCategory overwrites the category.
type SetCategory struct {
	CategoryID string
}

func (SetCategory) Kind() ActionKind { return KindSetCategory }

func (a SetCategory) apply(tx *domain.Transaction, env applyEnv) (Outcome, string) {
	if !env.categoryOK(a.CategoryID) {
		return OutcomeSkippedInvalid, fmt.Sprintf("category %q not found", a.CategoryID)
	}
	id := a.CategoryID
	tx.CategoryID = &id
	return OutcomeApplied, ""
}

// SetAccount overwrites the source account.
type SetAccount struct {
	AccountID string
}

func (SetAccount) Kind() ActionKind { return KindSetAccount }

func (a SetAccount) apply(tx *domain.Transaction, env applyEnv) (Outcome, string) {
	if !env.accountOK(a.AccountID) {
		return OutcomeSkippedInvalid, fmt.Sprintf("account %q not found", a.AccountID)
	}
	if tx.TransferToAccountID != nil && *tx.TransferToAccountID == a.AccountID {
		return OutcomeSkippedConflict, "source account would equal the transfer destination"
	}
	tx.AccountID = a.AccountID
	return OutcomeApplied, ""
}

// LinkToAccount turns the transaction into a transfer to the target account.
type LinkToAccount struct {
	AccountID string
}

func (LinkToAccount) Kind() ActionKind { return KindLinkToAccount }

func (a LinkToAccount) apply(tx *domain.Transaction, env applyEnv) (Outcome, string) {
	if !env.accountOK(a.AccountID) {
		return OutcomeSkippedInvalid, fmt.Sprintf("account %q not found", a.AccountID)
	}
	if a.AccountID == tx.AccountID {
		return OutcomeSkippedConflict, "cannot link a transfer to its own source account"
	}
	id := a.AccountID
	tx.Type = domain.TypeTransfer
	tx.TransferToAccountID = &id
	return OutcomeApplied, ""
}

// AutoReconcile marks the transaction reconciled. It has no ledger effect.
type AutoReconcile struct{}

func (AutoReconcile) Kind() ActionKind { return KindAutoReconcile }

func (AutoReconcile) apply(tx *domain.Transaction, _ applyEnv) (Outcome, string) {
	tx.Reconciled = true
	return OutcomeApplied, ""
}

// AddNote appends text to the notes. A segment that is already present is
// not appended again.
type AddNote struct {
	Text string
}

func (AddNote) Kind() ActionKind { return KindAddNote }

func (a AddNote) apply(tx *domain.Transaction, env applyEnv) (Outcome, string) {
	text := strings.TrimSpace(a.Text)
	if text == "" {
		return OutcomeSkippedInvalid, "empty note"
	}
	if strings.TrimSpace(tx.Notes) == "" {
		tx.Notes = text
		return OutcomeApplied, ""
	}
	for _, seg := range strings.Split(tx.Notes, env.noteDelimiter) {
		if strings.TrimSpace(seg) == text {
			return OutcomeApplied, "already present"
		}
	}
	tx.Notes = tx.Notes + env.noteDelimiter + text
	return OutcomeApplied, ""
}

// Apply runs every action of rule against a copy of tx. The input is never
// modified.
func Apply(rule Rule, tx domain.Transaction, opts Options, refs References) (domain.Transaction, domain.AppliedRule, []Issue) {
	env := applyEnv{refs: refs, noteDelimiter: opts.delimiter()}
	out := tx.Clone()
	applied := domain.AppliedRule{RuleID: rule.ID, RuleName: rule.Name}
	var issues []Issue
	for _, a := range rule.Actions {
		outcome, detail := a.apply(&out, env)
		applied.Actions = append(applied.Actions, domain.ActionResult{
			Kind:    string(a.Kind()),
			Outcome: string(outcome),
			Detail:  detail,
		})
		switch outcome {
		case OutcomeSkippedConflict:
			issues = append(issues, rule.issue(IssueConflict, string(a.Kind()), detail))
		case OutcomeSkippedInvalid:
			issues = append(issues, rule.issue(IssueValidation, string(a.Kind()), detail))
		}
	}
	return out, applied, issues
}
