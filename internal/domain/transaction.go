// Package domain holds the transaction record shared by the rule engine, the
// balance ledger and the storage layer.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TxType is the kind of money movement a transaction represents.
type TxType string

const (
	TypeExpense  TxType = "expense"
	TypeIncome   TxType = "income"
	TypeTransfer TxType = "transfer"
)

// Valid reports whether t is one of the known transaction types.
func (t TxType) Valid() bool {
	switch t {
	case TypeExpense, TypeIncome, TypeTransfer:
		return true
	}
	return false
}

// Source tags where a transaction came from.
type Source string

const (
	SourceManual    Source = "manual"
	SourceCSVImport Source = "csv_import"
	SourceAIParse   Source = "ai_parse"
	SourceAPI       Source = "api"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceCSVImport, SourceAIParse, SourceAPI:
		return true
	}
	return false
}

// Transaction is both the in-flight candidate evaluated by the rule engine and
// the persisted row. Amount is always a non-negative magnitude; the sign is
// derived from Type when the ledger applies it.
type Transaction struct {
	ID                  string
	AccountID           string
	TransferToAccountID *string
	Type                TxType
	Amount              decimal.Decimal
	Date                time.Time
	Time                string
	Description         string
	CategoryID          *string
	Notes               string
	Source              Source
	Reconciled          bool
	SourceHash          *string
	AppliedRules        []AppliedRule

	// BalanceApplied is the ledger state of this row: false is absent, true is
	// applied. Only the ledger flips it.
	BalanceApplied bool
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AppliedRule is the provenance record of one rule that fired on a transaction.
type AppliedRule struct {
	RuleID   string         `json:"rule_id"`
	RuleName string         `json:"rule_name"`
	Actions  []ActionResult `json:"actions,omitempty"`
}

// ActionResult records what happened to a single rule action.
type ActionResult struct {
	Kind    string `json:"kind"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// Clone returns a deep copy so rule application never aliases pointer fields.
func (t Transaction) Clone() Transaction {
	out := t
	out.TransferToAccountID = cloneStr(t.TransferToAccountID)
	out.CategoryID = cloneStr(t.CategoryID)
	out.SourceHash = cloneStr(t.SourceHash)
	if t.DeletedAt != nil {
		d := *t.DeletedAt
		out.DeletedAt = &d
	}
	if t.AppliedRules != nil {
		out.AppliedRules = append([]AppliedRule(nil), t.AppliedRules...)
	}
	return out
}

// IsDeleted reports whether the row has been soft-deleted.
func (t Transaction) IsDeleted() bool { return t.DeletedAt != nil }

// Validate checks the structural constraints every persisted transaction satisfies.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.AccountID) == "" {
		return &ValidationError{Field: "account_id", Reason: "required"}
	}
	if !t.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", t.Type)}
	}
	if t.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Reason: "must be a non-negative magnitude"}
	}
	if t.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "required"}
	}
	if t.Source != "" && !t.Source.Valid() {
		return &ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", t.Source)}
	}
	to := StrValue(t.TransferToAccountID)
	if t.Type == TypeTransfer {
		if to == "" {
			return &ValidationError{Field: "transfer_to_account_id", Reason: "required for transfers"}
		}
		if to == t.AccountID {
			return &ValidationError{Field: "transfer_to_account_id", Reason: "must differ from account_id"}
		}
	} else if t.TransferToAccountID != nil {
		return &ValidationError{Field: "transfer_to_account_id", Reason: "only transfers have a destination"}
	}
	return nil
}

// BalanceChanged reports whether any field that feeds the ledger differs
// between a and b: type, amount, account and transfer destination.
func BalanceChanged(a, b Transaction) bool {
	if a.Type != b.Type || a.AccountID != b.AccountID {
		return true
	}
	if !a.Amount.Equal(b.Amount) {
		return true
	}
	return StrValue(a.TransferToAccountID) != StrValue(b.TransferToAccountID)
}

// DateOnly truncates t to its calendar day in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Str returns a pointer to a trimmed s, or nil when s is blank.
func Str(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// StrValue dereferences p, treating nil as "".
func StrValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
