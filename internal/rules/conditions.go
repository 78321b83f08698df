package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jask/ledgerflow/internal/domain"
)

// ConditionKind names a predicate; the values double as JSON keys.
type ConditionKind string

const (
	KindDescriptionContains ConditionKind = "description_contains"
	KindDescriptionRegex    ConditionKind = "description_regex"
	KindRawTextContains     ConditionKind = "raw_text_contains"
	KindAmountBetween       ConditionKind = "amount_between"
	KindAmountEquals        ConditionKind = "amount_equals"
	KindFromAccount         ConditionKind = "from_account"
	KindToAccount           ConditionKind = "to_account"
	KindSource              ConditionKind = "source"
	KindCategory            ConditionKind = "category"
)

// Verdict is the result of one predicate against one candidate.
type Verdict int

const (
	// Skipped means the predicate does not take part in the combination.
	Skipped Verdict = iota
	NoMatch
	Match
)

func (v Verdict) String() string {
	switch v {
	case Match:
		return "match"
	case NoMatch:
		return "no_match"
	default:
		return "skipped"
	}
}

// Condition is a closed set of predicate kinds. Every implementation lives in
// this file.
type Condition interface {
	Kind() ConditionKind
	match(in input) Verdict
}

// invalidator is implemented by conditions that can be malformed.
type invalidator interface {
	Err() error
}

type input struct {
	tx      *domain.Transaction
	rawText string
	hasRaw  bool
}

func newInput(tx *domain.Transaction, rawText *string) input {
	in := input{tx: tx}
	if rawText != nil && strings.TrimSpace(*rawText) != "" {
		in.rawText = *rawText
		in.hasRaw = true
	}
	return in
}

// MatchCondition evaluates a single predicate. A nil or blank rawText means
// the candidate never had source text.
func MatchCondition(c Condition, tx domain.Transaction, rawText *string) Verdict {
	return c.match(newInput(&tx, rawText))
}

// DescriptionContains matches when the description contains any of the
// substrings, ignoring case. The list is an OR regardless of rule logic.
type DescriptionContains struct {
	Substrings []string
}

func (DescriptionContains) Kind() ConditionKind { return KindDescriptionContains }

func (c DescriptionContains) match(in input) Verdict {
	if containsAny(in.tx.Description, c.Substrings) {
		return Match
	}
	return NoMatch
}

// DescriptionRegex matches the description against a case-insensitive
// pattern compiled once when the rule is compiled.
type DescriptionRegex struct {
	Pattern string
	re      *regexp.Regexp
	err     error
}

// NewDescriptionRegex compiles pattern. A bad pattern is kept and reported by
// Err; it never matches.
func NewDescriptionRegex(pattern string) DescriptionRegex {
	c := DescriptionRegex{Pattern: pattern}
	c.re, c.err = regexp.Compile("(?i)" + pattern)
	if c.err != nil {
		c.err = &domain.ValidationError{Field: string(KindDescriptionRegex), Reason: c.err.Error()}
	}
	return c
}

func (DescriptionRegex) Kind() ConditionKind { return KindDescriptionRegex }

func (c DescriptionRegex) Err() error {
	if c.re == nil && c.err == nil {
		return &domain.ValidationError{Field: string(KindDescriptionRegex), Reason: "pattern not compiled"}
	}
	return c.err
}

func (c DescriptionRegex) match(in input) Verdict {
	if c.re == nil {
		return NoMatch
	}
	if c.re.MatchString(in.tx.Description) {
		return Match
	}
	return NoMatch
}

// RawTextContains matches the unparsed source text (bank SMS, notification
// body). Candidates without raw text skip it.
type RawTextContains struct {
	Substrings []string
}

func (RawTextContains) Kind() ConditionKind { return KindRawTextContains }

func (c RawTextContains) match(in input) Verdict {
	if !in.hasRaw {
		return Skipped
	}
	if containsAny(in.rawText, c.Substrings) {
		return Match
	}
	return NoMatch
}

// AmountBetween is an inclusive range on the absolute amount.
type AmountBetween struct {
	Min decimal.Decimal
	Max decimal.Decimal
	bad string
}

func (AmountBetween) Kind() ConditionKind { return KindAmountBetween }

func (c AmountBetween) Err() error {
	if c.bad != "" {
		return &domain.ValidationError{Field: string(KindAmountBetween), Reason: c.bad}
	}
	if c.Min.GreaterThan(c.Max) {
		return &domain.ValidationError{
			Field:  string(KindAmountBetween),
			Reason: fmt.Sprintf("min %s is greater than max %s", c.Min, c.Max),
		}
	}
	return nil
}

func (c AmountBetween) match(in input) Verdict {
	if c.Err() != nil {
		return NoMatch
	}
	amt := in.tx.Amount.Abs()
	if amt.GreaterThanOrEqual(c.Min) && amt.LessThanOrEqual(c.Max) {
		return Match
	}
	return NoMatch
}

// AmountEquals is exact equality on the absolute amount.
type AmountEquals struct {
	Amount decimal.Decimal
}

func (AmountEquals) Kind() ConditionKind { return KindAmountEquals }

func (c AmountEquals) match(in input) Verdict {
	if in.tx.Amount.Abs().Equal(c.Amount.Abs()) {
		return Match
	}
	return NoMatch
}

// FromAccount matches the candidate's account.
type FromAccount struct {
	AccountID string
}

func (FromAccount) Kind() ConditionKind { return KindFromAccount }

func (c FromAccount) match(in input) Verdict {
	if in.tx.AccountID != "" && in.tx.AccountID == c.AccountID {
		return Match
	}
	return NoMatch
}

// ToAccount matches the candidate's transfer destination.
type ToAccount struct {
	AccountID string
}

func (ToAccount) Kind() ConditionKind { return KindToAccount }

func (c ToAccount) match(in input) Verdict {
	if in.tx.TransferToAccountID != nil && *in.tx.TransferToAccountID == c.AccountID {
		return Match
	}
	return NoMatch
}

// SourceIs matches the candidate's origin tag.
type SourceIs struct {
	Source domain.Source
}

func (SourceIs) Kind() ConditionKind { return KindSource }

func (c SourceIs) match(in input) Verdict {
	if in.tx.Source == c.Source {
		return Match
	}
	return NoMatch
}

// CategoryIs matches the currently assigned category.
type CategoryIs struct {
	CategoryID string
}

func (CategoryIs) Kind() ConditionKind { return KindCategory }

func (c CategoryIs) match(in input) Verdict {
	if in.tx.CategoryID != nil && *in.tx.CategoryID == c.CategoryID {
		return Match
	}
	return NoMatch
}

func containsAny(haystack string, needles []string) bool {
	h := strings.ToLower(haystack)
	for _, n := range needles {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if strings.Contains(h, n) {
			return true
		}
	}
	return false
}
