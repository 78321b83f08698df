package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/ledgerflow/internal/domain"
)

// Logic combines the present predicates of a rule.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Definition is the stored shape of an automation rule.
type Definition struct {
	ID         string
	Name       string
	Priority   int
	IsActive   bool
	Logic      Logic
	Conditions ConditionSet
	Actions    ActionSet
	Seq        int64
	CreatedAt  time.Time
}

// ConditionSet is the JSON form of a rule's predicates. Every field is
// optional; an absent field does not take part in matching.
type ConditionSet struct {
	DescriptionContains []string          `json:"description_contains,omitempty"`
	DescriptionRegex    string            `json:"description_regex,omitempty"`
	RawTextContains     []string          `json:"raw_text_contains,omitempty"`
	AmountBetween       []decimal.Decimal `json:"amount_between,omitempty"`
	AmountEquals        *decimal.Decimal  `json:"amount_equals,omitempty"`
	FromAccount         string            `json:"from_account,omitempty"`
	ToAccount           string            `json:"to_account,omitempty"`
	Source              domain.Source     `json:"source,omitempty"`
	Category            string            `json:"category,omitempty"`
}

// ActionSet is the JSON form of a rule's effects.
type ActionSet struct {
	SetType       domain.TxType `json:"set_type,omitempty"`
	SetCategory   string        `json:"set_category,omitempty"`
	SetAccount    string        `json:"set_account,omitempty"`
	LinkToAccount string        `json:"link_to_account,omitempty"`
	AutoReconcile bool          `json:"auto_reconcile,omitempty"`
	AddNote       string        `json:"add_note,omitempty"`
}

// Rule is a compiled, ready to evaluate automation rule.
type Rule struct {
	ID         string
	Name       string
	Priority   int
	IsActive   bool
	Logic      Logic
	Conditions []Condition
	Actions    []Action
	Seq        int64
	CreatedAt  time.Time

	// Issues holds problems found while compiling. They never stop the rule
	// from being evaluated.
	Issues []Issue
}

// Compile turns a stored definition into a Rule. Malformed parts are kept as
// non-matching predicates or skipped actions and reported in Rule.Issues.
func Compile(def Definition) Rule {
	r := Rule{
		ID:        def.ID,
		Name:      def.Name,
		Priority:  def.Priority,
		IsActive:  def.IsActive,
		Logic:     def.Logic,
		Seq:       def.Seq,
		CreatedAt: def.CreatedAt,
	}
	switch Logic(strings.ToLower(string(def.Logic))) {
	case LogicOr:
		r.Logic = LogicOr
	case LogicAnd, "":
		r.Logic = LogicAnd
	default:
		r.Logic = LogicAnd
		r.Issues = append(r.Issues, r.issue(IssueValidation, "condition_logic",
			fmt.Sprintf("unknown logic %q, using and", def.Logic)))
	}
	r.Conditions = def.Conditions.Compile()
	for _, c := range r.Conditions {
		if v, ok := c.(invalidator); ok && v.Err() != nil {
			r.Issues = append(r.Issues, r.issue(IssueValidation, string(c.Kind()), v.Err().Error()))
		}
	}
	r.Actions = def.Actions.Compile()
	return r
}

func (r Rule) issue(kind IssueKind, field, msg string) Issue {
	return Issue{RuleID: r.ID, RuleName: r.Name, Kind: kind, Field: field, Message: msg}
}

// Compile converts the optional fields into predicates, dropping the absent
// ones.
func (cs ConditionSet) Compile() []Condition {
	var out []Condition
	if subs := nonBlank(cs.DescriptionContains); len(subs) > 0 {
		out = append(out, DescriptionContains{Substrings: subs})
	}
	if strings.TrimSpace(cs.DescriptionRegex) != "" {
		out = append(out, NewDescriptionRegex(cs.DescriptionRegex))
	}
	if subs := nonBlank(cs.RawTextContains); len(subs) > 0 {
		out = append(out, RawTextContains{Substrings: subs})
	}
	if cs.AmountBetween != nil {
		out = append(out, amountBetween(cs.AmountBetween))
	}
	if cs.AmountEquals != nil {
		out = append(out, AmountEquals{Amount: *cs.AmountEquals})
	}
	if id := strings.TrimSpace(cs.FromAccount); id != "" {
		out = append(out, FromAccount{AccountID: id})
	}
	if id := strings.TrimSpace(cs.ToAccount); id != "" {
		out = append(out, ToAccount{AccountID: id})
	}
	if cs.Source != "" {
		out = append(out, SourceIs{Source: cs.Source})
	}
	if id := strings.TrimSpace(cs.Category); id != "" {
		out = append(out, CategoryIs{CategoryID: id})
	}
	return out
}

// Compile converts the optional effects into actions in application order.
func (as ActionSet) Compile() []Action {
	var out []Action
	if as.SetAccount != "" {
		out = append(out, SetAccount{AccountID: strings.TrimSpace(as.SetAccount)})
	}
	if as.LinkToAccount != "" {
		out = append(out, LinkToAccount{AccountID: strings.TrimSpace(as.LinkToAccount)})
	}
	if as.SetType != "" {
		out = append(out, SetType{Type: as.SetType})
	}
	if as.SetCategory != "" {
		out = append(out, SetCategory{CategoryID: strings.TrimSpace(as.SetCategory)})
	}
	if as.AutoReconcile {
		out = append(out, AutoReconcile{})
	}
	if strings.TrimSpace(as.AddNote) != "" {
		out = append(out, AddNote{Text: strings.TrimSpace(as.AddNote)})
	}
	return out
}

// Validate reports the first structural problem with the definition. The
// engine tolerates all of them; this exists for the write path.
func (def Definition) Validate() error {
	if strings.TrimSpace(def.Name) == "" {
		return &domain.ValidationError{Field: "name", Reason: "required"}
	}
	if def.Logic != "" && def.Logic != LogicAnd && def.Logic != LogicOr {
		return &domain.ValidationError{Field: "condition_logic", Reason: fmt.Sprintf("unknown logic %q", def.Logic)}
	}
	r := Compile(def)
	if len(r.Issues) > 0 {
		return &domain.ValidationError{Field: r.Issues[0].Field, Reason: r.Issues[0].Message}
	}
	if def.Actions.SetType != "" && !def.Actions.SetType.Valid() {
		return &domain.ValidationError{Field: "set_type", Reason: fmt.Sprintf("unknown type %q", def.Actions.SetType)}
	}
	if len(r.Actions) == 0 {
		return &domain.ValidationError{Field: "actions", Reason: "at least one action is required"}
	}
	return nil
}

func amountBetween(bounds []decimal.Decimal) AmountBetween {
	if len(bounds) != 2 {
		return AmountBetween{bad: fmt.Sprintf("want [min, max], got %d values", len(bounds))}
	}
	return AmountBetween{Min: bounds[0].Abs(), Max: bounds[1].Abs()}
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
