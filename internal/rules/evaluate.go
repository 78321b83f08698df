package rules

import (
	"sort"

	"github.com/jask/ledgerflow/internal/domain"
)

// IssueKind classifies a recoverable problem met during a run.
type IssueKind string

const (
	IssueValidation IssueKind = "validation"
	IssueConflict   IssueKind = "conflict"
)

// Issue is a recovered problem. Issues are surfaced as warnings and never
// abort a run.
type Issue struct {
	RuleID   string
	RuleName string
	Kind     IssueKind
	Field    string
	Message  string
}

// Evaluation is the outcome of matching one rule against one candidate.
type Evaluation struct {
	Matched  bool
	Present  int
	Verdicts map[ConditionKind]Verdict
	Issues   []Issue
}

// Evaluate combines every present predicate of rule under its logic. With no
// present predicates an AND rule matches everything and an OR rule matches
// nothing.
func Evaluate(rule Rule, tx domain.Transaction, rawText *string) Evaluation {
	return evaluate(rule, newInput(&tx, rawText))
}

func evaluate(rule Rule, in input) Evaluation {
	ev := Evaluation{Verdicts: make(map[ConditionKind]Verdict, len(rule.Conditions))}
	ev.Issues = append(ev.Issues, rule.Issues...)

	matched := 0
	for _, c := range rule.Conditions {
		v := c.match(in)
		ev.Verdicts[c.Kind()] = v
		switch v {
		case Skipped:
			continue
		case Match:
			matched++
		}
		ev.Present++
	}

	switch rule.Logic {
	case LogicOr:
		ev.Matched = matched > 0
	default:
		ev.Matched = matched == ev.Present
	}
	return ev
}

// Selection pairs a matching rule with its evaluation.
type Selection struct {
	Rule       Rule
	Evaluation Evaluation
}

// Order returns the active rules sorted by descending priority. Ties fall
// back to creation order, then id, so the order is reproducible.
func Order(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})
	return out
}

// Select evaluates every active rule in priority order against a fixed
// candidate and returns the ones that match. It does not apply actions, so
// later rules do not see earlier effects; Engine.Run does.
func Select(rules []Rule, tx domain.Transaction, rawText *string) []Selection {
	in := newInput(&tx, rawText)
	var out []Selection
	for _, r := range Order(rules) {
		ev := evaluate(r, in)
		if ev.Matched {
			out = append(out, Selection{Rule: r, Evaluation: ev})
		}
	}
	return out
}
