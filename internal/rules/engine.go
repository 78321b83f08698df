// Package rules evaluates prioritized automation rules against candidate
// transactions and rewrites them.
//
// A run walks the active rules from highest to lowest priority. Every rule is
// evaluated against the candidate as rewritten by the rules before it, and
// every matching rule fires; there is no first-match short circuit.
package rules

import "github.com/jask/ledgerflow/internal/domain"

// DefaultNoteDelimiter separates notes appended by different rules.
const DefaultNoteDelimiter = " | "

// Options tunes action application.
type Options struct {
	NoteDelimiter string
}

func (o Options) delimiter() string {
	if o.NoteDelimiter == "" {
		return DefaultNoteDelimiter
	}
	return o.NoteDelimiter
}

// Engine applies rule sets. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	opts Options
}

// NewEngine returns an engine with the given options.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Result is the rewritten candidate plus the ordered provenance of every rule
// that fired.
type Result struct {
	Transaction  domain.Transaction
	AppliedRules []domain.AppliedRule
	Issues       []Issue
}

// Conflicts returns the conflict issues, the ones callers show as warnings.
func (r Result) Conflicts() []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Kind == IssueConflict {
			out = append(out, is)
		}
	}
	return out
}

// Changed reports whether any rule fired.
func (r Result) Changed() bool { return len(r.AppliedRules) > 0 }

// Run evaluates rules against tx and applies every match in priority order.
// rawText is the unparsed source text, nil when there was none.
func (e *Engine) Run(rules []Rule, tx domain.Transaction, rawText *string, refs References) Result {
	res := Result{Transaction: tx.Clone()}
	for _, r := range Order(rules) {
		ev := evaluate(r, newInput(&res.Transaction, rawText))
		res.Issues = append(res.Issues, ev.Issues...)
		if !ev.Matched {
			continue
		}
		next, applied, issues := Apply(r, res.Transaction, e.opts, refs)
		res.Transaction = next
		res.AppliedRules = append(res.AppliedRules, applied)
		res.Issues = append(res.Issues, issues...)
	}
	return res
}
