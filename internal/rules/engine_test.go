package rules

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/ledgerflow/internal/domain"
)

type fakeRefs struct {
	accounts   map[string]bool
	categories map[string]bool
}

func (f fakeRefs) AccountExists(id string) bool  { return f.accounts[id] }
func (f fakeRefs) CategoryExists(id string) bool { return f.categories[id] }

func expense(desc string, amount int64) domain.Transaction {
	return domain.Transaction{
		ID:          "tx-1",
		AccountID:   "acc-a",
		Type:        domain.TypeExpense,
		Amount:      decimal.NewFromInt(amount),
		Date:        time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Description: desc,
		Source:      domain.SourceManual,
	}
}

func rule(id string, priority int, conds ConditionSet, acts ActionSet) Rule {
	return Compile(Definition{
		ID:         id,
		Name:       "rule " + id,
		Priority:   priority,
		IsActive:   true,
		Logic:      LogicAnd,
		Conditions: conds,
		Actions:    acts,
	})
}

func TestEmptyConditions(t *testing.T) {
	t.Parallel()

	and := rule("and", 0, ConditionSet{}, ActionSet{AutoReconcile: true})
	or := and
	or.Logic = LogicOr

	for _, tx := range []domain.Transaction{expense("anything", 1), expense("", 0)} {
		require.True(t, Evaluate(and, tx, nil).Matched, "and with no predicates matches everything")
		require.False(t, Evaluate(or, tx, nil).Matched, "or with no predicates matches nothing")
	}
}

func TestUberEatsCategorised(t *testing.T) {
	t.Parallel()

	r := rule("food", 10,
		ConditionSet{DescriptionContains: []string{"uber"}},
		ActionSet{SetCategory: "cat-food"})
	tx := expense("UBER EATS 123", 45000)

	require.True(t, Evaluate(r, tx, nil).Matched)

	res := NewEngine(Options{}).Run([]Rule{r}, tx, nil, nil)
	require.Equal(t, "cat-food", domain.StrValue(res.Transaction.CategoryID))
	require.Len(t, res.AppliedRules, 1)
	require.Equal(t, "food", res.AppliedRules[0].RuleID)
	require.Equal(t, string(OutcomeApplied), res.AppliedRules[0].Actions[0].Outcome)
	require.Nil(t, tx.CategoryID, "input must not be modified")
}

func TestDescriptionContainsIsInternalOr(t *testing.T) {
	t.Parallel()

	r := rule("r", 0, ConditionSet{
		DescriptionContains: []string{"lyft", "uber"},
		AmountBetween:       []decimal.Decimal{decimal.NewFromInt(10), decimal.NewFromInt(100)},
	}, ActionSet{AutoReconcile: true})

	require.True(t, Evaluate(r, expense("Uber trip", 50), nil).Matched)
	require.False(t, Evaluate(r, expense("Uber trip", 500), nil).Matched)
	require.False(t, Evaluate(r, expense("Taxi", 50), nil).Matched)
}

func TestConditionVerdicts(t *testing.T) {
	t.Parallel()

	tx := expense("Coffee Shop", 450)
	tx.CategoryID = domain.Str("cat-coffee")
	raw := "Your card was charged $4.50 at COFFEE SHOP"
	blank := "   "

	tests := []struct {
		name string
		cond Condition
		raw  *string
		want Verdict
	}{
		{"contains hit", DescriptionContains{Substrings: []string{"coffee"}}, nil, Match},
		{"contains miss", DescriptionContains{Substrings: []string{"tea"}}, nil, NoMatch},
		{"regex hit", NewDescriptionRegex(`^coffee\s+shop$`), nil, Match},
		{"regex miss", NewDescriptionRegex(`^tea`), nil, NoMatch},
		{"regex invalid", NewDescriptionRegex(`(unclosed`), nil, NoMatch},
		{"raw absent", RawTextContains{Substrings: []string{"charged"}}, nil, Skipped},
		{"raw blank", RawTextContains{Substrings: []string{"charged"}}, &blank, Skipped},
		{"raw hit", RawTextContains{Substrings: []string{"CHARGED"}}, &raw, Match},
		{"raw miss", RawTextContains{Substrings: []string{"refund"}}, &raw, NoMatch},
		{"between inclusive low", AmountBetween{Min: decimal.NewFromInt(450), Max: decimal.NewFromInt(500)}, nil, Match},
		{"between inclusive high", AmountBetween{Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(450)}, nil, Match},
		{"between outside", AmountBetween{Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(449)}, nil, NoMatch},
		{"between inverted", AmountBetween{Min: decimal.NewFromInt(500), Max: decimal.NewFromInt(1)}, nil, NoMatch},
		{"equals", AmountEquals{Amount: decimal.RequireFromString("450.00")}, nil, Match},
		{"from account", FromAccount{AccountID: "acc-a"}, nil, Match},
		{"to account unset", ToAccount{AccountID: "acc-b"}, nil, NoMatch},
		{"source", SourceIs{Source: domain.SourceManual}, nil, Match},
		{"source other", SourceIs{Source: domain.SourceCSVImport}, nil, NoMatch},
		{"category", CategoryIs{CategoryID: "cat-coffee"}, nil, Match},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, MatchCondition(tc.cond, tx, tc.raw))
		})
	}
}

func TestInvalidRegexDoesNotAbort(t *testing.T) {
	t.Parallel()

	bad := rule("bad", 20, ConditionSet{DescriptionRegex: "(["}, ActionSet{AddNote: "never"})
	good := rule("good", 10, ConditionSet{DescriptionContains: []string{"rent"}}, ActionSet{AddNote: "housing"})

	res := NewEngine(Options{}).Run([]Rule{bad, good}, expense("Monthly RENT", 1200), nil, nil)
	require.Equal(t, "housing", res.Transaction.Notes)
	require.Len(t, res.AppliedRules, 1)
	require.NotEmpty(t, res.Issues)
	require.Equal(t, IssueValidation, res.Issues[0].Kind)
	require.Equal(t, "bad", res.Issues[0].RuleID)

	var verr *domain.ValidationError
	require.ErrorAs(t, Definition{Name: "x", Conditions: ConditionSet{DescriptionRegex: "(["}, Actions: ActionSet{AutoReconcile: true}}.Validate(), &verr)
	require.Equal(t, string(KindDescriptionRegex), verr.Field)
}

func TestRawTextSkippedForManualEntries(t *testing.T) {
	t.Parallel()

	r := rule("sms", 0, ConditionSet{
		RawTextContains:     []string{"debited"},
		DescriptionContains: []string{"grocer"},
	}, ActionSet{SetCategory: "cat-groceries"})

	res := NewEngine(Options{}).Run([]Rule{r}, expense("Local Grocer", 80), nil, nil)
	require.Equal(t, "cat-groceries", domain.StrValue(res.Transaction.CategoryID))

	raw := "Acct credited with 80"
	res = NewEngine(Options{}).Run([]Rule{r}, expense("Local Grocer", 80), &raw, nil)
	require.Nil(t, res.Transaction.CategoryID)
}

func TestOrderIsStable(t *testing.T) {
	t.Parallel()

	mk := func(id string, priority int, seq int64, active bool) Rule {
		r := rule(id, priority, ConditionSet{}, ActionSet{AutoReconcile: true})
		r.Seq = seq
		r.IsActive = active
		return r
	}
	in := []Rule{
		mk("c", 5, 3, true),
		mk("a", 10, 2, true),
		mk("off", 100, 1, false),
		mk("b", 5, 1, true),
		mk("d", 5, 3, true),
	}

	ids := func(rs []Rule) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.ID
		}
		return out
	}
	want := []string{"a", "b", "c", "d"}
	for i := 0; i < 20; i++ {
		shuffled := append([]Rule(nil), in...)
		shuffled[0], shuffled[len(shuffled)-1-i%len(shuffled)] = shuffled[len(shuffled)-1-i%len(shuffled)], shuffled[0]
		require.Equal(t, want, ids(Order(shuffled)))
	}

	sel := Select(in, expense("x", 1), nil)
	require.Equal(t, want, ids(func() []Rule {
		out := make([]Rule, len(sel))
		for i, s := range sel {
			out[i] = s.Rule
		}
		return out
	}()))
}

func TestLaterRulesSeeEarlierEffects(t *testing.T) {
	t.Parallel()

	detect := rule("detect", 100,
		ConditionSet{DescriptionContains: []string{"amex"}},
		ActionSet{SetAccount: "acc-amex"})
	keyed := rule("keyed", 50,
		ConditionSet{FromAccount: "acc-amex"},
		ActionSet{SetCategory: "cat-card"})

	res := NewEngine(Options{}).Run([]Rule{keyed, detect}, expense("AMEX PAYMENT", 300), nil, nil)
	require.Equal(t, "acc-amex", res.Transaction.AccountID)
	require.Equal(t, "cat-card", domain.StrValue(res.Transaction.CategoryID))
	require.Len(t, res.AppliedRules, 2)
	require.Equal(t, "detect", res.AppliedRules[0].RuleID)
	require.Equal(t, "keyed", res.AppliedRules[1].RuleID)

	// Select works on a fixed candidate, so the keyed rule does not match.
	sel := Select([]Rule{keyed, detect}, expense("AMEX PAYMENT", 300), nil)
	require.Len(t, sel, 1)
}

func TestLinkToAccount(t *testing.T) {
	t.Parallel()

	link := rule("link", 10,
		ConditionSet{DescriptionContains: []string{"savings"}},
		ActionSet{LinkToAccount: "acc-savings"})
	to := rule("to", 5,
		ConditionSet{ToAccount: "acc-savings"},
		ActionSet{AddNote: "moved to savings"})

	res := NewEngine(Options{}).Run([]Rule{link, to}, expense("Savings sweep", 500), nil, nil)
	require.Equal(t, domain.TypeTransfer, res.Transaction.Type)
	require.Equal(t, "acc-savings", domain.StrValue(res.Transaction.TransferToAccountID))
	require.Equal(t, "moved to savings", res.Transaction.Notes)
	require.NoError(t, res.Transaction.Validate())

	self := rule("self", 10, ConditionSet{}, ActionSet{LinkToAccount: "acc-a"})
	res = NewEngine(Options{}).Run([]Rule{self}, expense("x", 1), nil, nil)
	require.Equal(t, domain.TypeExpense, res.Transaction.Type)
	require.Len(t, res.Conflicts(), 1)
	require.Equal(t, string(OutcomeSkippedConflict), res.AppliedRules[0].Actions[0].Outcome)
}

func TestSetTypeConflictOnLinkedTransfer(t *testing.T) {
	t.Parallel()

	link := rule("link", 10, ConditionSet{}, ActionSet{LinkToAccount: "acc-b"})
	flip := rule("flip", 5, ConditionSet{}, ActionSet{SetType: domain.TypeExpense, SetCategory: "cat-misc"})

	res := NewEngine(Options{}).Run([]Rule{flip, link}, expense("x", 100), nil, nil)
	require.Equal(t, domain.TypeTransfer, res.Transaction.Type)
	require.Equal(t, "acc-b", domain.StrValue(res.Transaction.TransferToAccountID))
	require.Equal(t, "cat-misc", domain.StrValue(res.Transaction.CategoryID), "other actions of the rule still apply")

	conflicts := res.Conflicts()
	require.Len(t, conflicts, 1)
	require.Equal(t, "flip", conflicts[0].RuleID)
	require.Equal(t, string(KindSetType), conflicts[0].Field)

	unlinked := rule("u", 0, ConditionSet{}, ActionSet{SetType: domain.TypeTransfer})
	res = NewEngine(Options{}).Run([]Rule{unlinked}, expense("x", 1), nil, nil)
	require.Equal(t, domain.TypeExpense, res.Transaction.Type)
	require.Len(t, res.Conflicts(), 1)

	income := rule("i", 0, ConditionSet{}, ActionSet{SetType: domain.TypeIncome})
	res = NewEngine(Options{}).Run([]Rule{income}, expense("refund", 1), nil, nil)
	require.Equal(t, domain.TypeIncome, res.Transaction.Type)
	require.Empty(t, res.Issues)
}

func TestMissingReferencesAreSkipped(t *testing.T) {
	t.Parallel()

	refs := fakeRefs{
		accounts:   map[string]bool{"acc-a": true},
		categories: map[string]bool{"cat-ok": true},
	}
	r := rule("r", 0, ConditionSet{}, ActionSet{
		SetAccount:  "acc-gone",
		SetCategory: "cat-gone",
		AddNote:     "seen",
	})

	res := NewEngine(Options{}).Run([]Rule{r}, expense("x", 1), nil, refs)
	require.Equal(t, "acc-a", res.Transaction.AccountID)
	require.Nil(t, res.Transaction.CategoryID)
	require.Equal(t, "seen", res.Transaction.Notes)
	require.Len(t, res.Issues, 2)
	for _, is := range res.Issues {
		require.Equal(t, IssueValidation, is.Kind)
	}
	require.Empty(t, res.Conflicts())
}

func TestAddNoteAppends(t *testing.T) {
	t.Parallel()

	first := rule("first", 10, ConditionSet{}, ActionSet{AddNote: "subscription"})
	second := rule("second", 5, ConditionSet{}, ActionSet{AddNote: "streaming"})
	again := rule("again", 1, ConditionSet{}, ActionSet{AddNote: "subscription"})

	tx := expense("NETFLIX", 1599)
	tx.Notes = "family plan"

	res := NewEngine(Options{}).Run([]Rule{first, second, again}, tx, nil, nil)
	require.Equal(t, "family plan | subscription | streaming", res.Transaction.Notes)
	require.Len(t, res.AppliedRules, 3)

	res = NewEngine(Options{NoteDelimiter: "; "}).Run([]Rule{first, second}, tx, nil, nil)
	require.Equal(t, "family plan; subscription; streaming", res.Transaction.Notes)
}

func TestCompileReportsBadLogic(t *testing.T) {
	t.Parallel()

	r := Compile(Definition{ID: "x", Name: "x", IsActive: true, Logic: "xor", Actions: ActionSet{AutoReconcile: true}})
	require.Equal(t, LogicAnd, r.Logic)
	require.Len(t, r.Issues, 1)
	require.Equal(t, "condition_logic", r.Issues[0].Field)

	r = Compile(Definition{Conditions: ConditionSet{AmountBetween: []decimal.Decimal{decimal.NewFromInt(1)}}})
	require.Len(t, r.Issues, 1)
	require.Equal(t, NoMatch, MatchCondition(r.Conditions[0], expense("x", 1), nil))
}

func TestDefinitionValidate(t *testing.T) {
	t.Parallel()

	ok := Definition{Name: "ok", Logic: LogicOr, Actions: ActionSet{SetCategory: "c"}}
	require.NoError(t, ok.Validate())

	tests := []struct {
		name  string
		def   Definition
		field string
	}{
		{"no name", Definition{Actions: ActionSet{AutoReconcile: true}}, "name"},
		{"bad logic", Definition{Name: "n", Logic: "nand", Actions: ActionSet{AutoReconcile: true}}, "condition_logic"},
		{"no actions", Definition{Name: "n"}, "actions"},
		{"bad type", Definition{Name: "n", Actions: ActionSet{SetType: "refund"}}, "set_type"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var verr *domain.ValidationError
			require.ErrorAs(t, tc.def.Validate(), &verr)
			require.Equal(t, tc.field, verr.Field)
		})
	}
}
