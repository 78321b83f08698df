// Package dedup flags probable duplicate transactions. It never resolves them;
// the caller decides between creating anyway and replacing the existing row.
package dedup

import (
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/jask/ledgerflow/internal/domain"
)

// Resolution is the caller's answer to a flagged duplicate.
type Resolution string

const (
	CreateAnyway    Resolution = "create_anyway"
	ReplaceExisting Resolution = "replace_existing"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	return r == CreateAnyway || r == ReplaceExisting
}

// Options tunes the comparison window.
type Options struct {
	// WindowDays is how far apart two dates may be and still match. Zero
	// means same day.
	WindowDays int
	// MinSimilarity drops candidates whose description similarity is below
	// it. Zero keeps every amount, date and account match.
	MinSimilarity float64
}

// Match is an existing transaction that looks like the input.
type Match struct {
	Existing   domain.Transaction
	Similarity float64
	DaysApart  int
}

// Detector compares a candidate against recent transactions.
type Detector struct {
	opts Options
}

func New(opts Options) *Detector {
	if opts.WindowDays < 0 {
		opts.WindowDays = 0
	}
	return &Detector{opts: opts}
}

// Window returns the inclusive date range to load for a candidate dated d.
func (d *Detector) Window(date time.Time) (time.Time, time.Time) {
	day := domain.DateOnly(date)
	return day.AddDate(0, 0, -d.opts.WindowDays), day.AddDate(0, 0, d.opts.WindowDays)
}

// FindCandidate returns the best duplicate of in among recent, or nil. A
// candidate must share the account and absolute amount and fall inside the
// date window. The most similar description wins; ties go to the most
// recent row.
func (d *Detector) FindCandidate(in domain.Transaction, recent []domain.Transaction) *Match {
	var best *Match
	for _, ex := range recent {
		if ex.IsDeleted() || (in.ID != "" && ex.ID == in.ID) {
			continue
		}
		if ex.AccountID != in.AccountID || !ex.Amount.Abs().Equal(in.Amount.Abs()) {
			continue
		}
		days := daysApart(ex.Date, in.Date)
		if days > d.opts.WindowDays {
			continue
		}
		sim := Similarity(ex.Description, in.Description)
		if sim < d.opts.MinSimilarity {
			continue
		}
		m := &Match{Existing: ex, Similarity: sim, DaysApart: days}
		if best == nil || better(m, best) {
			best = m
		}
	}
	return best
}

func better(a, b *Match) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	if !a.Existing.Date.Equal(b.Existing.Date) {
		return a.Existing.Date.After(b.Existing.Date)
	}
	return a.Existing.CreatedAt.After(b.Existing.CreatedAt)
}

// Similarity is 1 minus the normalised edit distance of the upper-cased,
// trimmed descriptions. Two empty descriptions are identical.
func Similarity(a, b string) float64 {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func daysApart(a, b time.Time) int {
	d := domain.DateOnly(a).Sub(domain.DateOnly(b))
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}
