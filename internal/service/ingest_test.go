package service

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/ledgerflow/internal/database/repository"
	"github.com/jask/ledgerflow/internal/domain"
	"github.com/jask/ledgerflow/internal/logger"
	"github.com/jask/ledgerflow/internal/rules"
)

func TestImportANZSimple(t *testing.T) {
	t.Parallel()
	txs, ctx := setupService(t)
	svc := NewIngestService(txs)

	loc, err := time.LoadLocation("Australia/Melbourne")
	require.NoError(t, err)

	data := strings.Join([]string{
		"3/02/2026,203.92,PAYMENT THANKYOU 528417",
		"2/02/2026,-20,DAN MURPHY'S/580 MELBOURN SPOTSWOOD",
	}, "\n")

	res, err := svc.ImportANZSimple(ctx, strings.NewReader(data), "ANZ Credit", loc)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Equal(t, 2, res.Imported)
	require.Equal(t, 0, res.Skipped)

	list, err := txs.Transactions.List(ctx, repository.TransactionFilters{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, list[0].AccountID, list[1].AccountID)
	expected := map[string]struct {
		typ    domain.TxType
		amount string
		date   string
	}{
		"PAYMENT THANKYOU 528417":             {typ: domain.TypeIncome, amount: "203.92", date: "2026-02-03"},
		"DAN MURPHY'S/580 MELBOURN SPOTSWOOD": {typ: domain.TypeExpense, amount: "20", date: "2026-02-02"},
	}
	for _, tx := range list {
		exp, ok := expected[tx.Description]
		require.True(t, ok, "unexpected description %s", tx.Description)
		require.Equal(t, exp.typ, tx.Type)
		require.True(t, decimal.RequireFromString(exp.amount).Equal(tx.Amount))
		require.Equal(t, exp.date, tx.Date.Format(time.DateOnly))
		require.Equal(t, domain.SourceCSVImport, tx.Source)
		require.NotNil(t, tx.SourceHash)
		require.True(t, tx.BalanceApplied)
	}
	requireBalance(t, txs, ctx, list[0].AccountID, "183.92")

	// Re-import should skip duplicates via source hash.
	res2, err := svc.ImportANZSimple(ctx, strings.NewReader(data), "ANZ Credit", loc)
	require.NoError(t, err)
	require.Equal(t, 0, res2.Imported)
	require.Equal(t, 2, res2.Skipped)
	require.Len(t, res2.Errors, 0)
	requireBalance(t, txs, ctx, list[0].AccountID, "183.92")

	accts, err := txs.Accounts.List(ctx)
	require.NoError(t, err)
	require.Len(t, accts, 4)
	found, err := txs.Accounts.ByName(ctx, "ANZ Credit")
	require.NoError(t, err)
	require.NotNil(t, found)
}

func TestImportCSV_HappyPath(t *testing.T) {
	t.Parallel()
	txs, ctx := setupService(t)
	svc := NewIngestService(txs)

	data := "2026-02-01,09:15,WOOLWORTHS 123,-45.67,ext-1,Everyday\n" +
		"2026-02-03,,SALARY,+2500.00,,Salary"

	res, err := svc.ImportCSV(ctx, strings.NewReader(data), time.UTC)
	require.NoError(t, err)
	require.Empty(t, res.Errors)
	require.Equal(t, 2, res.Imported)
	require.Equal(t, 0, res.Skipped)

	list, err := txs.Transactions.List(ctx, repository.TransactionFilters{})
	require.NoError(t, err)
	require.Len(t, list, 2)

	// "Everyday" already exists and is reused.
	requireBalance(t, txs, ctx, "a", "-45.67")
	salary, err := txs.Accounts.ByName(ctx, "Salary")
	require.NoError(t, err)
	require.NotNil(t, salary)
	requireBalance(t, txs, ctx, salary.ID, "2500")
}

func TestImportCSV_ErrorsAndSkips(t *testing.T) {
	t.Parallel()
	txs, ctx := setupService(t)
	svc := NewIngestService(txs)

	bad := "2026-02-01,,WOOLWORTHS 123,-45.67,ext-1,Everyday\n" + // ok
		"not-a-date,,BAD,10.00,,Everyday\n" + // bad date
		"2026-02-05,,WOOLWORTHS 123,-45.67,ext-1,Everyday\n" + // same external id
		"2026-02-06,,SHORT,1.00" // too few columns

	res, err := svc.ImportCSV(ctx, strings.NewReader(bad), time.UTC)
	require.NoError(t, err)
	require.Equal(t, 1, res.Imported)
	require.Equal(t, 1, res.Skipped)
	require.Len(t, res.Errors, 2)

	list, err := txs.Transactions.List(ctx, repository.TransactionFilters{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	requireBalance(t, txs, ctx, "a", "-45.67")
}

func TestImportCSV_LogsRejectedRows(t *testing.T) {
	t.Parallel()
	txs, ctx := setupService(t)
	svc := NewIngestService(txs)

	var buf bytes.Buffer
	ctx = logger.WithContext(ctx, logger.NewWithWriter(&buf))
	_, err := txs.DB.ExecContext(ctx, `DROP TABLE pending_duplicates`)
	require.NoError(t, err)
	_, err = txs.DB.ExecContext(ctx, `DROP TABLE transactions`)
	require.NoError(t, err)

	res, err := svc.ImportCSV(ctx, strings.NewReader("2026-02-01,,COFFEE,-4.50,,Everyday\n"), time.UTC)
	require.NoError(t, err)
	require.Zero(t, res.Imported)
	require.Len(t, res.Errors, 1)
	require.Contains(t, buf.String(), "import row rejected")
	require.Contains(t, buf.String(), `"line":1`)
}

func TestImportCSV_QueuesProbableDuplicates(t *testing.T) {
	t.Parallel()
	txs, ctx := setupService(t)
	svc := NewIngestService(txs)

	data := "2026-02-01,,NETFLIX.COM,-18.99,n-1,Everyday\n" +
		"2026-02-01,,NETFLIX COM,-18.99,n-2,Everyday"
	res, err := svc.ImportCSV(ctx, strings.NewReader(data), time.UTC)
	require.NoError(t, err)
	require.Equal(t, 2, res.Imported)
	require.Equal(t, 1, res.Pending)

	pending, err := txs.Duplicates.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Greater(t, pending[0].Similarity, 0.8)
}

func TestImportParsedMatchesRawText(t *testing.T) {
	t.Parallel()
	txs, ctx := setupService(t)
	svc := NewIngestService(txs)

	_, err := txs.AddRule(ctx, rules.Definition{
		Name:       "Card 4412",
		Conditions: rules.ConditionSet{RawTextContains: []string{"card ending 4412"}},
		Actions:    rules.ActionSet{SetAccount: "c", AutoReconcile: true},
	})
	require.NoError(t, err)

	items := []Parsed{
		{
			Date:        time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC),
			Description: "BUNNINGS",
			Amount:      decimal.RequireFromString("-64.10"),
			RawText:     "Purchase $64.10 at BUNNINGS on card ending 4412",
		},
		{
			Description: "NO DATE",
			Amount:      decimal.RequireFromString("-1"),
		},
	}
	res, err := svc.ImportParsed(ctx, items, "Everyday")
	require.NoError(t, err)
	require.Equal(t, 1, res.Imported)
	require.Len(t, res.Errors, 1)

	list, err := txs.Transactions.List(ctx, repository.TransactionFilters{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "c", list[0].AccountID)
	require.True(t, list[0].Reconciled)
	require.Equal(t, domain.SourceAIParse, list[0].Source)
	requireBalance(t, txs, ctx, "c", "-64.10")
	requireBalance(t, txs, ctx, "a", "0")
}

func TestParseAmount(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"-1,234.50": "-1234.5",
		"+20":       "20",
		" $7.05 ":   "7.05",
	} {
		got, err := parseAmount(in)
		require.NoError(t, err, in)
		require.True(t, decimal.RequireFromString(want).Equal(got), in)
	}
	_, err := parseAmount("abc")
	require.Error(t, err)
}
