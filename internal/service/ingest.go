package service

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/ledgerflow/internal/database/repository"
	"github.com/jask/ledgerflow/internal/domain"
	"github.com/jask/ledgerflow/internal/logger"
)

// IngestService turns bank exports and parser output into transactions. Every
// row goes through TransactionService.Import, so rules, the duplicate queue
// and the ledger all see it.
type IngestService struct {
	Transactions *TransactionService
	Accounts     *repository.AccountRepo

	accountCache map[string]repository.Account
}

// NewIngestService builds an ingest service over txs.
func NewIngestService(txs *TransactionService) *IngestService {
	return &IngestService{Transactions: txs, Accounts: txs.Accounts}
}

type IngestResult struct {
	Imported int
	Skipped  int
	// Pending counts imported rows queued as probable duplicates.
	Pending int
	Errors  []error
}

// CSV columns: date, time, description, amount, external_id, account.
// amount is a signed decimal; negative is an expense, positive income.
func (s *IngestService) ImportCSV(ctx context.Context, r io.Reader, tz *time.Location) (IngestResult, error) {
	res := IngestResult{}
	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1
	line := 0
	for {
		line++
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		if len(rec) < 6 {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: expected 6 columns", line))
			continue
		}
		dateStr, timeStr, desc, amountStr, externalID, accountName := rec[0], rec[1], rec[2], rec[3], rec[4], rec[5]
		date, err := parseLocalDate(dateStr, tz)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d date: %w", line, err))
			continue
		}
		signed, err := parseAmount(amountStr)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d amount: %w", line, err))
			continue
		}
		acct, err := s.accountForName(ctx, accountName)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d account: %w", line, err))
			continue
		}

		desc = strings.TrimSpace(desc)
		hash := hashSource(acct.ID, date.Format(time.DateOnly), signed.String(), desc)
		if id := strings.TrimSpace(externalID); id != "" {
			hash = hashSource(acct.ID, "ext", id)
		}
		t := signedTransaction(acct.ID, date, signed, desc)
		t.Time = strings.TrimSpace(timeStr)
		t.Source = domain.SourceCSVImport
		t.SourceHash = hash
		s.record(ctx, &res, line, t, nil)
	}
	return res, nil
}

// ImportANZSimple ingests ANZ export with no headers: date, amount, description.
func (s *IngestService) ImportANZSimple(ctx context.Context, r io.Reader, accountName string, tz *time.Location) (IngestResult, error) {
	if strings.TrimSpace(accountName) == "" {
		accountName = "ANZ"
	}
	res := IngestResult{}
	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1

	acct, err := s.accountForName(ctx, accountName)
	if err != nil {
		return res, err
	}

	line := 0
	for {
		line++
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		if len(rec) < 3 {
			res.Errors = append(res.Errors, fmt.Errorf("line %d: expected 3 columns (date, amount, description)", line))
			continue
		}
		date, err := parseANZDate(rec[0], tz)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d date: %w", line, err))
			continue
		}
		signed, err := parseAmount(rec[1])
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("line %d amount: %w", line, err))
			continue
		}
		desc := strings.TrimSpace(rec[2])
		t := signedTransaction(acct.ID, date, signed, desc)
		t.Source = domain.SourceCSVImport
		t.SourceHash = hashSource(acct.ID, date.Format(time.DateOnly), signed.String(), desc)
		s.record(ctx, &res, line, t, nil)
	}
	return res, nil
}

// Parsed is one transaction extracted from free text by an external parser.
// RawText is the text it came from and is what raw_text conditions match.
type Parsed struct {
	Date        time.Time
	Time        string
	Description string
	Amount      decimal.Decimal
	Account     string
	RawText     string
}

// ImportParsed ingests parser output. Rows without an account go to
// defaultAccount.
func (s *IngestService) ImportParsed(ctx context.Context, items []Parsed, defaultAccount string) (IngestResult, error) {
	res := IngestResult{}
	for i, p := range items {
		line := i + 1
		name := p.Account
		if strings.TrimSpace(name) == "" {
			name = defaultAccount
		}
		acct, err := s.accountForName(ctx, name)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("item %d account: %w", line, err))
			continue
		}
		if p.Date.IsZero() {
			res.Errors = append(res.Errors, fmt.Errorf("item %d date: %w", line, errors.New("required")))
			continue
		}
		date := domain.DateOnly(p.Date)
		desc := strings.TrimSpace(p.Description)
		t := signedTransaction(acct.ID, date, p.Amount, desc)
		t.Time = strings.TrimSpace(p.Time)
		t.Source = domain.SourceAIParse
		t.SourceHash = hashSource(acct.ID, date.Format(time.DateOnly), p.Amount.String(), desc, p.RawText)
		raw := p.RawText
		s.record(ctx, &res, line, t, &raw)
	}
	return res, nil
}

func (s *IngestService) record(ctx context.Context, res *IngestResult, line int, t domain.Transaction, rawText *string) {
	out, err := s.Transactions.Import(ctx, t, rawText)
	switch {
	case err != nil:
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Int("line", line).Str("account_id", t.AccountID).Msg("import row rejected")
		res.Errors = append(res.Errors, fmt.Errorf("line %d insert: %w", line, err))
	case out.Skipped:
		res.Skipped++
	default:
		res.Imported++
		if out.Pending != nil {
			res.Pending++
		}
	}
}

// signedTransaction maps a signed bank amount to a typed magnitude.
func signedTransaction(accountID string, date time.Time, signed decimal.Decimal, desc string) domain.Transaction {
	typ := domain.TypeExpense
	if signed.IsPositive() {
		typ = domain.TypeIncome
	}
	return domain.Transaction{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Type:        typ,
		Amount:      signed.Abs(),
		Date:        date,
		Description: desc,
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	s = strings.TrimPrefix(s, "+")
	s = strings.Replace(s, "$", "", 1)
	return decimal.NewFromString(s)
}

func hashSource(parts ...string) *string {
	joined := strings.Join(parts, "|")
	sum := sha256.Sum256([]byte(joined))
	h := fmt.Sprintf("%x", sum[:])
	return &h
}

func parseLocalDate(s string, loc *time.Location) (time.Time, error) {
	return parseDate(time.DateOnly, s, loc)
}

func parseANZDate(s string, loc *time.Location) (time.Time, error) {
	return parseDate("2/01/2006", s, loc) // day/month/year, single-digit day allowed
}

// parseDate reads a calendar date as written in loc. The stored date is that
// calendar day, independent of the server zone.
func parseDate(layout, s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(layout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, err
	}
	return domain.DateOnly(t), nil
}

func (s *IngestService) accountForName(ctx context.Context, name string) (repository.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return repository.Account{}, errors.New("account name required")
	}
	if s.accountCache == nil {
		s.accountCache = make(map[string]repository.Account)
	}
	if acct, ok := s.accountCache[name]; ok {
		return acct, nil
	}
	existing, err := s.Accounts.ByName(ctx, name)
	if err != nil {
		return repository.Account{}, err
	}
	if existing != nil {
		s.accountCache[name] = *existing
		return *existing, nil
	}
	acct := repository.Account{ID: deterministicAccountID(name), Name: name, Institution: name, IsActive: true}
	if err := s.Accounts.Upsert(ctx, acct); err != nil {
		return repository.Account{}, err
	}
	s.accountCache[name] = acct
	return acct, nil
}

func deterministicAccountID(name string) string {
	key := strings.ToLower(strings.TrimSpace(filepath.Base(name)))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}
