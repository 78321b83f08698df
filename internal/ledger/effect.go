package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jask/ledgerflow/internal/domain"
)

// Effect is the balance movement a transaction implies. The set of variants
// is closed: Expense, Income and Transfer.
type Effect interface {
	postings() []posting
	accounts() []string
}

type posting struct {
	accountID string
	delta     decimal.Decimal
}

// Expense takes Amount out of Account.
type Expense struct {
	Account string
	Amount  decimal.Decimal
}

func (e Expense) postings() []posting {
	return []posting{{accountID: e.Account, delta: e.Amount.Neg()}}
}

func (e Expense) accounts() []string { return []string{e.Account} }

// Income adds Amount to Account.
type Income struct {
	Account string
	Amount  decimal.Decimal
}

func (e Income) postings() []posting {
	return []posting{{accountID: e.Account, delta: e.Amount}}
}

func (e Income) accounts() []string { return []string{e.Account} }

// Transfer moves Amount from one account to another. Build it with
// NewTransfer so From and To are guaranteed distinct.
type Transfer struct {
	from   string
	to     string
	amount decimal.Decimal
}

// NewTransfer returns a transfer effect. Both legs always post together.
func NewTransfer(from, to string, amount decimal.Decimal) (Transfer, error) {
	if from == "" || to == "" {
		return Transfer{}, &domain.ValidationError{Field: "transfer_to_account_id", Reason: "transfer needs both accounts"}
	}
	if from == to {
		return Transfer{}, &domain.ValidationError{Field: "transfer_to_account_id", Reason: "must differ from account_id"}
	}
	return Transfer{from: from, to: to, amount: amount}, nil
}

func (t Transfer) From() string            { return t.from }
func (t Transfer) To() string              { return t.to }
func (t Transfer) Amount() decimal.Decimal { return t.amount }

func (t Transfer) postings() []posting {
	return []posting{
		{accountID: t.from, delta: t.amount.Neg()},
		{accountID: t.to, delta: t.amount},
	}
}

func (t Transfer) accounts() []string { return []string{t.from, t.to} }

// EffectOf derives the effect of a transaction from its type, amount, account
// and transfer destination.
func EffectOf(tx domain.Transaction) (Effect, error) {
	if tx.Amount.IsNegative() {
		return nil, &domain.ValidationError{Field: "amount", Reason: "must be a non-negative magnitude"}
	}
	if tx.AccountID == "" {
		return nil, &domain.ValidationError{Field: "account_id", Reason: "required"}
	}
	switch tx.Type {
	case domain.TypeExpense:
		return Expense{Account: tx.AccountID, Amount: tx.Amount}, nil
	case domain.TypeIncome:
		return Income{Account: tx.AccountID, Amount: tx.Amount}, nil
	case domain.TypeTransfer:
		return NewTransfer(tx.AccountID, domain.StrValue(tx.TransferToAccountID), tx.Amount)
	default:
		return nil, &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", tx.Type)}
	}
}

// Accounts lists the accounts an effect touches, in posting order.
func Accounts(e Effect) []string {
	return append([]string(nil), e.accounts()...)
}

// AccountsOf is Accounts for several transactions, without duplicates. Rows
// whose effect cannot be derived contribute their source account only.
func AccountsOf(txs ...domain.Transaction) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, tx := range txs {
		add(tx.AccountID)
		if tx.TransferToAccountID != nil {
			add(*tx.TransferToAccountID)
		}
	}
	return out
}

// Deltas adds the signed balance movement of e to into, keyed by account.
func Deltas(e Effect, into map[string]decimal.Decimal) {
	for _, p := range e.postings() {
		into[p.accountID] = into[p.accountID].Add(p.delta)
	}
}
