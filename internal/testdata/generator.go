package testdata

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jask/ledgerflow/internal/database"
	"github.com/jask/ledgerflow/internal/database/repository"
	"github.com/jask/ledgerflow/internal/domain"
	"github.com/jask/ledgerflow/internal/rules"
	"github.com/jask/ledgerflow/internal/service"
)

// Seed creates sample accounts, the default categories, a few rules and a
// month of transactions. Everything goes through svc so balances match the
// rows.
func Seed(ctx context.Context, svc *service.TransactionService) error {
	if err := database.SeedDefaults(ctx, svc.DB); err != nil {
		return err
	}

	checking := repository.Account{ID: uuid.NewString(), Name: "Sample Checking", Institution: "Sample Bank", IsActive: true}
	savings := repository.Account{ID: uuid.NewString(), Name: "Sample Savings", Institution: "Sample Bank", IsActive: true}
	for _, a := range []repository.Account{checking, savings} {
		if err := svc.Accounts.Upsert(ctx, a); err != nil {
			return err
		}
	}

	seedRules := []rules.Definition{
		{
			Name:       "Food delivery",
			Priority:   10,
			Conditions: rules.ConditionSet{DescriptionContains: []string{"UBER EATS", "MENULOG"}},
			Actions:    rules.ActionSet{SetCategory: database.CategoryID("Food > Restaurants"), AddNote: "delivery"},
			Logic:      rules.LogicOr,
		},
		{
			Name:       "Salary",
			Priority:   10,
			Conditions: rules.ConditionSet{DescriptionRegex: `^SALARY\b`},
			Actions:    rules.ActionSet{SetType: domain.TypeIncome, SetCategory: database.CategoryID("Income")},
		},
		{
			Name:       "Savings sweep",
			Priority:   5,
			Conditions: rules.ConditionSet{DescriptionContains: []string{"TRANSFER TO SAVINGS"}},
			Actions:    rules.ActionSet{LinkToAccount: savings.ID, SetCategory: database.CategoryID("Savings")},
		},
	}
	for _, def := range seedRules {
		if _, err := svc.AddRule(ctx, def); err != nil {
			return err
		}
	}

	r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	now := domain.DateOnly(time.Now().UTC())
	descs := []string{"UBER EATS* SUSHI", "AMAZON.COM*XYZ", "WOOLWORTHS", "SPOTIFY", "SALARY ACME", "TRANSFER TO SAVINGS"}
	for i := 0; i < 20; i++ {
		cents := int64(r.IntN(20000) + 500)
		tx := domain.Transaction{
			AccountID:   checking.ID,
			Type:        domain.TypeExpense,
			Amount:      decimal.New(cents, -2),
			Date:        now.AddDate(0, 0, -r.IntN(30)),
			Description: descs[r.IntN(len(descs))],
			Source:      domain.SourceManual,
		}
		if _, err := svc.Create(ctx, service.CreateInput{Transaction: tx}); err != nil {
			return err
		}
	}
	return nil
}
