package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/jask/ledgerflow/internal/domain"
	"github.com/jask/ledgerflow/internal/rules"
)

// AddRule validates def and stores it as an active rule. Rules added later
// run after earlier ones of the same priority.
func (s *TransactionService) AddRule(ctx context.Context, def rules.Definition) (rules.Definition, error) {
	def.Name = strings.TrimSpace(def.Name)
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.Logic == "" {
		def.Logic = rules.LogicAnd
	}
	def.Logic = rules.Logic(strings.ToLower(string(def.Logic)))
	def.IsActive = true
	if err := def.Validate(); err != nil {
		return rules.Definition{}, err
	}
	if err := s.checkRuleRefs(ctx, def.Actions); err != nil {
		return rules.Definition{}, err
	}
	if err := s.Rules.Add(ctx, def); err != nil {
		return rules.Definition{}, err
	}
	s.Log.Info().Str("rule_id", def.ID).Str("rule", def.Name).Int("priority", def.Priority).Msg("rule added")
	return def, nil
}

// checkRuleRefs refuses rules whose actions point at accounts or categories
// that do not exist now. The engine still tolerates references that go
// missing later.
func (s *TransactionService) checkRuleRefs(ctx context.Context, as rules.ActionSet) error {
	for field, id := range map[string]string{"set_account": as.SetAccount, "link_to_account": as.LinkToAccount} {
		if id == "" {
			continue
		}
		ok, err := s.Accounts.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return &domain.ValidationError{Field: field, Reason: "unknown account " + id}
		}
	}
	if as.SetCategory != "" {
		cats, err := s.Categories.LiveIDs(ctx)
		if err != nil {
			return err
		}
		if !cats[as.SetCategory] {
			return &domain.ValidationError{Field: "set_category", Reason: "unknown category " + as.SetCategory}
		}
	}
	return nil
}
