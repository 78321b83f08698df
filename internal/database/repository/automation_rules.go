package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jask/ledgerflow/internal/rules"
)

// AutomationRuleRepo stores automation rules. Conditions and actions are JSON
// columns; rowid gives creation order.
type AutomationRuleRepo struct{ db DBTX }

func NewAutomationRuleRepo(db DBTX) *AutomationRuleRepo { return &AutomationRuleRepo{db: db} }

const ruleColumns = `rowid, id, name, priority, is_active, condition_logic, conditions, actions, created_at`

func (r *AutomationRuleRepo) Add(ctx context.Context, def rules.Definition) error {
	conds, err := json.Marshal(def.Conditions)
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}
	acts, err := json.Marshal(def.Actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}
	logic := def.Logic
	if logic == "" {
		logic = rules.LogicAnd
	}
	_, err = r.db.ExecContext(ctx, `
	INSERT INTO automation_rules(id, name, priority, is_active, condition_logic, conditions, actions, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, def.ID, def.Name, def.Priority, def.IsActive, string(logic), string(conds), string(acts))
	return err
}

func (r *AutomationRuleRepo) Get(ctx context.Context, id string) (*rules.Definition, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE id = ?`, id)
	def, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &def, nil
}

// List returns every rule in creation order. The engine re-sorts by
// priority.
func (r *AutomationRuleRepo) List(ctx context.Context) ([]rules.Definition, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM automation_rules ORDER BY rowid`)
}

// ListActive returns the active rules in creation order.
func (r *AutomationRuleRepo) ListActive(ctx context.Context) ([]rules.Definition, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE is_active = 1 ORDER BY rowid`)
}

func (r *AutomationRuleRepo) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE automation_rules SET is_active = ? WHERE id = ?`, active, id)
	return err
}

func (r *AutomationRuleRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE id = ?`, id)
	return err
}

func (r *AutomationRuleRepo) list(ctx context.Context, query string) ([]rules.Definition, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []rules.Definition
	for rows.Next() {
		def, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func scanRule(row scanner) (rules.Definition, error) {
	var def rules.Definition
	var logic, conds, acts string
	if err := row.Scan(&def.Seq, &def.ID, &def.Name, &def.Priority, &def.IsActive, &logic, &conds, &acts, &def.CreatedAt); err != nil {
		return rules.Definition{}, err
	}
	def.Logic = rules.Logic(logic)
	if err := json.Unmarshal([]byte(conds), &def.Conditions); err != nil {
		return rules.Definition{}, fmt.Errorf("rule %s conditions: %w", def.ID, err)
	}
	if err := json.Unmarshal([]byte(acts), &def.Actions); err != nil {
		return rules.Definition{}, fmt.Errorf("rule %s actions: %w", def.ID, err)
	}
	return def, nil
}
