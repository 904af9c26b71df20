package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-automation/internal/models"
)

const automationRuleColumns = `id, name, description, trigger_type, trigger_data, action_type, action_data,
is_active, send_time, time_zone, last_sent, next_send, created_at, updated_at`

// AutomationRuleRepository reads rules and persists engine-owned fields.
type AutomationRuleRepository struct {
	db *sqlx.DB
}

// NewAutomationRuleRepository constructs the repository.
func NewAutomationRuleRepository(db *sqlx.DB) *AutomationRuleRepository {
	return &AutomationRuleRepository{db: db}
}

// ListActive returns active rules, optionally restricted to one trigger type.
func (r *AutomationRuleRepository) ListActive(ctx context.Context, triggerType models.TriggerType) ([]models.AutomationRule, error) {
	query := `SELECT ` + automationRuleColumns + ` FROM automation_rules WHERE is_active = TRUE`
	args := []interface{}{}
	if triggerType != "" {
		query += ` AND trigger_type = $1`
		args = append(args, triggerType)
	}
	query += ` ORDER BY created_at ASC`
	var rules []models.AutomationRule
	if err := r.db.SelectContext(ctx, &rules, query, args...); err != nil {
		return nil, fmt.Errorf("list active automation rules: %w", err)
	}
	return rules, nil
}

// GetByID fetches a rule regardless of its active flag.
func (r *AutomationRuleRepository) GetByID(ctx context.Context, id string) (*models.AutomationRule, error) {
	query := `SELECT ` + automationRuleColumns + ` FROM automation_rules WHERE id = $1`
	var rule models.AutomationRule
	if err := r.db.GetContext(ctx, &rule, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get automation rule: %w", err)
	}
	return &rule, nil
}

// UpdateSchedule writes last_sent and next_send. Nil fields are left untouched.
func (r *AutomationRuleRepository) UpdateSchedule(ctx context.Context, id string, update models.RuleScheduleUpdate) error {
	const query = `UPDATE automation_rules
SET last_sent = COALESCE($2, last_sent), next_send = COALESCE($3, next_send), updated_at = $4
WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, update.LastSent, update.NextSend, time.Now().UTC()); err != nil {
		return fmt.Errorf("update automation rule schedule: %w", err)
	}
	return nil
}
