package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-automation/internal/models"
)

// TemplateRepository reads message templates.
type TemplateRepository struct {
	db *sqlx.DB
}

// NewTemplateRepository constructs the repository.
func NewTemplateRepository(db *sqlx.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// GetByID fetches a template.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.TemplateMessage, error) {
	const query = `SELECT id, name, type, content, created_at, updated_at FROM template_messages WHERE id = $1`
	var tpl models.TemplateMessage
	if err := r.db.GetContext(ctx, &tpl, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &tpl, nil
}

// ListByType returns templates of one type, most recently updated first.
func (r *TemplateRepository) ListByType(ctx context.Context, templateType models.TemplateType) ([]models.TemplateMessage, error) {
	const query = `SELECT id, name, type, content, created_at, updated_at FROM template_messages
WHERE type = $1 ORDER BY updated_at DESC`
	var templates []models.TemplateMessage
	if err := r.db.SelectContext(ctx, &templates, query, templateType); err != nil {
		return nil, fmt.Errorf("list templates by type: %w", err)
	}
	return templates, nil
}
