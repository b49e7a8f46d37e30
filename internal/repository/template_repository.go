package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"crewtask/internal/model"
)

var ErrTemplateNotFound = errors.New("repository: template not found")

// TemplateRepository handles persistence for recurring task templates.
type TemplateRepository struct {
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle.
func (r *TemplateRepository) WithTx(tx *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: tx}
}

func (r *TemplateRepository) Create(ctx context.Context, tmpl *model.RecurringTemplate) error {
	if err := r.db.WithContext(ctx).Create(tmpl).Error; err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (r *TemplateRepository) FindByID(ctx context.Context, id string) (*model.RecurringTemplate, error) {
	var tmpl model.RecurringTemplate
	err := r.db.WithContext(ctx).First(&tmpl, "id = ?", id).Error
	switch {
	case err == nil:
		return &tmpl, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrTemplateNotFound
	default:
		return nil, fmt.Errorf("find template: %w", err)
	}
}

// ListDue returns all active templates whose next run is at or before now.
func (r *TemplateRepository) ListDue(ctx context.Context, now time.Time) ([]model.RecurringTemplate, error) {
	var templates []model.RecurringTemplate
	if err := r.db.WithContext(ctx).
		Where("active = ? AND next_run_at <= ?", true, now).
		Order("next_run_at ASC").
		Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("list due templates: %w", err)
	}
	return templates, nil
}

// Advance records one spawn: run bookkeeping moves forward atomically with
// whatever else shares the transaction handle.
func (r *TemplateRepository) Advance(ctx context.Context, tmpl *model.RecurringTemplate, ranAt, nextRunAt time.Time) error {
	tmpl.LastRunAt = &ranAt
	tmpl.NextRunAt = nextRunAt
	tmpl.TotalInstances++
	err := r.db.WithContext(ctx).Model(tmpl).Updates(map[string]interface{}{
		"last_run_at":     ranAt,
		"next_run_at":     nextRunAt,
		"total_instances": tmpl.TotalInstances,
	}).Error
	if err != nil {
		return fmt.Errorf("advance template: %w", err)
	}
	return nil
}

// Deactivate permanently excludes a template from scheduling, used for
// malformed templates pending manual correction.
func (r *TemplateRepository) Deactivate(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Model(&model.RecurringTemplate{}).
		Where("id = ?", id).
		Update("active", false).Error; err != nil {
		return fmt.Errorf("deactivate template: %w", err)
	}
	return nil
}
