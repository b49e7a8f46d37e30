package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crewtask/internal/model"
)

// PointRepository persists immutable point records.
type PointRepository struct {
	db *gorm.DB
}

func NewPointRepository(db *gorm.DB) *PointRepository {
	return &PointRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle.
func (r *PointRepository) WithTx(tx *gorm.DB) *PointRepository {
	return &PointRepository{db: tx}
}

// InsertIfAbsent writes the record unless one already exists for the same
// (task, user, type) tuple. Returns true when a row was actually inserted,
// which makes repeated scoring triggers harmless.
func (r *PointRepository) InsertIfAbsent(ctx context.Context, rec *model.PointRecord) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}, {Name: "user_id"}, {Name: "type"}},
		DoNothing: true,
	}).Create(rec)
	if res.Error != nil {
		return false, fmt.Errorf("insert point record: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *PointRepository) ListByTask(ctx context.Context, taskID string) ([]model.PointRecord, error) {
	var records []model.PointRecord
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).
		Order("created_at ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list task points: %w", err)
	}
	return records, nil
}

// ListByGroupWeek returns all records of a group bucketed into the week
// starting at weekOf.
func (r *PointRepository) ListByGroupWeek(ctx context.Context, groupID string, weekOf time.Time) ([]model.PointRecord, error) {
	var records []model.PointRecord
	if err := r.db.WithContext(ctx).
		Where("group_id = ? AND week_of = ?", groupID, weekOf).
		Order("event_date ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list week points: %w", err)
	}
	return records, nil
}

// ListByGroupMonth returns all records of a group bucketed into the month
// starting at monthOf.
func (r *PointRepository) ListByGroupMonth(ctx context.Context, groupID string, monthOf time.Time) ([]model.PointRecord, error) {
	var records []model.PointRecord
	if err := r.db.WithContext(ctx).
		Where("group_id = ? AND month_of = ?", groupID, monthOf).
		Order("event_date ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list month points: %w", err)
	}
	return records, nil
}

func (r *PointRepository) ListByGroup(ctx context.Context, groupID string) ([]model.PointRecord, error) {
	var records []model.PointRecord
	if err := r.db.WithContext(ctx).Where("group_id = ?", groupID).
		Order("event_date ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list group points: %w", err)
	}
	return records, nil
}

// CountUserOnTimeSince counts a user's on-time (early or on-time) assignee
// records with event dates at or after since. Feeds streak detection.
func (r *PointRepository) CountUserOnTimeSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.PointRecord{}).
		Where("user_id = ? AND event_date >= ? AND type IN ?",
			userID, since, []model.PointType{model.PointAssigneeEarly, model.PointAssigneeOnTime}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count on-time records: %w", err)
	}
	return count, nil
}

// HasLateSince reports whether the user has any late assignee record with an
// event date at or after since. A late hand-in breaks a streak.
func (r *PointRepository) HasLateSince(ctx context.Context, userID string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.PointRecord{}).
		Where("user_id = ? AND event_date >= ? AND type = ?", userID, since, model.PointAssigneeLate).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count late records: %w", err)
	}
	return count > 0, nil
}
