package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"crewtask/internal/model"
)

var (
	ErrTaskNotFound = errors.New("repository: task not found")
	// ErrVersionConflict means a concurrent workflow call won the optimistic
	// version check; the caller's view of the task is stale.
	ErrVersionConflict = errors.New("repository: task version conflict")
)

// TaskRepository handles persistence for tasks and their workflow children.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle.
func (r *TaskRepository) WithTx(tx *gorm.DB) *TaskRepository {
	return &TaskRepository{db: tx}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) FindByID(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		Preload("Submissions", func(db *gorm.DB) *gorm.DB { return db.Order("submitted_at ASC, id ASC") }).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("at ASC, id ASC") }).
		First(&task, "id = ?", taskID).Error
	switch {
	case err == nil:
		return &task, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrTaskNotFound
	default:
		return nil, fmt.Errorf("find task: %w", err)
	}
}

// SaveVersioned persists task changes only if task.Version still matches the
// stored row, then bumps the version. Concurrent writers lose with
// ErrVersionConflict and must reload.
func (r *TaskRepository) SaveVersioned(ctx context.Context, task *model.Task) error {
	current := task.Version
	task.Version = current + 1
	res := r.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND version = ?", task.ID, current).
		Select("*").Omit("Submissions", "History", "CreatedAt").
		Updates(task)
	if res.Error != nil {
		task.Version = current
		return fmt.Errorf("save task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		task.Version = current
		return ErrVersionConflict
	}
	return nil
}

// AppendSubmission adds one immutable submission row.
func (r *TaskRepository) AppendSubmission(ctx context.Context, sub *model.Submission) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return fmt.Errorf("append submission: %w", err)
	}
	return nil
}

// AppendHistory adds one immutable audit log row.
func (r *TaskRepository) AppendHistory(ctx context.Context, entry *model.HistoryEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (r *TaskRepository) ListByGroup(ctx context.Context, groupID string) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).Where("group_id = ?", groupID).
		Order("due_time ASC, created_at DESC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list group tasks: %w", err)
	}
	return tasks, nil
}

// ListOverdueUnsubmitted returns tasks whose due time passed while still
// pending or in progress, with zero submissions on record. Feeds the
// overdue-penalty sweep.
func (r *TaskRepository) ListOverdueUnsubmitted(ctx context.Context, now time.Time) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("status IN ? AND due_time < ?", []model.Status{model.StatusPending, model.StatusInProgress}, now).
		Where("NOT EXISTS (SELECT 1 FROM submissions WHERE submissions.task_id = tasks.id)").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list overdue tasks: %w", err)
	}
	return tasks, nil
}

// ListDueSoon returns non-terminal, unsubmitted tasks due within the window,
// for reminder delivery.
func (r *TaskRepository) ListDueSoon(ctx context.Context, now time.Time, window time.Duration) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("status IN ? AND due_time > ? AND due_time <= ?",
			[]model.Status{model.StatusPending, model.StatusInProgress}, now, now.Add(window)).
		Order("due_time ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list due soon: %w", err)
	}
	return tasks, nil
}
