package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"crewtask/internal/model"
)

var ErrUnknownFileRef = errors.New("repository: file ref not registered to group")

// FileRefRepository is the file-reference resolver: it only validates that
// supplied file ids belong to the group, it never touches file contents.
type FileRefRepository struct {
	db *gorm.DB
}

func NewFileRefRepository(db *gorm.DB) *FileRefRepository {
	return &FileRefRepository{db: db}
}

func (r *FileRefRepository) Register(ctx context.Context, ref *model.FileRef) error {
	if err := r.db.WithContext(ctx).Create(ref).Error; err != nil {
		return fmt.Errorf("register file ref: %w", err)
	}
	return nil
}

// ResolveGroupFiles fails if any ref is missing or registered to a different
// group.
func (r *FileRefRepository) ResolveGroupFiles(ctx context.Context, groupID string, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&model.FileRef{}).
		Where("group_id = ? AND id IN ?", groupID, refs).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("resolve file refs: %w", err)
	}
	if count != int64(len(refs)) {
		return ErrUnknownFileRef
	}
	return nil
}
