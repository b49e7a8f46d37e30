package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"crewtask/internal/model"
)

// MemberRepository handles group membership rows.
type MemberRepository struct {
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// Upsert finds or creates a member by id and refreshes profile fields.
func (r *MemberRepository) Upsert(ctx context.Context, member *model.Member) (*model.Member, error) {
	var existing model.Member
	db := r.db.WithContext(ctx)
	err := db.First(&existing, "id = ?", member.ID).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{
			"group_id":         member.GroupID,
			"display_name":     member.DisplayName,
			"telegram_chat_id": member.TelegramChatID,
		}
		if err := db.Model(&existing).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update member: %w", err)
		}
		return &existing, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.Create(member).Error; err != nil {
			return nil, fmt.Errorf("create member: %w", err)
		}
		return member, nil
	default:
		return nil, fmt.Errorf("find member: %w", err)
	}
}

func (r *MemberRepository) FindByID(ctx context.Context, id string) (*model.Member, error) {
	var member model.Member
	if err := r.db.WithContext(ctx).First(&member, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("find member: %w", err)
	}
	return &member, nil
}

// GroupIDs lists every distinct group that has members.
func (r *MemberRepository) GroupIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&model.Member{}).
		Distinct("group_id").Order("group_id ASC").
		Pluck("group_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list group ids: %w", err)
	}
	return ids, nil
}

// MemberIDs lists the ids of all members of a group.
func (r *MemberRepository) MemberIDs(ctx context.Context, groupID string) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&model.Member{}).
		Where("group_id = ?", groupID).Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	return ids, nil
}

// ChatIDs resolves the Telegram chat ids of the given members, skipping
// unknown ids and members without a linked chat.
func (r *MemberRepository) ChatIDs(ctx context.Context, memberIDs []string) ([]int64, error) {
	if len(memberIDs) == 0 {
		return nil, nil
	}
	var members []model.Member
	if err := r.db.WithContext(ctx).Where("id IN ?", memberIDs).Find(&members).Error; err != nil {
		return nil, fmt.Errorf("resolve chat ids: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if m.TelegramChatID != 0 {
			ids = append(ids, m.TelegramChatID)
		}
	}
	return ids, nil
}
