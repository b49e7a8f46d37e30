package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPointType = errors.New("model: invalid point record type")

// PointType identifies one scored event kind. The unique index on
// (task_id, user_id, type) makes scoring idempotent at the storage layer.
type PointType string

const (
	PointAssigneeEarly      PointType = "assignee_early"
	PointAssigneeOnTime     PointType = "assignee_ontime"
	PointAssigneeLate       PointType = "assignee_late"
	PointCreatorCompletion  PointType = "creator_completion"
	PointCreatorOnTimeBonus PointType = "creator_ontime_bonus"
	PointStreakBonus        PointType = "streak_bonus"
	PointPenaltyOverdue     PointType = "penalty_overdue"
)

func (t PointType) IsValid() bool {
	switch t {
	case PointAssigneeEarly, PointAssigneeOnTime, PointAssigneeLate,
		PointCreatorCompletion, PointCreatorOnTimeBonus, PointStreakBonus, PointPenaltyOverdue:
		return true
	default:
		return false
	}
}

// OnTime reports whether the type counts toward the on-time rate.
func (t PointType) OnTime() bool {
	return t == PointAssigneeEarly || t == PointAssigneeOnTime
}

type PointRole string

const (
	RoleAssignee PointRole = "assignee"
	RoleCreator  PointRole = "creator"
	RoleBonus    PointRole = "bonus"
	RolePenalty  PointRole = "penalty"
)

// PointRecord is one immutable scored event tied to a task, user and role.
type PointRecord struct {
	ID      string    `gorm:"primaryKey"`
	UserID  string    `gorm:"index;uniqueIndex:idx_task_user_type"`
	GroupID string    `gorm:"index"`
	TaskID  string    `gorm:"uniqueIndex:idx_task_user_type"`
	Type    PointType `gorm:"uniqueIndex:idx_task_user_type"`
	Role    PointRole
	Points  int
	Meta    map[string]string `gorm:"serializer:json"`

	EventDate time.Time
	WeekOf    time.Time `gorm:"index"`
	MonthOf   time.Time `gorm:"index"`

	CreatedAt time.Time
}

func (r PointRecord) Validate() error {
	if r.ID == "" || r.UserID == "" || r.GroupID == "" || r.TaskID == "" {
		return errors.New("model: point record id, user, group and task are required")
	}
	if !r.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPointType, r.Type)
	}
	if r.EventDate.IsZero() {
		return errors.New("model: point record event date is required")
	}
	return nil
}

// WeekStart truncates t to Monday 00:00 in loc.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	offset := (int(local.Weekday()) - int(time.Monday) + 7) % 7
	y, m, d := local.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// MonthStart truncates t to the first of its month at 00:00 in loc.
func MonthStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}
