package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"crewtask/internal/config"
	"crewtask/internal/model"
	"crewtask/internal/repository"
)

// ScoreCompletion is the pure scoring core: given a completed task it
// returns the point records the policy awards. It touches no storage, so the
// same input always yields the same records (modulo generated ids).
//
// Assignees who never submitted get nothing here; the overdue sweep handles
// them separately.
func ScoreCompletion(task model.Task, policy config.ScoringConfig, loc *time.Location) []model.PointRecord {
	var records []model.PointRecord

	firstByUser := make(map[string]*model.Submission)
	for i := range task.Submissions {
		sub := &task.Submissions[i]
		if cur, ok := firstByUser[sub.SubmitterID]; !ok || sub.SubmittedAt.Before(cur.SubmittedAt) {
			firstByUser[sub.SubmitterID] = sub
		}
	}

	allAssigneesOnTime := true
	for _, userID := range task.AssigneeIDs {
		sub, ok := firstByUser[userID]
		if !ok {
			allAssigneesOnTime = false
			continue
		}
		kind, points := classifySubmission(*sub, task.DueTime, policy)
		if kind != model.PointAssigneeEarly && kind != model.PointAssigneeOnTime {
			allAssigneesOnTime = false
		}
		records = append(records, newRecord(task, userID, kind, model.RoleAssignee, points, sub.SubmittedAt, loc))
	}

	completedAt := task.DueTime
	if task.CompletedAt != nil {
		completedAt = *task.CompletedAt
	}
	records = append(records, newRecord(task, task.CreatorID,
		model.PointCreatorCompletion, model.RoleCreator, policy.CreatorPoints, completedAt, loc))

	anySubmissionLate := false
	for i := range task.Submissions {
		if task.Submissions[i].Late {
			anySubmissionLate = true
		}
	}
	bonusEligible := !anySubmissionLate && len(task.Submissions) > 0
	if policy.BonusRequiresAllOnTime {
		bonusEligible = allAssigneesOnTime && len(task.AssigneeIDs) > 0
	}
	if bonusEligible {
		records = append(records, newRecord(task, task.CreatorID,
			model.PointCreatorOnTimeBonus, model.RoleBonus, policy.CreatorBonusPoints, completedAt, loc))
	}

	return records
}

func classifySubmission(sub model.Submission, due time.Time, policy config.ScoringConfig) (model.PointType, int) {
	switch {
	case sub.Late:
		return model.PointAssigneeLate, policy.LatePoints
	case due.Sub(sub.SubmittedAt) > policy.EarlyMargin:
		return model.PointAssigneeEarly, policy.EarlyPoints
	default:
		return model.PointAssigneeOnTime, policy.OnTimePoints
	}
}

func newRecord(task model.Task, userID string, kind model.PointType, role model.PointRole, points int, eventDate time.Time, loc *time.Location) model.PointRecord {
	return model.PointRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		GroupID:   task.GroupID,
		TaskID:    task.ID,
		Type:      kind,
		Role:      role,
		Points:    points,
		Meta:      map[string]string{"task_title": task.Title},
		EventDate: eventDate,
		WeekOf:    model.WeekStart(eventDate, loc),
		MonthOf:   model.MonthStart(eventDate, loc),
	}
}

// ScoringService wraps the pure core with idempotent persistence, streak
// detection and the overdue sweep.
type ScoringService struct {
	db     *gorm.DB
	points *repository.PointRepository
	tasks  *repository.TaskRepository
	policy config.ScoringConfig
	loc    *time.Location
	log    zerolog.Logger
}

func NewScoringService(db *gorm.DB, points *repository.PointRepository, tasks *repository.TaskRepository, policy config.ScoringConfig, loc *time.Location, log zerolog.Logger) *ScoringService {
	if loc == nil {
		loc = time.UTC
	}
	return &ScoringService{db: db, points: points, tasks: tasks, policy: policy, loc: loc, log: log}
}

// ScoreCompletionInTx persists the completion records on the caller's
// transaction. The unique (task, user, type) index makes a second trigger
// for the same completion a no-op.
func (s *ScoringService) ScoreCompletionInTx(ctx context.Context, tx *gorm.DB, task *model.Task, now time.Time) error {
	points := s.points.WithTx(tx)

	records := ScoreCompletion(*task, s.policy, s.loc)
	for i := range records {
		inserted, err := points.InsertIfAbsent(ctx, &records[i])
		if err != nil {
			return err
		}
		if !inserted {
			s.log.Debug().Str("task", task.ID).Str("user", records[i].UserID).
				Str("type", string(records[i].Type)).Msg("point record already present, skipped")
		}
	}

	return s.awardStreaks(ctx, points, task, now)
}

// awardStreaks grants a streak bonus to each assignee whose consecutive
// on-time hand-ins across the current and previous week reach the threshold.
func (s *ScoringService) awardStreaks(ctx context.Context, points *repository.PointRepository, task *model.Task, now time.Time) error {
	if s.policy.StreakThreshold <= 0 {
		return nil
	}
	windowStart := model.WeekStart(now, s.loc).AddDate(0, 0, -7)

	for _, userID := range task.AssigneeIDs {
		late, err := points.HasLateSince(ctx, userID, windowStart)
		if err != nil {
			return err
		}
		if late {
			continue
		}
		onTime, err := points.CountUserOnTimeSince(ctx, userID, windowStart)
		if err != nil {
			return err
		}
		if onTime < int64(s.policy.StreakThreshold) {
			continue
		}
		rec := newRecord(*task, userID, model.PointStreakBonus, model.RoleBonus, s.policy.StreakBonusPoints, now, s.loc)
		if _, err := points.InsertIfAbsent(ctx, &rec); err != nil {
			return err
		}
	}
	return nil
}

// SweepOverdue applies the overdue penalty, once per (task, assignee), to
// tasks whose due time passed with no submission at all. It is safe to run
// on every tick.
func (s *ScoringService) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	tasks, err := s.tasks.ListOverdueUnsubmitted(ctx, now)
	if err != nil {
		return 0, err
	}

	applied := 0
	for i := range tasks {
		task := tasks[i]
		err := s.db.Transaction(func(tx *gorm.DB) error {
			points := s.points.WithTx(tx)
			for _, userID := range task.AssigneeIDs {
				rec := newRecord(task, userID, model.PointPenaltyOverdue, model.RolePenalty, s.policy.OverduePenalty, task.DueTime, s.loc)
				inserted, err := points.InsertIfAbsent(ctx, &rec)
				if err != nil {
					return err
				}
				if inserted {
					applied++
				}
			}
			return nil
		})
		if err != nil {
			return applied, fmt.Errorf("overdue sweep for task %s: %w", task.ID, err)
		}
	}

	if applied > 0 {
		s.log.Info().Int("penalties", applied).Msg("overdue sweep applied penalties")
	}
	return applied, nil
}
