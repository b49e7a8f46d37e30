package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"crewtask/internal/clock"
	"crewtask/internal/model"
	"crewtask/internal/notify"
	"crewtask/internal/repository"
)

// TaskInput carries everything needed to create a task, whether from a user
// request or a scheduler tick.
type TaskInput struct {
	GroupID           string
	Title             string
	Description       string
	Priority          model.Priority
	Tags              []string
	StartTime         time.Time
	DueTime           time.Time
	RequireAttachment bool
	AssigneeIDs       []string
	ReviewerID        string
	CreatorID         string

	RecurringTemplateID string
	RecurringInstance   int
}

// SubmissionInput is the payload of one hand-in.
type SubmissionInput struct {
	FileRefs []string
	Links    []string
	Comment  string
}

// LifecycleService is the task state machine: it owns every transition and
// appends the audit history for each one.
type LifecycleService struct {
	db           *gorm.DB
	tasks        *repository.TaskRepository
	files        *repository.FileRefRepository
	scoring      *ScoringService
	notifier     notify.Notifier
	clk          clock.Clock
	reviewWindow time.Duration
	log          zerolog.Logger
}

func NewLifecycleService(
	db *gorm.DB,
	tasks *repository.TaskRepository,
	files *repository.FileRefRepository,
	scoring *ScoringService,
	notifier notify.Notifier,
	clk clock.Clock,
	reviewWindow time.Duration,
	log zerolog.Logger,
) *LifecycleService {
	if reviewWindow <= 0 {
		reviewWindow = 48 * time.Hour
	}
	return &LifecycleService{
		db:           db,
		tasks:        tasks,
		files:        files,
		scoring:      scoring,
		notifier:     notifier,
		clk:          clk,
		reviewWindow: reviewWindow,
		log:          log,
	}
}

// CreateTask validates the input and persists a pending task with exactly
// one "create" history entry.
func (s *LifecycleService) CreateTask(ctx context.Context, input TaskInput) (*model.Task, error) {
	var task *model.Task
	err := s.db.Transaction(func(tx *gorm.DB) error {
		created, err := s.CreateTaskInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		task = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:   "task_created",
		TaskID: task.ID,
		Title:  task.Title,
		Body:   fmt.Sprintf("New task, due %s.", task.DueTime.Format("2006-01-02 15:04")),
	}, task.AssigneeIDs)

	return task, nil
}

// CreateTaskInTx runs task creation on the caller's transaction handle; the
// scheduler uses it to make spawning atomic with the template advance.
func (s *LifecycleService) CreateTaskInTx(ctx context.Context, tx *gorm.DB, input TaskInput) (*model.Task, error) {
	now := s.clk.Now()

	if input.Priority == "" {
		input.Priority = model.PriorityMedium
	}

	task := &model.Task{
		ID:                uuid.NewString(),
		GroupID:           input.GroupID,
		Title:             input.Title,
		Description:       input.Description,
		Status:            model.StatusPending,
		Priority:          input.Priority,
		Tags:              input.Tags,
		StartTime:         input.StartTime,
		DueTime:           input.DueTime,
		RequireAttachment: input.RequireAttachment,
		AssigneeIDs:       input.AssigneeIDs,
		ReviewerID:        input.ReviewerID,
		CreatorID:         input.CreatorID,
		RecurringInstance: input.RecurringInstance,
		Version:           1,
	}
	if input.RecurringTemplateID != "" {
		task.RecurringTemplateID = &input.RecurringTemplateID
	}

	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, err)
	}

	tasks := s.tasks.WithTx(tx)
	if err := tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	entry := &model.HistoryEntry{
		TaskID:  task.ID,
		Action:  "create",
		ActorID: input.CreatorID,
		At:      now,
	}
	if err := tasks.AppendHistory(ctx, entry); err != nil {
		return nil, err
	}
	task.History = append(task.History, *entry)

	s.log.Info().Str("task", task.ID).Str("group", task.GroupID).Msg("task created")
	return task, nil
}

// StartTask moves a pending task into progress for one of its assignees.
func (s *LifecycleService) StartTask(ctx context.Context, taskID, actorID string) (*model.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsAssignee(actorID) {
		return nil, ErrNotAssignee
	}
	if !task.Status.CanTransitionTo(model.StatusInProgress) || task.Status == model.StatusSubmitted {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, task.Status)
	}

	now := s.clk.Now()
	task.Status = model.StatusInProgress
	if err := s.applyTransition(ctx, task, "start", actorID, now, ""); err != nil {
		return nil, err
	}
	return task, nil
}

// SubmitTask appends one submission. The late flag is decided here, once,
// and is never recomputed. Only the first submission stamps SubmittedAt and
// opens the review window; later ones are extra records on the same state.
func (s *LifecycleService) SubmitTask(ctx context.Context, taskID, actorID string, payload SubmissionInput) (*model.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsAssignee(actorID) {
		return nil, ErrNotAssignee
	}
	if !task.Status.CanTransitionTo(model.StatusSubmitted) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, task.Status)
	}
	if task.RequireAttachment && len(payload.FileRefs) == 0 {
		return nil, ErrAttachmentRequired
	}
	if len(payload.FileRefs) > 0 {
		if err := s.files.ResolveGroupFiles(ctx, task.GroupID, payload.FileRefs); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrValidationFailed, err)
		}
	}

	now := s.clk.Now()
	sub := &model.Submission{
		TaskID:      task.ID,
		SubmitterID: actorID,
		SubmittedAt: now,
		FileRefs:    payload.FileRefs,
		Links:       payload.Links,
		Comment:     payload.Comment,
		Late:        now.After(task.DueTime),
	}

	first := task.SubmittedAt == nil
	if first {
		task.SubmittedAt = &now
		requested := now
		due := now.Add(s.reviewWindow)
		task.Review.RequestedAt = &requested
		task.Review.DueAt = &due
	}
	task.Status = model.StatusSubmitted

	err = s.db.Transaction(func(tx *gorm.DB) error {
		tasks := s.tasks.WithTx(tx)
		if err := tasks.AppendSubmission(ctx, sub); err != nil {
			return err
		}
		if err := tasks.SaveVersioned(ctx, task); err != nil {
			return err
		}
		return tasks.AppendHistory(ctx, &model.HistoryEntry{
			TaskID: task.ID, Action: "submit", ActorID: actorID, At: now,
		})
	})
	if err != nil {
		return nil, s.mapSaveError(err)
	}
	task.Submissions = append(task.Submissions, *sub)

	s.notifier.Notify(ctx, notify.Event{
		Kind:   "task_submitted",
		TaskID: task.ID,
		Title:  task.Title,
		Body:   "A submission is waiting for review.",
	}, []string{task.EffectiveReviewer()})

	return task, nil
}

// RecordReview records the reviewer's decision: approval advances the task
// to reviewed, rejection loops it back to in progress.
func (s *LifecycleService) RecordReview(ctx context.Context, taskID, actorID string, decision model.ReviewDecision, comment string) (*model.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if actorID != task.EffectiveReviewer() {
		return nil, ErrNotReviewer
	}
	if task.Status != model.StatusSubmitted {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, task.Status)
	}

	now := s.clk.Now()
	task.Review.ReviewerID = actorID
	task.Review.Decision = decision
	task.Review.ReviewedAt = &now
	task.Review.Comment = comment
	task.Review.Late = task.Review.DueAt != nil && now.After(*task.Review.DueAt)

	var action string
	switch decision {
	case model.ReviewApproved:
		task.Status = model.StatusReviewed
		task.ReviewedAt = &now
		action = "review_approved"
	case model.ReviewRejected:
		task.Status = model.StatusInProgress
		action = "review_rejected"
	default:
		return nil, fmt.Errorf("%w: unknown review decision %q", ErrValidationFailed, decision)
	}

	if err := s.applyTransition(ctx, task, action, actorID, now, comment); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:   "review_recorded",
		TaskID: task.ID,
		Title:  task.Title,
		Body:   fmt.Sprintf("Review decision: %s.", decision),
	}, task.AssigneeIDs)

	return task, nil
}

// ApproveTask is the creator's final sign-off: reviewed -> completed, with
// scoring triggered exactly once in the same transaction.
func (s *LifecycleService) ApproveTask(ctx context.Context, taskID, actorID, comment string) (*model.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if actorID != task.CreatorID {
		return nil, ErrNotCreator
	}
	if task.Status != model.StatusReviewed {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, task.Status)
	}

	now := s.clk.Now()
	task.Status = model.StatusCompleted
	task.ApprovedAt = &now
	task.CompletedAt = &now
	task.Approval = model.Approval{
		ApproverID: actorID,
		ApprovedAt: &now,
		Comment:    comment,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		tasks := s.tasks.WithTx(tx)
		if err := tasks.SaveVersioned(ctx, task); err != nil {
			return err
		}
		if err := tasks.AppendHistory(ctx, &model.HistoryEntry{
			TaskID: task.ID, Action: "approve", ActorID: actorID, At: now, Note: comment,
		}); err != nil {
			return err
		}
		return s.scoring.ScoreCompletionInTx(ctx, tx, task, now)
	})
	if err != nil {
		return nil, s.mapSaveError(err)
	}

	recipients := append(append([]string{}, task.AssigneeIDs...), task.CreatorID)
	s.notifier.Notify(ctx, notify.Event{
		Kind:   "task_approved",
		TaskID: task.ID,
		Title:  task.Title,
		Body:   "Task completed and scored.",
	}, recipients)

	return task, nil
}

// CancelTask terminates a task administratively. Allowed from any
// non-terminal status.
func (s *LifecycleService) CancelTask(ctx context.Context, taskID, actorID, note string) (*model.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, task.Status)
	}

	now := s.clk.Now()
	task.Status = model.StatusCancelled
	if err := s.applyTransition(ctx, task, "cancel", actorID, now, note); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:   "task_cancelled",
		TaskID: task.ID,
		Title:  task.Title,
		Body:   "Task was cancelled.",
	}, task.AssigneeIDs)

	return task, nil
}

// ReviseDueDate moves the due time of a live task. Refused once the task is
// terminal, always history-logged.
func (s *LifecycleService) ReviseDueDate(ctx context.Context, taskID, actorID string, newDue time.Time) (*model.Task, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, task.Status)
	}
	if newDue.IsZero() || (!task.StartTime.IsZero() && !newDue.After(task.StartTime)) {
		return nil, fmt.Errorf("%w: revised due time must be after start time", ErrValidationFailed)
	}

	now := s.clk.Now()
	old := task.DueTime
	task.DueTime = newDue
	note := fmt.Sprintf("due %s -> %s", old.Format(time.RFC3339), newDue.Format(time.RFC3339))
	if err := s.applyTransition(ctx, task, "revise_due", actorID, now, note); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *LifecycleService) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	return s.loadTask(ctx, taskID)
}

func (s *LifecycleService) ListGroupTasks(ctx context.Context, groupID string) ([]model.Task, error) {
	return s.tasks.ListByGroup(ctx, groupID)
}

func (s *LifecycleService) loadTask(ctx context.Context, taskID string) (*model.Task, error) {
	task, err := s.tasks.FindByID(ctx, taskID)
	if errors.Is(err, repository.ErrTaskNotFound) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// applyTransition saves the mutated task and its history entry atomically.
func (s *LifecycleService) applyTransition(ctx context.Context, task *model.Task, action, actorID string, at time.Time, note string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		tasks := s.tasks.WithTx(tx)
		if err := tasks.SaveVersioned(ctx, task); err != nil {
			return err
		}
		return tasks.AppendHistory(ctx, &model.HistoryEntry{
			TaskID: task.ID, Action: action, ActorID: actorID, At: at, Note: note,
		})
	})
	if err != nil {
		return s.mapSaveError(err)
	}
	s.log.Info().Str("task", task.ID).Str("action", action).Str("actor", actorID).Msg("task transition")
	return nil
}

func (s *LifecycleService) mapSaveError(err error) error {
	if errors.Is(err, repository.ErrVersionConflict) {
		return ErrConflict
	}
	return err
}
