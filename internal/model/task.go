package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidStatus   = errors.New("model: invalid task status")
	ErrInvalidPriority = errors.New("model: invalid task priority")
)

// Status is the stored lifecycle state of a task. Overdue is deliberately
// absent: it is a view over (status, dueTime, now), never persisted.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusReviewed   Status = "reviewed"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSubmitted, StatusReviewed, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further workflow transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusSubmitted, StatusCancelled},
	StatusInProgress: {StatusSubmitted, StatusCancelled},
	StatusSubmitted:  {StatusSubmitted, StatusInProgress, StatusReviewed, StatusCancelled},
	StatusReviewed:   {StatusCompleted, StatusCancelled},
}

// CanTransitionTo reports whether the engine permits moving from s to next.
// Repeated submissions while already submitted are modelled as a self-loop.
func (s Status) CanTransitionTo(next Status) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// ReviewDecision is the outcome recorded by the designated reviewer.
type ReviewDecision string

const (
	ReviewApproved ReviewDecision = "approved"
	ReviewRejected ReviewDecision = "rejected"
)

// Submission is one hand-in by an assignee. Rows are append-only; the Late
// flag is computed once at submission time and never recomputed.
type Submission struct {
	ID          uint   `gorm:"primaryKey"`
	TaskID      string `gorm:"index"`
	SubmitterID string
	SubmittedAt time.Time
	FileRefs    []string `gorm:"serializer:json"`
	Links       []string `gorm:"serializer:json"`
	Comment     string
	Late        bool
}

// Review is the embedded review sub-state of a task.
type Review struct {
	ReviewerID  string
	Decision    ReviewDecision
	RequestedAt *time.Time
	DueAt       *time.Time
	ReviewedAt  *time.Time
	Comment     string
	Late        bool
}

// Approval is the embedded final sign-off sub-state of a task.
type Approval struct {
	ApproverID string
	ApprovedAt *time.Time
	Comment    string
}

// HistoryEntry is one line of the append-only task audit log.
type HistoryEntry struct {
	ID      uint   `gorm:"primaryKey"`
	TaskID  string `gorm:"index"`
	Action  string
	ActorID string
	At      time.Time
	Note    string
}

// Task is a single unit of work in a group board.
type Task struct {
	ID          string `gorm:"primaryKey"`
	GroupID     string `gorm:"index"`
	Title       string
	Description string
	Status      Status `gorm:"index"`
	Priority    Priority
	Tags        []string `gorm:"serializer:json"`

	StartTime time.Time
	DueTime   time.Time

	SubmittedAt *time.Time
	ReviewedAt  *time.Time
	ApprovedAt  *time.Time
	CompletedAt *time.Time

	RequireAttachment bool
	AssigneeIDs       []string `gorm:"serializer:json"`
	ReviewerID        string
	CreatorID         string

	ReminderLog []time.Time `gorm:"serializer:json"`

	RecurringTemplateID *string `gorm:"index"`
	RecurringInstance   int

	Review      Review         `gorm:"embedded;embeddedPrefix:review_"`
	Approval    Approval       `gorm:"embedded;embeddedPrefix:approval_"`
	Submissions []Submission   `gorm:"foreignKey:TaskID"`
	History     []HistoryEntry `gorm:"foreignKey:TaskID"`

	// Version guards concurrent workflow calls via an optimistic check.
	Version   int64 `gorm:"default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("model: task id is required")
	}
	if strings.TrimSpace(t.GroupID) == "" {
		return errors.New("model: task group is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return errors.New("model: task title is required")
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, t.Status)
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, t.Priority)
	}
	if t.DueTime.IsZero() {
		return errors.New("model: task due time is required")
	}
	if !t.StartTime.IsZero() && !t.DueTime.After(t.StartTime) {
		return errors.New("model: task due time must be after start time")
	}
	if len(t.AssigneeIDs) == 0 {
		return errors.New("model: task needs at least one assignee")
	}
	if t.Status != StatusCompleted && t.CompletedAt != nil {
		return errors.New("model: completed_at must be nil unless task is completed")
	}
	return nil
}

// IsAssignee reports whether userID is in the task's assignee set.
func (t Task) IsAssignee(userID string) bool {
	for _, id := range t.AssigneeIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// EffectiveReviewer is the designated reviewer, falling back to the creator
// when none was set.
func (t Task) EffectiveReviewer() string {
	if t.ReviewerID != "" {
		return t.ReviewerID
	}
	return t.CreatorID
}

// IsOverdue reports the derived overdue view: due time passed while the task
// is neither terminal nor waiting on review.
func (t Task) IsOverdue(now time.Time) bool {
	if t.Status.IsTerminal() || t.Status == StatusSubmitted || t.Status == StatusReviewed {
		return false
	}
	return now.After(t.DueTime)
}

// FirstSubmission returns the earliest submission, or nil when none exist.
func (t Task) FirstSubmission() *Submission {
	var first *Submission
	for i := range t.Submissions {
		if first == nil || t.Submissions[i].SubmittedAt.Before(first.SubmittedAt) {
			first = &t.Submissions[i]
		}
	}
	return first
}
