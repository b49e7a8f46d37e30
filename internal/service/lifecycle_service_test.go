package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"crewtask/internal/model"
)

func TestCreateTaskStartsPendingWithCreateHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.lifecycle.CreateTask(ctx, f.taskInput())
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != model.StatusPending {
		t.Fatalf("status %s, want pending", task.Status)
	}

	got, err := f.lifecycle.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got.History) != 1 || got.History[0].Action != "create" {
		t.Fatalf("want exactly one create history entry, got %+v", got.History)
	}
	if kinds := f.notifier.kinds(); len(kinds) != 1 || kinds[0] != "task_created" {
		t.Fatalf("unexpected notifications %v", kinds)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	missingDue := f.taskInput()
	missingDue.DueTime = time.Time{}
	if _, err := f.lifecycle.CreateTask(ctx, missingDue); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("missing due: got %v", err)
	}

	dueBeforeStart := f.taskInput()
	dueBeforeStart.DueTime = dueBeforeStart.StartTime.Add(-time.Hour)
	if _, err := f.lifecycle.CreateTask(ctx, dueBeforeStart); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("due before start: got %v", err)
	}

	noAssignees := f.taskInput()
	noAssignees.AssigneeIDs = nil
	if _, err := f.lifecycle.CreateTask(ctx, noAssignees); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("no assignees: got %v", err)
	}
}

func TestSubmitTaskGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.lifecycle.CreateTask(ctx, f.taskInput())

	if _, err := f.lifecycle.SubmitTask(ctx, task.ID, "mallory", SubmissionInput{}); !errors.Is(err, ErrNotAssignee) {
		t.Fatalf("outsider submit: got %v", err)
	}
	if _, err := f.lifecycle.SubmitTask(ctx, "missing", "alice", SubmissionInput{}); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("missing task: got %v", err)
	}

	withAttachment := f.taskInput()
	withAttachment.RequireAttachment = true
	guarded, _ := f.lifecycle.CreateTask(ctx, withAttachment)
	if _, err := f.lifecycle.SubmitTask(ctx, guarded.ID, "alice", SubmissionInput{}); !errors.Is(err, ErrAttachmentRequired) {
		t.Fatalf("no attachment: got %v", err)
	}
	// A file ref from another group does not satisfy the requirement.
	if err := f.files.Register(ctx, &model.FileRef{ID: "foreign", GroupID: "other", Name: "x", UploaderID: "alice"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.lifecycle.SubmitTask(ctx, guarded.ID, "alice", SubmissionInput{FileRefs: []string{"foreign"}}); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("foreign file: got %v", err)
	}
}

func TestSubmitLateFlagIsComputedOnceAtBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.lifecycle.CreateTask(ctx, f.taskInput())

	// Exactly at the due instant: not late.
	f.clk.Current = task.DueTime
	got, err := f.lifecycle.SubmitTask(ctx, task.ID, "alice", SubmissionInput{Comment: "done"})
	if err != nil {
		t.Fatalf("submit at due: %v", err)
	}
	if got.Submissions[0].Late {
		t.Fatal("submission at the exact due time must not be late")
	}
	if got.SubmittedAt == nil || !got.SubmittedAt.Equal(task.DueTime) {
		t.Fatalf("first submission must stamp submittedAt, got %v", got.SubmittedAt)
	}

	// One second past due: late, state stays submitted, submittedAt keeps
	// its first value.
	f.clk.Advance(time.Second)
	got, err = f.lifecycle.SubmitTask(ctx, task.ID, "bob", SubmissionInput{})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if got.Status != model.StatusSubmitted {
		t.Fatalf("status %s, want submitted", got.Status)
	}
	reloaded, _ := f.lifecycle.GetTask(ctx, task.ID)
	if len(reloaded.Submissions) != 2 {
		t.Fatalf("want 2 submissions, got %d", len(reloaded.Submissions))
	}
	if !reloaded.Submissions[1].Late {
		t.Fatal("submission one second past due must be late")
	}
	if !reloaded.SubmittedAt.Equal(task.DueTime) {
		t.Fatalf("submittedAt changed on repeat submission: %v", reloaded.SubmittedAt)
	}
}

func TestReviewRejectLoopsBackToInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.lifecycle.CreateTask(ctx, f.taskInput())
	if _, err := f.lifecycle.SubmitTask(ctx, task.ID, "alice", SubmissionInput{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := f.lifecycle.RecordReview(ctx, task.ID, "mallory", model.ReviewRejected, ""); !errors.Is(err, ErrNotReviewer) {
		t.Fatalf("outsider review: got %v", err)
	}

	// No reviewer configured, so the creator reviews.
	got, err := f.lifecycle.RecordReview(ctx, task.ID, "carol", model.ReviewRejected, "redo it")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != model.StatusInProgress {
		t.Fatalf("status %s, want in_progress after reject", got.Status)
	}

	// The loop allows a fresh submission and a passing review.
	if _, err := f.lifecycle.SubmitTask(ctx, task.ID, "alice", SubmissionInput{}); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	got, err = f.lifecycle.RecordReview(ctx, task.ID, "carol", model.ReviewApproved, "ok")
	if err != nil {
		t.Fatalf("approve review: %v", err)
	}
	if got.Status != model.StatusReviewed || got.ReviewedAt == nil {
		t.Fatalf("unexpected state after review approval: %+v", got.Status)
	}
}

func TestLateReviewFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.lifecycle.CreateTask(ctx, f.taskInput())
	if _, err := f.lifecycle.SubmitTask(ctx, task.ID, "alice", SubmissionInput{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Default review window is two days.
	f.clk.Advance(49 * time.Hour)
	got, err := f.lifecycle.RecordReview(ctx, task.ID, "carol", model.ReviewApproved, "")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if !got.Review.Late {
		t.Fatal("review past its window must be flagged late")
	}
}

func TestApproveCompletesAndScoresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.lifecycle.CreateTask(ctx, f.taskInput())

	if _, err := f.lifecycle.ApproveTask(ctx, task.ID, "carol", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("approve from pending: got %v", err)
	}

	if _, err := f.lifecycle.SubmitTask(ctx, task.ID, "alice", SubmissionInput{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.lifecycle.RecordReview(ctx, task.ID, "carol", model.ReviewApproved, ""); err != nil {
		t.Fatalf("review: %v", err)
	}

	if _, err := f.lifecycle.ApproveTask(ctx, task.ID, "alice", ""); !errors.Is(err, ErrNotCreator) {
		t.Fatalf("non-creator approve: got %v", err)
	}

	got, err := f.lifecycle.ApproveTask(ctx, task.ID, "carol", "nice work")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != model.StatusCompleted || got.CompletedAt == nil || got.ApprovedAt == nil {
		t.Fatalf("unexpected completion state: %+v", got.Status)
	}

	records, err := f.points.ListByTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("list points: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("completion must produce point records")
	}

	// Completed is terminal.
	if _, err := f.lifecycle.ApproveTask(ctx, task.ID, "carol", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double approve: got %v", err)
	}
}

func TestCancelAndReviseDueDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.lifecycle.CreateTask(ctx, f.taskInput())

	newDue := task.DueTime.Add(24 * time.Hour)
	got, err := f.lifecycle.ReviseDueDate(ctx, task.ID, "carol", newDue)
	if err != nil {
		t.Fatalf("revise due: %v", err)
	}
	if !got.DueTime.Equal(newDue) {
		t.Fatalf("due not revised: %v", got.DueTime)
	}

	if _, err := f.lifecycle.CancelTask(ctx, task.ID, "carol", "not needed"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.lifecycle.ReviseDueDate(ctx, task.ID, "carol", newDue.Add(time.Hour)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("revise after cancel: got %v", err)
	}
	if _, err := f.lifecycle.CancelTask(ctx, task.ID, "carol", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double cancel: got %v", err)
	}

	reloaded, _ := f.lifecycle.GetTask(ctx, task.ID)
	actions := make([]string, 0, len(reloaded.History))
	for _, h := range reloaded.History {
		actions = append(actions, h.Action)
	}
	want := []string{"create", "revise_due", "cancel"}
	if len(actions) != len(want) {
		t.Fatalf("history %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("history %v, want %v", actions, want)
		}
	}
}

func TestStartTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.lifecycle.CreateTask(ctx, f.taskInput())
	got, err := f.lifecycle.StartTask(ctx, task.ID, "bob")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got.Status != model.StatusInProgress {
		t.Fatalf("status %s, want in_progress", got.Status)
	}
	if _, err := f.lifecycle.StartTask(ctx, task.ID, "carol"); !errors.Is(err, ErrNotAssignee) {
		t.Fatalf("creator start: got %v", err)
	}
}
