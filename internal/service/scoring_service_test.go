package service

import (
	"context"
	"testing"
	"time"

	"crewtask/internal/config"
	"crewtask/internal/model"
)

func completedTask(due time.Time) model.Task {
	completed := due.Add(time.Hour)
	return model.Task{
		ID:          "task-1",
		GroupID:     "grp",
		Title:       "Mow the lawn",
		Status:      model.StatusCompleted,
		Priority:    model.PriorityMedium,
		DueTime:     due,
		CompletedAt: &completed,
		AssigneeIDs: []string{"alice", "bob"},
		CreatorID:   "carol",
	}
}

func typesOf(records []model.PointRecord) map[model.PointType]int {
	out := make(map[model.PointType]int)
	for _, r := range records {
		out[r.Type]++
	}
	return out
}

func TestScoreCompletionTwoAssigneesOneSilent(t *testing.T) {
	due := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	task := completedTask(due)
	// Alice hands in on time (within the early margin), Bob never does.
	task.Submissions = []model.Submission{
		{TaskID: task.ID, SubmitterID: "alice", SubmittedAt: due.Add(-time.Hour), Late: false},
	}

	policy := config.DefaultScoring()
	records := ScoreCompletion(task, policy, time.UTC)

	types := typesOf(records)
	if types[model.PointAssigneeOnTime] != 1 {
		t.Fatalf("want exactly one assignee_ontime, got %v", types)
	}
	if types[model.PointCreatorCompletion] != 1 {
		t.Fatalf("want exactly one creator_completion, got %v", types)
	}
	for _, r := range records {
		if r.UserID == "bob" {
			t.Fatalf("non-submitter must get no record, got %+v", r)
		}
	}
	// Default policy demands every assignee on time; Bob is silent, so no
	// creator bonus.
	if types[model.PointCreatorOnTimeBonus] != 0 {
		t.Fatalf("unexpected creator bonus with a silent assignee: %v", types)
	}

	// The relaxed policy only looks at submissions that exist.
	policy.BonusRequiresAllOnTime = false
	types = typesOf(ScoreCompletion(task, policy, time.UTC))
	if types[model.PointCreatorOnTimeBonus] != 1 {
		t.Fatalf("relaxed policy must grant the bonus, got %v", types)
	}
}

func TestScoreCompletionClassification(t *testing.T) {
	due := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	policy := config.DefaultScoring()

	cases := []struct {
		name        string
		submittedAt time.Time
		late        bool
		want        model.PointType
	}{
		{"more than a day early", due.Add(-25 * time.Hour), false, model.PointAssigneeEarly},
		{"exactly at due", due, false, model.PointAssigneeOnTime},
		{"just under the margin", due.Add(-23 * time.Hour), false, model.PointAssigneeOnTime},
		{"past due", due.Add(time.Second), true, model.PointAssigneeLate},
	}
	for _, tc := range cases {
		task := completedTask(due)
		task.AssigneeIDs = []string{"alice"}
		task.Submissions = []model.Submission{
			{TaskID: task.ID, SubmitterID: "alice", SubmittedAt: tc.submittedAt, Late: tc.late},
		}
		types := typesOf(ScoreCompletion(task, policy, time.UTC))
		if types[tc.want] != 1 {
			t.Errorf("%s: want %s, got %v", tc.name, tc.want, types)
		}
	}
}

func TestScoreCompletionUsesFirstSubmissionPerUser(t *testing.T) {
	due := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	task := completedTask(due)
	task.AssigneeIDs = []string{"alice"}
	task.Submissions = []model.Submission{
		{TaskID: task.ID, SubmitterID: "alice", SubmittedAt: due.Add(time.Hour), Late: true},
		{TaskID: task.ID, SubmitterID: "alice", SubmittedAt: due.Add(-time.Hour), Late: false},
	}

	types := typesOf(ScoreCompletion(task, config.DefaultScoring(), time.UTC))
	if types[model.PointAssigneeOnTime] != 1 || types[model.PointAssigneeLate] != 0 {
		t.Fatalf("classification must follow the earliest submission, got %v", types)
	}
}

func TestScoringIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.lifecycle.CreateTask(ctx, f.taskInput())
	if _, err := f.lifecycle.SubmitTask(ctx, task.ID, "alice", SubmissionInput{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.lifecycle.RecordReview(ctx, task.ID, "carol", model.ReviewApproved, ""); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := f.lifecycle.ApproveTask(ctx, task.ID, "carol", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	before, err := f.points.ListByTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	// Fire the completion trigger a second time, as a crashed-and-retried
	// caller would.
	reloaded, _ := f.lifecycle.GetTask(ctx, task.ID)
	if err := f.scoring.ScoreCompletionInTx(ctx, f.db, reloaded, f.clk.Now()); err != nil {
		t.Fatalf("rescore: %v", err)
	}

	after, err := f.points.ListByTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("rescoring added records: before %d after %d", len(before), len(after))
	}
}

func TestSweepOverdueAppliesPenaltyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.lifecycle.CreateTask(ctx, f.taskInput())
	now := task.DueTime.Add(time.Hour)

	applied, err := f.scoring.SweepOverdue(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if applied != 2 {
		t.Fatalf("want a penalty per assignee, got %d", applied)
	}

	applied, err = f.scoring.SweepOverdue(ctx, now)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if applied != 0 {
		t.Fatalf("second sweep must be a no-op, applied %d", applied)
	}

	records, _ := f.points.ListByTask(ctx, task.ID)
	for _, r := range records {
		if r.Type != model.PointPenaltyOverdue || r.Points >= 0 {
			t.Fatalf("unexpected record %+v", r)
		}
		if !r.EventDate.Equal(task.DueTime) {
			t.Fatalf("penalty event date must be the due time, got %v", r.EventDate)
		}
	}
}

func TestSweepIgnoresSubmittedTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, _ := f.lifecycle.CreateTask(ctx, f.taskInput())
	if _, err := f.lifecycle.SubmitTask(ctx, task.ID, "alice", SubmissionInput{}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	applied, err := f.scoring.SweepOverdue(ctx, task.DueTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if applied != 0 {
		t.Fatalf("submitted task must not be penalized, applied %d", applied)
	}
}

func TestStreakBonusAfterConsecutiveOnTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two prior on-time hand-ins this week, then a third completion pushes
	// alice over the default threshold of three.
	weekStart := model.WeekStart(f.clk.Now(), time.UTC)
	for i, id := range []string{"prev-1", "prev-2"} {
		rec := model.PointRecord{
			ID: id + "-rec", UserID: "alice", GroupID: "grp", TaskID: id,
			Type: model.PointAssigneeOnTime, Role: model.RoleAssignee, Points: 10,
			EventDate: weekStart.Add(time.Duration(i+1) * time.Hour),
			WeekOf:    weekStart, MonthOf: model.MonthStart(f.clk.Now(), time.UTC),
		}
		if _, err := f.points.InsertIfAbsent(ctx, &rec); err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}

	input := f.taskInput()
	input.AssigneeIDs = []string{"alice"}
	task, _ := f.lifecycle.CreateTask(ctx, input)
	if _, err := f.lifecycle.SubmitTask(ctx, task.ID, "alice", SubmissionInput{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.lifecycle.RecordReview(ctx, task.ID, "carol", model.ReviewApproved, ""); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := f.lifecycle.ApproveTask(ctx, task.ID, "carol", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	records, _ := f.points.ListByTask(ctx, task.ID)
	if typesOf(records)[model.PointStreakBonus] != 1 {
		t.Fatalf("want a streak bonus, got %v", typesOf(records))
	}
}

func TestStreakBrokenByLateRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	weekStart := model.WeekStart(f.clk.Now(), time.UTC)
	seed := []model.PointRecord{
		{ID: "r1", TaskID: "p1", Type: model.PointAssigneeOnTime, Points: 10},
		{ID: "r2", TaskID: "p2", Type: model.PointAssigneeOnTime, Points: 10},
		{ID: "r3", TaskID: "p3", Type: model.PointAssigneeLate, Points: -5},
	}
	for i := range seed {
		seed[i].UserID = "alice"
		seed[i].GroupID = "grp"
		seed[i].Role = model.RoleAssignee
		seed[i].EventDate = weekStart.Add(time.Duration(i+1) * time.Hour)
		seed[i].WeekOf = weekStart
		seed[i].MonthOf = model.MonthStart(f.clk.Now(), time.UTC)
		if _, err := f.points.InsertIfAbsent(ctx, &seed[i]); err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}

	input := f.taskInput()
	input.AssigneeIDs = []string{"alice"}
	task, _ := f.lifecycle.CreateTask(ctx, input)
	if _, err := f.lifecycle.SubmitTask(ctx, task.ID, "alice", SubmissionInput{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.lifecycle.RecordReview(ctx, task.ID, "carol", model.ReviewApproved, ""); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := f.lifecycle.ApproveTask(ctx, task.ID, "carol", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	records, _ := f.points.ListByTask(ctx, task.ID)
	if typesOf(records)[model.PointStreakBonus] != 0 {
		t.Fatalf("late record must break the streak, got %v", typesOf(records))
	}
}
