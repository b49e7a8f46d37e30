package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crewtask/internal/clock"
	"crewtask/internal/config"
	"crewtask/internal/model"
	"crewtask/internal/notify"
	"crewtask/internal/repository"
)

// captureNotifier records events instead of delivering them.
type captureNotifier struct {
	mu         sync.Mutex
	events     []notify.Event
	recipients [][]string
}

func (c *captureNotifier) Notify(_ context.Context, event notify.Event, recipientIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.recipients = append(c.recipients, recipientIDs)
}

func (c *captureNotifier) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	db        *gorm.DB
	clk       *clock.Fake
	notifier  *captureNotifier
	tasks     *repository.TaskRepository
	templates *repository.TemplateRepository
	points    *repository.PointRepository
	files     *repository.FileRefRepository
	members   *repository.MemberRepository
	scoring   *ScoringService
	lifecycle *LifecycleService
	scheduler *SchedulerService
	boards    *LeaderboardService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	// A pooled second connection would see a different in-memory database.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&model.Task{},
		&model.Submission{},
		&model.HistoryEntry{},
		&model.RecurringTemplate{},
		&model.PointRecord{},
		&model.Member{},
		&model.FileRef{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	f := &fixture{
		db:       db,
		clk:      &clock.Fake{Current: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		notifier: &captureNotifier{},
	}
	log := zerolog.Nop()
	f.tasks = repository.NewTaskRepository(db)
	f.templates = repository.NewTemplateRepository(db)
	f.points = repository.NewPointRepository(db)
	f.files = repository.NewFileRefRepository(db)
	f.members = repository.NewMemberRepository(db)
	f.scoring = NewScoringService(db, f.points, f.tasks, config.DefaultScoring(), time.UTC, log)
	f.lifecycle = NewLifecycleService(db, f.tasks, f.files, f.scoring, f.notifier, f.clk, 48*time.Hour, log)
	reminders := NewReminderService(f.tasks, f.notifier, log)
	f.boards = NewLeaderboardService(f.points, time.UTC, log)
	digest := NewDigestService(f.boards, f.members, f.notifier, log)
	f.scheduler = NewSchedulerService(db, f.templates, f.lifecycle, f.scoring, reminders, digest, f.clk, time.UTC, log)
	return f
}

func (f *fixture) taskInput() TaskInput {
	return TaskInput{
		GroupID:     "grp",
		Title:       "Do dishes",
		Priority:    model.PriorityMedium,
		StartTime:   f.clk.Current,
		DueTime:     f.clk.Current.Add(72 * time.Hour),
		AssigneeIDs: []string{"alice", "bob"},
		CreatorID:   "carol",
	}
}
