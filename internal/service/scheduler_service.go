package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"crewtask/internal/clock"
	"crewtask/internal/model"
	"crewtask/internal/repository"
)

// TickResult reports what one scheduler pass did.
type TickResult struct {
	Created []model.Task
	Errors  []error
}

// SchedulerService drives the recurring-template loop: on each tick it
// spawns task instances for due templates and runs the overdue sweep. Ticks
// never overlap; a tick that is still running makes the next one a no-op.
type SchedulerService struct {
	cron      *cron.Cron
	db        *gorm.DB
	templates *repository.TemplateRepository
	lifecycle *LifecycleService
	scoring   *ScoringService
	reminders *ReminderService
	digest    *DigestService
	clk       clock.Clock
	log       zerolog.Logger

	ticking atomic.Bool
}

func NewSchedulerService(
	db *gorm.DB,
	templates *repository.TemplateRepository,
	lifecycle *LifecycleService,
	scoring *ScoringService,
	reminders *ReminderService,
	digest *DigestService,
	clk clock.Clock,
	loc *time.Location,
	log zerolog.Logger,
) *SchedulerService {
	return &SchedulerService{
		cron:      cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		db:        db,
		templates: templates,
		lifecycle: lifecycle,
		scoring:   scoring,
		reminders: reminders,
		digest:    digest,
		clk:       clk,
		log:       log,
	}
}

// Start registers the periodic tick and begins the cron loop.
func (s *SchedulerService) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	seconds := int(interval.Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	spec := fmt.Sprintf("@every %ds", seconds)
	if _, err := s.cron.AddFunc(spec, s.tickJob); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	if s.digest != nil {
		// Monday morning, scheduler location.
		if _, err := s.cron.AddFunc("0 0 9 * * 1", s.digestJob); err != nil {
			return fmt.Errorf("schedule digest: %w", err)
		}
	}
	s.cron.Start()
	s.log.Info().Dur("interval", interval).Msg("scheduler started")
	return nil
}

// Stop halts the cron loop, letting an in-flight tick finish.
func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

func (s *SchedulerService) tickJob() {
	if !s.ticking.CompareAndSwap(false, true) {
		s.log.Warn().Msg("previous tick still running, skipping")
		return
	}
	defer s.ticking.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	now := s.clk.Now()
	result := s.RunTick(ctx, now)
	if len(result.Created) > 0 || len(result.Errors) > 0 {
		s.log.Info().Int("created", len(result.Created)).Int("errors", len(result.Errors)).Msg("tick done")
	}

	if _, err := s.scoring.SweepOverdue(ctx, now); err != nil {
		s.log.Error().Err(err).Msg("overdue sweep failed")
	}
	if s.reminders != nil {
		if err := s.reminders.SendDueSoon(ctx, now); err != nil {
			s.log.Error().Err(err).Msg("reminder pass failed")
		}
	}
}

func (s *SchedulerService) digestJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := s.digest.PostWeekly(ctx, s.clk.Now()); err != nil {
		s.log.Error().Err(err).Msg("weekly digest failed")
	}
}

// RunTick processes every active template due at now. Each template is
// handled independently: a failure is logged and collected, the template's
// schedule stays where it was for a retry next tick, and its siblings are
// unaffected. Task creation and the template advance share one transaction,
// so a crash can produce neither a duplicate instance nor a stuck template.
func (s *SchedulerService) RunTick(ctx context.Context, now time.Time) TickResult {
	var result TickResult

	due, err := s.templates.ListDue(ctx, now)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return result
	}

	for i := range due {
		tmpl := due[i]
		task, err := s.spawn(ctx, &tmpl, now)
		if err != nil {
			s.log.Error().Err(err).Str("template", tmpl.ID).Msg("template tick failed")
			result.Errors = append(result.Errors, fmt.Errorf("template %s: %w", tmpl.ID, err))
			continue
		}
		result.Created = append(result.Created, *task)
	}
	return result
}

func (s *SchedulerService) spawn(ctx context.Context, tmpl *model.RecurringTemplate, now time.Time) (*model.Task, error) {
	next, err := model.NextOccurrence(*tmpl, now)
	if err != nil {
		// A malformed template would fail identically every tick; pull it
		// out of rotation until someone fixes it.
		if errors.Is(err, model.ErrInvalidRecurrenceKind) ||
			errors.Is(err, model.ErrInvalidTimeOfDay) ||
			errors.Is(err, model.ErrInvalidTimezone) {
			if derr := s.templates.Deactivate(ctx, tmpl.ID); derr != nil {
				return nil, derr
			}
			return nil, fmt.Errorf("%w: %s", ErrInvalidTemplate, err)
		}
		return nil, err
	}

	input := TaskInput{
		GroupID:             tmpl.GroupID,
		Title:               tmpl.Title,
		Description:         tmpl.Description,
		Priority:            tmpl.Priority,
		Tags:                tmpl.Tags,
		StartTime:           now,
		DueTime:             now.Add(time.Duration(tmpl.DurationDays) * 24 * time.Hour),
		RequireAttachment:   tmpl.RequireAttachment,
		AssigneeIDs:         tmpl.AssigneeIDs,
		ReviewerID:          tmpl.ReviewerID,
		CreatorID:           tmpl.CreatorID,
		RecurringTemplateID: tmpl.ID,
		RecurringInstance:   tmpl.TotalInstances + 1,
	}

	var task *model.Task
	err = s.db.Transaction(func(tx *gorm.DB) error {
		created, err := s.lifecycle.CreateTaskInTx(ctx, tx, input)
		if err != nil {
			return err
		}
		task = created
		return s.templates.WithTx(tx).Advance(ctx, tmpl, now, next)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// CreateTemplate validates and persists a new recurring template with its
// first run already computed.
func (s *SchedulerService) CreateTemplate(ctx context.Context, tmpl *model.RecurringTemplate) (*model.RecurringTemplate, error) {
	now := s.clk.Now()
	if tmpl.ID == "" {
		tmpl.ID = uuid.NewString()
	}
	tmpl.Active = true
	if tmpl.Kind == model.RecurQuarterly && tmpl.AnchorMonth == 0 {
		tmpl.AnchorMonth = int(now.Month())
		tmpl.AnchorDay = tmpl.DayOfMonth
	}

	next, err := model.NextOccurrence(*tmpl, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, err)
	}
	tmpl.NextRunAt = next

	if err := s.templates.Create(ctx, tmpl); err != nil {
		return nil, err
	}
	s.log.Info().Str("template", tmpl.ID).Time("next_run", next).Msg("template created")
	return tmpl, nil
}
