package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crewtask/internal/notify"
	"crewtask/internal/repository"
)

// ReminderService nudges assignees about tasks approaching their due time.
// It runs inside the scheduler tick.
type ReminderService struct {
	tasks    *repository.TaskRepository
	notifier notify.Notifier
	window   time.Duration
	log      zerolog.Logger
}

func NewReminderService(tasks *repository.TaskRepository, notifier notify.Notifier, log zerolog.Logger) *ReminderService {
	return &ReminderService{
		tasks:    tasks,
		notifier: notifier,
		window:   24 * time.Hour,
		log:      log,
	}
}

// SendDueSoon notifies assignees of unsubmitted tasks due within the window.
// Each task is reminded at most once per window; the reminder log on the
// task records every nudge.
func (s *ReminderService) SendDueSoon(ctx context.Context, now time.Time) error {
	tasks, err := s.tasks.ListDueSoon(ctx, now, s.window)
	if err != nil {
		return err
	}

	for i := range tasks {
		task := tasks[i]
		if len(task.ReminderLog) > 0 {
			last := task.ReminderLog[len(task.ReminderLog)-1]
			if now.Sub(last) < s.window {
				continue
			}
		}

		s.notifier.Notify(ctx, notify.Event{
			Kind:   "task_due_soon",
			TaskID: task.ID,
			Title:  task.Title,
			Body:   fmt.Sprintf("Due %s.", task.DueTime.Format("2006-01-02 15:04")),
		}, task.AssigneeIDs)

		task.ReminderLog = append(task.ReminderLog, now)
		if err := s.tasks.SaveVersioned(ctx, &task); err != nil {
			// A losing version check just means someone touched the task;
			// the reminder was still delivered.
			if errors.Is(err, repository.ErrVersionConflict) {
				s.log.Debug().Str("task", task.ID).Msg("reminder log skipped on version conflict")
				continue
			}
			return err
		}
	}
	return nil
}
