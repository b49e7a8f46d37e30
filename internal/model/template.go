package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidRecurrenceKind = errors.New("model: invalid recurrence kind")
	ErrInvalidTimeOfDay      = errors.New("model: invalid time of day, expected HH:MM")
	ErrInvalidTimezone       = errors.New("model: invalid template timezone")
)

type RecurrenceKind string

const (
	RecurWeekly    RecurrenceKind = "weekly"
	RecurMonthly   RecurrenceKind = "monthly"
	RecurQuarterly RecurrenceKind = "quarterly"
)

func (k RecurrenceKind) IsValid() bool {
	switch k {
	case RecurWeekly, RecurMonthly, RecurQuarterly:
		return true
	default:
		return false
	}
}

// RecurringTemplate periodically spawns concrete task instances. Templates
// are deactivated rather than deleted; only the scheduler mutates the run
// bookkeeping fields.
type RecurringTemplate struct {
	ID          string `gorm:"primaryKey"`
	GroupID     string `gorm:"index"`
	Title       string
	Description string

	AssigneeIDs       []string `gorm:"serializer:json"`
	ReviewerID        string
	RequireAttachment bool
	Priority          Priority
	Tags              []string `gorm:"serializer:json"`

	Kind       RecurrenceKind
	Weekday    int    // 0=Sunday..6=Saturday, weekly only
	DayOfMonth int    // 1..31, monthly and quarterly; clamped to month length
	TimeOfDay  string // "HH:MM" local to Timezone
	Timezone   string // IANA name, e.g. "Asia/Bangkok"

	// AnchorMonth/AnchorDay pin the quarterly cycle to the template's
	// original month and day.
	AnchorMonth int
	AnchorDay   int

	DurationDays int

	TotalInstances int
	LastRunAt      *time.Time
	NextRunAt      time.Time `gorm:"index"`
	Active         bool      `gorm:"index"`

	CreatorID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t RecurringTemplate) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("model: template id is required")
	}
	if strings.TrimSpace(t.GroupID) == "" {
		return errors.New("model: template group is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return errors.New("model: template title is required")
	}
	if len(t.AssigneeIDs) == 0 {
		return errors.New("model: template needs at least one assignee")
	}
	if !t.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRecurrenceKind, t.Kind)
	}
	switch t.Kind {
	case RecurWeekly:
		if t.Weekday < 0 || t.Weekday > 6 {
			return fmt.Errorf("model: weekday %d out of range 0-6", t.Weekday)
		}
	case RecurMonthly, RecurQuarterly:
		if t.DayOfMonth < 1 || t.DayOfMonth > 31 {
			return fmt.Errorf("model: day of month %d out of range 1-31", t.DayOfMonth)
		}
	}
	if t.Kind == RecurQuarterly {
		if t.AnchorMonth < 1 || t.AnchorMonth > 12 {
			return fmt.Errorf("model: anchor month %d out of range 1-12", t.AnchorMonth)
		}
	}
	if _, _, err := t.ClockTime(); err != nil {
		return err
	}
	if _, err := t.Location(); err != nil {
		return err
	}
	if t.DurationDays <= 0 {
		return errors.New("model: duration days must be positive")
	}
	if t.LastRunAt != nil && !t.NextRunAt.After(*t.LastRunAt) {
		return errors.New("model: next run must be after last run")
	}
	return nil
}

// ClockTime parses the template's HH:MM time of day.
func (t RecurringTemplate) ClockTime() (hour, minute int, err error) {
	parts := strings.Split(t.TimeOfDay, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, t.TimeOfDay)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, t.TimeOfDay)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, t.TimeOfDay)
	}
	return hour, minute, nil
}

// Location resolves the template's IANA timezone.
func (t RecurringTemplate) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, t.Timezone)
	}
	return loc, nil
}
