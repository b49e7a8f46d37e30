package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"crewtask/internal/model"
	"crewtask/internal/repository"
)

type WindowKind string

const (
	WindowWeek    WindowKind = "week"
	WindowMonth   WindowKind = "month"
	WindowAllTime WindowKind = "all"
)

// Window selects the point-record bucket to rank: the week or month
// containing Reference, or everything.
type Window struct {
	Kind      WindowKind
	Reference time.Time
}

// LeaderboardService rolls point records up into ranked windowed summaries.
// Entries are derived on demand and never persisted.
type LeaderboardService struct {
	points *repository.PointRepository
	loc    *time.Location
	log    zerolog.Logger
}

func NewLeaderboardService(points *repository.PointRepository, loc *time.Location, log zerolog.Logger) *LeaderboardService {
	if loc == nil {
		loc = time.UTC
	}
	return &LeaderboardService{points: points, loc: loc, log: log}
}

// Compute ranks a group's members within the window. Ties are broken by the
// earliest instant the tied total was reached, then by user id, so the order
// is reproducible. Trend compares each rank to the immediately preceding
// window; all-time has no predecessor and reports steady.
func (s *LeaderboardService) Compute(ctx context.Context, groupID string, window Window) ([]model.LeaderboardEntry, error) {
	records, err := s.windowRecords(ctx, groupID, window)
	if err != nil {
		return nil, err
	}

	entries := rankRecords(records)

	if window.Kind != WindowAllTime {
		prevRecords, err := s.windowRecords(ctx, groupID, s.previousWindow(window))
		if err != nil {
			return nil, err
		}
		prevRank := make(map[string]int)
		for _, e := range rankRecords(prevRecords) {
			prevRank[e.UserID] = e.Rank
		}
		for i := range entries {
			prev, ok := prevRank[entries[i].UserID]
			switch {
			case !ok:
				entries[i].Trend = model.TrendNew
			case entries[i].Rank < prev:
				entries[i].Trend = model.TrendUp
			case entries[i].Rank > prev:
				entries[i].Trend = model.TrendDown
			default:
				entries[i].Trend = model.TrendSteady
			}
		}
	} else {
		for i := range entries {
			entries[i].Trend = model.TrendSteady
		}
	}

	return entries, nil
}

func (s *LeaderboardService) windowRecords(ctx context.Context, groupID string, window Window) ([]model.PointRecord, error) {
	switch window.Kind {
	case WindowWeek:
		return s.points.ListByGroupWeek(ctx, groupID, model.WeekStart(window.Reference, s.loc))
	case WindowMonth:
		return s.points.ListByGroupMonth(ctx, groupID, model.MonthStart(window.Reference, s.loc))
	case WindowAllTime:
		return s.points.ListByGroup(ctx, groupID)
	default:
		return nil, fmt.Errorf("%w: unknown leaderboard window %q", ErrValidationFailed, window.Kind)
	}
}

// previousWindow steps back one bucket. The month step starts from the
// bucket boundary: subtracting a calendar month from a month-end reference
// would normalize into the same month (Mar 31 -> "Feb 31" -> Mar 3).
func (s *LeaderboardService) previousWindow(window Window) Window {
	switch window.Kind {
	case WindowWeek:
		return Window{Kind: WindowWeek, Reference: window.Reference.AddDate(0, 0, -7)}
	case WindowMonth:
		return Window{Kind: WindowMonth, Reference: model.MonthStart(window.Reference, s.loc).AddDate(0, 0, -1)}
	default:
		return window
	}
}

type userTotals struct {
	userID    string
	total     int
	counts    map[model.PointType]int
	scored    int
	onTime    int
	reachedAt time.Time
}

// rankRecords aggregates per-user totals and assigns ranks. Records must be
// in event-date order so reachedAt lands on the record that produced the
// final total.
func rankRecords(records []model.PointRecord) []model.LeaderboardEntry {
	byUser := make(map[string]*userTotals)
	for _, rec := range records {
		u, ok := byUser[rec.UserID]
		if !ok {
			u = &userTotals{userID: rec.UserID, counts: make(map[model.PointType]int)}
			byUser[rec.UserID] = u
		}
		u.total += rec.Points
		u.counts[rec.Type]++
		if rec.Role == model.RoleAssignee {
			u.scored++
			if rec.Type.OnTime() {
				u.onTime++
			}
		}
		if rec.EventDate.After(u.reachedAt) {
			u.reachedAt = rec.EventDate
		}
	}

	users := make([]*userTotals, 0, len(byUser))
	for _, u := range byUser {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].total != users[j].total {
			return users[i].total > users[j].total
		}
		if !users[i].reachedAt.Equal(users[j].reachedAt) {
			return users[i].reachedAt.Before(users[j].reachedAt)
		}
		return users[i].userID < users[j].userID
	})

	entries := make([]model.LeaderboardEntry, 0, len(users))
	for i, u := range users {
		rate := 0.0
		if u.scored > 0 {
			rate = float64(u.onTime) / float64(u.scored)
		}
		entries = append(entries, model.LeaderboardEntry{
			UserID:         u.userID,
			TotalPoints:    u.total,
			CategoryCounts: u.counts,
			OnTimeRate:     rate,
			Rank:           i + 1,
		})
	}
	return entries
}
