package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crewtask/internal/notify"
	"crewtask/internal/repository"
)

// DigestService posts a weekly leaderboard summary to every group.
type DigestService struct {
	boards   *LeaderboardService
	members  *repository.MemberRepository
	notifier notify.Notifier
	log      zerolog.Logger
}

func NewDigestService(boards *LeaderboardService, members *repository.MemberRepository, notifier notify.Notifier, log zerolog.Logger) *DigestService {
	return &DigestService{boards: boards, members: members, notifier: notifier, log: log}
}

// PostWeekly ranks the week that just ended for each group and notifies its
// members. Group failures are independent; one bad group never blocks the
// rest.
func (s *DigestService) PostWeekly(ctx context.Context, now time.Time) error {
	groups, err := s.members.GroupIDs(ctx)
	if err != nil {
		return err
	}

	// Rank the previous, completed week rather than the one just starting.
	window := Window{Kind: WindowWeek, Reference: now.AddDate(0, 0, -7)}

	for _, groupID := range groups {
		entries, err := s.boards.Compute(ctx, groupID, window)
		if err != nil {
			s.log.Error().Err(err).Str("group", groupID).Msg("weekly digest failed")
			continue
		}
		if len(entries) == 0 {
			continue
		}

		recipients, err := s.members.MemberIDs(ctx, groupID)
		if err != nil {
			s.log.Error().Err(err).Str("group", groupID).Msg("resolve digest recipients")
			continue
		}

		var b strings.Builder
		b.WriteString("Last week's standings:\n")
		for _, e := range entries {
			if e.Rank > 5 {
				break
			}
			fmt.Fprintf(&b, "%d. %s: %d pts (%.0f%% on time)\n", e.Rank, e.UserID, e.TotalPoints, e.OnTimeRate*100)
		}

		s.notifier.Notify(ctx, notify.Event{
			Kind:  "leaderboard_digest",
			Title: "Weekly leaderboard",
			Body:  b.String(),
		}, recipients)
	}
	return nil
}
