// Package notify delivers fire-and-forget workflow notifications. Delivery
// failures are logged and never propagated into the task workflow.
package notify

import (
	"context"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"crewtask/internal/repository"
)

// Event describes one workflow occurrence worth telling people about.
type Event struct {
	Kind   string // task_created, task_submitted, review_recorded, task_approved, task_cancelled, task_due_soon
	TaskID string
	Title  string
	Body   string
}

// Notifier pushes an event to the given member ids.
type Notifier interface {
	Notify(ctx context.Context, event Event, recipientIDs []string)
}

// Nop drops all notifications. Used in tests and when no token is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Event, []string) {}

// Telegram sends events as HTML messages to each recipient's linked chat.
type Telegram struct {
	api     *tgbotapi.BotAPI
	members *repository.MemberRepository
	limiter *rate.Limiter
	log     zerolog.Logger
}

func NewTelegram(token string, members *repository.MemberRepository, log zerolog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log.Info().Str("account", api.Self.UserName).Msg("notifier authorized")

	return &Telegram{
		api:     api,
		members: members,
		// Telegram allows ~30 messages/second overall; stay well under it.
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		log:     log,
	}, nil
}

func (t *Telegram) Notify(ctx context.Context, event Event, recipientIDs []string) {
	chatIDs, err := t.members.ChatIDs(ctx, recipientIDs)
	if err != nil {
		t.log.Warn().Err(err).Str("event", event.Kind).Msg("resolve notification recipients")
		return
	}

	text := fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(event.Title), html.EscapeString(event.Body))
	for _, chatID := range chatIDs {
		if err := t.limiter.Wait(ctx); err != nil {
			t.log.Warn().Err(err).Str("event", event.Kind).Msg("notification rate wait interrupted")
			return
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := t.api.Send(msg); err != nil {
			t.log.Warn().Err(err).
				Str("event", event.Kind).
				Str("task", event.TaskID).
				Int64("chat", chatID).
				Msg("send notification")
		}
	}
}
