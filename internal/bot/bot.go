// Package bot turns chat messages and button clicks into registry operations
// and answers through a Messenger.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"shiftbot/internal/action"
	"shiftbot/internal/messenger"
	"shiftbot/internal/metrics"
	"shiftbot/internal/registry"
	"shiftbot/internal/repo"
)

type Bot struct {
	Registry  *registry.Registry
	Messenger messenger.Messenger
	Logger    zerolog.Logger
	// Approvers are offered when a request needs approval; admins are used
	// when empty.
	Approvers []string
}

// Mention is a user tagged in a message. Key is the placeholder that appears
// in the text, e.g. @_user_1.
type Mention struct {
	Key  string
	Name string
	ID   string
}

// Inbound is a received chat message.
type Inbound struct {
	SenderID    string
	MessageID   string
	ChatID      string
	ChatType    string
	MessageType string
	Text        string
	Mentions    []Mention
}

// ActionEvent is a button click.
type ActionEvent struct {
	OperatorID string
	Value      string
	MessageID  string
}

// notify sends msg to a user. Delivery is best effort: the messenger already
// retried, so failures are logged, counted and dropped.
func (b *Bot) notify(ctx context.Context, to string, msg messenger.Message) {
	if to == "" {
		return
	}
	start := time.Now()
	err := b.Messenger.Send(ctx, to, msg)
	metrics.RecordMessage(err == nil, time.Since(start))
	if err != nil {
		b.Logger.Warn().Err(err).Str("to", to).Msg("send failed")
	}
}

// reply answers an inbound message, falling back to a direct message when
// there is nothing to thread under.
func (b *Bot) reply(ctx context.Context, in Inbound, msg messenger.Message) {
	if in.MessageID == "" {
		b.notify(ctx, in.SenderID, msg)
		return
	}
	start := time.Now()
	err := b.Messenger.Reply(ctx, in.MessageID, msg)
	metrics.RecordMessage(err == nil, time.Since(start))
	if err != nil {
		b.Logger.Warn().Err(err).Str("message_id", in.MessageID).Msg("reply failed")
	}
}

// describe renders an operation error as a user-facing sentence. Unexpected
// errors are logged and hidden.
func (b *Bot) describe(err error) string {
	var te registry.TransitionError
	var fe registry.ForbiddenError
	switch {
	case errors.As(err, &te):
		return fmt.Sprintf("Нельзя: %s #%d сейчас в статусе «%s».", entityName(te.Kind), te.ID, statusName(te.From))
	case errors.As(err, &fe):
		return textDenied
	case errors.Is(err, repo.ErrNotFound):
		return "Не найдено: " + strings.TrimSuffix(err.Error(), ": "+repo.ErrNotFound.Error()) + "."
	case errors.Is(err, registry.ErrInvalid), errors.Is(err, action.ErrMalformed):
		return "Ошибка: " + strings.TrimPrefix(strings.TrimPrefix(err.Error(), registry.ErrInvalid.Error()+": "), action.ErrMalformed.Error()+": ")
	}
	b.Logger.Error().Err(err).Msg("operation failed")
	return textInternal
}

func entityName(kind string) string {
	switch kind {
	case "request":
		return "заявка"
	case "task":
		return "задача"
	case "approval":
		return "согласование"
	}
	return kind
}

func statusName(status string) string {
	switch status {
	case "pending":
		return "ожидает"
	case "in_progress":
		return "в работе"
	case "completed":
		return "завершена"
	case "assigned":
		return "назначена"
	case "done":
		return "выполнена"
	case "approved":
		return textNoticeApproved
	case "rejected":
		return textNoticeRejected
	}
	return status
}

// FireReminders claims due reminders and notifies their owners. It returns
// how many fired.
func (b *Bot) FireReminders(ctx context.Context) (int, error) {
	due, err := b.Registry.ClaimDueReminders(ctx)
	if err != nil {
		return 0, err
	}
	metrics.RecordRemindersFired(len(due))
	for _, rem := range due {
		b.notify(ctx, rem.OwnerID, messenger.Text("⏰ Напоминание: "+rem.Text))
	}
	return len(due), nil
}

// Rotate runs the weekly roster rotation check.
func (b *Bot) Rotate(ctx context.Context) error {
	rotated, err := b.Registry.MaybeRotate(ctx)
	if err != nil {
		return err
	}
	if rotated {
		metrics.RecordRotation()
		b.Logger.Info().Msg("roster rotated")
	}
	return nil
}
