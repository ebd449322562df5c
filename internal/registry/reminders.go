package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"shiftbot/internal/domain"
	"shiftbot/internal/events"
)

// CreateReminder schedules text for the next occurrence of hour:minute in the
// schedule timezone. A clock time that already passed today fires tomorrow.
func (r *Registry) CreateReminder(ctx context.Context, ownerID, text string, hour, minute int) (domain.Reminder, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return domain.Reminder{}, fmt.Errorf("%w: time must be HH:MM", ErrInvalid)
	}
	now := r.now().In(r.Schedule.Location())
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	return r.CreateReminderAt(ctx, ownerID, text, at)
}

// CreateReminderAt schedules text at the given instant, moved forward by whole
// days until it lies in the future.
func (r *Registry) CreateReminderAt(ctx context.Context, ownerID, text string, at time.Time) (domain.Reminder, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Reminder{}, fmt.Errorf("%w: reminder text is required", ErrInvalid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	rem := domain.Reminder{
		OwnerID:   ownerID,
		Text:      text,
		FireAt:    at.UTC().Format(time.RFC3339),
		CreatedAt: now.UTC().Format(time.RFC3339),
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		id, err := r.Repo.InsertReminder(ctx, tx, rem)
		if err != nil {
			return err
		}
		rem.ID = id
		return r.Events.Append(ctx, tx, "reminder.created", domain.EntityReminder, id, ownerID, events.Payload{"fire_at": rem.FireAt})
	})
	if err != nil {
		return domain.Reminder{}, err
	}
	return rem, nil
}

// ClaimDueReminders marks every unsent reminder due at now as sent and returns
// them. A reminder is claimed at most once.
func (r *Registry) ClaimDueReminders(ctx context.Context) ([]domain.Reminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []domain.Reminder
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		due, err = r.Repo.DueRemindersTx(ctx, tx, r.stamp())
		if err != nil {
			return err
		}
		for i := range due {
			if err := r.Repo.MarkReminderSent(ctx, tx, due[i].ID); err != nil {
				return fmt.Errorf("reminder %d: %w", due[i].ID, err)
			}
			due[i].Sent = true
			if err := r.Events.Append(ctx, tx, "reminder.fired", domain.EntityReminder, due[i].ID, "", nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

func (r *Registry) ListReminders(ctx context.Context, ownerID string, includeSent bool) ([]domain.Reminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Repo.ListReminders(ctx, ownerID, includeSent)
}
