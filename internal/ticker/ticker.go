// Package ticker drives the periodic roster rotation check and reminder scan.
package ticker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Jobs is the work done on every tick.
type Jobs interface {
	Rotate(ctx context.Context) error
	FireReminders(ctx context.Context) (int, error)
}

type Ticker struct {
	Jobs     Jobs
	Interval time.Duration
	Logger   zerolog.Logger
}

// Run ticks until ctx is done. The first tick runs immediately so reminders
// that came due while the process was down fire on start.
func (t *Ticker) Run(ctx context.Context) error {
	interval := t.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		t.Tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
		}
	}
}

// Tick runs the rotation check, then the reminder scan. A failing rotation
// does not hold reminders back.
func (t *Ticker) Tick(ctx context.Context) {
	if err := t.Jobs.Rotate(ctx); err != nil {
		t.Logger.Error().Err(err).Msg("rotation check failed")
	}
	n, err := t.Jobs.FireReminders(ctx)
	if err != nil {
		t.Logger.Error().Err(err).Msg("reminder scan failed")
		return
	}
	if n > 0 {
		t.Logger.Info().Int("fired", n).Msg("reminders fired")
	}
}
