// Package scheduler runs the periodic consultation housekeeping: expiring
// unanswered requests, sending start reminders and pruning presence.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Consultations is the part of the consultation service the worker drives.
type Consultations interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
	SendReminders(ctx context.Context, now time.Time, lead time.Duration) (int, error)
}

// Sweeper drops expired presence entries. Redis expires keys itself, so
// only the in-memory store needs one.
type Sweeper interface {
	Sweep() int
}

type Worker struct {
	consultations Consultations
	sweeper       Sweeper
	interval      time.Duration
	lead          time.Duration
	log           zerolog.Logger
	now           func() time.Time
}

// NewWorker builds a worker. sweeper may be nil.
func NewWorker(consultations Consultations, sweeper Sweeper, interval, lead time.Duration, logger zerolog.Logger) *Worker {
	return &Worker{
		consultations: consultations,
		sweeper:       sweeper,
		interval:      interval,
		lead:          lead,
		log:           logger.With().Str("component", "scheduler").Logger(),
		now:           time.Now,
	}
}

// Run ticks once immediately and then every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Dur("reminder_lead", w.lead).Msg("scheduler started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs every job once. A failing job is logged and does not stop the
// others.
func (w *Worker) Tick(ctx context.Context) {
	now := w.now()

	if n, err := w.consultations.ExpireStale(ctx, now); err != nil {
		w.log.Error().Err(err).Msg("expire stale consultations")
	} else if n > 0 {
		w.log.Info().Int("count", n).Msg("expired stale consultations")
	}

	if n, err := w.consultations.SendReminders(ctx, now, w.lead); err != nil {
		w.log.Error().Err(err).Msg("send consultation reminders")
	} else if n > 0 {
		w.log.Info().Int("count", n).Msg("sent consultation reminders")
	}

	if w.sweeper != nil {
		if n := w.sweeper.Sweep(); n > 0 {
			w.log.Debug().Int("count", n).Msg("swept presence entries")
		}
	}
}
