// Package reminder periodically notifies both parties of confirmed
// reservations whose appointment is coming up.
package reminder

import (
	"context"
	"errors"
	"log"
	"time"

	"inkediin-backend/config"
	"inkediin-backend/internal/apperr"
	"inkediin-backend/internal/clock"
	"inkediin-backend/internal/model"
)

// Source lists confirmed reservations due for a reminder.
type Source interface {
	DueReminders(ctx context.Context, from, to time.Time) ([]model.Reservation, error)
}

// Recorder stores that a reminder went out and notifies the parties.
type Recorder interface {
	RecordReminder(ctx context.Context, r *model.Reservation) (*model.Reservation, error)
}

// Service runs the reminder sweep.
type Service struct {
	cfg      config.ReminderConfig
	source   Source
	recorder Recorder
	clock    clock.Clock
}

// NewService creates a reminder sweep. Writes go through recorder so the
// transition engine stays the only writer of reservations.
func NewService(cfg config.ReminderConfig, source Source, recorder Recorder, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Service{cfg: cfg, source: source, recorder: recorder, clock: clk}
}

// Run sweeps immediately and then once per interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("Reminder sweep is disabled. Not starting.")
		return
	}
	log.Printf("Starting reminder sweep every %s with a %s lead...", s.cfg.Interval, s.cfg.Lead)

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reminder sweep shutting down.")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SweepOnce reminds every reservation whose appointment falls within the lead
// window and returns how many were recorded. A reservation that changed since
// it was listed is skipped and picked up by a later sweep if still due.
func (s *Service) SweepOnce(ctx context.Context) int {
	now := s.clock.Now()
	due, err := s.source.DueReminders(ctx, now, now.Add(s.cfg.Lead))
	if err != nil {
		log.Printf("Error listing due reminders: %v", err)
		return 0
	}

	sent := 0
	for i := range due {
		if _, err := s.recorder.RecordReminder(ctx, &due[i]); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				log.Printf("Reservation %s changed during the sweep, skipping", due[i].ID)
			} else {
				log.Printf("Error recording reminder for reservation %s: %v", due[i].ID, err)
			}
			continue
		}
		sent++
	}
	if sent > 0 {
		log.Printf("Sent %d appointment reminders", sent)
	}
	return sent
}
