package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

// SweepScheduler enqueues one inbox.sweep job per mailbox on every tick.
// Overlapping sweeps are harmless: the sweep itself takes the mailbox lock.
type SweepScheduler struct {
	queue    out.TaskQueue
	profiles []domain.MailboxProfile
	interval time.Duration
	log      zerolog.Logger
}

func NewSweepScheduler(queue out.TaskQueue, profiles []domain.MailboxProfile, interval time.Duration, log zerolog.Logger) *SweepScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SweepScheduler{
		queue:    queue,
		profiles: profiles,
		interval: interval,
		log:      log.With().Str("component", "sweep_scheduler").Logger(),
	}
}

// Run enqueues immediately, then on every tick until ctx is done.
func (s *SweepScheduler) Run(ctx context.Context) {
	if len(s.profiles) == 0 {
		s.log.Info().Msg("no mailbox profiles, scheduler idle")
		return
	}

	s.EnqueueAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EnqueueAll(ctx)
		}
	}
}

// EnqueueAll publishes one sweep per profile and returns how many were queued.
func (s *SweepScheduler) EnqueueAll(ctx context.Context) int {
	queued := 0
	for _, p := range s.profiles {
		err := s.queue.PublishInboxSweep(ctx, &out.InboxSweepJob{
			Mailbox:    p.Name,
			UserID:     p.UserID,
			Provider:   p.Provider,
			Query:      p.Query,
			MaxMessage: p.MaxMessages,
			QueuedAt:   time.Now().UTC(),
		})
		if err != nil {
			s.log.Error().Err(err).Str("mailbox", p.Name).Msg("failed to enqueue sweep")
			continue
		}
		queued++
	}
	s.log.Debug().Int("queued", queued).Msg("sweeps enqueued")
	return queued
}
