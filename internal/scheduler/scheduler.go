package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tillsync/internal/events"
	"tillsync/internal/worker"

	"github.com/rs/zerolog"
)

// SyncRunner executes one sync pass.
type SyncRunner interface {
	RunPass(ctx context.Context) error
}

// Scheduler decides when passes run: on a fixed interval, immediately
// after connectivity comes back, and on manual request. It never runs
// passes itself in parallel; coalescing lives in the runner.
type Scheduler struct {
	runner   SyncRunner
	interval time.Duration
	logger   zerolog.Logger
	kick     chan struct{}
}

func NewScheduler(runner SyncRunner, bus *events.EventBus, interval time.Duration, logger *zerolog.Logger) *Scheduler {
	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "scheduler").Logger()
	}

	s := &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   l,
		kick:     make(chan struct{}, 1),
	}

	if bus != nil {
		// Возврат связи запускает проход сразу, не дожидаясь тика
		bus.Subscribe(events.EventConnectivityChanged, func(ev *events.Event) error {
			var payload events.ConnectivityEventPayload
			if err := json.Unmarshal(ev.Payload, &payload); err == nil && payload.Online {
				s.Kick()
			}
			return nil
		})
	}

	return s
}

// Kick requests a pass outside the regular schedule. Non-blocking; a
// pending kick is enough, extra ones collapse into it.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Start runs the scheduling loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("sync scheduler started")
	defer s.logger.Info().Msg("sync scheduler stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.kick:
			s.runOnce(ctx)
		}
	}
}

// TriggerSync runs a pass right now. When a pass is already in flight
// the caller waits for it and gets its outcome.
func (s *Scheduler) TriggerSync(ctx context.Context) error {
	return s.runner.RunPass(ctx)
}

func (s *Scheduler) runOnce(ctx context.Context) {
	err := s.runner.RunPass(ctx)
	if err == nil || errors.Is(err, worker.ErrOffline) || errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Error().Err(err).Msg("scheduled sync pass failed")
}
