package ratelimit

import (
	"chat-service/internal/logger"
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically drops idle window records from a Limiter
type Sweeper struct {
	limiter *Limiter
	cron    *cron.Cron
}

// NewSweeper schedules limiter.Sweep on the given cron spec (e.g. "@every 5m")
func NewSweeper(limiter *Limiter, schedule string) (*Sweeper, error) {
	c := cron.New()
	s := &Sweeper{limiter: limiter, cron: c}

	if _, err := c.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running the schedule in the background
func (s *Sweeper) Start() {
	s.cron.Start()
	logger.Log.Info("Rate limit sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	logger.Log.Info("Rate limit sweeper stopped")
}

func (s *Sweeper) run() {
	dropped := s.limiter.Sweep()
	if dropped > 0 {
		logger.Log.WithField("dropped", dropped).Debug("Swept idle rate limit windows")
	}
}
