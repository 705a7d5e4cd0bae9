// Package sweep enqueues the periodic reconciliation job on a cron
// schedule. The dedup key guarantees at most one pending-or-running sweep
// regardless of how many scheduler processes run the cron.
package sweep

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/scheduler"
)

// DefaultSchedule runs the sweep every ten minutes.
const DefaultSchedule = "*/10 * * * *"

// Service owns the cron entry that seeds sweep jobs.
type Service struct {
	jobs     scheduler.Store
	logger   *zap.Logger
	schedule string
	cron     *cron.Cron
}

// New constructs a Service; an empty schedule takes the default.
func New(jobs scheduler.Store, logger *zap.Logger, schedule string) *Service {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Service{
		jobs:     jobs,
		logger:   logger,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start registers the cron entry and begins ticking.
func (s *Service) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.EnqueueSweep(ctx); err != nil {
			s.logger.Error("sweep enqueue failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("register sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("sweep schedule registered", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the cron and waits for a running trigger to finish.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// EnqueueSweep seeds one sweep job. Colliding with an in-flight sweep is
// a silent no-op.
func (s *Service) EnqueueSweep(ctx context.Context) error {
	return s.jobs.Enqueue(ctx, scheduler.TaskSweep, struct{}{}, scheduler.EnqueueOptions{
		DedupKey: scheduler.DedupKey(scheduler.TaskSweep, "singleton"),
		Priority: scheduler.PriorityDomainAnalysis,
	})
}
