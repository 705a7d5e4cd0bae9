// Package worker runs the claim-dispatch-settle loop against the job
// store. Workers coordinate purely through the store's atomic claim; a
// pool can run in many processes against the same database.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/metrics"
	"github.com/senka-social/scheduler/internal/scheduler"
)

// Dispatcher routes a claimed job to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *scheduler.Job) error
}

// Config tunes the pool; zero values take defaults.
type Config struct {
	// Workers is the number of concurrent claim loops.
	Workers int
	// Queue restricts claims to one partition; empty claims from any.
	Queue string
	// PollInterval is the idle sleep when no job is due.
	PollInterval time.Duration
	// JobTimeout bounds a single handler invocation.
	JobTimeout time.Duration
}

// Pool drives a set of workers over one job store.
type Pool struct {
	store      scheduler.Store
	dispatcher Dispatcher
	logger     *zap.Logger
	cfg        Config
}

// New constructs a Pool.
func New(store scheduler.Store, dispatcher Dispatcher, logger *zap.Logger, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return &Pool{store: store, dispatcher: dispatcher, logger: logger, cfg: cfg}
}

// Run blocks until ctx is canceled, then waits for in-flight jobs to
// settle before returning.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting",
		zap.Int("workers", p.cfg.Workers),
		zap.String("queue", p.cfg.Queue),
	)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	p.logger.Info("worker pool stopped")
	return nil
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	logger := p.logger.With(zap.Int("worker", workerID))
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.store.ClaimNext(ctx, p.cfg.Queue)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim failed", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			p.sleep(ctx)
			continue
		}
		p.execute(ctx, logger, job)
	}
}

// execute runs one claimed job and settles its outcome. The settle calls
// use a background-derived context so a canceled pool still records the
// final state.
func (p *Pool) execute(ctx context.Context, logger *zap.Logger, job *scheduler.Job) {
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()

	logger.Info("job started",
		zap.String("job_id", job.ID),
		zap.String("task", job.Name),
		zap.Int("attempt", job.AttemptCount+1),
	)

	start := time.Now()
	jobErr := p.dispatch(ctx, job)
	elapsed := time.Since(start)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if jobErr == nil {
		if err := p.store.Complete(settleCtx, job); err != nil {
			logger.Error("complete failed", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		metrics.ObserveJob(job.Name, string(scheduler.StateSucceeded), elapsed)
		logger.Info("job succeeded",
			zap.String("job_id", job.ID),
			zap.String("task", job.Name),
			zap.Duration("elapsed", elapsed),
		)
		return
	}

	if err := p.store.Fail(settleCtx, job, jobErr); err != nil {
		logger.Error("fail transition failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	metrics.ObserveJob(job.Name, string(job.State), elapsed)
	logger.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.String("task", job.Name),
		zap.String("state", string(job.State)),
		zap.Int("attempt", job.AttemptCount),
		zap.Duration("elapsed", elapsed),
		zap.Error(jobErr),
	)
}

// dispatch invokes the handler under the job timeout, converting a panic
// into an ordinary failure so one bad payload cannot take down the pool.
func (p *Pool) dispatch(ctx context.Context, job *scheduler.Job) (err error) {
	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return p.dispatcher.Dispatch(jobCtx, job)
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.PollInterval):
	}
}
