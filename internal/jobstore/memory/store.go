// Package memory provides an in-memory job store for development and
// testing. It honors the same dedup, priority, and state-machine semantics
// as the Postgres store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/senka-social/scheduler/internal/scheduler"
)

// Store implements scheduler.Store with a mutex-guarded map.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*scheduler.Job
	clock   scheduler.Clock
	idGen   scheduler.IDGenerator
	backoff scheduler.Backoff
}

// New constructs a Store.
func New(clock scheduler.Clock, idGen scheduler.IDGenerator) *Store {
	return &Store{
		jobs:    make(map[string]*scheduler.Job),
		clock:   clock,
		idGen:   idGen,
		backoff: scheduler.DefaultBackoff(),
	}
}

// Enqueue inserts a job unless a pending/running job with the same
// (name, dedup key) exists.
func (s *Store) Enqueue(
	ctx context.Context,
	name string,
	payload any,
	opts scheduler.EnqueueOptions,
) error {
	_ = ctx
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", name, err)
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return fmt.Errorf("new job id: %w", err)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = scheduler.DefaultMaxAttempts
	}
	now := s.clock.Now()
	notBefore := opts.NotBefore
	if notBefore.IsZero() {
		notBefore = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.DedupKey != "" {
		for _, j := range s.jobs {
			if j.Name == name && j.DedupKey == opts.DedupKey && !j.State.Terminal() {
				return nil
			}
		}
	}

	s.jobs[id] = &scheduler.Job{
		ID:          id,
		Name:        name,
		Payload:     body,
		DedupKey:    opts.DedupKey,
		QueueName:   opts.QueueName,
		Priority:    opts.Priority,
		MaxAttempts: maxAttempts,
		State:       scheduler.StatePending,
		ScheduledAt: notBefore,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

// ClaimNext claims the highest-priority due pending job.
func (s *Store) ClaimNext(ctx context.Context, queue string) (*scheduler.Job, error) {
	_ = ctx
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*scheduler.Job
	for _, j := range s.jobs {
		if j.State != scheduler.StatePending {
			continue
		}
		if j.ScheduledAt.After(now) {
			continue
		}
		if queue != "" && j.QueueName != queue {
			continue
		}
		due = append(due, j)
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(a, b int) bool {
		if due[a].Priority != due[b].Priority {
			return due[a].Priority < due[b].Priority
		}
		return due[a].ScheduledAt.Before(due[b].ScheduledAt)
	})

	job := due[0]
	job.State = scheduler.StateRunning
	job.UpdatedAt = now
	copied := *job
	return &copied, nil
}

// Complete marks a running job succeeded.
func (s *Store) Complete(ctx context.Context, job *scheduler.Job) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok || stored.State != scheduler.StateRunning {
		return fmt.Errorf("complete job %s: job is not running", job.ID)
	}
	stored.State = scheduler.StateSucceeded
	stored.UpdatedAt = s.clock.Now()
	job.State = scheduler.StateSucceeded
	return nil
}

// Fail records a failed attempt, rescheduling or exhausting the job.
func (s *Store) Fail(ctx context.Context, job *scheduler.Job, jobErr error) error {
	_ = ctx
	if jobErr == nil {
		return fmt.Errorf("fail job %s: nil error", job.ID)
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[job.ID]
	if !ok || stored.State != scheduler.StateRunning {
		return fmt.Errorf("fail job %s: job is not running", job.ID)
	}
	stored.AttemptCount++
	stored.LastError = jobErr.Error()
	stored.UpdatedAt = now
	if scheduler.IsPermanent(jobErr) || stored.AttemptCount >= stored.MaxAttempts {
		stored.State = scheduler.StateExhausted
	} else {
		stored.State = scheduler.StatePending
		stored.ScheduledAt = now.Add(s.backoff.Delay(stored.AttemptCount))
	}

	job.State = stored.State
	job.AttemptCount = stored.AttemptCount
	job.LastError = stored.LastError
	return nil
}

// MarkExhausted forces a non-terminal job into the exhausted state.
func (s *Store) MarkExhausted(ctx context.Context, jobID, reason string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[jobID]
	if !ok || stored.State.Terminal() {
		return fmt.Errorf("exhaust job %s: job not found or already terminal", jobID)
	}
	stored.State = scheduler.StateExhausted
	stored.LastError = reason
	stored.UpdatedAt = s.clock.Now()
	return nil
}

// Get fetches a copy of a job by ID.
func (s *Store) Get(ctx context.Context, jobID string) (*scheduler.Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	copied := *stored
	return &copied, nil
}

// Snapshot returns all jobs ordered by creation time. Test helper.
func (s *Store) Snapshot() []scheduler.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]scheduler.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

// Advance shifts every scheduled_at back by d, making backoff-delayed jobs
// due without waiting. Test helper.
func (s *Store) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		j.ScheduledAt = j.ScheduledAt.Add(-d)
	}
}
