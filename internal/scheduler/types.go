// Package scheduler defines the core job model and the interfaces shared by
// the job store, the worker pool, and the task handlers. Keeping the types
// here decouples the rest of the application from any one store backend.
package scheduler

import (
	"context"
	"encoding/json"
	"time"
)

// JobState is the lifecycle state of a queued job.
type JobState string

const (
	// StatePending means the job is waiting to be claimed.
	StatePending JobState = "pending"
	// StateRunning means a worker has claimed the job.
	StateRunning JobState = "running"
	// StateSucceeded is terminal: the handler completed.
	StateSucceeded JobState = "succeeded"
	// StateFailed labels a retryable failure transition. The store never
	// persists it; a failed job goes back to pending until its attempts
	// are spent.
	StateFailed JobState = "failed"
	// StateExhausted is terminal: the retry budget is spent or the
	// failure was permanent. Exhausted jobs are the durable record of
	// failure and are never claimed again.
	StateExhausted JobState = "exhausted"
)

// Terminal reports whether a state permits no further transitions.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted
}

// Job is a unit of background work persisted in the job store.
type Job struct {
	ID           string
	Name         string
	Payload      json.RawMessage
	DedupKey     string
	QueueName    string
	Priority     int
	MaxAttempts  int
	AttemptCount int
	State        JobState
	ScheduledAt  time.Time
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EnqueueOptions control placement of a new job.
type EnqueueOptions struct {
	// DedupKey, when set, guarantees at most one pending-or-running job
	// per (name, dedup key) pair. A colliding enqueue is a silent no-op.
	DedupKey string
	// Priority orders claims; lower values run first.
	Priority int
	// MaxAttempts bounds retries. Zero falls back to DefaultMaxAttempts.
	MaxAttempts int
	// QueueName optionally partitions workers.
	QueueName string
	// NotBefore delays the first claim. Zero means immediately eligible.
	NotBefore time.Time
}

// Store is the durable job queue. All coordination between workers happens
// through the store's atomic operations; there is no in-process locking.
type Store interface {
	// Enqueue inserts a job unless a pending/running job with the same
	// (name, dedup key) exists, in which case it is a no-op. Callers must
	// not assume the call created work.
	Enqueue(ctx context.Context, name string, payload any, opts EnqueueOptions) error

	// ClaimNext atomically claims the highest-priority due pending job,
	// transitions it to running and returns it. It returns (nil, nil)
	// when nothing is due. queue restricts the claim to one partition;
	// empty claims from any queue.
	ClaimNext(ctx context.Context, queue string) (*Job, error)

	// Complete marks a running job succeeded.
	Complete(ctx context.Context, job *Job) error

	// Fail records a failed attempt: the job goes back to pending with a
	// backoff delay, or to exhausted once its attempts are spent or the
	// error is permanent.
	Fail(ctx context.Context, job *Job, jobErr error) error

	// MarkExhausted forces a job into the exhausted state regardless of
	// remaining attempts. Used by operators to cancel work.
	MarkExhausted(ctx context.Context, jobID, reason string) error

	// Get fetches a job by ID.
	Get(ctx context.Context, jobID string) (*Job, error)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
