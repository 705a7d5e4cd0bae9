// Package postgres implements the durable job store on PostgreSQL. The
// database is the only arbiter of ordering: dedup is a partial unique
// index, claims are single-statement conditional updates, and no
// in-process locks exist anywhere.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/scheduler"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool behind the job store.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store is the pgx-backed scheduler.Store.
type Store struct {
	pool    querier
	clock   scheduler.Clock
	idGen   scheduler.IDGenerator
	backoff scheduler.Backoff
	logger  *zap.Logger
}

// New connects a Store using the provided config.
func New(
	ctx context.Context,
	cfg Config,
	clock scheduler.Clock,
	idGen scheduler.IDGenerator,
	logger *zap.Logger,
) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, clock, idGen, logger)
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(
	pool querier,
	clock scheduler.Clock,
	idGen scheduler.IDGenerator,
	logger *zap.Logger,
) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if idGen == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool:    pool,
		clock:   clock,
		idGen:   idGen,
		backoff: scheduler.DefaultBackoff(),
		logger:  logger,
	}, nil
}

// Ping verifies the database is reachable. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("ping job store: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the jobs table and its indexes if missing. The
// partial unique index is what enforces the at-most-one-in-flight
// guarantee per (name, dedup_key).
func (s *Store) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}',
	dedup_key TEXT,
	queue_name TEXT,
	priority INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL DEFAULT 5,
	attempt_count INT NOT NULL DEFAULT 0,
	state TEXT NOT NULL DEFAULT 'pending',
	scheduled_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS jobs_dedup_inflight_udx
	ON jobs (name, dedup_key)
	WHERE dedup_key IS NOT NULL AND state IN ('pending', 'running');
CREATE INDEX IF NOT EXISTS jobs_claim_idx
	ON jobs (state, queue_name, priority, scheduled_at);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

// Enqueue inserts a job, silently ignoring dedup collisions.
func (s *Store) Enqueue(
	ctx context.Context,
	name string,
	payload any,
	opts scheduler.EnqueueOptions,
) error {
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

	const query = `
INSERT INTO jobs (
	id, name, payload, dedup_key, queue_name, priority,
	max_attempts, state, scheduled_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',$8,$9,$9)
ON CONFLICT DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		id,
		name,
		body,
		nullable(opts.DedupKey),
		nullable(opts.QueueName),
		opts.Priority,
		maxAttempts,
		notBefore,
		now,
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("enqueue deduplicated",
			zap.String("name", name),
			zap.String("dedup_key", opts.DedupKey),
		)
	}
	return nil
}

const jobColumns = `id, name, payload, dedup_key, queue_name, priority,
	max_attempts, attempt_count, state, scheduled_at, last_error, created_at, updated_at`

// ClaimNext atomically claims the next due pending job. The inner SELECT
// uses FOR UPDATE SKIP LOCKED so concurrent claimers never block on, or
// receive, the same row.
func (s *Store) ClaimNext(ctx context.Context, queue string) (*scheduler.Job, error) {
	query := fmt.Sprintf(`
UPDATE jobs SET state = 'running', updated_at = $1
WHERE id = (
	SELECT id FROM jobs
	WHERE state = 'pending' AND scheduled_at <= $1
		AND ($2::text IS NULL OR queue_name = $2)
	ORDER BY priority ASC, scheduled_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING %s`, jobColumns)

	row := s.pool.QueryRow(ctx, query, s.clock.Now(), nullable(queue))
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

// Complete marks a running job succeeded.
func (s *Store) Complete(ctx context.Context, job *scheduler.Job) error {
	const query = `
UPDATE jobs SET state = 'succeeded', updated_at = $2
WHERE id = $1 AND state = 'running'`

	tag, err := s.pool.Exec(ctx, query, job.ID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete job %s: job is not running", job.ID)
	}
	job.State = scheduler.StateSucceeded
	return nil
}

// Fail records a failed attempt in one statement: the job either returns to
// pending with a backoff delay or, when the budget is spent or the error is
// permanent, becomes exhausted.
func (s *Store) Fail(ctx context.Context, job *scheduler.Job, jobErr error) error {
	if jobErr == nil {
		return fmt.Errorf("fail job %s: nil error", job.ID)
	}
	permanent := scheduler.IsPermanent(jobErr)
	now := s.clock.Now()
	nextRun := now.Add(s.backoff.Delay(job.AttemptCount + 1))

	const query = `
UPDATE jobs SET
	attempt_count = attempt_count + 1,
	state = CASE WHEN $2::bool OR attempt_count + 1 >= max_attempts
		THEN 'exhausted' ELSE 'pending' END,
	scheduled_at = CASE WHEN $2::bool OR attempt_count + 1 >= max_attempts
		THEN scheduled_at ELSE $3 END,
	last_error = $4,
	updated_at = $5
WHERE id = $1 AND state = 'running'
RETURNING state, attempt_count`

	var (
		state    string
		attempts int
	)
	err := s.pool.QueryRow(ctx, query, job.ID, permanent, nextRun, jobErr.Error(), now).
		Scan(&state, &attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("fail job %s: job is not running", job.ID)
	}
	if err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	job.State = scheduler.JobState(state)
	job.AttemptCount = attempts
	job.LastError = jobErr.Error()

	// Every fail transition is logged; exhausted jobs are the operator's
	// durable record of permanent failure.
	s.logger.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.String("name", job.Name),
		zap.Int("attempt", attempts),
		zap.Int("max_attempts", job.MaxAttempts),
		zap.String("state", state),
		zap.Bool("permanent", permanent),
		zap.Error(jobErr),
	)
	return nil
}

// MarkExhausted forces a non-terminal job into the exhausted state. This is
// the cancellation primitive: the job is simply never claimed again.
func (s *Store) MarkExhausted(ctx context.Context, jobID, reason string) error {
	const query = `
UPDATE jobs SET state = 'exhausted', last_error = $2, updated_at = $3
WHERE id = $1 AND state NOT IN ('succeeded', 'exhausted')`

	tag, err := s.pool.Exec(ctx, query, jobID, reason, s.clock.Now())
	if err != nil {
		return fmt.Errorf("exhaust job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("exhaust job %s: job not found or already terminal", jobID)
	}
	return nil
}

// Get fetches a job by ID.
func (s *Store) Get(ctx context.Context, jobID string) (*scheduler.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (*scheduler.Job, error) {
	var (
		job       scheduler.Job
		payload   []byte
		dedupKey  *string
		queueName *string
		state     string
	)
	err := row.Scan(
		&job.ID,
		&job.Name,
		&payload,
		&dedupKey,
		&queueName,
		&job.Priority,
		&job.MaxAttempts,
		&job.AttemptCount,
		&state,
		&job.ScheduledAt,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Payload = json.RawMessage(payload)
	job.State = scheduler.JobState(state)
	if dedupKey != nil {
		job.DedupKey = *dedupKey
	}
	if queueName != nil {
		job.QueueName = *queueName
	}
	return &job, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
