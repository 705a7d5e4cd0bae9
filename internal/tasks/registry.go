// Package tasks implements the handlers behind every task name and the
// registry that dispatches claimed jobs to them. Handlers are idempotent:
// a retried job replays its writes against conflict-aware upserts.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/scheduler"
)

// Handler processes one claimed job. A returned error wrapped with
// scheduler.Permanent exhausts the job immediately; any other error
// consumes one attempt.
type Handler func(ctx context.Context, job *scheduler.Job) error

// Registry maps task names to handlers.
type Registry struct {
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{handlers: map[string]Handler{}, logger: logger}
}

// Register binds a handler to a task name. An empty name or a duplicate
// registration is a wiring bug and panics at startup.
func (r *Registry) Register(name string, handler Handler) {
	if name == "" {
		panic("tasks: handler registered with empty name")
	}
	if _, dup := r.handlers[name]; dup {
		panic(fmt.Sprintf("tasks: duplicate handler for %q", name))
	}
	r.handlers[name] = handler
}

// Names lists the registered task names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Known reports whether a task name has a handler.
func (r *Registry) Known(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Dispatch routes a claimed job to its handler. A job naming an
// unregistered task is permanently failed: retrying cannot make a handler
// appear.
func (r *Registry) Dispatch(ctx context.Context, job *scheduler.Job) error {
	handler, ok := r.handlers[job.Name]
	if !ok {
		return scheduler.Permanent(fmt.Errorf("no handler registered for task %q", job.Name))
	}
	return handler(ctx, job)
}

// decodePayload unmarshals a job payload. A payload that cannot decode is
// permanent: the bytes will not change between attempts.
func decodePayload(job *scheduler.Job, out any) error {
	if err := json.Unmarshal(job.Payload, out); err != nil {
		return scheduler.Permanent(fmt.Errorf("decode %s payload: %w", job.Name, err))
	}
	return nil
}
