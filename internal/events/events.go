// Package events publishes ingestion lifecycle events for downstream
// consumers (feed rankers, notification fan-out). Publishing is best
// effort: a failed publish is logged, never retried, and never fails the
// job that produced it.
package events

import (
	"context"
	"time"
)

// Event names.
const (
	PostIngested   = "post.ingested"
	ProfileSynced  = "profile.synced"
	DomainAnalyzed = "domain.analysis-requested"
)

// Event is one lifecycle notification.
type Event struct {
	Name       string    `json:"name"`
	ResourceID string    `json:"resource_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits events to an external bus.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
