package scheduler

import "time"

// Task names. The registry rejects enqueues and dispatches for anything
// outside this set.
const (
	TaskStoreActorProfile = "store-actor-profile"
	TaskStorePosts        = "store-posts"
	TaskAnalyzeDomain     = "analyze-domain"
	TaskAnalyzePost       = "analyze-posts"
	TaskSweep             = "check-inactive-resources"
)

// Queue partitions.
const (
	QueueAnalyzePosts = "analyze-posts"
)

// Priorities; lower runs first. Ingestion-triggered post analysis must win
// ties against sweep-triggered analysis, hence the distinct values.
const (
	PriorityIngest            = 0
	PriorityDomainAnalysis    = 5
	PriorityPostAnalysis      = 8
	PrioritySweepPostAnalysis = 9
	PriorityProfileSync       = 20
)

// DefaultMaxAttempts is the retry budget applied when an enqueue does not
// specify one.
const DefaultMaxAttempts = 5

// DefaultFreshnessTTL is the re-analysis window for domains and posts.
const DefaultFreshnessTTL = 7 * 24 * time.Hour

// DedupKey builds the canonical dedup key for a task acting on one resource.
func DedupKey(task, id string) string {
	return task + ":" + id
}
