package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/bsky"
	"github.com/senka-social/scheduler/internal/events"
	"github.com/senka-social/scheduler/internal/ingest"
	"github.com/senka-social/scheduler/internal/scheduler"
	"github.com/senka-social/scheduler/internal/store"
)

// Task payloads. Every payload is a single-resource reference; the dedup
// key is derived from the same identifier.
type (
	// StorePostsPayload names the actor whose feed to ingest.
	StorePostsPayload struct {
		Actor string `json:"actor"`
	}

	// StoreActorProfilePayload names the actor whose profile to sync.
	StoreActorProfilePayload struct {
		Actor string `json:"actor"`
	}

	// AnalyzeDomainPayload names the hostname to analyze.
	AnalyzeDomainPayload struct {
		URL string `json:"url"`
	}

	// AnalyzePostPayload names the post to analyze.
	AnalyzePostPayload struct {
		ID string `json:"id"`
	}
)

// ContentReader is the store surface the handlers read from and mark
// freshness on.
type ContentReader interface {
	GetPost(ctx context.Context, id string) (*store.Post, error)
	GetDomain(ctx context.Context, host string) (*store.Domain, error)
	UpsertDomain(ctx context.Context, host string) (bool, error)
	UpsertUserProfile(ctx context.Context, user store.User) error
	MarkUserParsed(ctx context.Context, did string, t time.Time) error
	UnparsedUsers(ctx context.Context, limit int) ([]store.User, error)
	UncheckedDomains(ctx context.Context, limit int) ([]store.Domain, error)
	UnanalyzedPosts(ctx context.Context, limit int) ([]store.Post, error)
}

// PostFetcher ingests an actor's feed and reports every post together
// with whether its row was new.
type PostFetcher interface {
	FetchAndStorePosts(ctx context.Context, actor string) ([]ingest.IngestedPost, error)
}

// EmbedExtractor decomposes a post's embeds and returns the hosts touched.
type EmbedExtractor interface {
	ExtractEmbeds(ctx context.Context, post bsky.Post) ([]string, error)
}

// ProfileSource fetches actor profiles from the provider.
type ProfileSource interface {
	GetProfile(ctx context.Context, actor string) (*bsky.Profile, error)
}

// Analyzer dispatches scoring requests to the models service.
type Analyzer interface {
	AnalyzeDomain(ctx context.Context, host string) error
	AnalyzePost(ctx context.Context, postID string) error
}

// Handlers carries the dependencies shared by every task handler.
type Handlers struct {
	jobs      scheduler.Store
	content   ContentReader
	fetcher   PostFetcher
	extractor EmbedExtractor
	profiles  ProfileSource
	analyzer  Analyzer
	publisher events.Publisher
	clock     scheduler.Clock
	logger    *zap.Logger

	// freshnessTTL gates re-analysis of domains and posts.
	freshnessTTL time.Duration
	sweepBatches SweepBatches
}

// HandlersConfig tunes handler behavior; zero values take defaults.
type HandlersConfig struct {
	FreshnessTTL time.Duration
	SweepBatches SweepBatches
}

// SweepBatches bounds how many stale resources one sweep re-seeds per kind.
type SweepBatches struct {
	Users   int
	Domains int
	Posts   int
}

// NewHandlers wires the task handlers.
func NewHandlers(
	jobs scheduler.Store,
	content ContentReader,
	fetcher PostFetcher,
	extractor EmbedExtractor,
	profiles ProfileSource,
	analyzer Analyzer,
	publisher events.Publisher,
	clock scheduler.Clock,
	logger *zap.Logger,
	cfg HandlersConfig,
) *Handlers {
	if cfg.FreshnessTTL <= 0 {
		cfg.FreshnessTTL = scheduler.DefaultFreshnessTTL
	}
	if cfg.SweepBatches.Users <= 0 {
		cfg.SweepBatches.Users = 20
	}
	if cfg.SweepBatches.Domains <= 0 {
		cfg.SweepBatches.Domains = 10
	}
	if cfg.SweepBatches.Posts <= 0 {
		cfg.SweepBatches.Posts = 10
	}
	return &Handlers{
		jobs:         jobs,
		content:      content,
		fetcher:      fetcher,
		extractor:    extractor,
		profiles:     profiles,
		analyzer:     analyzer,
		publisher:    publisher,
		clock:        clock,
		logger:       logger,
		freshnessTTL: cfg.FreshnessTTL,
		sweepBatches: cfg.SweepBatches,
	}
}

// RegisterAll binds every task handler into the registry.
func (h *Handlers) RegisterAll(reg *Registry) {
	reg.Register(scheduler.TaskStoreActorProfile, h.StoreActorProfile)
	reg.Register(scheduler.TaskStorePosts, h.StorePosts)
	reg.Register(scheduler.TaskAnalyzeDomain, h.AnalyzeDomain)
	reg.Register(scheduler.TaskAnalyzePost, h.AnalyzePost)
	reg.Register(scheduler.TaskSweep, h.Sweep)
}

// publish emits a lifecycle event; failures are logged, never propagated.
func (h *Handlers) publish(ctx context.Context, name, resourceID string) {
	if h.publisher == nil {
		return
	}
	err := h.publisher.Publish(ctx, events.Event{
		Name:       name,
		ResourceID: resourceID,
		OccurredAt: h.clock.Now(),
	})
	if err != nil {
		h.logger.Warn("event publish failed",
			zap.String("event", name),
			zap.String("resource", resourceID),
			zap.Error(err),
		)
	}
}
