package tasks

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/metrics"
	"github.com/senka-social/scheduler/internal/scheduler"
)

// Sweep reconciles resources that slipped through ingestion fan-out: users
// never profile-synced, domains never analyzed, posts never analyzed. The
// three scans run concurrently and are failure-isolated; one failing scan
// never stops the others, and the combined error drives the retry.
func (h *Handlers) Sweep(ctx context.Context, _ *scheduler.Job) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	scan := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("sweep %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	scan("users", h.sweepUsers)
	scan("domains", h.sweepDomains)
	scan("posts", h.sweepPosts)
	wg.Wait()

	if errs != nil {
		h.logger.Warn("sweep finished with errors", zap.Error(errs))
	}
	return errs
}

func (h *Handlers) sweepUsers(ctx context.Context) error {
	users, err := h.content.UnparsedUsers(ctx, h.sweepBatches.Users)
	if err != nil {
		return err
	}
	for _, user := range users {
		if err := h.jobs.Enqueue(ctx, scheduler.TaskStoreActorProfile,
			StoreActorProfilePayload{Actor: user.DID},
			scheduler.EnqueueOptions{
				DedupKey: scheduler.DedupKey(scheduler.TaskStoreActorProfile, user.DID),
				Priority: scheduler.PriorityProfileSync,
			}); err != nil {
			return err
		}
		metrics.SweepEnqueued("user")
	}
	return nil
}

func (h *Handlers) sweepDomains(ctx context.Context) error {
	domains, err := h.content.UncheckedDomains(ctx, h.sweepBatches.Domains)
	if err != nil {
		return err
	}
	for _, domain := range domains {
		if err := h.jobs.Enqueue(ctx, scheduler.TaskAnalyzeDomain,
			AnalyzeDomainPayload{URL: domain.URL},
			scheduler.EnqueueOptions{
				DedupKey: scheduler.DedupKey(scheduler.TaskAnalyzeDomain, domain.URL),
				Priority: scheduler.PriorityDomainAnalysis,
			}); err != nil {
			return err
		}
		metrics.SweepEnqueued("domain")
	}
	return nil
}

// sweepPosts seeds post analysis at a lower priority than ingestion
// fan-out, so a backlog of sweep work never starves fresh content.
func (h *Handlers) sweepPosts(ctx context.Context) error {
	posts, err := h.content.UnanalyzedPosts(ctx, h.sweepBatches.Posts)
	if err != nil {
		return err
	}
	for _, post := range posts {
		if err := h.jobs.Enqueue(ctx, scheduler.TaskAnalyzePost,
			AnalyzePostPayload{ID: post.ID},
			scheduler.EnqueueOptions{
				DedupKey:  scheduler.DedupKey(scheduler.TaskAnalyzePost, post.ID),
				Priority:  scheduler.PrioritySweepPostAnalysis,
				QueueName: scheduler.QueueAnalyzePosts,
			}); err != nil {
			return err
		}
		metrics.SweepEnqueued("post")
	}
	return nil
}
