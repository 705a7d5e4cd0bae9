package tasks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/domains"
	"github.com/senka-social/scheduler/internal/events"
	"github.com/senka-social/scheduler/internal/scheduler"
)

// StorePosts ingests an actor's authored feed. Likes and embeds are
// extracted for every feed post, new or replayed; the writes are
// conflict-ignoring, so a retry after a partial failure fills in whatever
// the first attempt missed. Only the analysis fan-out and the ingested
// event are gated on the post row being new.
func (h *Handlers) StorePosts(ctx context.Context, job *scheduler.Job) error {
	var payload StorePostsPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	if payload.Actor == "" {
		return scheduler.Permanent(fmt.Errorf("store-posts payload has no actor"))
	}

	ingested, err := h.fetcher.FetchAndStorePosts(ctx, payload.Actor)
	if err != nil {
		return fmt.Errorf("ingest feed for %s: %w", payload.Actor, err)
	}

	newPosts := 0
	for _, res := range ingested {
		post := res.Item.Post
		hosts, err := h.extractor.ExtractEmbeds(ctx, post)
		if err != nil {
			return fmt.Errorf("extract embeds for %s: %w", post.CID, err)
		}
		for _, host := range hosts {
			if err := h.enqueueDomainChain(ctx, host); err != nil {
				return err
			}
		}
		if !res.New {
			continue
		}
		newPosts++
		if err := h.jobs.Enqueue(ctx, scheduler.TaskAnalyzePost,
			AnalyzePostPayload{ID: post.CID},
			scheduler.EnqueueOptions{
				DedupKey:  scheduler.DedupKey(scheduler.TaskAnalyzePost, post.CID),
				Priority:  scheduler.PriorityPostAnalysis,
				QueueName: scheduler.QueueAnalyzePosts,
			}); err != nil {
			return fmt.Errorf("enqueue post analysis for %s: %w", post.CID, err)
		}
		h.publish(ctx, events.PostIngested, post.CID)
	}

	h.logger.Info("store-posts finished",
		zap.String("actor", payload.Actor),
		zap.Int("posts", len(ingested)),
		zap.Int("new_posts", newPosts),
	)
	return nil
}

// enqueueDomainChain schedules analysis for a host and each of its parent
// domains. Dedup keys make the fan-out replay-safe.
func (h *Handlers) enqueueDomainChain(ctx context.Context, host string) error {
	chain, err := domains.Chain(host)
	if err != nil {
		return fmt.Errorf("decompose domain %s: %w", host, err)
	}
	targets := append([]string{host}, chain...)
	for _, target := range targets {
		if _, err := h.content.UpsertDomain(ctx, target); err != nil {
			return fmt.Errorf("upsert domain %s: %w", target, err)
		}
		if err := h.jobs.Enqueue(ctx, scheduler.TaskAnalyzeDomain,
			AnalyzeDomainPayload{URL: target},
			scheduler.EnqueueOptions{
				DedupKey: scheduler.DedupKey(scheduler.TaskAnalyzeDomain, target),
				Priority: scheduler.PriorityDomainAnalysis,
			}); err != nil {
			return fmt.Errorf("enqueue domain analysis for %s: %w", target, err)
		}
	}
	return nil
}
