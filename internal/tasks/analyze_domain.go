package tasks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/domains"
	"github.com/senka-social/scheduler/internal/events"
	"github.com/senka-social/scheduler/internal/scheduler"
)

// AnalyzeDomain gates a domain through the freshness window and hands it
// to the models service. The handler also fans out the parent chain so a
// domain seeded directly (by the sweep or an operator) still pulls its
// ancestors into analysis. The score writer sets last_checked_at
// out-of-band; this handler only reads it.
func (h *Handlers) AnalyzeDomain(ctx context.Context, job *scheduler.Job) error {
	var payload AnalyzeDomainPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	host := domains.Normalize(payload.URL)
	if err := domains.Validate(host); err != nil {
		return scheduler.Permanent(fmt.Errorf("analyze-domain host %q: %w", payload.URL, err))
	}

	domain, err := h.content.GetDomain(ctx, host)
	if err != nil {
		return err
	}
	if domain == nil {
		return scheduler.Permanent(fmt.Errorf("domain %s not found", host))
	}

	now := h.clock.Now()
	if !scheduler.ShouldProcess(domain.LastCheckedAt, h.freshnessTTL, now) {
		h.logger.Debug("domain analysis skipped, still fresh",
			zap.String("host", host),
			zap.Timep("last_checked_at", domain.LastCheckedAt),
		)
		return nil
	}

	chain, err := domains.Chain(host)
	if err != nil {
		return scheduler.Permanent(fmt.Errorf("decompose domain %s: %w", host, err))
	}
	for _, parent := range chain {
		if _, err := h.content.UpsertDomain(ctx, parent); err != nil {
			return fmt.Errorf("upsert parent domain %s: %w", parent, err)
		}
		if err := h.jobs.Enqueue(ctx, scheduler.TaskAnalyzeDomain,
			AnalyzeDomainPayload{URL: parent},
			scheduler.EnqueueOptions{
				DedupKey: scheduler.DedupKey(scheduler.TaskAnalyzeDomain, parent),
				Priority: scheduler.PriorityDomainAnalysis,
			}); err != nil {
			return fmt.Errorf("enqueue parent domain %s: %w", parent, err)
		}
	}

	if err := h.analyzer.AnalyzeDomain(ctx, host); err != nil {
		return fmt.Errorf("dispatch domain analysis for %s: %w", host, err)
	}
	h.publish(ctx, events.DomainAnalyzed, host)
	return nil
}
