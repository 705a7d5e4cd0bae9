package tasks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/scheduler"
)

// AnalyzePost gates a post through the freshness window and hands it to
// the models service. A missing post row is permanent: the job references
// content that was never ingested or has been deleted.
func (h *Handlers) AnalyzePost(ctx context.Context, job *scheduler.Job) error {
	var payload AnalyzePostPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	if payload.ID == "" {
		return scheduler.Permanent(fmt.Errorf("analyze-posts payload has no id"))
	}

	post, err := h.content.GetPost(ctx, payload.ID)
	if err != nil {
		return err
	}
	if post == nil {
		return scheduler.Permanent(fmt.Errorf("post %s not found", payload.ID))
	}
	if post.IndexedAt == nil {
		return scheduler.Permanent(fmt.Errorf("post %s was never indexed", payload.ID))
	}

	if !scheduler.ShouldProcess(post.LastAnalyzedAt, h.freshnessTTL, h.clock.Now()) {
		h.logger.Debug("post analysis skipped, still fresh",
			zap.String("post", payload.ID),
			zap.Timep("last_analyzed_at", post.LastAnalyzedAt),
		)
		return nil
	}

	if err := h.analyzer.AnalyzePost(ctx, payload.ID); err != nil {
		return fmt.Errorf("dispatch post analysis for %s: %w", payload.ID, err)
	}
	return nil
}
