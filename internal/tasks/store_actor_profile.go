package tasks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/events"
	"github.com/senka-social/scheduler/internal/scheduler"
	"github.com/senka-social/scheduler/internal/store"
)

// StoreActorProfile syncs one actor's profile from the provider. The
// provider is authoritative: mutable fields are overwritten and the
// parsed-at marker is set so the sweep stops re-seeding this actor. A
// synced actor's feed is then queued for ingestion.
func (h *Handlers) StoreActorProfile(ctx context.Context, job *scheduler.Job) error {
	var payload StoreActorProfilePayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	if payload.Actor == "" {
		return scheduler.Permanent(fmt.Errorf("store-actor-profile payload has no actor"))
	}

	profile, err := h.profiles.GetProfile(ctx, payload.Actor)
	if err != nil {
		return fmt.Errorf("fetch profile %s: %w", payload.Actor, err)
	}

	if err := h.content.UpsertUserProfile(ctx, store.User{
		DID:            profile.DID,
		Handle:         profile.Handle,
		DisplayName:    profile.DisplayName,
		Avatar:         profile.Avatar,
		FollowersCount: profile.FollowersCount,
		FollowsCount:   profile.FollowsCount,
	}); err != nil {
		return err
	}
	if err := h.content.MarkUserParsed(ctx, profile.DID, h.clock.Now()); err != nil {
		return err
	}

	if err := h.jobs.Enqueue(ctx, scheduler.TaskStorePosts,
		StorePostsPayload{Actor: profile.DID},
		scheduler.EnqueueOptions{
			DedupKey: scheduler.DedupKey(scheduler.TaskStorePosts, profile.DID),
			Priority: scheduler.PriorityIngest,
		}); err != nil {
		return fmt.Errorf("enqueue feed ingest for %s: %w", profile.DID, err)
	}

	h.publish(ctx, events.ProfileSynced, profile.DID)
	h.logger.Debug("profile synced",
		zap.String("actor", payload.Actor),
		zap.String("did", profile.DID),
	)
	return nil
}
