// Package ingest pulls authored content from the provider and persists it
// through the content store. The fetcher is replay-safe: every write is a
// conflict-aware upsert, and every feed post is reported to the caller
// tagged with whether its row was new.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/bsky"
	"github.com/senka-social/scheduler/internal/metrics"
	"github.com/senka-social/scheduler/internal/store"
)

const (
	defaultFeedPageSize = 50
	defaultLikePageSize = 100
	defaultMaxFeedPages = 10

	// defaultMaxLikePages bounds like pagination per post. The provider
	// has returned non-empty cursors on empty pages before; the cap keeps
	// a cursor loop from pinning a worker forever.
	defaultMaxLikePages = 50
)

// Feed is the provider surface the fetcher consumes.
type Feed interface {
	GetAuthorFeed(ctx context.Context, actor, cursor string, limit int) (*bsky.FeedPage, error)
	GetLikes(ctx context.Context, postURI, cursor string, limit int) (*bsky.LikesPage, error)
}

// ContentWriter is the store surface the fetcher writes through.
type ContentWriter interface {
	InsertPost(ctx context.Context, post store.Post) (bool, error)
	RefreshPostCounts(ctx context.Context, postID string, likes, replies, reposts, quotes int) error
	UpsertUser(ctx context.Context, user store.User) error
	InsertLike(ctx context.Context, like store.Like) error
}

// FetcherConfig tunes paging behavior; zero values take defaults.
type FetcherConfig struct {
	FeedPageSize int
	LikePageSize int
	MaxFeedPages int
	MaxLikePages int
}

// Fetcher ingests an actor's authored posts and their like edges.
type Fetcher struct {
	feed    Feed
	content ContentWriter
	logger  *zap.Logger
	cfg     FetcherConfig
}

// NewFetcher constructs a Fetcher.
func NewFetcher(feed Feed, content ContentWriter, logger *zap.Logger, cfg FetcherConfig) *Fetcher {
	if cfg.FeedPageSize <= 0 {
		cfg.FeedPageSize = defaultFeedPageSize
	}
	if cfg.LikePageSize <= 0 {
		cfg.LikePageSize = defaultLikePageSize
	}
	if cfg.MaxFeedPages <= 0 {
		cfg.MaxFeedPages = defaultMaxFeedPages
	}
	if cfg.MaxLikePages <= 0 {
		cfg.MaxLikePages = defaultMaxLikePages
	}
	return &Fetcher{feed: feed, content: content, logger: logger, cfg: cfg}
}

// IngestedPost pairs a feed item with whether its post row was newly
// inserted. Only newness gates downstream analysis fan-out; everything
// else is replayed unconditionally.
type IngestedPost struct {
	Item bsky.FeedItem
	New  bool
}

// FetchAndStorePosts pages through an actor's feed and persists every
// post, then paginates and persists likes for every post regardless of
// whether the row was new. Replayed posts keep accruing likes and get
// their engagement counters refreshed; a retried job therefore picks up
// exactly where a partial run left off.
func (f *Fetcher) FetchAndStorePosts(ctx context.Context, actor string) ([]IngestedPost, error) {
	var ingested []IngestedPost
	newPosts := 0
	cursor := ""
	for page := 0; page < f.cfg.MaxFeedPages; page++ {
		feedPage, err := f.feed.GetAuthorFeed(ctx, actor, cursor, f.cfg.FeedPageSize)
		if err != nil {
			return ingested, fmt.Errorf("fetch feed page %d for %s: %w", page, actor, err)
		}
		for _, item := range feedPage.Feed {
			inserted, err := f.storePost(ctx, item.Post)
			if err != nil {
				return ingested, err
			}
			if err := f.storeLikes(ctx, item.Post); err != nil {
				return ingested, err
			}
			ingested = append(ingested, IngestedPost{Item: item, New: inserted})
			if inserted {
				newPosts++
			}
		}
		cursor = feedPage.Cursor
		if cursor == "" || len(feedPage.Feed) == 0 {
			break
		}
	}
	f.logger.Info("feed ingested",
		zap.String("actor", actor),
		zap.Int("posts", len(ingested)),
		zap.Int("new_posts", newPosts),
	)
	return ingested, nil
}

func (f *Fetcher) storePost(ctx context.Context, post bsky.Post) (bool, error) {
	if err := f.content.UpsertUser(ctx, store.User{
		DID:         post.Author.DID,
		Handle:      post.Author.Handle,
		DisplayName: post.Author.DisplayName,
		Avatar:      post.Author.Avatar,
	}); err != nil {
		return false, fmt.Errorf("upsert author %s: %w", post.Author.DID, err)
	}

	inserted, err := f.content.InsertPost(ctx, store.Post{
		ID:          post.CID,
		URI:         post.URI,
		AuthorDID:   post.Author.DID,
		Content:     post.Record.Text,
		LikesCount:  post.LikeCount,
		ReplyCount:  post.ReplyCount,
		RepostCount: post.RepostCount,
		QuoteCount:  post.QuoteCount,
		IndexedAt:   parseTimePtr(post.IndexedAt),
	})
	if err != nil {
		return false, err
	}
	if !inserted {
		if err := f.content.RefreshPostCounts(ctx, post.CID,
			post.LikeCount, post.ReplyCount, post.RepostCount, post.QuoteCount); err != nil {
			return false, err
		}
	}
	return inserted, nil
}

// storeLikes walks the like pages for one post. The cursor is reassigned
// from every response; pagination stops on an empty cursor, an empty page,
// or the page cap.
func (f *Fetcher) storeLikes(ctx context.Context, post bsky.Post) error {
	cursor := ""
	for page := 0; ; page++ {
		if page >= f.cfg.MaxLikePages {
			metrics.LikePageCapHit()
			f.logger.Warn("like pagination stopped at page cap",
				zap.String("post", post.CID),
				zap.Int("pages", page),
			)
			return nil
		}
		likesPage, err := f.feed.GetLikes(ctx, post.URI, cursor, f.cfg.LikePageSize)
		if err != nil {
			return fmt.Errorf("fetch likes page %d for %s: %w", page, post.CID, err)
		}
		for _, like := range likesPage.Likes {
			if err := f.content.UpsertUser(ctx, store.User{
				DID:         like.Actor.DID,
				Handle:      like.Actor.Handle,
				DisplayName: like.Actor.DisplayName,
				Avatar:      like.Actor.Avatar,
			}); err != nil {
				return fmt.Errorf("upsert liker %s: %w", like.Actor.DID, err)
			}
			if err := f.content.InsertLike(ctx, store.Like{
				PostID:    post.CID,
				UserDID:   like.Actor.DID,
				CreatedAt: parseTime(like.CreatedAt),
				IndexedAt: parseTime(like.IndexedAt),
			}); err != nil {
				return fmt.Errorf("insert like on %s: %w", post.CID, err)
			}
		}
		cursor = likesPage.Cursor
		if cursor == "" || len(likesPage.Likes) == 0 {
			return nil
		}
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseTimePtr(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	u := t.UTC()
	return &u
}
