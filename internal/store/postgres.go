package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres is the pgx-backed content store.
type Postgres struct {
	pool querier
}

// Config controls the Postgres connection pool for content rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPostgres connects a content store using the provided config.
func NewPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily
// for testing).
func NewPostgresWithPool(pool querier) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (p *Postgres) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

// EnsureSchema creates the content tables if missing. Topic scores on
// post_topics are written by the external analysis service, not by this
// process.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	did TEXT PRIMARY KEY,
	handle TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	avatar TEXT NOT NULL DEFAULT '',
	followers_count INT NOT NULL DEFAULT 0,
	follows_count INT NOT NULL DEFAULT 0,
	parsed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS posts (
	id TEXT PRIMARY KEY,
	uri TEXT UNIQUE,
	author_did TEXT NOT NULL REFERENCES users (did) ON DELETE CASCADE,
	content TEXT NOT NULL DEFAULT '',
	likes_count INT NOT NULL DEFAULT 0,
	reply_count INT NOT NULL DEFAULT 0,
	repost_count INT NOT NULL DEFAULT 0,
	quote_count INT NOT NULL DEFAULT 0,
	indexed_at TIMESTAMPTZ,
	last_analyzed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS post_likes (
	post_id TEXT NOT NULL REFERENCES posts (id) ON DELETE CASCADE,
	user_did TEXT NOT NULL REFERENCES users (did) ON DELETE CASCADE,
	created_at TIMESTAMPTZ,
	indexed_at TIMESTAMPTZ,
	PRIMARY KEY (post_id, user_did)
);
CREATE TABLE IF NOT EXISTS post_media (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	post_id TEXT NOT NULL REFERENCES posts (id) ON DELETE CASCADE,
	url TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size INT NOT NULL DEFAULT 0,
	width INT NOT NULL DEFAULT 0,
	height INT NOT NULL DEFAULT 0,
	alt_text TEXT NOT NULL DEFAULT '',
	nsfw_score NUMERIC,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (post_id, url)
);
CREATE TABLE IF NOT EXISTS domains (
	url TEXT PRIMARY KEY,
	trust_score INT NOT NULL DEFAULT 0,
	is_malicious BOOLEAN NOT NULL DEFAULT FALSE,
	has_valid_whois BOOLEAN NOT NULL DEFAULT FALSE,
	has_valid_dns BOOLEAN NOT NULL DEFAULT FALSE,
	popularity INT NOT NULL DEFAULT 0,
	last_checked_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS links (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	post_id TEXT NOT NULL REFERENCES posts (id) ON DELETE CASCADE,
	uri TEXT NOT NULL UNIQUE,
	domain_url TEXT REFERENCES domains (url) ON DELETE SET NULL,
	embed_type TEXT NOT NULL DEFAULT '',
	relevance_score INT NOT NULL DEFAULT 0,
	http_status INT,
	content_type TEXT,
	parsed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS tags (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS post_tags (
	post_id TEXT NOT NULL REFERENCES posts (id) ON DELETE CASCADE,
	tag_id UUID NOT NULL REFERENCES tags (id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (post_id, tag_id)
);
CREATE TABLE IF NOT EXISTS topics (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS post_topics (
	post_id TEXT NOT NULL REFERENCES posts (id) ON DELETE CASCADE,
	topic_id UUID NOT NULL REFERENCES topics (id) ON DELETE CASCADE,
	score NUMERIC NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (post_id, topic_id)
);
`
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure content schema: %w", err)
	}
	return nil
}

// InsertPost writes a post, ignoring replays. It reports whether the row
// was newly inserted, which is what decides downstream analysis fan-out.
func (p *Postgres) InsertPost(ctx context.Context, post Post) (bool, error) {
	const query = `
INSERT INTO posts (id, uri, author_did, content, likes_count, reply_count, repost_count, quote_count, indexed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT DO NOTHING`

	tag, err := p.pool.Exec(ctx, query,
		post.ID, post.URI, post.AuthorDID, post.Content,
		post.LikesCount, post.ReplyCount, post.RepostCount, post.QuoteCount,
		post.IndexedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert post %s: %w", post.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RefreshPostCounts updates engagement counters, flooring at zero so a
// provider glitch never decrements below it.
func (p *Postgres) RefreshPostCounts(ctx context.Context, postID string, likes, replies, reposts, quotes int) error {
	const query = `
UPDATE posts SET
	likes_count = GREATEST($2, 0),
	reply_count = GREATEST($3, 0),
	repost_count = GREATEST($4, 0),
	quote_count = GREATEST($5, 0)
WHERE id = $1`

	if _, err := p.pool.Exec(ctx, query, postID, likes, replies, reposts, quotes); err != nil {
		return fmt.Errorf("refresh counts for post %s: %w", postID, err)
	}
	return nil
}

// GetPost fetches a post by content ID; nil when absent.
func (p *Postgres) GetPost(ctx context.Context, id string) (*Post, error) {
	const query = `
SELECT id, uri, author_did, content, likes_count, reply_count, repost_count, quote_count,
	indexed_at, last_analyzed_at, created_at
FROM posts WHERE id = $1`

	var post Post
	err := p.pool.QueryRow(ctx, query, id).Scan(
		&post.ID, &post.URI, &post.AuthorDID, &post.Content,
		&post.LikesCount, &post.ReplyCount, &post.RepostCount, &post.QuoteCount,
		&post.IndexedAt, &post.LastAnalyzedAt, &post.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", id, err)
	}
	return &post, nil
}

// UpsertUser inserts a user row if absent. Used for like edges where only
// the DID and handle are known; an existing profile is left untouched.
func (p *Postgres) UpsertUser(ctx context.Context, user User) error {
	const query = `
INSERT INTO users (did, handle, display_name, avatar)
VALUES ($1,$2,$3,$4)
ON CONFLICT DO NOTHING`

	if _, err := p.pool.Exec(ctx, query, user.DID, user.Handle, user.DisplayName, user.Avatar); err != nil {
		return fmt.Errorf("upsert user %s: %w", user.DID, err)
	}
	return nil
}

// UpsertUserProfile writes a full profile, overwriting the mutable fields
// on conflict. Used by profile sync where the provider is authoritative.
func (p *Postgres) UpsertUserProfile(ctx context.Context, user User) error {
	const query = `
INSERT INTO users (did, handle, display_name, avatar, followers_count, follows_count)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (did) DO UPDATE SET
	handle = EXCLUDED.handle,
	display_name = EXCLUDED.display_name,
	avatar = EXCLUDED.avatar,
	followers_count = EXCLUDED.followers_count,
	follows_count = EXCLUDED.follows_count`

	_, err := p.pool.Exec(ctx, query,
		user.DID, user.Handle, user.DisplayName, user.Avatar,
		user.FollowersCount, user.FollowsCount,
	)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", user.DID, err)
	}
	return nil
}

// MarkUserParsed sets the profile-sync freshness marker.
func (p *Postgres) MarkUserParsed(ctx context.Context, did string, t time.Time) error {
	if _, err := p.pool.Exec(ctx, `UPDATE users SET parsed_at = $2 WHERE did = $1`, did, t); err != nil {
		return fmt.Errorf("mark user %s parsed: %w", did, err)
	}
	return nil
}

// InsertLike writes a like edge, ignoring replays.
func (p *Postgres) InsertLike(ctx context.Context, like Like) error {
	const query = `
INSERT INTO post_likes (post_id, user_did, created_at, indexed_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT DO NOTHING`

	if _, err := p.pool.Exec(ctx, query, like.PostID, like.UserDID, like.CreatedAt, like.IndexedAt); err != nil {
		return fmt.Errorf("insert like %s/%s: %w", like.PostID, like.UserDID, err)
	}
	return nil
}

// UpsertDomain inserts a domain row if absent and reports whether it was new.
func (p *Postgres) UpsertDomain(ctx context.Context, host string) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO domains (url) VALUES ($1) ON CONFLICT DO NOTHING`, host)
	if err != nil {
		return false, fmt.Errorf("upsert domain %s: %w", host, err)
	}
	return tag.RowsAffected() > 0, nil
}

// BumpDomainPopularity increments the linked-count for a domain.
func (p *Postgres) BumpDomainPopularity(ctx context.Context, host string) error {
	if _, err := p.pool.Exec(ctx,
		`UPDATE domains SET popularity = popularity + 1 WHERE url = $1`, host); err != nil {
		return fmt.Errorf("bump domain %s popularity: %w", host, err)
	}
	return nil
}

// GetDomain fetches a domain by hostname; nil when absent.
func (p *Postgres) GetDomain(ctx context.Context, host string) (*Domain, error) {
	const query = `
SELECT url, trust_score, is_malicious, has_valid_whois, has_valid_dns, popularity, last_checked_at, created_at
FROM domains WHERE url = $1`

	var d Domain
	err := p.pool.QueryRow(ctx, query, host).Scan(
		&d.URL, &d.TrustScore, &d.IsMalicious, &d.HasValidWhois, &d.HasValidDNS,
		&d.Popularity, &d.LastCheckedAt, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get domain %s: %w", host, err)
	}
	return &d, nil
}

// InsertLink writes a link row, ignoring replays, and reports whether it
// was new. Callers bump the owning domain's popularity only for new links.
func (p *Postgres) InsertLink(ctx context.Context, link Link) (bool, error) {
	const query = `
INSERT INTO links (post_id, uri, domain_url, embed_type)
VALUES ($1,$2,$3,$4)
ON CONFLICT DO NOTHING`

	tag, err := p.pool.Exec(ctx, query, link.PostID, link.URI, link.DomainURL, link.EmbedType)
	if err != nil {
		return false, fmt.Errorf("insert link %s: %w", link.URI, err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertMedia writes a media row, ignoring replays of the same post/url.
func (p *Postgres) InsertMedia(ctx context.Context, media Media) error {
	const query = `
INSERT INTO post_media (post_id, url, mime_type, size, width, height, alt_text)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT DO NOTHING`

	_, err := p.pool.Exec(ctx, query,
		media.PostID, media.URL, media.MimeType, media.Size, media.Width, media.Height, media.AltText)
	if err != nil {
		return fmt.Errorf("insert media for post %s: %w", media.PostID, err)
	}
	return nil
}

// UpsertTag inserts a hashtag by natural key and returns its ID. The
// DO UPDATE SET name = EXCLUDED.name is a no-op that makes RETURNING work
// on the conflict path too.
func (p *Postgres) UpsertTag(ctx context.Context, name string) (string, error) {
	const query = `
INSERT INTO tags (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`

	var id string
	if err := p.pool.QueryRow(ctx, query, name).Scan(&id); err != nil {
		return "", fmt.Errorf("upsert tag %q: %w", name, err)
	}
	return id, nil
}

// LinkPostTag associates a post with a tag, ignoring replays.
func (p *Postgres) LinkPostTag(ctx context.Context, postID, tagID string) error {
	const query = `
INSERT INTO post_tags (post_id, tag_id) VALUES ($1,$2)
ON CONFLICT DO NOTHING`

	if _, err := p.pool.Exec(ctx, query, postID, tagID); err != nil {
		return fmt.Errorf("link post %s to tag %s: %w", postID, tagID, err)
	}
	return nil
}

// UnparsedUsers returns users whose profile was never synced.
func (p *Postgres) UnparsedUsers(ctx context.Context, limit int) ([]User, error) {
	const query = `
SELECT did, handle FROM users WHERE parsed_at IS NULL ORDER BY created_at ASC LIMIT $1`

	rows, err := p.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unparsed users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.DID, &u.Handle); err != nil {
			return nil, fmt.Errorf("scan unparsed user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unparsed users: %w", err)
	}
	return users, nil
}

// UncheckedDomains returns domains that were never analyzed.
func (p *Postgres) UncheckedDomains(ctx context.Context, limit int) ([]Domain, error) {
	const query = `
SELECT url FROM domains WHERE last_checked_at IS NULL ORDER BY popularity DESC LIMIT $1`

	rows, err := p.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unchecked domains: %w", err)
	}
	defer rows.Close()

	var out []Domain
	for rows.Next() {
		var d Domain
		if err := rows.Scan(&d.URL); err != nil {
			return nil, fmt.Errorf("scan unchecked domain: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unchecked domains: %w", err)
	}
	return out, nil
}

// UnanalyzedPosts returns posts that were never analyzed.
func (p *Postgres) UnanalyzedPosts(ctx context.Context, limit int) ([]Post, error) {
	const query = `
SELECT id FROM posts WHERE last_analyzed_at IS NULL ORDER BY created_at ASC LIMIT $1`

	rows, err := p.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unanalyzed posts: %w", err)
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		var post Post
		if err := rows.Scan(&post.ID); err != nil {
			return nil, fmt.Errorf("scan unanalyzed post: %w", err)
		}
		out = append(out, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unanalyzed posts: %w", err)
	}
	return out, nil
}
