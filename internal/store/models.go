// Package store persists the content graph: users, posts, likes, media,
// links, domains, and tags. All creation paths are conflict-aware upserts
// so replaying a feed is idempotent; freshness markers and score columns
// are the only fields mutated after creation.
package store

import "time"

// User is a social-graph actor keyed by DID.
type User struct {
	DID            string
	Handle         string
	DisplayName    string
	Avatar         string
	FollowersCount int
	FollowsCount   int
	// ParsedAt is the profile-sync freshness marker; nil means the
	// profile was never synced.
	ParsedAt  *time.Time
	CreatedAt time.Time
}

// Post is a canonical content item keyed by its stable content ID.
type Post struct {
	ID        string
	URI       string
	AuthorDID string
	Content   string

	LikesCount  int
	ReplyCount  int
	RepostCount int
	QuoteCount  int

	IndexedAt *time.Time
	// LastAnalyzedAt is set out-of-band by the analysis score writer.
	LastAnalyzedAt *time.Time
	CreatedAt      time.Time
}

// Like is a post/user edge.
type Like struct {
	PostID    string
	UserDID   string
	CreatedAt time.Time
	IndexedAt time.Time
}

// Media is an image (or other blob) attached to a post.
type Media struct {
	PostID   string
	URL      string
	MimeType string
	Size     int
	Width    int
	Height   int
	AltText  string
}

// Link is an outbound reference owned by exactly one post. DomainURL is
// cleared (not cascaded) if the domain row is deleted.
type Link struct {
	PostID    string
	URI       string
	DomainURL string
	EmbedType string
}

// Domain carries reputation attributes for one hostname. Subdomain levels
// are independent rows; the hierarchy is rebuilt by decomposition, never
// stored as a foreign key.
type Domain struct {
	URL           string
	TrustScore    int
	IsMalicious   bool
	HasValidWhois bool
	HasValidDNS   bool
	Popularity    int
	// LastCheckedAt is set out-of-band by the analysis score writer.
	LastCheckedAt *time.Time
	CreatedAt     *time.Time
}

// Tag is a global hashtag; name is the natural key.
type Tag struct {
	ID   string
	Name string
}
