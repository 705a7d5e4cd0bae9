// Package bsky is the client for the remote social-graph content provider.
package bsky

// Embed $type discriminators. The provider attaches exactly one embed per
// post; everything outside this set is treated as an unknown kind and
// skipped by the extractor.
const (
	EmbedExternal        = "app.bsky.embed.external#view"
	EmbedImages          = "app.bsky.embed.images#view"
	EmbedRecordWithMedia = "app.bsky.embed.recordWithMedia#view"
)

// Rich-text facet feature $type discriminators.
const (
	FacetLink = "app.bsky.richtext.facet#link"
	FacetTag  = "app.bsky.richtext.facet#tag"
)

// Actor is a provider-side user reference.
type Actor struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

// Profile is the full actor profile returned by getProfile.
type Profile struct {
	Actor
	FollowersCount int `json:"followersCount"`
	FollowsCount   int `json:"followsCount"`
}

// Feature is one rich-text annotation within a facet.
type Feature struct {
	Type string `json:"$type"`
	// URI is set for link features.
	URI string `json:"uri,omitempty"`
	// Tag is set for hashtag features (without the leading #).
	Tag string `json:"tag,omitempty"`
}

// Facet annotates a span of post text with features.
type Facet struct {
	Features []Feature `json:"features"`
}

// Record is the authored content of a post.
type Record struct {
	Text      string  `json:"text"`
	Facets    []Facet `json:"facets,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

// AspectRatio carries pixel dimensions for an image embed.
type AspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Image is one entry of an image-set embed.
type Image struct {
	Fullsize    string       `json:"fullsize"`
	Alt         string       `json:"alt"`
	AspectRatio *AspectRatio `json:"aspectRatio,omitempty"`
}

// External is the payload of an external-link embed.
type External struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Embed is the tagged union of embed kinds; Type selects which fields are
// populated. Media recurses for record-with-media embeds.
type Embed struct {
	Type     string    `json:"$type"`
	External *External `json:"external,omitempty"`
	Images   []Image   `json:"images,omitempty"`
	Media    *Embed    `json:"media,omitempty"`
}

// Post is a provider feed post.
type Post struct {
	URI         string `json:"uri"`
	CID         string `json:"cid"`
	Author      Actor  `json:"author"`
	Record      Record `json:"record"`
	Embed       *Embed `json:"embed,omitempty"`
	LikeCount   int    `json:"likeCount"`
	ReplyCount  int    `json:"replyCount"`
	RepostCount int    `json:"repostCount"`
	QuoteCount  int    `json:"quoteCount"`
	IndexedAt   string `json:"indexedAt"`
}

// FeedItem wraps a post in the author feed.
type FeedItem struct {
	Post Post `json:"post"`
}

// FeedPage is one page of an author feed. An empty Cursor means the feed
// is exhausted.
type FeedPage struct {
	Feed   []FeedItem `json:"feed"`
	Cursor string     `json:"cursor,omitempty"`
}

// Like is one like edge on a post.
type Like struct {
	Actor     Actor  `json:"actor"`
	CreatedAt string `json:"createdAt"`
	IndexedAt string `json:"indexedAt"`
}

// LikesPage is one page of likes. An empty Cursor terminates pagination.
type LikesPage struct {
	Likes  []Like `json:"likes"`
	Cursor string `json:"cursor,omitempty"`
}
