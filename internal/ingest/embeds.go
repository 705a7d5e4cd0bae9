package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/bsky"
	"github.com/senka-social/scheduler/internal/domains"
	"github.com/senka-social/scheduler/internal/metrics"
	"github.com/senka-social/scheduler/internal/store"
)

// defaultProbeTimeout bounds the image metadata HEAD probe.
const defaultProbeTimeout = 5 * time.Second

// EmbedWriter is the store surface the extractor writes through.
type EmbedWriter interface {
	UpsertDomain(ctx context.Context, host string) (bool, error)
	BumpDomainPopularity(ctx context.Context, host string) error
	InsertLink(ctx context.Context, link store.Link) (bool, error)
	InsertMedia(ctx context.Context, media store.Media) error
	UpsertTag(ctx context.Context, name string) (string, error)
	LinkPostTag(ctx context.Context, postID, tagID string) error
}

// Prober resolves image metadata with a HEAD request. Failures degrade to
// an unknown mime type and zero size rather than failing the post.
type Prober struct {
	client *http.Client
	logger *zap.Logger
}

// NewProber constructs a Prober; a non-positive timeout takes the default.
func NewProber(timeout time.Duration, logger *zap.Logger) *Prober {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Prober{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Probe returns the content type and size of a remote image.
func (p *Prober) Probe(ctx context.Context, url string) (mimeType string, size int) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		p.degrade(url, err)
		return "unknown", 0
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.degrade(url, err)
		return "unknown", 0
	}
	defer resp.Body.Close() //nolint:errcheck // HEAD body is empty

	if resp.StatusCode != http.StatusOK {
		p.degrade(url, fmt.Errorf("status %d", resp.StatusCode))
		return "unknown", 0
	}
	mimeType = resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "unknown"
	}
	if resp.ContentLength > 0 {
		size = int(resp.ContentLength)
	}
	return mimeType, size
}

func (p *Prober) degrade(url string, err error) {
	metrics.ProbeFailed()
	p.logger.Warn("image probe degraded",
		zap.String("url", url),
		zap.Error(err),
	)
}

// Extractor decomposes a post's embeds and facets into media, link, domain,
// and tag rows.
type Extractor struct {
	writer EmbedWriter
	prober *Prober
	logger *zap.Logger
}

// NewExtractor constructs an Extractor.
func NewExtractor(writer EmbedWriter, prober *Prober, logger *zap.Logger) *Extractor {
	return &Extractor{writer: writer, prober: prober, logger: logger}
}

// ExtractEmbeds classifies a post's embed and rich-text facets, persisting
// what it recognizes. It returns the normalized hosts touched so the caller
// can fan out domain analysis. Unknown embed kinds are logged and skipped.
func (e *Extractor) ExtractEmbeds(ctx context.Context, post bsky.Post) ([]string, error) {
	seen := map[string]struct{}{}
	var hosts []string
	record := func(host string) {
		if _, ok := seen[host]; ok {
			return
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}

	if post.Embed != nil {
		if err := e.extractEmbed(ctx, post, *post.Embed, record); err != nil {
			return hosts, err
		}
	}
	for _, facet := range post.Record.Facets {
		for _, feature := range facet.Features {
			if err := e.extractFeature(ctx, post, feature, record); err != nil {
				return hosts, err
			}
		}
	}
	return hosts, nil
}

func (e *Extractor) extractEmbed(ctx context.Context, post bsky.Post, embed bsky.Embed, record func(string)) error {
	switch embed.Type {
	case bsky.EmbedExternal:
		if embed.External == nil {
			return nil
		}
		return e.storeLink(ctx, post.CID, embed.External.URI, embedLabel(embed.Type), record)
	case bsky.EmbedImages:
		for _, img := range embed.Images {
			if err := e.storeImage(ctx, post.CID, img); err != nil {
				return err
			}
		}
		return nil
	case bsky.EmbedRecordWithMedia:
		if embed.Media == nil {
			return nil
		}
		return e.extractEmbed(ctx, post, *embed.Media, record)
	default:
		e.logger.Info("skipping unknown embed kind",
			zap.String("post", post.CID),
			zap.String("kind", embed.Type),
		)
		return nil
	}
}

func (e *Extractor) extractFeature(ctx context.Context, post bsky.Post, feature bsky.Feature, record func(string)) error {
	switch feature.Type {
	case bsky.FacetLink:
		return e.storeLink(ctx, post.CID, feature.URI, embedLabel(feature.Type), record)
	case bsky.FacetTag:
		tag := strings.ToLower(strings.TrimSpace(feature.Tag))
		if tag == "" {
			return nil
		}
		tagID, err := e.writer.UpsertTag(ctx, tag)
		if err != nil {
			return err
		}
		return e.writer.LinkPostTag(ctx, post.CID, tagID)
	default:
		e.logger.Info("skipping unknown facet feature",
			zap.String("post", post.CID),
			zap.String("kind", feature.Type),
		)
		return nil
	}
}

// storeLink upserts the owning domain before the link row so the foreign
// key always resolves. Popularity is bumped only for new link rows.
func (e *Extractor) storeLink(ctx context.Context, postID, uri, embedType string, record func(string)) error {
	host := domains.Normalize(uri)
	if err := domains.Validate(host); err != nil {
		e.logger.Info("skipping link with invalid host",
			zap.String("post", postID),
			zap.String("uri", uri),
			zap.Error(err),
		)
		return nil
	}
	if _, err := e.writer.UpsertDomain(ctx, host); err != nil {
		return err
	}
	inserted, err := e.writer.InsertLink(ctx, store.Link{
		PostID:    postID,
		URI:       uri,
		DomainURL: host,
		EmbedType: embedType,
	})
	if err != nil {
		return err
	}
	if inserted {
		if err := e.writer.BumpDomainPopularity(ctx, host); err != nil {
			return err
		}
	}
	record(host)
	return nil
}

func (e *Extractor) storeImage(ctx context.Context, postID string, img bsky.Image) error {
	mimeType, size := e.prober.Probe(ctx, img.Fullsize)
	media := store.Media{
		PostID:   postID,
		URL:      img.Fullsize,
		MimeType: mimeType,
		Size:     size,
		AltText:  img.Alt,
	}
	if img.AspectRatio != nil {
		media.Width = img.AspectRatio.Width
		media.Height = img.AspectRatio.Height
	}
	return e.writer.InsertMedia(ctx, media)
}

func embedLabel(typ string) string {
	return strings.TrimSuffix(typ, "#view")
}
