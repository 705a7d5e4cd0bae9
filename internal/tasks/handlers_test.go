package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/senka-social/scheduler/internal/bsky"
	"github.com/senka-social/scheduler/internal/events"
	"github.com/senka-social/scheduler/internal/ingest"
	"github.com/senka-social/scheduler/internal/jobstore/memory"
	"github.com/senka-social/scheduler/internal/scheduler"
	"github.com/senka-social/scheduler/internal/store"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("job-%03d", g.n), nil
}

type fakeContent struct {
	posts   map[string]*store.Post
	domains map[string]*store.Domain

	profiles      []store.User
	parsed        []string
	unparsedUsers []store.User
	unparsedErr   error
	unchecked     []store.Domain
	unanalyzed    []store.Post
}

func newFakeContent() *fakeContent {
	return &fakeContent{
		posts:   map[string]*store.Post{},
		domains: map[string]*store.Domain{},
	}
}

func (f *fakeContent) GetPost(_ context.Context, id string) (*store.Post, error) {
	return f.posts[id], nil
}

func (f *fakeContent) GetDomain(_ context.Context, host string) (*store.Domain, error) {
	return f.domains[host], nil
}

func (f *fakeContent) UpsertDomain(_ context.Context, host string) (bool, error) {
	if _, ok := f.domains[host]; ok {
		return false, nil
	}
	f.domains[host] = &store.Domain{URL: host}
	return true, nil
}

func (f *fakeContent) UpsertUserProfile(_ context.Context, user store.User) error {
	f.profiles = append(f.profiles, user)
	return nil
}

func (f *fakeContent) MarkUserParsed(_ context.Context, did string, _ time.Time) error {
	f.parsed = append(f.parsed, did)
	return nil
}

func (f *fakeContent) UnparsedUsers(_ context.Context, _ int) ([]store.User, error) {
	return f.unparsedUsers, f.unparsedErr
}

func (f *fakeContent) UncheckedDomains(_ context.Context, _ int) ([]store.Domain, error) {
	return f.unchecked, nil
}

func (f *fakeContent) UnanalyzedPosts(_ context.Context, _ int) ([]store.Post, error) {
	return f.unanalyzed, nil
}

type fakeFetcher struct {
	ingested []ingest.IngestedPost
	err      error
	calls    []string
}

func (f *fakeFetcher) FetchAndStorePosts(_ context.Context, actor string) ([]ingest.IngestedPost, error) {
	f.calls = append(f.calls, actor)
	return f.ingested, f.err
}

type fakeExtractor struct {
	hosts map[string][]string
}

func (f *fakeExtractor) ExtractEmbeds(_ context.Context, post bsky.Post) ([]string, error) {
	return f.hosts[post.CID], nil
}

type fakeProfiles struct {
	profile *bsky.Profile
	err     error
}

func (f *fakeProfiles) GetProfile(_ context.Context, _ string) (*bsky.Profile, error) {
	return f.profile, f.err
}

type fakeAnalyzer struct {
	domainCalls []string
	postCalls   []string
}

func (f *fakeAnalyzer) AnalyzeDomain(_ context.Context, host string) error {
	f.domainCalls = append(f.domainCalls, host)
	return nil
}

func (f *fakeAnalyzer) AnalyzePost(_ context.Context, postID string) error {
	f.postCalls = append(f.postCalls, postID)
	return nil
}

type fixture struct {
	handlers *Handlers
	jobs     *memory.Store
	content  *fakeContent
	fetcher  *fakeFetcher
	extract  *fakeExtractor
	profiles *fakeProfiles
	analyzer *fakeAnalyzer
	bus      *events.Memory
	clock    *fixedClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fixedClock{now: time.Unix(1700000000, 0).UTC()}
	f := &fixture{
		jobs:     memory.New(clock, &seqIDGen{}),
		content:  newFakeContent(),
		fetcher:  &fakeFetcher{},
		extract:  &fakeExtractor{hosts: map[string][]string{}},
		profiles: &fakeProfiles{},
		analyzer: &fakeAnalyzer{},
		bus:      events.NewMemory(),
		clock:    clock,
	}
	f.handlers = NewHandlers(
		f.jobs, f.content, f.fetcher, f.extract, f.profiles, f.analyzer,
		f.bus, clock, zap.NewNop(), HandlersConfig{},
	)
	return f
}

func jobFor(t *testing.T, name string, payload any) *scheduler.Job {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return &scheduler.Job{ID: "job-under-test", Name: name, Payload: body}
}

func enqueuedNames(t *testing.T, jobs *memory.Store) map[string]int {
	t.Helper()
	counts := map[string]int{}
	for _, j := range jobs.Snapshot() {
		counts[j.Name]++
	}
	return counts
}

func TestStorePostsFansOutForNewPosts(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.fetcher.ingested = []ingest.IngestedPost{
		{Item: bsky.FeedItem{Post: bsky.Post{CID: "cid-1", URI: "at://post/1"}}, New: true},
	}
	f.extract.hosts["cid-1"] = []string{"news.sub.example.com"}

	err := f.handlers.StorePosts(context.Background(),
		jobFor(t, scheduler.TaskStorePosts, StorePostsPayload{Actor: "alice.example"}))
	require.NoError(t, err)

	counts := enqueuedNames(t, f.jobs)
	// Host plus two parent-chain levels, and one post analysis.
	require.Equal(t, 3, counts[scheduler.TaskAnalyzeDomain])
	require.Equal(t, 1, counts[scheduler.TaskAnalyzePost])

	require.Contains(t, f.content.domains, "news.sub.example.com")
	require.Contains(t, f.content.domains, "sub.example.com")
	require.Contains(t, f.content.domains, "example.com")

	published := f.bus.Events()
	require.Len(t, published, 1)
	require.Equal(t, events.PostIngested, published[0].Name)
	require.Equal(t, "cid-1", published[0].ResourceID)
}

func TestStorePostsReplayedPostExtractsWithoutFanOut(t *testing.T) {
	t.Parallel()

	// A post seen on a previous run still gets its embeds decomposed, so a
	// retry after a partial failure backfills links and domains. Analysis
	// fan-out and the ingested event stay one-shot.
	f := newFixture(t)
	f.fetcher.ingested = []ingest.IngestedPost{
		{Item: bsky.FeedItem{Post: bsky.Post{CID: "cid-1", URI: "at://post/1"}}, New: false},
	}
	f.extract.hosts["cid-1"] = []string{"news.sub.example.com"}

	err := f.handlers.StorePosts(context.Background(),
		jobFor(t, scheduler.TaskStorePosts, StorePostsPayload{Actor: "alice.example"}))
	require.NoError(t, err)

	counts := enqueuedNames(t, f.jobs)
	require.Equal(t, 3, counts[scheduler.TaskAnalyzeDomain])
	require.Zero(t, counts[scheduler.TaskAnalyzePost])
	require.Contains(t, f.content.domains, "news.sub.example.com")
	require.Empty(t, f.bus.Events())
}

func TestStorePostsNoNewPostsEnqueuesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.handlers.StorePosts(context.Background(),
		jobFor(t, scheduler.TaskStorePosts, StorePostsPayload{Actor: "alice.example"}))
	require.NoError(t, err)
	require.Empty(t, f.jobs.Snapshot())
	require.Empty(t, f.bus.Events())
}

func TestStorePostsEmptyActorIsPermanent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.handlers.StorePosts(context.Background(),
		jobFor(t, scheduler.TaskStorePosts, StorePostsPayload{}))
	require.Error(t, err)
	require.True(t, scheduler.IsPermanent(err))
}

func TestStoreActorProfileSyncsAndMarksParsed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.profiles.profile = &bsky.Profile{
		Actor:          bsky.Actor{DID: "did:plc:alice", Handle: "alice.example"},
		FollowersCount: 42,
	}

	err := f.handlers.StoreActorProfile(context.Background(),
		jobFor(t, scheduler.TaskStoreActorProfile, StoreActorProfilePayload{Actor: "did:plc:alice"}))
	require.NoError(t, err)

	require.Len(t, f.content.profiles, 1)
	require.Equal(t, 42, f.content.profiles[0].FollowersCount)
	require.Equal(t, []string{"did:plc:alice"}, f.content.parsed)

	// A synced actor's feed is queued for ingestion.
	counts := enqueuedNames(t, f.jobs)
	require.Equal(t, 1, counts[scheduler.TaskStorePosts])

	published := f.bus.Events()
	require.Len(t, published, 1)
	require.Equal(t, events.ProfileSynced, published[0].Name)
}

func TestAnalyzeDomainMissingRowIsPermanent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.handlers.AnalyzeDomain(context.Background(),
		jobFor(t, scheduler.TaskAnalyzeDomain, AnalyzeDomainPayload{URL: "gone.example.com"}))
	require.Error(t, err)
	require.True(t, scheduler.IsPermanent(err))
	require.Empty(t, f.analyzer.domainCalls)
}

func TestAnalyzeDomainFreshIsSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	checked := f.clock.now.Add(-time.Hour)
	f.content.domains["example.com"] = &store.Domain{URL: "example.com", LastCheckedAt: &checked}

	err := f.handlers.AnalyzeDomain(context.Background(),
		jobFor(t, scheduler.TaskAnalyzeDomain, AnalyzeDomainPayload{URL: "example.com"}))
	require.NoError(t, err)
	require.Empty(t, f.analyzer.domainCalls)
}

func TestAnalyzeDomainStaleFansOutChain(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	checked := f.clock.now.Add(-8 * 24 * time.Hour)
	f.content.domains["a.b.example.com"] = &store.Domain{URL: "a.b.example.com", LastCheckedAt: &checked}

	err := f.handlers.AnalyzeDomain(context.Background(),
		jobFor(t, scheduler.TaskAnalyzeDomain, AnalyzeDomainPayload{URL: "a.b.example.com"}))
	require.NoError(t, err)

	require.Equal(t, []string{"a.b.example.com"}, f.analyzer.domainCalls)
	require.Contains(t, f.content.domains, "b.example.com")
	require.Contains(t, f.content.domains, "example.com")
	require.Equal(t, 2, enqueuedNames(t, f.jobs)[scheduler.TaskAnalyzeDomain])
}

func TestAnalyzeDomainInvalidHostIsPermanent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.handlers.AnalyzeDomain(context.Background(),
		jobFor(t, scheduler.TaskAnalyzeDomain, AnalyzeDomainPayload{URL: "http://10.0.0.1/x"}))
	require.Error(t, err)
	require.True(t, scheduler.IsPermanent(err))
}

func TestAnalyzePostMissingRowIsPermanent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.handlers.AnalyzePost(context.Background(),
		jobFor(t, scheduler.TaskAnalyzePost, AnalyzePostPayload{ID: "cid-gone"}))
	require.Error(t, err)
	require.True(t, scheduler.IsPermanent(err))
}

func TestAnalyzePostNeverAnalyzedDispatches(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	indexed := f.clock.now.Add(-time.Hour)
	f.content.posts["cid-1"] = &store.Post{ID: "cid-1", IndexedAt: &indexed}

	err := f.handlers.AnalyzePost(context.Background(),
		jobFor(t, scheduler.TaskAnalyzePost, AnalyzePostPayload{ID: "cid-1"}))
	require.NoError(t, err)
	require.Equal(t, []string{"cid-1"}, f.analyzer.postCalls)
}

func TestAnalyzePostNeverIndexedIsPermanent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.content.posts["cid-1"] = &store.Post{ID: "cid-1"}

	err := f.handlers.AnalyzePost(context.Background(),
		jobFor(t, scheduler.TaskAnalyzePost, AnalyzePostPayload{ID: "cid-1"}))
	require.Error(t, err)
	require.True(t, scheduler.IsPermanent(err))
	require.Empty(t, f.analyzer.postCalls)
}

func TestSweepReseedsStaleResources(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.content.unchecked = []store.Domain{
		{URL: "a.example.com"}, {URL: "b.example.com"}, {URL: "c.example.com"},
	}
	f.content.unanalyzed = []store.Post{{ID: "cid-1"}}

	err := f.handlers.Sweep(context.Background(),
		jobFor(t, scheduler.TaskSweep, struct{}{}))
	require.NoError(t, err)

	counts := enqueuedNames(t, f.jobs)
	require.Equal(t, 3, counts[scheduler.TaskAnalyzeDomain])
	require.Equal(t, 1, counts[scheduler.TaskAnalyzePost])
	require.Zero(t, counts[scheduler.TaskStoreActorProfile])

	for _, j := range f.jobs.Snapshot() {
		if j.Name == scheduler.TaskAnalyzePost {
			require.Equal(t, scheduler.PrioritySweepPostAnalysis, j.Priority)
			require.Equal(t, scheduler.QueueAnalyzePosts, j.QueueName)
		}
	}
}

func TestSweepScanFailureIsIsolated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.content.unparsedErr = fmt.Errorf("users table unavailable")
	f.content.unchecked = []store.Domain{{URL: "a.example.com"}}

	err := f.handlers.Sweep(context.Background(),
		jobFor(t, scheduler.TaskSweep, struct{}{}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "users table unavailable")
	// The domain scan still ran.
	require.Equal(t, 1, enqueuedNames(t, f.jobs)[scheduler.TaskAnalyzeDomain])
}

func TestRegistryUnknownTaskIsPermanent(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(zap.NewNop())
	newFixture(t).handlers.RegisterAll(reg)
	require.True(t, reg.Known(scheduler.TaskStorePosts))

	err := reg.Dispatch(context.Background(), &scheduler.Job{Name: "reticulate-splines"})
	require.Error(t, err)
	require.True(t, scheduler.IsPermanent(err))
}
