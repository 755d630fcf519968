package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/mdmcmusicads/smartlink/internal/cache"
	"github.com/mdmcmusicads/smartlink/internal/odesli"
	"github.com/mdmcmusicads/smartlink/internal/platforms"
	"github.com/mdmcmusicads/smartlink/internal/ratelimit"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const spotifySource = "https://open.spotify.com/track/abc123"

const upstreamDocument = `{
  "pageUrl": "https://song.link/s/abc123",
  "entitiesByUniqueId": {
    "ITUNES_SONG::1": {"title": "Apple Title", "artistName": "Apple Artist", "thumbnailUrl": "https://img/apple.jpg"},
    "SPOTIFY_SONG::abc123": {"title": "Song", "artistName": "Artist", "thumbnailUrl": "https://img/spotify.jpg"}
  },
  "linksByPlatform": {
    "bandcamp": {"url": "https://artist.bandcamp.com/track/song"},
    "spotify": {"url": "https://open.spotify.com/track/abc123"},
    "napster": {"url": "https://napster.com/track/1"},
    "deezer": {"url": "https://www.deezer.com/track/1"}
  }
}`

type stubFetcher struct {
	mu    sync.Mutex
	calls int
	raw   []byte
	err   error
}

func (f *stubFetcher) FetchLinks(_ context.Context, _ string) (odesli.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return odesli.Result{}, f.err
	}
	response, err := odesli.Decode(f.raw)
	if err != nil {
		return odesli.Result{}, err
	}
	return odesli.Result{Raw: f.raw, Response: response}, nil
}

func (f *stubFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testHarness struct {
	resolver *Resolver
	cache    *cache.Service
	db       *gorm.DB
	fetcher  *stubFetcher
	clock    *testClock
}

func newHarness(t *testing.T, limit int, logger *zap.Logger) testHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:resolver_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&cache.Entry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
	cacheService, err := cache.NewService(cache.ServiceConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build cache: %v", err)
	}
	limiter, err := ratelimit.NewFixedWindow(ratelimit.FixedWindowConfig{Limit: limit, Window: time.Minute, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build limiter: %v", err)
	}
	fetcher := &stubFetcher{raw: []byte(upstreamDocument)}
	resolver, err := New(Config{Cache: cacheService, Fetcher: fetcher, Limiter: limiter, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build resolver: %v", err)
	}
	return testHarness{resolver: resolver, cache: cacheService, db: db, fetcher: fetcher, clock: clock}
}

func storedHitCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var entry cache.Entry
	if err := db.Where("source_url = ?", spotifySource).Take(&entry).Error; err != nil {
		t.Fatalf("failed to load cache entry: %v", err)
	}
	return entry.HitCount
}

func TestResolveSelectsSpotifyEntityAndSortsPlatforms(t *testing.T) {
	harness := newHarness(t, 10, nil)

	aggregate, err := harness.resolver.Resolve(context.Background(), spotifySource)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if aggregate.Title != "Song" || aggregate.Artist != "Artist" || aggregate.CoverURL != "https://img/spotify.jpg" {
		t.Fatalf("expected spotify entity metadata, got %+v", aggregate)
	}
	if aggregate.EntityID != "SPOTIFY_SONG::abc123" {
		t.Fatalf("unexpected entity id %q", aggregate.EntityID)
	}
	expected := []platforms.Key{platforms.KeySpotify, platforms.KeyDeezer, platforms.KeyBandcamp}
	if len(aggregate.Platforms) != len(expected) {
		t.Fatalf("expected %d platforms, got %d", len(expected), len(aggregate.Platforms))
	}
	for index, key := range expected {
		if aggregate.Platforms[index].Key != key {
			t.Fatalf("position %d: expected %s, got %s", index, key, aggregate.Platforms[index].Key)
		}
	}
	if aggregate.Stale || aggregate.Cached {
		t.Fatalf("expected a live result, got stale=%v cached=%v", aggregate.Stale, aggregate.Cached)
	}
}

func TestResolveFollowsCacheLifecycle(t *testing.T) {
	harness := newHarness(t, 10, nil)
	ctx := context.Background()

	first, err := harness.resolver.Resolve(ctx, spotifySource)
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	if got := storedHitCount(t, harness.db); got != 1 {
		t.Fatalf("expected hit count 1 after first resolution, got %d", got)
	}

	harness.clock.Advance(time.Hour)
	second, err := harness.resolver.Resolve(ctx, spotifySource)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if !second.Cached || harness.fetcher.Calls() != 1 {
		t.Fatalf("expected cache hit without an outbound call")
	}
	if second.Title != first.Title || len(second.Platforms) != len(first.Platforms) {
		t.Fatalf("expected identical fields from cache")
	}
	if got := storedHitCount(t, harness.db); got != 2 {
		t.Fatalf("expected hit count 2 after cache hit, got %d", got)
	}

	harness.clock.Advance(24 * time.Hour)
	harness.fetcher.err = errors.New("dial tcp: connection refused")
	third, err := harness.resolver.Resolve(ctx, spotifySource)
	if err != nil {
		t.Fatalf("expected stale fallback, got %v", err)
	}
	if !third.Stale {
		t.Fatalf("expected stale indicator")
	}
	if third.Title != first.Title || third.EntityID != first.EntityID {
		t.Fatalf("expected stale fields to match, got %+v", third)
	}
	if got := storedHitCount(t, harness.db); got != 2 {
		t.Fatalf("expected stale path to leave hit count at 2, got %d", got)
	}
}

func TestResolvePropagatesFailureWithoutCache(t *testing.T) {
	harness := newHarness(t, 10, nil)
	upstreamErr := &odesli.StatusError{Status: 502}
	harness.fetcher.err = upstreamErr

	_, err := harness.resolver.Resolve(context.Background(), spotifySource)
	var statusErr *odesli.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != 502 {
		t.Fatalf("expected upstream error to propagate, got %v", err)
	}
}

func TestResolveFallsBackOnUpstreamFailures(t *testing.T) {
	failures := []error{
		&odesli.StatusError{Status: 429},
		&odesli.StatusError{Status: 500},
		&odesli.StatusError{Status: 404},
		fmt.Errorf("%w after 10s", odesli.ErrTimeout),
		fmt.Errorf("%w: bad json", odesli.ErrMalformedResponse),
	}
	for _, failure := range failures {
		t.Run(failure.Error(), func(t *testing.T) {
			harness := newHarness(t, 10, nil)
			ctx := context.Background()
			if _, err := harness.resolver.Resolve(ctx, spotifySource); err != nil {
				t.Fatalf("seed resolve failed: %v", err)
			}
			harness.clock.Advance(25 * time.Hour)
			harness.fetcher.err = failure

			aggregate, err := harness.resolver.Resolve(ctx, spotifySource)
			if err != nil {
				t.Fatalf("expected stale fallback, got %v", err)
			}
			if !aggregate.Stale {
				t.Fatalf("expected stale flag")
			}
		})
	}
}

func TestResolveRateLimitDoesNotFallBack(t *testing.T) {
	harness := newHarness(t, 1, nil)
	ctx := context.Background()

	if _, err := harness.resolver.Resolve(ctx, spotifySource); err != nil {
		t.Fatalf("seed resolve failed: %v", err)
	}
	if _, err := harness.cache.Put(ctx, spotifySource, []byte(upstreamDocument), cache.Metadata{Title: "Song"}, time.Second); err != nil {
		t.Fatalf("failed to shorten ttl: %v", err)
	}
	harness.clock.Advance(2 * time.Second)

	_, err := harness.resolver.Resolve(ctx, spotifySource)
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected errors.Is ErrRateLimited")
	}
	if limited.RetryAfterSeconds() <= 0 {
		t.Fatalf("expected positive retry after, got %d", limited.RetryAfterSeconds())
	}
	if harness.fetcher.Calls() != 1 {
		t.Fatalf("expected no outbound call while limited")
	}
}

func TestResolveCacheHitBypassesLimiter(t *testing.T) {
	harness := newHarness(t, 1, nil)
	ctx := context.Background()
	for attempt := 0; attempt < 5; attempt++ {
		if _, err := harness.resolver.Resolve(ctx, spotifySource); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", attempt, err)
		}
	}
	if harness.fetcher.Calls() != 1 {
		t.Fatalf("expected a single outbound call, got %d", harness.fetcher.Calls())
	}
}

func TestResolveDegradesWhenCacheStorageFails(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	harness := newHarness(t, 10, zap.New(core))
	if err := harness.db.Migrator().DropTable(&cache.Entry{}); err != nil {
		t.Fatalf("failed to drop cache table: %v", err)
	}

	aggregate, err := harness.resolver.Resolve(context.Background(), spotifySource)
	if err != nil {
		t.Fatalf("expected uncached resolution, got %v", err)
	}
	if aggregate.Title != "Song" {
		t.Fatalf("unexpected aggregate %+v", aggregate)
	}
	if logs.FilterMessage("resolution cache unavailable, continuing uncached").Len() != 1 {
		t.Fatalf("expected cache degradation to be logged")
	}
	if logs.FilterMessage("resolution cache write failed").Len() != 0 {
		t.Fatalf("expected no cache write once the cache is marked unavailable")
	}
}

func TestResolveRejectsInvalidSource(t *testing.T) {
	harness := newHarness(t, 10, nil)
	for _, raw := range []string{"", "not a url", "ftp://open.spotify.com/x", "https://example.com/track", "https://notspotify.com.evil.io/x"} {
		if _, err := harness.resolver.Resolve(context.Background(), raw); !errors.Is(err, ErrInvalidSourceURL) {
			t.Fatalf("%q: expected ErrInvalidSourceURL, got %v", raw, err)
		}
	}
	if harness.fetcher.Calls() != 0 {
		t.Fatalf("expected no outbound call for invalid input")
	}
}

func TestValidateSourceURLAcceptsKnownServices(t *testing.T) {
	accepted := []string{
		"https://open.spotify.com/track/1",
		"https://music.apple.com/fr/album/1",
		"https://www.youtube.com/watch?v=1",
		"https://youtu.be/1",
		"https://www.deezer.com/track/1",
		"https://soundcloud.com/a/b",
		"https://tidal.com/browse/track/1",
		"https://music.amazon.fr/albums/1",
		"https://music.amazon.co.uk/albums/1",
		"https://artist.bandcamp.com/track/x",
		"https://www.qobuz.com/album/x",
	}
	for _, raw := range accepted {
		if _, err := ValidateSourceURL(raw); err != nil {
			t.Fatalf("%q: unexpected error %v", raw, err)
		}
	}
}

func TestSelectEntityFallbacks(t *testing.T) {
	entities := odesli.NewEntities(
		[]string{"DEEZER_SONG::9", "YOUTUBE_VIDEO::1", "ITUNES_SONG::2"},
		[]odesli.Entity{{Title: "deezer"}, {Title: "youtube"}, {Title: "itunes"}},
	)
	if id, entity := SelectEntity(entities); id != "ITUNES_SONG::2" || entity.Title != "itunes" {
		t.Fatalf("expected itunes before youtube, got %s", id)
	}

	firstOnly := odesli.NewEntities([]string{"TIDAL_SONG::1", "DEEZER_SONG::2"}, []odesli.Entity{{Title: "tidal"}, {Title: "deezer"}})
	if id, _ := SelectEntity(firstOnly); id != "TIDAL_SONG::1" {
		t.Fatalf("expected first entity fallback, got %s", id)
	}

	if id, entity := SelectEntity(odesli.Entities{}); id != "" || entity.Title != "" {
		t.Fatalf("expected empty entity, got %s", id)
	}
}
