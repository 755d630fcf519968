// Package resolver turns a single source music URL into the cross-platform aggregate,
// consulting the resolution cache first and degrading to stale data when live resolution fails.
package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/mdmcmusicads/smartlink/internal/cache"
	"github.com/mdmcmusicads/smartlink/internal/odesli"
	"github.com/mdmcmusicads/smartlink/internal/ratelimit"
	"go.uber.org/zap"
)

var (
	errMissingFetcher = errors.New("resolver: fetcher required")
	errMissingLimiter = errors.New("resolver: limiter required")
)

// Cache is the subset of the resolution cache the resolver relies on.
type Cache interface {
	Get(ctx context.Context, sourceURL string) (cache.Entry, bool, error)
	GetStale(ctx context.Context, sourceURL string) (cache.Entry, bool, error)
	Put(ctx context.Context, sourceURL string, payload []byte, meta cache.Metadata, ttl time.Duration) (cache.Entry, error)
}

// Fetcher performs the outbound aggregation call.
type Fetcher interface {
	FetchLinks(ctx context.Context, sourceURL string) (odesli.Result, error)
}

// Config wires the resolver's collaborators. Cache may be nil, in which case every call is live.
type Config struct {
	Cache   Cache
	Fetcher Fetcher
	Limiter ratelimit.Limiter
	TTL     time.Duration
	Logger  *zap.Logger
}

// Resolver implements resolve-then-cache-then-degrade.
type Resolver struct {
	cache   Cache
	fetcher Fetcher
	limiter ratelimit.Limiter
	ttl     time.Duration
	logger  *zap.Logger
}

// New constructs a Resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.Fetcher == nil {
		return nil, errMissingFetcher
	}
	if cfg.Limiter == nil {
		return nil, errMissingLimiter
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cache:   cfg.Cache,
		fetcher: cfg.Fetcher,
		limiter: cfg.Limiter,
		ttl:     ttl,
		logger:  logger,
	}, nil
}

// Resolve returns the aggregate for sourceURL.
//
// A fresh cache entry short-circuits the call. Otherwise the limiter gates a single
// outbound request; a denial is returned as *RateLimitedError without consulting stale
// data. Any failure of the outbound call or its decoding falls back to the most recent
// cached entry, expired or not, flagged with Stale. Cache storage errors disable the cache
// for the remainder of the call.
func (r *Resolver) Resolve(ctx context.Context, sourceURL string) (Aggregate, error) {
	normalized, err := ValidateSourceURL(sourceURL)
	if err != nil {
		return Aggregate{}, err
	}

	cacheAvailable := r.cache != nil
	if cacheAvailable {
		entry, hit, err := r.cache.Get(ctx, normalized)
		switch {
		case err != nil:
			r.logger.Warn("resolution cache unavailable, continuing uncached",
				zap.String("source_url", normalized), zap.Error(err))
			cacheAvailable = false
		case hit:
			aggregate, decodeErr := decodeEntry(entry)
			if decodeErr == nil {
				aggregate.Cached = true
				r.logger.Debug("resolution cache hit", zap.String("source_url", normalized))
				return aggregate, nil
			}
			r.logger.Warn("cached payload unreadable, refetching",
				zap.String("source_url", normalized), zap.Error(decodeErr))
		}
	}

	decision, err := r.limiter.Allow(ctx)
	if err != nil {
		r.logger.Warn("rate limiter unavailable, admitting call", zap.Error(err))
	} else if !decision.Allowed {
		return Aggregate{}, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	result, fetchErr := r.fetcher.FetchLinks(ctx, normalized)
	if fetchErr != nil {
		r.logger.Warn("live resolution failed",
			zap.String("source_url", normalized), zap.Error(fetchErr))
		if cacheAvailable {
			if aggregate, ok := r.staleFallback(ctx, normalized); ok {
				return aggregate, nil
			}
		}
		return Aggregate{}, fetchErr
	}

	aggregate := BuildAggregate(result.Response)
	if cacheAvailable {
		if _, err := r.cache.Put(ctx, normalized, result.Raw, metadataFor(result.Response, aggregate), r.ttl); err != nil {
			r.logger.Warn("resolution cache write failed",
				zap.String("source_url", normalized), zap.Error(err))
		}
	}
	r.logger.Info("resolved source url",
		zap.String("source_url", normalized),
		zap.String("entity_id", aggregate.EntityID),
		zap.Int("platforms", len(aggregate.Platforms)))
	return aggregate, nil
}

func (r *Resolver) staleFallback(ctx context.Context, sourceURL string) (Aggregate, bool) {
	entry, found, err := r.cache.GetStale(ctx, sourceURL)
	if err != nil {
		r.logger.Warn("stale cache lookup failed", zap.String("source_url", sourceURL), zap.Error(err))
		return Aggregate{}, false
	}
	if !found {
		return Aggregate{}, false
	}
	aggregate, err := decodeEntry(entry)
	if err != nil {
		r.logger.Warn("stale payload unreadable", zap.String("source_url", sourceURL), zap.Error(err))
		return Aggregate{}, false
	}
	aggregate.Stale = true
	aggregate.Cached = true
	r.logger.Warn("serving stale resolution",
		zap.String("source_url", sourceURL),
		zap.Time("expired_at", entry.ExpiresAt()))
	return aggregate, true
}

func decodeEntry(entry cache.Entry) (Aggregate, error) {
	response, err := odesli.Decode(entry.PayloadJSON)
	if err != nil {
		return Aggregate{}, err
	}
	return BuildAggregate(response), nil
}
