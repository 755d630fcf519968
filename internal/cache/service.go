// Package cache persists aggregation results per source URL with TTL, hit counting and
// stale retrieval.
package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultTTL is applied by Put when no positive TTL is supplied.
	DefaultTTL          = 24 * time.Hour
	defaultPopularLimit = 10
	maxPopularLimit     = 100
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingSourceURL = errors.New("source url is required")
	noOpLogger          = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "cache.service.new"
	opGet        = "cache.get"
	opGetStale   = "cache.get_stale"
	opPut        = "cache.put"
	opCleanup    = "cache.cleanup_expired"
	opStats      = "cache.stats"
	opPopular    = "cache.popular"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	TTL      time.Duration
	Logger   *zap.Logger
}

// Service is the resolution cache.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	ttl    time.Duration
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, ttl: ttl, logger: logger}, nil
}

// TTL reports the default time-to-live applied by Put.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Get returns the entry only while it is unexpired and counts the hit.
func (s *Service) Get(ctx context.Context, sourceURL string) (Entry, bool, error) {
	key := normalizeKey(sourceURL)
	if key == "" {
		return Entry{}, false, newServiceError(opGet, "missing_source_url", errMissingSourceURL)
	}
	now := s.clock().UTC().Unix()

	var entry Entry
	found := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Entry{}).
			Where("source_url = ? AND expires_at_s > ?", key, now).
			UpdateColumn("hit_count", gorm.Expr("hit_count + 1"))
		if result.Error != nil {
			return newServiceError(opGet, "hit_increment_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		if err := tx.Where("source_url = ?", key).Take(&entry).Error; err != nil {
			return newServiceError(opGet, "select_failed", err)
		}
		found = true
		return nil
	})
	if txErr != nil {
		s.logError(opGet, "transaction_failed", txErr, zap.String("source_url", key))
		return Entry{}, false, txErr
	}
	return entry, found, nil
}

// GetStale returns the entry regardless of expiry and leaves the hit counter untouched.
func (s *Service) GetStale(ctx context.Context, sourceURL string) (Entry, bool, error) {
	key := normalizeKey(sourceURL)
	if key == "" {
		return Entry{}, false, newServiceError(opGetStale, "missing_source_url", errMissingSourceURL)
	}
	var entry Entry
	err := s.db.WithContext(ctx).
		Where("source_url = ?", key).
		Order("created_at_s DESC").
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		s.logError(opGetStale, "select_failed", err, zap.String("source_url", key))
		return Entry{}, false, newServiceError(opGetStale, "select_failed", err)
	}
	return entry, true, nil
}

// Put upserts the payload. An existing row is overwritten, its hit counter incremented and
// its expiry reset to now+ttl. A non-positive ttl applies the service default.
func (s *Service) Put(ctx context.Context, sourceURL string, payload []byte, meta Metadata, ttl time.Duration) (Entry, error) {
	key := normalizeKey(sourceURL)
	if key == "" {
		return Entry{}, newServiceError(opPut, "missing_source_url", errMissingSourceURL)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.clock().UTC()

	entry := Entry{
		SourceURL:        key,
		PayloadJSON:      datatypes.JSON(payload),
		EntityID:         meta.EntityID,
		Title:            meta.Title,
		Artist:           meta.Artist,
		ThumbnailURL:     meta.ThumbnailURL,
		PlatformCount:    meta.PlatformCount,
		CreatedAtSeconds: now.Unix(),
		ExpiresAtSeconds: now.Add(ttl).Unix(),
		HitCount:         1,
	}

	updates := clause.AssignmentColumns([]string{
		"payload_json",
		"entity_id",
		"title",
		"artist",
		"thumbnail_url",
		"platform_count",
		"expires_at_s",
	})
	updates = append(updates, clause.Assignment{
		Column: clause.Column{Name: "hit_count"},
		Value:  gorm.Expr(entry.TableName() + ".hit_count + 1"),
	})

	db := s.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_url"}},
		DoUpdates: updates,
	}).Create(&entry).Error; err != nil {
		s.logError(opPut, "upsert_failed", err, zap.String("source_url", key))
		return Entry{}, newServiceError(opPut, "upsert_failed", err)
	}

	var stored Entry
	if err := db.Where("source_url = ?", key).Take(&stored).Error; err != nil {
		s.logError(opPut, "reload_failed", err, zap.String("source_url", key))
		return Entry{}, newServiceError(opPut, "reload_failed", err)
	}
	return stored, nil
}

// CleanupExpired deletes every entry whose expiry is not in the future and reports the count.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.clock().UTC().Unix()
	result := s.db.WithContext(ctx).Where("expires_at_s <= ?", now).Delete(&Entry{})
	if result.Error != nil {
		s.logError(opCleanup, "delete_failed", result.Error)
		return 0, newServiceError(opCleanup, "delete_failed", result.Error)
	}
	s.loggerOrDefault().Info("resolution cache cleanup", zap.Int64("deleted", result.RowsAffected))
	return result.RowsAffected, nil
}

type statsRow struct {
	TotalEntries   int64
	ValidEntries   int64
	ExpiredEntries int64
	TotalHits      int64
	AvgPlatforms   float64
	LastCachedS    int64
}

// Stats aggregates the table. On failure the zero Stats (CacheEnabled=false) is returned
// together with the error.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	now := s.clock().UTC().Unix()
	var row statsRow
	err := s.db.WithContext(ctx).
		Model(&Entry{}).
		Select(`COUNT(*) AS total_entries,
			COALESCE(SUM(CASE WHEN expires_at_s > ? THEN 1 ELSE 0 END), 0) AS valid_entries,
			COALESCE(SUM(CASE WHEN expires_at_s <= ? THEN 1 ELSE 0 END), 0) AS expired_entries,
			COALESCE(SUM(hit_count), 0) AS total_hits,
			COALESCE(AVG(platform_count), 0) AS avg_platforms,
			COALESCE(MAX(created_at_s), 0) AS last_cached_s`, now, now).
		Scan(&row).Error
	if err != nil {
		s.logError(opStats, "query_failed", err)
		return Stats{}, newServiceError(opStats, "query_failed", err)
	}

	stats := Stats{
		TotalEntries:     row.TotalEntries,
		ValidEntries:     row.ValidEntries,
		ExpiredEntries:   row.ExpiredEntries,
		TotalHits:        row.TotalHits,
		AvgPlatformCount: math.Round(row.AvgPlatforms*10) / 10,
		CacheEnabled:     true,
	}
	if row.LastCachedS > 0 {
		lastCached := time.Unix(row.LastCachedS, 0).UTC()
		stats.LastCachedAt = &lastCached
	}
	return stats, nil
}

// Popular lists titled entries by hit count, most recent first among ties.
func (s *Service) Popular(ctx context.Context, limit int) ([]PopularEntry, error) {
	if limit <= 0 {
		limit = defaultPopularLimit
	}
	if limit > maxPopularLimit {
		limit = maxPopularLimit
	}
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("title <> '' AND artist <> ''").
		Order("hit_count DESC").
		Order("created_at_s DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		s.logError(opPopular, "query_failed", err)
		return nil, newServiceError(opPopular, "query_failed", err)
	}

	popular := make([]PopularEntry, 0, len(entries))
	for _, entry := range entries {
		popular = append(popular, PopularEntry{
			SourceURL:     entry.SourceURL,
			Title:         entry.Title,
			Artist:        entry.Artist,
			HitCount:      entry.HitCount,
			PlatformCount: entry.PlatformCount,
			CreatedAt:     entry.CreatedAt(),
		})
	}
	return popular, nil
}

func normalizeKey(sourceURL string) string {
	return strings.TrimSpace(sourceURL)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("resolution cache error", attrs...)
}
