// Package analytics keeps per-SmartLink page-view and platform-click counters.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mdmcmusicads/smartlink/internal/platforms"
	"github.com/mdmcmusicads/smartlink/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultWindowDays = 30
	maxWindowDays     = 365
)

var (
	// ErrSmartLinkNotFound indicates the SmartLink is missing or outside the caller's scope.
	ErrSmartLinkNotFound = errors.New("analytics: smartlink not found")

	errMissingDatabase      = errors.New("database handle is required")
	errMissingLinkDirectory = errors.New("link directory is required")
	noOpLogger              = zap.NewNop()
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
	opServiceNew     = "analytics.service.new"
	opRecordPageView = "analytics.record_page_view"
	opRecordClick    = "analytics.record_platform_click"
	opRead           = "analytics.read"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// LinkDirectory exposes the SmartLink facts the counters depend on.
type LinkDirectory interface {
	// IncrementClickCount bumps the coarse per-link counter and reports whether the link exists.
	IncrementClickCount(ctx context.Context, smartLinkID string) (bool, error)
	// OwnerOf returns the owning user id of the link.
	OwnerOf(ctx context.Context, smartLinkID string) (string, bool, error)
}

type ServiceConfig struct {
	Database *gorm.DB
	Links    LinkDirectory
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service records and reads analytics counters.
type Service struct {
	db     *gorm.DB
	links  LinkDirectory
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Links == nil {
		return nil, newServiceError(opServiceNew, "missing_link_directory", errMissingLinkDirectory)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, links: cfg.Links, clock: clock, logger: logger}, nil
}

// RecordPageView increments the page-view counter, creating the record on first use.
func (s *Service) RecordPageView(ctx context.Context, smartLinkID string) error {
	return s.increment(ctx, opRecordPageView, smartLinkID, "page_views")
}

// RecordPlatformClick increments the counter for rawKey. Keys outside the canonical
// enumeration are logged and dropped without mutation or error.
func (s *Service) RecordPlatformClick(ctx context.Context, smartLinkID, rawKey string) error {
	key, ok := platforms.NormalizeClickKey(rawKey)
	if !ok {
		s.loggerOrDefault().Info("dropping click for unknown platform",
			zap.String("smartlink_id", smartLinkID),
			zap.String("platform", rawKey))
		return nil
	}
	return s.increment(ctx, opRecordClick, smartLinkID, clickColumns[key])
}

func (s *Service) increment(ctx context.Context, operation, smartLinkID, column string) error {
	exists, err := s.links.IncrementClickCount(ctx, smartLinkID)
	if err != nil {
		s.logError(operation, "link_counter_failed", err, zap.String("smartlink_id", smartLinkID))
		return newServiceError(operation, "link_counter_failed", err)
	}
	if !exists {
		return ErrSmartLinkNotFound
	}

	now := s.clock().UTC().Unix()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := Record{SmartLinkID: smartLinkID, CreatedAtSeconds: now, UpdatedAtSeconds: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return newServiceError(operation, "ensure_record_failed", err)
		}
		if err := tx.Model(&Record{}).
			Where("smartlink_id = ?", smartLinkID).
			UpdateColumns(map[string]interface{}{
				column:         gorm.Expr(column + " + 1"),
				"updated_at_s": now,
			}).Error; err != nil {
			return newServiceError(operation, "increment_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(operation, "transaction_failed", txErr,
			zap.String("smartlink_id", smartLinkID), zap.String("column", column))
		return txErr
	}
	return nil
}

// Read summarises the counters of a SmartLink visible within scope over windowDays.
// A link without a record yields zero totals.
func (s *Service) Read(ctx context.Context, smartLinkID string, scope users.Scope, windowDays int) (Summary, error) {
	if err := scope.Validate(); err != nil {
		return Summary{}, err
	}
	ownerID, found, err := s.links.OwnerOf(ctx, smartLinkID)
	if err != nil {
		s.logError(opRead, "owner_lookup_failed", err, zap.String("smartlink_id", smartLinkID))
		return Summary{}, newServiceError(opRead, "owner_lookup_failed", err)
	}
	if !found || !scope.Allows(ownerID) {
		return Summary{}, ErrSmartLinkNotFound
	}

	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	if windowDays > maxWindowDays {
		windowDays = maxWindowDays
	}

	var record Record
	err = s.db.WithContext(ctx).Where("smartlink_id = ?", smartLinkID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Summary{
			SmartLinkID: smartLinkID,
			Platforms:   []PlatformStat{},
			Daily:       distribute(0, 0, windowDays, s.clock()),
			WindowDays:  windowDays,
		}, nil
	}
	if err != nil {
		s.logError(opRead, "select_failed", err, zap.String("smartlink_id", smartLinkID))
		return Summary{}, newServiceError(opRead, "select_failed", err)
	}
	return summarize(record, windowDays, s.clock()), nil
}

func summarize(record Record, windowDays int, now time.Time) Summary {
	stats := make([]PlatformStat, 0, len(clickColumns))
	counts := record.clicks()
	var totalClicks int64
	for _, key := range platforms.Keys() {
		clicks := counts[key]
		totalClicks += clicks
		if clicks == 0 {
			continue
		}
		stats = append(stats, PlatformStat{Platform: key, Name: platforms.Describe(key).Name, Clicks: clicks})
	}
	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].Clicks > stats[j].Clicks
	})

	summary := Summary{
		SmartLinkID:    record.SmartLinkID,
		TotalPageViews: record.PageViews,
		TotalClicks:    totalClicks,
		Platforms:      stats,
		Daily:          distribute(record.PageViews, totalClicks, windowDays, now),
		WindowDays:     windowDays,
	}
	if len(stats) > 0 {
		top := stats[0]
		summary.TopPlatform = &top
	}
	createdAt := time.Unix(record.CreatedAtSeconds, 0).UTC()
	updatedAt := time.Unix(record.UpdatedAtSeconds, 0).UTC()
	summary.CreatedAt = &createdAt
	summary.UpdatedAt = &updatedAt
	return summary
}

// distribute spreads lifetime totals evenly over the window ending today, oldest day first.
// Remainders land on the most recent days.
func distribute(pageViews, clicks int64, days int, now time.Time) []DailyPoint {
	today := now.UTC().Truncate(24 * time.Hour)
	series := make([]DailyPoint, days)
	for index := 0; index < days; index++ {
		fromEnd := int64(days - 1 - index)
		series[index] = DailyPoint{
			Date:      today.AddDate(0, 0, -int(fromEnd)).Format("2006-01-02"),
			PageViews: share(pageViews, int64(days), fromEnd),
			Clicks:    share(clicks, int64(days), fromEnd),
		}
	}
	return series
}

func share(total, days, fromEnd int64) int64 {
	base := total / days
	if fromEnd < total%days {
		return base + 1
	}
	return base
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
	s.loggerOrDefault().Error("analytics service error", attrs...)
}
