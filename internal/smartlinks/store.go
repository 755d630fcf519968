// Package smartlinks persists SmartLinks: quota-gated creation with resolver-assisted
// defaults, scoped reads and updates, and atomic deletion.
package smartlinks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mdmcmusicads/smartlink/internal/analytics"
	"github.com/mdmcmusicads/smartlink/internal/platforms"
	"github.com/mdmcmusicads/smartlink/internal/resolver"
	"github.com/mdmcmusicads/smartlink/internal/users"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

var (
	// ErrNotFound indicates the SmartLink is missing or outside the caller's scope.
	ErrNotFound = errors.New("smartlinks: not found")
	// ErrOwnerNotFound indicates the creating user has no account.
	ErrOwnerNotFound = errors.New("smartlinks: owner account not found")
	// ErrTitleRequired indicates neither the caller nor the resolver supplied a title.
	ErrTitleRequired = errors.New("smartlinks: title required")
	// ErrSourceURLRequired indicates a refetch was requested for a link without a source URL.
	ErrSourceURLRequired = errors.New("smartlinks: source url required")
	// ErrResolverUnavailable indicates a source URL was supplied but no resolver is wired.
	ErrResolverUnavailable = errors.New("smartlinks: resolver unavailable")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// QuotaExceededError reports that the owner's plan does not allow another SmartLink.
type QuotaExceededError struct {
	Plan  string
	Limit int64
}

func (e *QuotaExceededError) Error() string {
	if e.Plan == users.PlanFree {
		return fmt.Sprintf("smartlinks: free plan limit reached (%d links max), upgrade to pro", e.Limit)
	}
	return fmt.Sprintf("smartlinks: %s plan limit reached (%d links max)", e.Plan, e.Limit)
}

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
	opStoreNew    = "smartlinks.store.new"
	opCreate      = "smartlinks.create"
	opUpdate      = "smartlinks.update"
	opGet         = "smartlinks.get"
	opList        = "smartlinks.list"
	opDelete      = "smartlinks.delete"
	opClickCount  = "smartlinks.increment_click_count"
	opOwnerLookup = "smartlinks.owner_of"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Resolver supplies default metadata and platforms for a source URL.
type Resolver interface {
	Resolve(ctx context.Context, sourceURL string) (resolver.Aggregate, error)
}

// StoreConfig wires the store. Resolver may be nil when links are always created manually.
type StoreConfig struct {
	Database      *gorm.DB
	Resolver      Resolver
	IDs           IDProvider
	Slugs         *SlugGenerator
	PublicBaseURL string
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Store manages SmartLink records.
type Store struct {
	db            *gorm.DB
	resolver      Resolver
	ids           IDProvider
	slugs         *SlugGenerator
	publicBaseURL string
	clock         func() time.Time
	logger        *zap.Logger
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	ids := cfg.IDs
	if ids == nil {
		ids = NewUUIDProvider()
	}
	slugs := cfg.Slugs
	if slugs == nil {
		slugs = NewSlugGenerator()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:            cfg.Database,
		resolver:      cfg.Resolver,
		ids:           ids,
		slugs:         slugs,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		clock:         clock,
		logger:        logger,
	}, nil
}

// PublicURL returns the landing page address for slug.
func (s *Store) PublicURL(slug string) string {
	return fmt.Sprintf("%s/s/%s", s.publicBaseURL, slug)
}

// Create inserts a SmartLink for ownerID. When input.SourceURL is set it is resolved first
// and the aggregate fills any field the caller left empty. The quota check, slug allocation,
// insert and owner counter increment share one transaction.
func (s *Store) Create(ctx context.Context, ownerID string, input CreateInput) (SmartLink, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return SmartLink{}, ErrOwnerNotFound
	}
	if _, err := s.checkQuota(s.db.WithContext(ctx), ownerID); err != nil {
		return SmartLink{}, err
	}

	callerPlatforms, err := platforms.Normalize(input.Platforms)
	if err != nil {
		return SmartLink{}, err
	}

	link := SmartLink{
		SourceURL:       strings.TrimSpace(input.SourceURL),
		Title:           strings.TrimSpace(input.Title),
		Artist:          strings.TrimSpace(input.Artist),
		Description:     input.Description,
		CoverImageURL:   strings.TrimSpace(input.CoverImageURL),
		PreviewAudioURL: strings.TrimSpace(input.PreviewAudioURL),
		Template:        strings.TrimSpace(input.Template),
		IsActive:        true,
	}
	if link.Template == "" {
		link.Template = defaultTemplate
	}
	customization := DefaultCustomization()
	if input.Customization != nil {
		customization = mergeCustomization(customization, *input.Customization)
	}
	link.Customization = datatypes.NewJSONType(customization)
	pixels := TrackingPixels{}
	if input.TrackingPixels != nil {
		pixels = *input.TrackingPixels
	}
	link.TrackingPixels = datatypes.NewJSONType(pixels)
	if input.IsActive != nil {
		link.IsActive = *input.IsActive
	}

	linkPlatforms := callerPlatforms
	if link.SourceURL != "" {
		aggregate, err := s.resolve(ctx, opCreate, link.SourceURL)
		if err != nil {
			return SmartLink{}, err
		}
		link.SourceURL = aggregate.sourceURL
		applyAggregateDefaults(&link, aggregate.Aggregate)
		if len(linkPlatforms) == 0 {
			linkPlatforms = aggregate.Platforms
		}
		link.Resolution = datatypes.NewJSONType(aggregate.Aggregate)
		resolvedAt := s.clock().UTC().Unix()
		link.ResolvedAtSeconds = &resolvedAt
	}
	if linkPlatforms == nil {
		linkPlatforms = []platforms.Platform{}
	}
	link.Platforms = datatypes.NewJSONType(linkPlatforms)
	if link.Title == "" {
		return SmartLink{}, ErrTitleRequired
	}

	id, err := s.ids.NewID()
	if err != nil {
		return SmartLink{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	now := s.clock().UTC().Unix()
	link.ID = id
	link.UserID = ownerID
	link.CreatedAtSeconds = now
	link.UpdatedAtSeconds = now

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.checkQuota(tx, ownerID); err != nil {
			return err
		}
		slug, err := s.slugs.Generate(ctx, func(_ context.Context, candidate string) (bool, error) {
			var count int64
			if err := tx.Model(&SmartLink{}).Where("slug = ?", candidate).Count(&count).Error; err != nil {
				return false, newServiceError(opCreate, "slug_lookup_failed", err)
			}
			return count > 0, nil
		})
		if err != nil {
			return err
		}
		link.Slug = slug
		if err := tx.Create(&link).Error; err != nil {
			return newServiceError(opCreate, "insert_failed", err)
		}
		if err := tx.Model(&users.Account{}).
			Where("user_id = ?", ownerID).
			UpdateColumn("smartlinks_count", gorm.Expr("smartlinks_count + 1")).Error; err != nil {
			return newServiceError(opCreate, "counter_update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, ErrSlugSpaceExhausted) {
			s.loggerOrDefault().Error("slug space exhausted", zap.String("user_id", ownerID), zap.Error(txErr))
		} else if isServiceError(txErr) {
			s.logError(opCreate, "transaction_failed", txErr, zap.String("user_id", ownerID))
		}
		return SmartLink{}, txErr
	}
	s.loggerOrDefault().Info("smartlink created",
		zap.String("smartlink_id", link.ID),
		zap.String("slug", link.Slug),
		zap.String("user_id", ownerID))
	return link, nil
}

func (s *Store) checkQuota(db *gorm.DB, ownerID string) (users.Account, error) {
	var account users.Account
	err := db.Where("user_id = ?", ownerID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return users.Account{}, ErrOwnerNotFound
	}
	if err != nil {
		s.logError(opCreate, "owner_lookup_failed", err, zap.String("user_id", ownerID))
		return users.Account{}, newServiceError(opCreate, "owner_lookup_failed", err)
	}
	limit := users.QuotaFor(account.Plan)
	if account.SmartLinkCount >= limit {
		return account, &QuotaExceededError{Plan: users.NormalizePlan(account.Plan), Limit: limit}
	}
	return account, nil
}

type resolvedSource struct {
	resolver.Aggregate
	sourceURL string
}

func (s *Store) resolve(ctx context.Context, operation, sourceURL string) (resolvedSource, error) {
	normalized, err := resolver.ValidateSourceURL(sourceURL)
	if err != nil {
		return resolvedSource{}, err
	}
	if s.resolver == nil {
		return resolvedSource{}, ErrResolverUnavailable
	}
	aggregate, err := s.resolver.Resolve(ctx, normalized)
	if err != nil {
		s.loggerOrDefault().Warn("source resolution failed",
			zap.String("operation", operation),
			zap.String("source_url", normalized),
			zap.Error(err))
		return resolvedSource{}, err
	}
	return resolvedSource{Aggregate: aggregate, sourceURL: normalized}, nil
}

func applyAggregateDefaults(link *SmartLink, aggregate resolver.Aggregate) {
	if link.Title == "" {
		link.Title = aggregate.Title
	}
	if link.Artist == "" {
		link.Artist = aggregate.Artist
	}
	if link.CoverImageURL == "" {
		link.CoverImageURL = aggregate.CoverURL
	}
}

func mergeCustomization(base, override Customization) Customization {
	if value := strings.TrimSpace(override.PrimaryColor); value != "" {
		base.PrimaryColor = value
	}
	if value := strings.TrimSpace(override.BackgroundColor); value != "" {
		base.BackgroundColor = value
	}
	if value := strings.TrimSpace(override.TextColor); value != "" {
		base.TextColor = value
	}
	return base
}

// Update applies the non-nil fields of input to the SmartLink visible within scope.
// With opts.Refetch the source URL is resolved again and the resolution payload stored;
// opts.ReplacePlatforms additionally swaps in the resolved platform list.
func (s *Store) Update(ctx context.Context, smartLinkID string, scope users.Scope, input UpdateInput, opts UpdateOptions) (SmartLink, error) {
	current, err := s.GetByID(ctx, smartLinkID, scope)
	if err != nil {
		return SmartLink{}, err
	}

	updates := map[string]interface{}{}
	setString := func(column string, value *string, trim bool) {
		if value == nil {
			return
		}
		if trim {
			updates[column] = strings.TrimSpace(*value)
			return
		}
		updates[column] = *value
	}
	setString("title", input.Title, true)
	setString("artist", input.Artist, true)
	setString("description", input.Description, false)
	setString("cover_url", input.CoverImageURL, true)
	setString("preview_audio_url", input.PreviewAudioURL, true)
	setString("template", input.Template, true)
	if title, ok := updates["title"].(string); ok && title == "" {
		return SmartLink{}, ErrTitleRequired
	}
	if template, ok := updates["template"].(string); ok && template == "" {
		updates["template"] = defaultTemplate
	}
	if input.IsActive != nil {
		updates["is_active"] = *input.IsActive
	}
	if input.Customization != nil {
		updates["customization"] = datatypes.NewJSONType(mergeCustomization(current.Customization.Data(), *input.Customization))
	}
	if input.TrackingPixels != nil {
		updates["tracking_pixels"] = datatypes.NewJSONType(*input.TrackingPixels)
	}
	if input.Platforms != nil {
		normalized, err := platforms.Normalize(*input.Platforms)
		if err != nil {
			return SmartLink{}, err
		}
		updates["platforms"] = datatypes.NewJSONType(normalized)
	}

	sourceURL := current.SourceURL
	if input.SourceURL != nil {
		sourceURL = strings.TrimSpace(*input.SourceURL)
		if sourceURL != "" {
			if sourceURL, err = resolver.ValidateSourceURL(sourceURL); err != nil {
				return SmartLink{}, err
			}
		}
		updates["source_url"] = sourceURL
	}
	if opts.Refetch {
		if sourceURL == "" {
			return SmartLink{}, ErrSourceURLRequired
		}
		resolved, err := s.resolve(ctx, opUpdate, sourceURL)
		if err != nil {
			return SmartLink{}, err
		}
		resolvedAt := s.clock().UTC().Unix()
		updates["resolution_payload"] = datatypes.NewJSONType(resolved.Aggregate)
		updates["resolved_at_s"] = resolvedAt
		if opts.ReplacePlatforms {
			updates["platforms"] = datatypes.NewJSONType(resolved.Platforms)
		}
	}
	if len(updates) == 0 {
		return current, nil
	}
	updates["updated_at_s"] = s.clock().UTC().Unix()

	result := s.db.WithContext(ctx).Model(&SmartLink{}).Where("id = ?", current.ID).Updates(updates)
	if result.Error != nil {
		s.logError(opUpdate, "update_failed", result.Error, zap.String("smartlink_id", current.ID))
		return SmartLink{}, newServiceError(opUpdate, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return SmartLink{}, ErrNotFound
	}
	return s.GetByID(ctx, current.ID, scope)
}

// GetByID loads a SmartLink visible within scope.
func (s *Store) GetByID(ctx context.Context, smartLinkID string, scope users.Scope) (SmartLink, error) {
	if err := scope.Validate(); err != nil {
		return SmartLink{}, err
	}
	query := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(smartLinkID))
	if !scope.Admin {
		query = query.Where("user_id = ?", scope.OwnerID)
	}
	var link SmartLink
	err := query.Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SmartLink{}, ErrNotFound
	}
	if err != nil {
		s.logError(opGet, "select_failed", err, zap.String("smartlink_id", smartLinkID))
		return SmartLink{}, newServiceError(opGet, "select_failed", err)
	}
	return link, nil
}

// GetBySlug loads an active SmartLink for public rendering.
func (s *Store) GetBySlug(ctx context.Context, slug string) (SmartLink, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return SmartLink{}, ErrNotFound
	}
	var link SmartLink
	err := s.db.WithContext(ctx).Where("slug = ? AND is_active = ?", slug, true).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SmartLink{}, ErrNotFound
	}
	if err != nil {
		s.logError(opGet, "slug_select_failed", err, zap.String("slug", slug))
		return SmartLink{}, newServiceError(opGet, "slug_select_failed", err)
	}
	return link, nil
}

// List pages through SmartLinks visible within scope, newest first. Search matches title and
// artist case-insensitively; admin listings also match the owner's display name.
func (s *Store) List(ctx context.Context, scope users.Scope, opts ListOptions) (ListResult, error) {
	if err := scope.Validate(); err != nil {
		return ListResult{}, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	search := strings.ToLower(strings.TrimSpace(opts.Search))

	var total int64
	if err := s.listQuery(ctx, scope, search).Count(&total).Error; err != nil {
		s.logError(opList, "count_failed", err)
		return ListResult{}, newServiceError(opList, "count_failed", err)
	}

	items := make([]ListItem, 0, limit)
	query := s.listQuery(ctx, scope, search)
	if scope.Admin {
		query = query.Select("smartlinks.*, accounts.display_name AS owner_display_name, accounts.email AS owner_email")
	} else {
		query = query.Select("smartlinks.*")
	}
	err := query.
		Order("smartlinks.created_at_s DESC").
		Order("smartlinks.id DESC").
		Limit(limit).
		Offset(offset).
		Scan(&items).Error
	if err != nil {
		s.logError(opList, "select_failed", err)
		return ListResult{}, newServiceError(opList, "select_failed", err)
	}
	return ListResult{
		Items:   items,
		Total:   total,
		HasMore: int64(offset+len(items)) < total,
	}, nil
}

func (s *Store) listQuery(ctx context.Context, scope users.Scope, search string) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&SmartLink{})
	if scope.Admin {
		query = query.Joins("LEFT JOIN accounts ON accounts.user_id = smartlinks.user_id")
	} else {
		query = query.Where("smartlinks.user_id = ?", scope.OwnerID)
	}
	if search == "" {
		return query
	}
	pattern := "%" + escapeLike(search) + "%"
	if scope.Admin {
		return query.Where(
			`LOWER(smartlinks.title) LIKE ? ESCAPE '\' OR LOWER(smartlinks.artist) LIKE ? ESCAPE '\' OR LOWER(COALESCE(accounts.display_name, '')) LIKE ? ESCAPE '\'`,
			pattern, pattern, pattern)
	}
	return query.Where(`LOWER(smartlinks.title) LIKE ? ESCAPE '\' OR LOWER(smartlinks.artist) LIKE ? ESCAPE '\'`, pattern, pattern)
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

// Delete removes the SmartLink visible within scope together with its analytics record and
// decrements the owner's counter, all in one transaction. It reports false when nothing
// matched.
func (s *Store) Delete(ctx context.Context, smartLinkID string, scope users.Scope) (bool, error) {
	if err := scope.Validate(); err != nil {
		return false, err
	}
	smartLinkID = strings.TrimSpace(smartLinkID)
	deleted := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("id = ?", smartLinkID)
		if !scope.Admin {
			query = query.Where("user_id = ?", scope.OwnerID)
		}
		var link SmartLink
		err := query.Take(&link).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return newServiceError(opDelete, "select_failed", err)
		}
		if err := tx.Where("smartlink_id = ?", link.ID).Delete(&analytics.Record{}).Error; err != nil {
			return newServiceError(opDelete, "analytics_delete_failed", err)
		}
		if err := tx.Where("id = ?", link.ID).Delete(&SmartLink{}).Error; err != nil {
			return newServiceError(opDelete, "delete_failed", err)
		}
		if err := tx.Model(&users.Account{}).
			Where("user_id = ?", link.UserID).
			UpdateColumn("smartlinks_count", gorm.Expr("CASE WHEN smartlinks_count > 0 THEN smartlinks_count - 1 ELSE 0 END")).Error; err != nil {
			return newServiceError(opDelete, "counter_update_failed", err)
		}
		deleted = true
		return nil
	})
	if txErr != nil {
		s.logError(opDelete, "transaction_failed", txErr, zap.String("smartlink_id", smartLinkID))
		return false, txErr
	}
	return deleted, nil
}

// IncrementClickCount bumps the coarse per-link counter and reports whether the link exists.
func (s *Store) IncrementClickCount(ctx context.Context, smartLinkID string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&SmartLink{}).
		Where("id = ?", smartLinkID).
		UpdateColumn("click_count", gorm.Expr("click_count + 1"))
	if result.Error != nil {
		s.logError(opClickCount, "update_failed", result.Error, zap.String("smartlink_id", smartLinkID))
		return false, newServiceError(opClickCount, "update_failed", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// OwnerOf returns the owning user id of a SmartLink.
func (s *Store) OwnerOf(ctx context.Context, smartLinkID string) (string, bool, error) {
	var link SmartLink
	err := s.db.WithContext(ctx).Select("id", "user_id").Where("id = ?", smartLinkID).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, newServiceError(opOwnerLookup, "select_failed", err)
	}
	return link.UserID, true, nil
}

func isServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("smartlink store error", attrs...)
}

var _ analytics.LinkDirectory = (*Store)(nil)
