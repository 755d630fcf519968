package smartlinks

import (
	"time"

	"github.com/mdmcmusicads/smartlink/internal/platforms"
	"github.com/mdmcmusicads/smartlink/internal/resolver"
	"gorm.io/datatypes"
)

const defaultTemplate = "default"

// Customization holds the landing page colours.
type Customization struct {
	PrimaryColor    string `json:"primaryColor"`
	BackgroundColor string `json:"backgroundColor"`
	TextColor       string `json:"textColor"`
}

// DefaultCustomization is applied when a SmartLink is created without one.
func DefaultCustomization() Customization {
	return Customization{PrimaryColor: "#1976d2", BackgroundColor: "#ffffff", TextColor: "#333333"}
}

// TrackingPixels stores opaque per-provider identifiers. Nothing here fires them.
type TrackingPixels struct {
	GoogleAnalytics  string   `json:"googleAnalytics,omitempty"`
	GoogleTagManager string   `json:"googleTagManager,omitempty"`
	GoogleAds        string   `json:"googleAds,omitempty"`
	MetaPixel        string   `json:"metaPixel,omitempty"`
	TikTokPixel      string   `json:"tiktokPixel,omitempty"`
	CustomScripts    []string `json:"customScripts,omitempty"`
}

// SmartLink is the persisted landing page record.
type SmartLink struct {
	ID                string                                  `gorm:"column:id;primaryKey;size:190;not null"`
	UserID            string                                  `gorm:"column:user_id;size:190;not null;index:idx_smartlinks_user_created,priority:1"`
	Slug              string                                  `gorm:"column:slug;size:64;not null;uniqueIndex"`
	Title             string                                  `gorm:"column:title;not null;default:''"`
	Artist            string                                  `gorm:"column:artist;not null;default:''"`
	Description       string                                  `gorm:"column:description;not null;default:''"`
	CoverImageURL     string                                  `gorm:"column:cover_url;not null;default:''"`
	PreviewAudioURL   string                                  `gorm:"column:preview_audio_url;not null;default:''"`
	SourceURL         string                                  `gorm:"column:source_url;not null;default:''"`
	Platforms         datatypes.JSONType[[]platforms.Platform] `gorm:"column:platforms;not null"`
	Template          string                                  `gorm:"column:template;size:64;not null"`
	Customization     datatypes.JSONType[Customization]       `gorm:"column:customization;not null"`
	TrackingPixels    datatypes.JSONType[TrackingPixels]      `gorm:"column:tracking_pixels;not null"`
	IsActive          bool                                    `gorm:"column:is_active;not null"`
	ClickCount        int64                                   `gorm:"column:click_count;not null;default:0"`
	Resolution        datatypes.JSONType[resolver.Aggregate]  `gorm:"column:resolution_payload;not null"`
	ResolvedAtSeconds *int64                                  `gorm:"column:resolved_at_s"`
	CreatedAtSeconds  int64                                   `gorm:"column:created_at_s;not null;index:idx_smartlinks_user_created,priority:2"`
	UpdatedAtSeconds  int64                                   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SmartLink) TableName() string {
	return "smartlinks"
}

// PlatformList returns the ordered platform entries.
func (s SmartLink) PlatformList() []platforms.Platform {
	return s.Platforms.Data()
}

// FindPlatform returns the entry for key, if present.
func (s SmartLink) FindPlatform(key platforms.Key) (platforms.Platform, bool) {
	for _, platform := range s.Platforms.Data() {
		if platform.Key == key {
			return platform, true
		}
	}
	return platforms.Platform{}, false
}

// ResolvedAt returns when resolver output was last stored, if ever.
func (s SmartLink) ResolvedAt() *time.Time {
	if s.ResolvedAtSeconds == nil {
		return nil
	}
	resolvedAt := time.Unix(*s.ResolvedAtSeconds, 0).UTC()
	return &resolvedAt
}

func (s SmartLink) CreatedAt() time.Time {
	return time.Unix(s.CreatedAtSeconds, 0).UTC()
}

func (s SmartLink) UpdatedAt() time.Time {
	return time.Unix(s.UpdatedAtSeconds, 0).UTC()
}

// CreateInput carries caller-supplied fields for a new SmartLink. Explicit values win over
// resolver output.
type CreateInput struct {
	SourceURL       string
	Title           string
	Artist          string
	Description     string
	CoverImageURL   string
	PreviewAudioURL string
	Platforms       []platforms.Platform
	Template        string
	Customization   *Customization
	TrackingPixels  *TrackingPixels
	IsActive        *bool
}

// UpdateInput is a partial update; nil fields keep their stored value.
type UpdateInput struct {
	SourceURL       *string
	Title           *string
	Artist          *string
	Description     *string
	CoverImageURL   *string
	PreviewAudioURL *string
	Platforms       *[]platforms.Platform
	Template        *string
	Customization   *Customization
	TrackingPixels  *TrackingPixels
	IsActive        *bool
}

// UpdateOptions controls resolver re-fetching during an update.
type UpdateOptions struct {
	// Refetch re-resolves the source URL and stores the fresh resolution payload.
	Refetch bool
	// ReplacePlatforms also swaps the platform list for the resolved one.
	ReplacePlatforms bool
}

// ListOptions pages and filters listings.
type ListOptions struct {
	Limit  int
	Offset int
	Search string
}

// ListItem is a listing row. Owner fields are only populated for admin listings.
type ListItem struct {
	SmartLink
	OwnerDisplayName string `gorm:"column:owner_display_name"`
	OwnerEmail       string `gorm:"column:owner_email"`
}

// ListResult is one page of a listing.
type ListResult struct {
	Items   []ListItem
	Total   int64
	HasMore bool
}
