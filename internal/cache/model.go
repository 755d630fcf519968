package cache

import (
	"time"

	"gorm.io/datatypes"
)

// Entry is one cached aggregation result keyed by its source URL.
type Entry struct {
	SourceURL        string         `gorm:"column:source_url;primaryKey;size:1024;not null"`
	PayloadJSON      datatypes.JSON `gorm:"column:payload_json;not null"`
	EntityID         string         `gorm:"column:entity_id;size:190;not null;default:''"`
	Title            string         `gorm:"column:title;not null;default:''"`
	Artist           string         `gorm:"column:artist;not null;default:''"`
	ThumbnailURL     string         `gorm:"column:thumbnail_url;not null;default:''"`
	PlatformCount    int            `gorm:"column:platform_count;not null;default:0"`
	CreatedAtSeconds int64          `gorm:"column:created_at_s;not null;index:idx_resolution_cache_created"`
	ExpiresAtSeconds int64          `gorm:"column:expires_at_s;not null;index:idx_resolution_cache_expires"`
	HitCount         int64          `gorm:"column:hit_count;not null;default:0;index:idx_resolution_cache_hits"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "resolution_cache"
}

// ExpiresAt returns the expiry instant.
func (e Entry) ExpiresAt() time.Time {
	return time.Unix(e.ExpiresAtSeconds, 0).UTC()
}

// CreatedAt returns the instant the entry was first cached.
func (e Entry) CreatedAt() time.Time {
	return time.Unix(e.CreatedAtSeconds, 0).UTC()
}

// Metadata is the entity summary extracted alongside the raw payload.
type Metadata struct {
	EntityID      string
	Title         string
	Artist        string
	ThumbnailURL  string
	PlatformCount int
}

// Stats summarises the cache table.
type Stats struct {
	TotalEntries     int64      `json:"totalEntries"`
	ValidEntries     int64      `json:"validEntries"`
	ExpiredEntries   int64      `json:"expiredEntries"`
	TotalHits        int64      `json:"totalHits"`
	AvgPlatformCount float64    `json:"avgPlatforms"`
	LastCachedAt     *time.Time `json:"lastCached"`
	CacheEnabled     bool       `json:"cacheEnabled"`
}

// PopularEntry is a row of the most-requested listing.
type PopularEntry struct {
	SourceURL     string    `json:"sourceUrl"`
	Title         string    `json:"title"`
	Artist        string    `json:"artist"`
	HitCount      int64     `json:"hitCount"`
	PlatformCount int       `json:"platformsCount"`
	CreatedAt     time.Time `json:"createdAt"`
}
