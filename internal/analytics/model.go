package analytics

import (
	"time"

	"github.com/mdmcmusicads/smartlink/internal/platforms"
)

// Record holds the lifetime counters of one SmartLink.
type Record struct {
	SmartLinkID        string `gorm:"column:smartlink_id;primaryKey;size:190;not null"`
	PageViews          int64  `gorm:"column:page_views;not null;default:0"`
	ClicksSpotify      int64  `gorm:"column:clicks_spotify;not null;default:0"`
	ClicksAppleMusic   int64  `gorm:"column:clicks_apple_music;not null;default:0"`
	ClicksYouTubeMusic int64  `gorm:"column:clicks_youtube_music;not null;default:0"`
	ClicksYouTube      int64  `gorm:"column:clicks_youtube;not null;default:0"`
	ClicksDeezer       int64  `gorm:"column:clicks_deezer;not null;default:0"`
	ClicksSoundCloud   int64  `gorm:"column:clicks_soundcloud;not null;default:0"`
	ClicksTidal        int64  `gorm:"column:clicks_tidal;not null;default:0"`
	ClicksAmazonMusic  int64  `gorm:"column:clicks_amazon_music;not null;default:0"`
	ClicksBandcamp     int64  `gorm:"column:clicks_bandcamp;not null;default:0"`
	CreatedAtSeconds   int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds   int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "smartlink_analytics"
}

var clickColumns = map[platforms.Key]string{
	platforms.KeySpotify:      "clicks_spotify",
	platforms.KeyAppleMusic:   "clicks_apple_music",
	platforms.KeyYouTubeMusic: "clicks_youtube_music",
	platforms.KeyYouTube:      "clicks_youtube",
	platforms.KeyDeezer:       "clicks_deezer",
	platforms.KeySoundCloud:   "clicks_soundcloud",
	platforms.KeyTidal:        "clicks_tidal",
	platforms.KeyAmazonMusic:  "clicks_amazon_music",
	platforms.KeyBandcamp:     "clicks_bandcamp",
}

func (r Record) clicks() map[platforms.Key]int64 {
	return map[platforms.Key]int64{
		platforms.KeySpotify:      r.ClicksSpotify,
		platforms.KeyAppleMusic:   r.ClicksAppleMusic,
		platforms.KeyYouTubeMusic: r.ClicksYouTubeMusic,
		platforms.KeyYouTube:      r.ClicksYouTube,
		platforms.KeyDeezer:       r.ClicksDeezer,
		platforms.KeySoundCloud:   r.ClicksSoundCloud,
		platforms.KeyTidal:        r.ClicksTidal,
		platforms.KeyAmazonMusic:  r.ClicksAmazonMusic,
		platforms.KeyBandcamp:     r.ClicksBandcamp,
	}
}

// PlatformStat is one entry of the per-platform breakdown.
type PlatformStat struct {
	Platform platforms.Key `json:"platform"`
	Name     string        `json:"name"`
	Clicks   int64         `json:"clicks"`
}

// DailyPoint is one day of the derived series.
type DailyPoint struct {
	Date      string `json:"date"`
	PageViews int64  `json:"pageViews"`
	Clicks    int64  `json:"clicks"`
}

// Summary is the read model returned to dashboards.
//
// Daily is an even spread of the lifetime counters over the window, not recorded history:
// the store keeps one counter per platform rather than one row per event.
type Summary struct {
	SmartLinkID    string         `json:"smartlinkId"`
	TotalPageViews int64          `json:"totalViews"`
	TotalClicks    int64          `json:"totalClicks"`
	Platforms      []PlatformStat `json:"platformStats"`
	TopPlatform    *PlatformStat  `json:"topPlatform"`
	Daily          []DailyPoint   `json:"dailyClicks"`
	WindowDays     int            `json:"windowDays"`
	CreatedAt      *time.Time     `json:"createdAt"`
	UpdatedAt      *time.Time     `json:"updatedAt"`
}
