package resolver

import (
	"strings"

	"github.com/mdmcmusicads/smartlink/internal/cache"
	"github.com/mdmcmusicads/smartlink/internal/odesli"
	"github.com/mdmcmusicads/smartlink/internal/platforms"
)

// entityPriority lists composite id prefixes in preference order.
var entityPriority = []string{"SPOTIFY_SONG", "ITUNES_SONG", "YOUTUBE_VIDEO"}

// Aggregate is the parsed resolution result.
type Aggregate struct {
	Title     string               `json:"title"`
	Artist    string               `json:"artist"`
	CoverURL  string               `json:"coverUrl"`
	Platforms []platforms.Platform `json:"platforms"`
	PageURL   string               `json:"pageUrl"`
	EntityID  string               `json:"entityId"`
	// Stale is set when the result comes from an expired cache entry after a failed fetch.
	Stale bool `json:"stale"`
	// Cached is set when no outbound call was made.
	Cached bool `json:"cached"`
}

// SelectEntity picks the preferred entity: the first id carrying a priority prefix in
// preference order, else the first entity in the document, else none.
func SelectEntity(entities odesli.Entities) (string, odesli.Entity) {
	ids := entities.IDs()
	for _, prefix := range entityPriority {
		for _, id := range ids {
			if strings.HasPrefix(id, prefix) {
				entity, _ := entities.Get(id)
				return id, entity
			}
		}
	}
	if len(ids) == 0 {
		return "", odesli.Entity{}
	}
	entity, _ := entities.Get(ids[0])
	return ids[0], entity
}

// BuildAggregate maps an upstream document onto the display schema. Unknown platform keys
// are dropped and the remainder sorted by priority.
func BuildAggregate(response odesli.Response) Aggregate {
	entityID, entity := SelectEntity(response.EntitiesByUniqueID)

	mapped := make([]platforms.Platform, 0, len(response.LinksByPlatform))
	for key, link := range response.LinksByPlatform {
		platform, ok := platforms.FromUpstream(key, link.URL, link.NativeAppURIMobile, link.NativeAppURIDesktop)
		if !ok {
			continue
		}
		mapped = append(mapped, platform)
	}
	platforms.SortByPriority(mapped)

	return Aggregate{
		Title:     entity.Title,
		Artist:    entity.ArtistName,
		CoverURL:  entity.ThumbnailURL,
		Platforms: mapped,
		PageURL:   response.PageURL,
		EntityID:  entityID,
	}
}

func metadataFor(response odesli.Response, aggregate Aggregate) cache.Metadata {
	return cache.Metadata{
		EntityID:      aggregate.EntityID,
		Title:         aggregate.Title,
		Artist:        aggregate.Artist,
		ThumbnailURL:  aggregate.CoverURL,
		PlatformCount: len(response.LinksByPlatform),
	}
}
