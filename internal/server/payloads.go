package server

import (
	"time"

	"github.com/mdmcmusicads/smartlink/internal/platforms"
	"github.com/mdmcmusicads/smartlink/internal/smartlinks"
)

type resolveRequestPayload struct {
	URL string `json:"url" binding:"required"`
}

type smartLinkRequestPayload struct {
	SourceURL        *string                    `json:"sourceUrl"`
	Title            *string                    `json:"title"`
	Artist           *string                    `json:"artist"`
	Description      *string                    `json:"description"`
	CoverImageURL    *string                    `json:"coverImageUrl"`
	PreviewAudioURL  *string                    `json:"previewAudioUrl"`
	Platforms        *[]platforms.Platform      `json:"platforms"`
	Template         *string                    `json:"template"`
	Customization    *smartlinks.Customization  `json:"customization"`
	TrackingPixels   *smartlinks.TrackingPixels `json:"trackingPixels"`
	IsActive         *bool                      `json:"isActive"`
	Refetch          bool                       `json:"refetch"`
	ReplacePlatforms bool                       `json:"replacePlatforms"`
}

func (p smartLinkRequestPayload) createInput() smartlinks.CreateInput {
	input := smartlinks.CreateInput{
		SourceURL:       valueOrEmpty(p.SourceURL),
		Title:           valueOrEmpty(p.Title),
		Artist:          valueOrEmpty(p.Artist),
		Description:     valueOrEmpty(p.Description),
		CoverImageURL:   valueOrEmpty(p.CoverImageURL),
		PreviewAudioURL: valueOrEmpty(p.PreviewAudioURL),
		Template:        valueOrEmpty(p.Template),
		Customization:   p.Customization,
		TrackingPixels:  p.TrackingPixels,
		IsActive:        p.IsActive,
	}
	if p.Platforms != nil {
		input.Platforms = *p.Platforms
	}
	return input
}

func (p smartLinkRequestPayload) updateInput() (smartlinks.UpdateInput, smartlinks.UpdateOptions) {
	input := smartlinks.UpdateInput{
		SourceURL:       p.SourceURL,
		Title:           p.Title,
		Artist:          p.Artist,
		Description:     p.Description,
		CoverImageURL:   p.CoverImageURL,
		PreviewAudioURL: p.PreviewAudioURL,
		Platforms:       p.Platforms,
		Template:        p.Template,
		Customization:   p.Customization,
		TrackingPixels:  p.TrackingPixels,
		IsActive:        p.IsActive,
	}
	opts := smartlinks.UpdateOptions{Refetch: p.Refetch, ReplacePlatforms: p.ReplacePlatforms}
	return input, opts
}

func valueOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// publicSmartLinkPayload is what the landing page renders.
type publicSmartLinkPayload struct {
	Slug            string                    `json:"slug"`
	Title           string                    `json:"title"`
	Artist          string                    `json:"artist"`
	Description     string                    `json:"description"`
	CoverImageURL   string                    `json:"coverImageUrl"`
	PreviewAudioURL string                    `json:"previewAudioUrl,omitempty"`
	Platforms       []platforms.Platform      `json:"platforms"`
	Template        string                    `json:"template"`
	Customization   smartlinks.Customization  `json:"customization"`
	TrackingPixels  smartlinks.TrackingPixels `json:"trackingPixels"`
}

func newPublicSmartLinkPayload(link smartlinks.SmartLink) publicSmartLinkPayload {
	return publicSmartLinkPayload{
		Slug:            link.Slug,
		Title:           link.Title,
		Artist:          link.Artist,
		Description:     link.Description,
		CoverImageURL:   link.CoverImageURL,
		PreviewAudioURL: link.PreviewAudioURL,
		Platforms:       nonNilPlatforms(link.PlatformList()),
		Template:        link.Template,
		Customization:   link.Customization.Data(),
		TrackingPixels:  link.TrackingPixels.Data(),
	}
}

type smartLinkPayload struct {
	ID               string                    `json:"id"`
	UserID           string                    `json:"userId"`
	Slug             string                    `json:"slug"`
	PublicURL        string                    `json:"publicUrl"`
	SourceURL        string                    `json:"sourceUrl,omitempty"`
	Title            string                    `json:"title"`
	Artist           string                    `json:"artist"`
	Description      string                    `json:"description"`
	CoverImageURL    string                    `json:"coverImageUrl"`
	PreviewAudioURL  string                    `json:"previewAudioUrl,omitempty"`
	Platforms        []platforms.Platform      `json:"platforms"`
	Template         string                    `json:"template"`
	Customization    smartlinks.Customization  `json:"customization"`
	TrackingPixels   smartlinks.TrackingPixels `json:"trackingPixels"`
	IsActive         bool                      `json:"isActive"`
	ClickCount       int64                     `json:"clickCount"`
	ResolvedAt       *time.Time                `json:"resolvedAt,omitempty"`
	CreatedAt        time.Time                 `json:"createdAt"`
	UpdatedAt        time.Time                 `json:"updatedAt"`
	OwnerDisplayName string                    `json:"creatorName,omitempty"`
	OwnerEmail       string                    `json:"creatorEmail,omitempty"`
}

func (h *httpHandler) newSmartLinkPayload(link smartlinks.SmartLink) smartLinkPayload {
	return smartLinkPayload{
		ID:              link.ID,
		UserID:          link.UserID,
		Slug:            link.Slug,
		PublicURL:       h.smartLinks.PublicURL(link.Slug),
		SourceURL:       link.SourceURL,
		Title:           link.Title,
		Artist:          link.Artist,
		Description:     link.Description,
		CoverImageURL:   link.CoverImageURL,
		PreviewAudioURL: link.PreviewAudioURL,
		Platforms:       nonNilPlatforms(link.PlatformList()),
		Template:        link.Template,
		Customization:   link.Customization.Data(),
		TrackingPixels:  link.TrackingPixels.Data(),
		IsActive:        link.IsActive,
		ClickCount:      link.ClickCount,
		ResolvedAt:      link.ResolvedAt(),
		CreatedAt:       link.CreatedAt(),
		UpdatedAt:       link.UpdatedAt(),
	}
}

type smartLinkListPayload struct {
	Items   []smartLinkPayload `json:"items"`
	Total   int64              `json:"total"`
	HasMore bool               `json:"hasMore"`
}

func nonNilPlatforms(entries []platforms.Platform) []platforms.Platform {
	if entries == nil {
		return []platforms.Platform{}
	}
	return entries
}
