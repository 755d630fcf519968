package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mdmcmusicads/smartlink/internal/platforms"
	"go.uber.org/zap"
)

func (h *httpHandler) handlePublicSmartLink(c *gin.Context) {
	link, err := h.smartLinks.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !h.events.PageView(link.ID) {
		h.logger.Debug("page view not recorded", zap.String("smartlink_id", link.ID))
	}
	c.JSON(http.StatusOK, newPublicSmartLinkPayload(link))
}

func (h *httpHandler) handlePlatformRedirect(c *gin.Context) {
	link, err := h.smartLinks.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	rawKey := c.Param("platform")
	key, ok := platforms.NormalizeClickKey(rawKey)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "platform_not_found"})
		return
	}
	platform, ok := link.FindPlatform(key)
	if !ok || strings.TrimSpace(platform.URL) == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "platform_not_found"})
		return
	}
	if !h.events.PlatformClick(link.ID, rawKey) {
		h.logger.Debug("platform click not recorded", zap.String("smartlink_id", link.ID), zap.String("platform", rawKey))
	}
	c.Redirect(http.StatusFound, platform.URL)
}

func (h *httpHandler) handleResolve(c *gin.Context) {
	var request resolveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	aggregate, err := h.resolver.Resolve(c.Request.Context(), request.URL)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if aggregate.Platforms == nil {
		aggregate.Platforms = []platforms.Platform{}
	}
	c.JSON(http.StatusOK, aggregate)
}
