package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mdmcmusicads/smartlink/internal/analytics"
	"github.com/mdmcmusicads/smartlink/internal/odesli"
	"github.com/mdmcmusicads/smartlink/internal/platforms"
	"github.com/mdmcmusicads/smartlink/internal/resolver"
	"github.com/mdmcmusicads/smartlink/internal/smartlinks"
	"github.com/mdmcmusicads/smartlink/internal/users"
	"go.uber.org/zap"
)

type codedError interface {
	Code() string
}

// writeError maps core failures onto HTTP responses.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	var rateLimited *resolver.RateLimitedError
	var quotaExceeded *smartlinks.QuotaExceededError
	var coded codedError

	switch {
	case errors.As(err, &rateLimited):
		c.Header("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds()))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":      "rate_limited",
			"retryAfter": rateLimited.RetryAfterSeconds(),
		})
	case errors.As(err, &quotaExceeded):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "quota_exceeded",
			"message": quotaExceeded.Error(),
			"plan":    quotaExceeded.Plan,
			"limit":   quotaExceeded.Limit,
		})
	case errors.Is(err, resolver.ErrInvalidSourceURL):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_source_url", "message": resolver.ErrInvalidSourceURL.Error()})
	case errors.Is(err, smartlinks.ErrTitleRequired),
		errors.Is(err, smartlinks.ErrSourceURLRequired),
		errors.Is(err, platforms.ErrInvalidURL),
		errors.Is(err, platforms.ErrMissingName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, smartlinks.ErrNotFound), errors.Is(err, analytics.ErrSmartLinkNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, odesli.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found_on_resolution_service"})
	case errors.Is(err, odesli.ErrTimeout):
		h.logger.Warn("resolution timed out", zap.Error(err))
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "upstream_timeout"})
	case errors.Is(err, odesli.ErrUpstreamRateLimited):
		h.logger.Warn("resolution service rate limited", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_rate_limited"})
	case isUpstreamFailure(err):
		h.logger.Warn("resolution service failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_error"})
	case errors.Is(err, users.ErrInvalidScope):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, smartlinks.ErrOwnerNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, smartlinks.ErrSlugSpaceExhausted):
		h.logger.Error("slug space exhausted", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "slug_space_exhausted"})
	case errors.Is(err, smartlinks.ErrResolverUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "resolver_unavailable"})
	case errors.As(err, &coded):
		c.JSON(http.StatusInternalServerError, gin.H{"error": coded.Code()})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func isUpstreamFailure(err error) bool {
	var statusErr *odesli.StatusError
	return errors.As(err, &statusErr) || errors.Is(err, odesli.ErrMalformedResponse)
}
