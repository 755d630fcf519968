package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mdmcmusicads/smartlink/internal/analytics"
	"github.com/mdmcmusicads/smartlink/internal/auth"
	"github.com/mdmcmusicads/smartlink/internal/resolver"
	"github.com/mdmcmusicads/smartlink/internal/smartlinks"
	"github.com/mdmcmusicads/smartlink/internal/users"
	"go.uber.org/zap"
)

const accountContextKey = "smartlink_account"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingAccountResolver  = errors.New("account resolver dependency required")
	errMissingLinkResolver     = errors.New("link resolver dependency required")
	errMissingSmartLinkStore   = errors.New("smartlink store dependency required")
	errMissingAnalyticsReader  = errors.New("analytics reader dependency required")
	errMissingEventSink        = errors.New("analytics event sink dependency required")
)

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type AccountResolver interface {
	ResolveAccount(ctx context.Context, claims auth.SessionClaims) (users.Account, error)
}

type LinkResolver interface {
	Resolve(ctx context.Context, sourceURL string) (resolver.Aggregate, error)
}

type SmartLinkStore interface {
	Create(ctx context.Context, ownerID string, input smartlinks.CreateInput) (smartlinks.SmartLink, error)
	Update(ctx context.Context, smartLinkID string, scope users.Scope, input smartlinks.UpdateInput, opts smartlinks.UpdateOptions) (smartlinks.SmartLink, error)
	GetByID(ctx context.Context, smartLinkID string, scope users.Scope) (smartlinks.SmartLink, error)
	GetBySlug(ctx context.Context, slug string) (smartlinks.SmartLink, error)
	List(ctx context.Context, scope users.Scope, opts smartlinks.ListOptions) (smartlinks.ListResult, error)
	Delete(ctx context.Context, smartLinkID string, scope users.Scope) (bool, error)
	PublicURL(slug string) string
}

type AnalyticsReader interface {
	Read(ctx context.Context, smartLinkID string, scope users.Scope, windowDays int) (analytics.Summary, error)
}

// EventSink accepts fire-and-forget analytics events. *analytics.Dispatcher satisfies it.
type EventSink interface {
	PageView(smartLinkID string) bool
	PlatformClick(smartLinkID, platform string) bool
}

type Dependencies struct {
	Sessions       SessionValidator
	Accounts       AccountResolver
	Resolver       LinkResolver
	SmartLinks     SmartLinkStore
	Analytics      AnalyticsReader
	Events         EventSink
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Accounts == nil {
		return nil, errMissingAccountResolver
	}
	if deps.Resolver == nil {
		return nil, errMissingLinkResolver
	}
	if deps.SmartLinks == nil {
		return nil, errMissingSmartLinkStore
	}
	if deps.Analytics == nil {
		return nil, errMissingAnalyticsReader
	}
	if deps.Events == nil {
		return nil, errMissingEventSink
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:   deps.Sessions,
		accounts:   deps.Accounts,
		resolver:   deps.Resolver,
		smartLinks: deps.SmartLinks,
		analytics:  deps.Analytics,
		events:     deps.Events,
		logger:     logger,
	}

	router.GET("/health", handler.handleHealth)
	router.GET("/s/:slug", handler.handlePublicSmartLink)
	router.GET("/s/:slug/go/:platform", handler.handlePlatformRedirect)
	router.POST("/api/resolve", handler.handleResolve)

	protected := router.Group("/api/smartlinks")
	protected.Use(handler.authorizeRequest)
	protected.POST("", handler.handleCreateSmartLink)
	protected.GET("", handler.handleListSmartLinks)
	protected.GET("/:id", handler.handleGetSmartLink)
	protected.PATCH("/:id", handler.handleUpdateSmartLink)
	protected.DELETE("/:id", handler.handleDeleteSmartLink)
	protected.GET("/:id/analytics", handler.handleSmartLinkAnalytics)

	return router, nil
}

// corsMiddleware allows credentialed requests from the dashboard origins. Without configured
// origins any origin may call, without credentials.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOrigins = []string{"*"}
		config.AllowCredentials = false
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

type httpHandler struct {
	sessions   SessionValidator
	accounts   AccountResolver
	resolver   LinkResolver
	smartLinks SmartLinkStore
	analytics  AnalyticsReader
	events     EventSink
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	account, err := h.accounts.ResolveAccount(c.Request.Context(), claims)
	if err != nil {
		if errors.Is(err, users.ErrInvalidIdentity) {
			h.logger.Warn("session identity rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("failed to resolve account", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "account_resolution_failed"})
		return
	}
	c.Set(accountContextKey, account)
	c.Next()
}

func currentAccount(c *gin.Context) (users.Account, bool) {
	value, ok := c.Get(accountContextKey)
	if !ok {
		return users.Account{}, false
	}
	account, ok := value.(users.Account)
	return account, ok && account.UserID != ""
}

// requestScope grants unscoped access only when an admin explicitly asks for it.
func requestScope(c *gin.Context, account users.Account) users.Scope {
	if account.IsAdmin && c.Query("scope") == "all" {
		return users.AdminScope()
	}
	return users.OwnerScope(account.UserID)
}
