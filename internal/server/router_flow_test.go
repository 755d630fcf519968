package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mdmcmusicads/smartlink/internal/analytics"
	"github.com/mdmcmusicads/smartlink/internal/auth"
	"github.com/mdmcmusicads/smartlink/internal/cache"
	"github.com/mdmcmusicads/smartlink/internal/odesli"
	"github.com/mdmcmusicads/smartlink/internal/ratelimit"
	"github.com/mdmcmusicads/smartlink/internal/resolver"
	"github.com/mdmcmusicads/smartlink/internal/smartlinks"
	"github.com/mdmcmusicads/smartlink/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "flow-secret"
	testCookieName    = "app_session"
)

var flowNow = time.Date(2025, 10, 15, 18, 30, 0, 0, time.UTC)

const flowUpstreamDocument = `{
  "pageUrl": "https://song.link/s/abc123",
  "entitiesByUniqueId": {
    "SPOTIFY_SONG::abc123": {"title": "Song", "artistName": "Artist", "thumbnailUrl": "https://img.example.com/spotify.jpg"}
  },
  "linksByPlatform": {
    "deezer": {"url": "https://www.deezer.com/track/1"},
    "spotify": {"url": "https://open.spotify.com/track/abc123"}
  }
}`

type flowHarness struct {
	handler    http.Handler
	db         *gorm.DB
	dispatcher *analytics.Dispatcher
	upstream   *atomic.Int64
}

func newFlowHarness(t *testing.T, rateLimit int) *flowHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_flow_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&users.Account{}, &smartlinks.SmartLink{}, &analytics.Record{}, &cache.Entry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	upstreamCalls := &atomic.Int64{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(flowUpstreamDocument))
	}))
	t.Cleanup(upstream.Close)

	clock := func() time.Time { return flowNow }
	logger := zap.NewNop()

	client, err := odesli.NewClient(odesli.ClientConfig{BaseURL: upstream.URL, Logger: logger})
	if err != nil {
		t.Fatalf("odesli client: %v", err)
	}
	cacheService, err := cache.NewService(cache.ServiceConfig{Database: db, Clock: clock, Logger: logger})
	if err != nil {
		t.Fatalf("cache service: %v", err)
	}
	limiter, err := ratelimit.NewFixedWindow(ratelimit.FixedWindowConfig{Limit: rateLimit, Window: time.Minute, Clock: clock})
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	linkResolver, err := resolver.New(resolver.Config{Cache: cacheService, Fetcher: client, Limiter: limiter, Logger: logger})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	store, err := smartlinks.NewStore(smartlinks.StoreConfig{
		Database:      db,
		Resolver:      linkResolver,
		PublicBaseURL: "https://links.example.com",
		Clock:         clock,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	analyticsService, err := analytics.NewService(analytics.ServiceConfig{Database: db, Links: store, Clock: clock, Logger: logger})
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	dispatcher, err := analytics.NewDispatcher(analytics.DispatcherConfig{Recorder: analyticsService, Workers: 1, Logger: logger})
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	t.Cleanup(func() {
		_ = dispatcher.Close(context.Background())
	})
	accounts, err := users.NewService(users.ServiceConfig{Database: db, Clock: clock, Logger: logger})
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:   sessions,
		Accounts:   accounts,
		Resolver:   linkResolver,
		SmartLinks: store,
		Analytics:  analyticsService,
		Events:     dispatcher,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return &flowHarness{handler: handler, db: db, dispatcher: dispatcher, upstream: upstreamCalls}
}

func signSession(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserID:          userID,
		UserEmail:       userID + "@example.com",
		UserDisplayName: "Artist " + userID,
		UserRoles:       roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "mdmc-auth",
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(flowNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(flowNow.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (h *flowHarness) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("decode body %q: %v", recorder.Body.String(), err)
	}
}

func TestSmartLinkLifecycle(t *testing.T) {
	harness := newFlowHarness(t, 10)
	token := signSession(t, "user-1")

	created := harness.do(t, http.MethodPost, "/api/smartlinks", token, map[string]string{
		"sourceUrl": "https://open.spotify.com/track/abc123",
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	var link smartLinkPayload
	decodeBody(t, created, &link)
	if link.Title != "Song" || link.Artist != "Artist" {
		t.Fatalf("expected resolved metadata, got %+v", link)
	}
	if len(link.Platforms) != 2 || link.Platforms[0].Key != "spotify" {
		t.Fatalf("expected priority-sorted platforms, got %+v", link.Platforms)
	}
	if link.PublicURL != "https://links.example.com/s/"+link.Slug {
		t.Fatalf("unexpected public url %q", link.PublicURL)
	}

	public := harness.do(t, http.MethodGet, "/s/"+link.Slug, "", nil)
	if public.Code != http.StatusOK {
		t.Fatalf("expected public page, got %d", public.Code)
	}
	redirect := harness.do(t, http.MethodGet, "/s/"+link.Slug+"/go/spotify", "", nil)
	if redirect.Code != http.StatusFound || redirect.Header().Get("Location") != "https://open.spotify.com/track/abc123" {
		t.Fatalf("expected redirect to spotify, got %d %q", redirect.Code, redirect.Header().Get("Location"))
	}
	missing := harness.do(t, http.MethodGet, "/s/"+link.Slug+"/go/tidal", "", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for absent platform, got %d", missing.Code)
	}

	if err := harness.dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("drain dispatcher: %v", err)
	}

	summaryResponse := harness.do(t, http.MethodGet, "/api/smartlinks/"+link.ID+"/analytics?days=7", token, nil)
	if summaryResponse.Code != http.StatusOK {
		t.Fatalf("expected analytics, got %d: %s", summaryResponse.Code, summaryResponse.Body.String())
	}
	var summary analytics.Summary
	decodeBody(t, summaryResponse, &summary)
	if summary.TotalPageViews != 1 || summary.TotalClicks != 1 || len(summary.Daily) != 7 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.TopPlatform == nil || summary.TopPlatform.Platform != "spotify" {
		t.Fatalf("expected spotify as top platform, got %+v", summary.TopPlatform)
	}

	other := signSession(t, "user-2")
	if response := harness.do(t, http.MethodGet, "/api/smartlinks/"+link.ID, other, nil); response.Code != http.StatusNotFound {
		t.Fatalf("expected other owner to get 404, got %d", response.Code)
	}

	title := "Renamed"
	updated := harness.do(t, http.MethodPatch, "/api/smartlinks/"+link.ID, token, map[string]*string{"title": &title})
	if updated.Code != http.StatusOK {
		t.Fatalf("expected update, got %d: %s", updated.Code, updated.Body.String())
	}

	listed := harness.do(t, http.MethodGet, "/api/smartlinks?search=renamed", token, nil)
	var list smartLinkListPayload
	decodeBody(t, listed, &list)
	if list.Total != 1 || list.Items[0].Title != "Renamed" {
		t.Fatalf("unexpected list %+v", list)
	}

	deleted := harness.do(t, http.MethodDelete, "/api/smartlinks/"+link.ID, token, nil)
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", deleted.Code)
	}
	if again := harness.do(t, http.MethodDelete, "/api/smartlinks/"+link.ID, token, nil); again.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", again.Code)
	}
	var account users.Account
	if err := harness.db.Where("user_id = ?", "user-1").Take(&account).Error; err != nil {
		t.Fatalf("load account: %v", err)
	}
	if account.SmartLinkCount != 0 {
		t.Fatalf("expected counter back to 0, got %d", account.SmartLinkCount)
	}
	if harness.upstream.Load() != 1 {
		t.Fatalf("expected a single upstream call, got %d", harness.upstream.Load())
	}
}

func TestCreateReturnsQuotaExceeded(t *testing.T) {
	harness := newFlowHarness(t, 10)
	token := signSession(t, "user-1")

	for index := 0; index < 5; index++ {
		response := harness.do(t, http.MethodPost, "/api/smartlinks", token, map[string]string{"title": fmt.Sprintf("Track %d", index)})
		if response.Code != http.StatusCreated {
			t.Fatalf("create %d: got %d", index, response.Code)
		}
	}
	response := harness.do(t, http.MethodPost, "/api/smartlinks", token, map[string]string{"title": "Sixth"})
	if response.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", response.Code)
	}
	var body map[string]interface{}
	decodeBody(t, response, &body)
	if body["error"] != "quota_exceeded" || body["plan"] != "free" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestResolveEndpointErrors(t *testing.T) {
	harness := newFlowHarness(t, 1)

	invalid := harness.do(t, http.MethodPost, "/api/resolve", "", map[string]string{"url": "https://example.com/track"})
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", invalid.Code)
	}

	first := harness.do(t, http.MethodPost, "/api/resolve", "", map[string]string{"url": "https://open.spotify.com/track/abc123"})
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}
	cached := harness.do(t, http.MethodPost, "/api/resolve", "", map[string]string{"url": "https://open.spotify.com/track/abc123"})
	var aggregate resolver.Aggregate
	decodeBody(t, cached, &aggregate)
	if cached.Code != http.StatusOK || !aggregate.Cached {
		t.Fatalf("expected cached aggregate, got %d %+v", cached.Code, aggregate)
	}

	limited := harness.do(t, http.MethodPost, "/api/resolve", "", map[string]string{"url": "https://www.deezer.com/track/2"})
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", limited.Code)
	}
	if limited.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", limited.Header().Get("Retry-After"))
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	harness := newFlowHarness(t, 10)
	if response := harness.do(t, http.MethodGet, "/api/smartlinks", "", nil); response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", response.Code)
	}
	if response := harness.do(t, http.MethodGet, "/api/smartlinks", "not-a-token", nil); response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", response.Code)
	}
	if response := harness.do(t, http.MethodGet, "/s/unknown", "", nil); response.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown slug, got %d", response.Code)
	}
}
