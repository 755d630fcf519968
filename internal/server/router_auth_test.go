package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mdmcmusicads/smartlink/internal/auth"
	"github.com/mdmcmusicads/smartlink/internal/users"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubSessionValidator struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

type stubAccountResolver struct {
	account users.Account
	err     error
}

func (s stubAccountResolver) ResolveAccount(context.Context, auth.SessionClaims) (users.Account, error) {
	return s.account, s.err
}

func runAuthorize(t *testing.T, handler *httpHandler) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/smartlinks", http.NoBody)
	handler.authorizeRequest(ctx)
	return recorder, ctx
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrExpiredSessionToken},
		accounts: stubAccountResolver{},
		logger:   zap.New(core),
	}

	recorder, _ := runAuthorize(t, handler)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrInvalidSessionToken},
		accounts: stubAccountResolver{},
		logger:   zap.New(core),
	}

	recorder, _ := runAuthorize(t, handler)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %+v", entries)
	}
}

func TestAuthorizeRequestStoresAccount(t *testing.T) {
	account := users.Account{UserID: "user-1", Plan: users.PlanFree}
	handler := &httpHandler{
		sessions: stubSessionValidator{claims: auth.SessionClaims{UserID: "user-1"}},
		accounts: stubAccountResolver{account: account},
		logger:   zap.NewNop(),
	}

	recorder, ctx := runAuthorize(t, handler)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected request to pass, got %d", recorder.Code)
	}
	stored, ok := currentAccount(ctx)
	if !ok || stored.UserID != "user-1" {
		t.Fatalf("expected account in context, got %+v", stored)
	}
}

func TestAuthorizeRequestFailsWhenAccountResolutionFails(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{claims: auth.SessionClaims{UserID: "user-1"}},
		accounts: stubAccountResolver{err: errors.New("database offline")},
		logger:   zap.New(core),
	}

	recorder, _ := runAuthorize(t, handler)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected internal error, got %d", recorder.Code)
	}
	if logs.FilterMessage("failed to resolve account").Len() != 1 {
		t.Fatalf("expected account failure to be logged")
	}
}

func TestRequestScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	testCases := []struct {
		name      string
		query     string
		isAdmin   bool
		wantAdmin bool
	}{
		{name: "owner", query: "", isAdmin: false, wantAdmin: false},
		{name: "owner asking for all", query: "?scope=all", isAdmin: false, wantAdmin: false},
		{name: "admin default", query: "", isAdmin: true, wantAdmin: false},
		{name: "admin asking for all", query: "?scope=all", isAdmin: true, wantAdmin: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
			ctx.Request = httptest.NewRequest(http.MethodGet, "/api/smartlinks"+testCase.query, http.NoBody)
			scope := requestScope(ctx, users.Account{UserID: "user-1", IsAdmin: testCase.isAdmin})
			if scope.Admin != testCase.wantAdmin {
				t.Fatalf("expected admin=%v, got %+v", testCase.wantAdmin, scope)
			}
			if !scope.Admin && scope.OwnerID != "user-1" {
				t.Fatalf("expected owner scope, got %+v", scope)
			}
		})
	}
}
