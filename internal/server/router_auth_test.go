package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/drawr/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubValidator struct {
	claims auth.SessionClaims
	err    error
}

func (s stubValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.err
}

func runAuthorize(t *testing.T, validator SessionValidator) (*httptest.ResponseRecorder, *gin.Context, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/rooms", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{validator: validator, logger: zap.New(core)}
	handler.authorizeRequest(ctx)
	return recorder, ctx, logs
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	recorder, _, logs := runAuthorize(t, stubValidator{err: auth.ErrExpiredSessionToken})

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
	recorder, _, logs := runAuthorize(t, stubValidator{err: auth.ErrInvalidSessionToken})

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %v", entries)
	}
}

func TestAuthorizeRequestStoresClaims(t *testing.T) {
	claims := auth.SessionClaims{UserID: "user-1", Username: "Ada"}
	recorder, ctx, logs := runAuthorize(t, stubValidator{claims: claims})

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected request to pass, got %d", recorder.Code)
	}
	if got := sessionClaims(ctx); got.UserID != "user-1" || got.Username != "Ada" {
		t.Fatalf("unexpected claims %#v", got)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no log entries, got %d", logs.Len())
	}
}

func TestNewHTTPHandlerValidatesDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingValidator) {
		t.Fatalf("expected missing validator, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{Validator: stubValidator{}}); !errors.Is(err, errMissingRoomsService) {
		t.Fatalf("expected missing rooms service, got %v", err)
	}
}
