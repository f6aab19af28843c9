package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cooperblacks/liaotian/internal/database"
	"github.com/cooperblacks/liaotian/internal/store"
)

type fakeValidator struct {
	claims database.JWTClaims
	err    error
}

func (f *fakeValidator) ValidateToken(token string) (database.JWTClaims, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.claims, nil
}

func sessionEcho(t *testing.T, got *store.Session) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = GetSession(r)
		w.WriteHeader(http.StatusOK)
	})
}

// ---------------------------------------------------------------------------
// Require
// ---------------------------------------------------------------------------

func TestRequire_MissingHeaderIs401(t *testing.T) {
	auth := NewAuth(&fakeValidator{})
	var sess store.Session
	handler := auth.Require(sessionEcho(t, &sess))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestRequire_MalformedHeaderIs401(t *testing.T) {
	auth := NewAuth(&fakeValidator{claims: database.JWTClaims{"sub": "u1"}})
	handler := auth.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc") // not a Bearer scheme

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestRequire_InvalidTokenIs401(t *testing.T) {
	auth := NewAuth(&fakeValidator{err: fmt.Errorf("signature invalid")})
	handler := auth.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad-token")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestRequire_ValidTokenBuildsSession(t *testing.T) {
	auth := NewAuth(&fakeValidator{claims: database.JWTClaims{
		"sub":  "user-1",
		"role": "authenticated",
	}})
	var sess store.Session
	handler := auth.Require(sessionEcho(t, &sess))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good-token")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sess.UserID() != "user-1" {
		t.Errorf("expected sub in session, got %q", sess.UserID())
	}
	if sess.Role != database.RoleAuthenticated {
		t.Errorf("expected authenticated role, got %q", sess.Role)
	}
}

// ---------------------------------------------------------------------------
// Optional
// ---------------------------------------------------------------------------

func TestOptional_NoTokenIsAnonymous(t *testing.T) {
	auth := NewAuth(&fakeValidator{})
	var sess store.Session
	handler := auth.Optional(sessionEcho(t, &sess))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sess.Role != database.RoleAnon {
		t.Errorf("expected anon role, got %q", sess.Role)
	}
}

func TestOptional_BadTokenFallsBackToAnonymous(t *testing.T) {
	auth := NewAuth(&fakeValidator{err: fmt.Errorf("expired")})
	var sess store.Session
	handler := auth.Optional(sessionEcho(t, &sess))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired-token")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sess.Role != database.RoleAnon {
		t.Errorf("bad token must degrade to anonymous, got role %q", sess.Role)
	}
}

func TestGetSession_DefaultsToAnonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess := GetSession(req)
	if sess.Role != database.RoleAnon {
		t.Errorf("expected anon fallback, got %q", sess.Role)
	}
}
