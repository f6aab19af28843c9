package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cooperblacks/liaotian/internal/store"
)

// ---------------------------------------------------------------------------
// error mapping
// ---------------------------------------------------------------------------

func TestStoreStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.ErrPolicyDenied, http.StatusForbidden},
		{fmt.Errorf("update member: %w", store.ErrPolicyDenied), http.StatusForbidden},
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrConstraint, http.StatusConflict},
		{fmt.Errorf("username already taken: %w", store.ErrConstraint), http.StatusConflict},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := storeStatus(tt.err); got != tt.want {
			t.Errorf("storeStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// outer middleware
// ---------------------------------------------------------------------------

func TestSecurityHeaders(t *testing.T) {
	handler := securityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("missing Content-Security-Policy")
	}
}

func TestSecurityHeaders_HSTSOnlyOverTLS(t *testing.T) {
	handler := securityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be set for plain HTTP")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS expected behind TLS-terminating proxy")
	}
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	called := false
	handler := cors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/posts", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight should return 204, got %d", rec.Code)
	}
	if called {
		t.Error("preflight must not reach the handler")
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("preflight must advertise allowed methods")
	}
}

func TestCORS_CredentialsOnlyForKnownOrigins(t *testing.T) {
	handler := cors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("whitelisted origin should allow credentials")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("unknown origin must never allow credentials")
	}
}

func TestMaxBody(t *testing.T) {
	handler := maxBody(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		if _, err := r.Body.Read(buf); err != nil && err.Error() == "http: request body too large" {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), 8)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("tiny")))
	if rec.Code != http.StatusOK {
		t.Errorf("small body should pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body should be rejected, got %d", rec.Code)
	}
}
