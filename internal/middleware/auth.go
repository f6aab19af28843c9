package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cooperblacks/liaotian/internal/database"
	"github.com/cooperblacks/liaotian/internal/store"
)

// TokenValidator verifies a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(token string) (database.JWTClaims, error)
}

// Auth resolves the caller's RLS session from the Authorization header.
type Auth struct {
	validator TokenValidator
}

func NewAuth(validator TokenValidator) *Auth {
	return &Auth{validator: validator}
}

type contextKey string

const contextSession contextKey = "session"

// Require rejects requests without a valid bearer token.
func (m *Auth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := m.sessionFromHeader(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
			return
		}
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), contextSession, sess)))
	})
}

// Optional attaches the authenticated session when a valid token is
// present and falls through as anonymous otherwise. Public reads use
// this so the anon role's grants and policies apply.
func (m *Auth) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := m.sessionFromHeader(r)
		if !ok {
			sess = store.Anon()
		}
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), contextSession, sess)))
	})
}

func (m *Auth) sessionFromHeader(r *http.Request) (store.Session, bool) {
	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if auth == "" || token == auth {
		return store.Session{}, false
	}

	claims, err := m.validator.ValidateToken(token)
	if err != nil {
		return store.Session{}, false
	}

	role, _ := claims["role"].(string)
	if role == "" {
		role = database.RoleAuthenticated
	}
	return store.Session{Role: role, Claims: claims}, true
}

// GetSession extracts the caller's session from the request context.
// Falls back to anonymous if no auth middleware ran.
func GetSession(r *http.Request) store.Session {
	if sess, ok := r.Context().Value(contextSession).(store.Session); ok {
		return sess
	}
	return store.Anon()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
