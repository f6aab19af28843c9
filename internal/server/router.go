package server

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cooperblacks/liaotian/internal/auth"
	"github.com/cooperblacks/liaotian/internal/cache"
	"github.com/cooperblacks/liaotian/internal/media"
	"github.com/cooperblacks/liaotian/internal/middleware"
	"github.com/cooperblacks/liaotian/internal/observability"
	"github.com/cooperblacks/liaotian/internal/realtime"
	"github.com/cooperblacks/liaotian/internal/settings"
	"github.com/cooperblacks/liaotian/internal/store"
)

type Server struct {
	mux          *http.ServeMux
	authService  *auth.Service
	store        *store.Store
	settings     *settings.Service
	profileCache cache.ProfileCache
	mediaStore   *media.Store
	hub          *realtime.Hub
	sessionAuth  *middleware.Auth
	authLimiter  *middleware.RateLimiter // 5 req/s, burst 10 for auth endpoints
	apiLimiter   *middleware.RateLimiter // 30 req/s, burst 60 for API endpoints
	db           *pgxpool.Pool
}

func New(
	authService *auth.Service,
	st *store.Store,
	settingsService *settings.Service,
	profileCache cache.ProfileCache,
	mediaStore *media.Store,
	hub *realtime.Hub,
	db *pgxpool.Pool,
) *Server {
	trustProxy := os.Getenv("TRUST_PROXY") == "true"
	s := &Server{
		mux:          http.NewServeMux(),
		authService:  authService,
		store:        st,
		settings:     settingsService,
		profileCache: profileCache,
		mediaStore:   mediaStore,
		hub:          hub,
		sessionAuth:  middleware.NewAuth(authService),
		authLimiter:  middleware.NewRateLimiter(5, 10, trustProxy),
		apiLimiter:   middleware.NewRateLimiter(30, 60, trustProxy),
		db:           db,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return securityHeaders(cors(s.mux))
}

// securityHeaders adds security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// HSTS — enable in production behind TLS
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// maxBody limits request body size to prevent DoS via large payloads.
func maxBody(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerRoutes() {
	// Health check with DB ping
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := s.db.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": "database unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.mux.Handle("GET /metrics", observability.Handler())

	// Identity endpoints (no auth required, tightly rate-limited)
	s.mux.Handle("POST /auth/v1/signup", s.authed("auth_signup", s.authLimiter, nil, maxBody(http.HandlerFunc(s.handleSignup), 1<<20)))
	s.mux.Handle("POST /auth/v1/token", s.authed("auth_token", s.authLimiter, nil, maxBody(http.HandlerFunc(s.handleToken), 1<<20)))
	s.mux.Handle("POST /auth/v1/logout", s.authed("auth_logout", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleLogout)))
	s.mux.Handle("GET /auth/v1/user", s.authed("auth_user", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleGetUser)))

	// Profiles: public reads, owner writes
	s.mux.Handle("GET /api/v1/profiles/{id}", s.authed("profile_get", s.apiLimiter, s.sessionAuth.Optional, http.HandlerFunc(s.handleGetProfile)))
	s.mux.Handle("GET /api/v1/profiles", s.authed("profile_search", s.apiLimiter, s.sessionAuth.Optional, http.HandlerFunc(s.handleSearchProfiles)))
	s.mux.Handle("PATCH /api/v1/profiles/me", s.authed("profile_update", s.apiLimiter, s.sessionAuth.Require, maxBody(http.HandlerFunc(s.handleUpdateProfile), 1<<20)))

	// Posts
	s.mux.Handle("GET /api/v1/posts", s.authed("posts_feed", s.apiLimiter, s.sessionAuth.Optional, http.HandlerFunc(s.handleFeed)))
	s.mux.Handle("GET /api/v1/posts/following", s.authed("posts_following", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleFollowingFeed)))
	s.mux.Handle("POST /api/v1/posts", s.authed("posts_create", s.apiLimiter, s.sessionAuth.Require, maxBody(http.HandlerFunc(s.handleCreatePost), 1<<20)))
	s.mux.Handle("PATCH /api/v1/posts/{id}", s.authed("posts_update", s.apiLimiter, s.sessionAuth.Require, maxBody(http.HandlerFunc(s.handleUpdatePost), 1<<20)))
	s.mux.Handle("DELETE /api/v1/posts/{id}", s.authed("posts_delete", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleDeletePost)))

	// Follows
	s.mux.Handle("POST /api/v1/follows/{id}", s.authed("follow", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleFollow)))
	s.mux.Handle("DELETE /api/v1/follows/{id}", s.authed("unfollow", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleUnfollow)))
	s.mux.Handle("GET /api/v1/profiles/{id}/followers", s.authed("followers", s.apiLimiter, s.sessionAuth.Optional, http.HandlerFunc(s.handleFollowers)))
	s.mux.Handle("GET /api/v1/profiles/{id}/following", s.authed("following", s.apiLimiter, s.sessionAuth.Optional, http.HandlerFunc(s.handleFollowing)))
	s.mux.Handle("GET /api/v1/profiles/{id}/follow-counts", s.authed("follow_counts", s.apiLimiter, s.sessionAuth.Optional, http.HandlerFunc(s.handleFollowCounts)))

	// Messages
	s.mux.Handle("POST /api/v1/messages", s.authed("messages_send", s.apiLimiter, s.sessionAuth.Require, maxBody(http.HandlerFunc(s.handleSendMessage), 1<<20)))
	s.mux.Handle("GET /api/v1/messages/conversations", s.authed("messages_threads", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleConversations)))
	s.mux.Handle("GET /api/v1/messages/with/{id}", s.authed("messages_conversation", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleConversation)))
	s.mux.Handle("POST /api/v1/messages/with/{id}/read", s.authed("messages_read", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleMarkRead)))
	s.mux.Handle("DELETE /api/v1/messages/{id}", s.authed("messages_delete", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleDeleteMessage)))

	// Groups
	s.mux.Handle("POST /api/v1/groups", s.authed("groups_create", s.apiLimiter, s.sessionAuth.Require, maxBody(http.HandlerFunc(s.handleCreateGroup), 1<<20)))
	s.mux.Handle("GET /api/v1/groups", s.authed("groups_list", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleMyGroups)))
	s.mux.Handle("GET /api/v1/groups/{id}", s.authed("groups_get", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleGetGroup)))
	s.mux.Handle("PATCH /api/v1/groups/{id}", s.authed("groups_update", s.apiLimiter, s.sessionAuth.Require, maxBody(http.HandlerFunc(s.handleUpdateGroup), 1<<20)))
	s.mux.Handle("DELETE /api/v1/groups/{id}", s.authed("groups_delete", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleDeleteGroup)))
	s.mux.Handle("GET /api/v1/groups/{id}/messages", s.authed("groups_messages", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleGroupMessages)))
	s.mux.Handle("GET /api/v1/groups/{id}/members", s.authed("groups_members", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleGroupMembers)))
	s.mux.Handle("POST /api/v1/groups/{id}/members", s.authed("groups_add_member", s.apiLimiter, s.sessionAuth.Require, maxBody(http.HandlerFunc(s.handleAddGroupMember), 1<<20)))
	s.mux.Handle("PATCH /api/v1/groups/{id}/members/{userId}", s.authed("groups_set_admin", s.apiLimiter, s.sessionAuth.Require, maxBody(http.HandlerFunc(s.handleSetGroupAdmin), 1<<20)))
	s.mux.Handle("DELETE /api/v1/groups/{id}/members/{userId}", s.authed("groups_remove_member", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleRemoveGroupMember)))

	// Settings
	s.mux.Handle("PUT /api/v1/settings/theme", s.authed("settings_theme", s.apiLimiter, s.sessionAuth.Require, maxBody(http.HandlerFunc(s.handleUpdateTheme), 1<<20)))
	s.mux.Handle("PUT /api/v1/settings/username", s.authed("settings_username", s.apiLimiter, s.sessionAuth.Require, maxBody(http.HandlerFunc(s.handleUpdateUsername), 1<<20)))
	s.mux.Handle("PUT /api/v1/settings/email", s.authed("settings_email", s.apiLimiter, s.sessionAuth.Require, maxBody(http.HandlerFunc(s.handleUpdateEmail), 1<<20)))
	s.mux.Handle("PUT /api/v1/settings/password", s.authed("settings_password", s.authLimiter, s.sessionAuth.Require, maxBody(http.HandlerFunc(s.handleUpdatePassword), 1<<20)))
	s.mux.Handle("POST /api/v1/settings/verification", s.authed("settings_verification", s.apiLimiter, s.sessionAuth.Require, maxBody(http.HandlerFunc(s.handleRequestVerification), 1<<20)))

	// Media
	if s.mediaStore != nil {
		s.mux.Handle("POST /api/v1/media", s.authed("media_upload", s.apiLimiter, s.sessionAuth.Require, maxBody(http.HandlerFunc(s.handleUploadMedia), s.mediaStore.MaxSize())))
		s.mux.Handle("DELETE /api/v1/media/{key...}", s.authed("media_delete", s.apiLimiter, s.sessionAuth.Require, http.HandlerFunc(s.handleDeleteMedia)))
	}

	// Realtime
	s.mux.Handle("GET /realtime/ws", s.sessionAuth.Require(http.HandlerFunc(s.handleWebsocket)))
}

// authed composes the per-route chain: rate limit, then optional auth
// middleware, then metrics instrumentation innermost so limited
// requests are still counted by the limiter alone.
func (s *Server) authed(route string, limiter *middleware.RateLimiter, authMW func(http.Handler) http.Handler, h http.Handler) http.Handler {
	h = observability.Instrument(route, h)
	if authMW != nil {
		h = authMW(h)
	}
	return limiter.Middleware(h)
}

// ---------- Helpers ----------

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// allowedOrigins returns the list of origins permitted for CORS.
// In production, set ALLOWED_ORIGINS env var to a comma-separated list.
func allowedOrigins() map[string]bool {
	originsStr := os.Getenv("ALLOWED_ORIGINS")
	origins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:5173": true,
	}
	if originsStr != "" {
		for _, o := range strings.Split(originsStr, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				origins[o] = true
			}
		}
	}
	return origins
}

var corsOrigins = allowedOrigins()

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Only allow whitelisted origins with credentials
		if origin != "" && corsOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else if origin == "" {
			// No Origin header (same-origin or non-browser) — allow without credentials
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Unknown origin — allow without credentials (no cookies sent)
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
