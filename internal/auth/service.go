package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/cooperblacks/liaotian/internal/database"
)

// dummyHash is a pre-computed bcrypt hash used for timing-safe login.
// When a user is not found, we still run bcrypt comparison to prevent
// enumeration via timing.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("timing-safe-dummy-password-placeholder"), 12)

// Service manages identities: signup, login with refresh-token rotation,
// and the email/password updates the settings workflow delegates here.
type Service struct {
	db            *pgxpool.Pool
	jwtSecret     []byte
	jwtExpiry     time.Duration
	siteURL       string
	passwordMin   int
	enableSignup  bool
	loginAttempts map[string]*loginAttempt
	attemptsMu    sync.Mutex
}

type loginAttempt struct {
	count    int
	lockedAt time.Time
}

func NewService(db *pgxpool.Pool, jwtSecret, siteURL string, jwtExpiry, passwordMin int, enableSignup bool) *Service {
	return &Service{
		db:            db,
		jwtSecret:     []byte(jwtSecret),
		jwtExpiry:     time.Duration(jwtExpiry) * time.Second,
		siteURL:       siteURL,
		passwordMin:   passwordMin,
		enableSignup:  enableSignup,
		loginAttempts: make(map[string]*loginAttempt),
	}
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type LoginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token"`
}

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Role         string     `json:"role"`
	LastSignInAt *time.Time `json:"last_sign_in_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Signup creates an auth user and its profile row in one transaction.
// The profile id equals the auth identity id; username is lowercased
// before write.
func (s *Service) Signup(ctx context.Context, req SignupRequest, userAgent, ip string) (*Session, int, error) {
	if !s.enableSignup {
		return nil, http.StatusForbidden, fmt.Errorf("signups are disabled")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if email == "" || req.Password == "" || username == "" {
		return nil, http.StatusBadRequest, fmt.Errorf("email, password and username are required")
	}
	if len(req.Password) < s.passwordMin {
		return nil, http.StatusBadRequest, fmt.Errorf("password must be at least %d characters", s.passwordMin)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), 12)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("hash password: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	var userID string
	var createdAt, updatedAt time.Time
	err = tx.QueryRow(ctx, `
		INSERT INTO auth.users (email, encrypted_password, email_confirmed_at, last_sign_in_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id, created_at, updated_at
	`, email, string(hash), now).Scan(&userID, &createdAt, &updatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, http.StatusConflict, fmt.Errorf("email already registered")
		}
		return nil, http.StatusInternalServerError, fmt.Errorf("insert user: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO public.profiles (id, username, display_name)
		VALUES ($1, $2, $3)
	`, userID, username, req.Username)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, http.StatusConflict, fmt.Errorf("username already taken")
		}
		return nil, http.StatusInternalServerError, fmt.Errorf("insert profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("commit: %w", err)
	}

	session, err := s.createSession(ctx, userID, email, userAgent, ip)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	session.User = User{ID: userID, Email: email, Role: database.RoleAuthenticated, LastSignInAt: &now, CreatedAt: createdAt, UpdatedAt: updatedAt}

	return session, http.StatusCreated, nil
}

// Login authenticates with the password grant and returns a session.
func (s *Service) Login(ctx context.Context, req LoginRequest, userAgent, ip string) (*Session, int, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	// Check lockout
	s.attemptsMu.Lock()
	attempt := s.loginAttempts[email]
	if attempt != nil && attempt.count >= 5 {
		if time.Since(attempt.lockedAt) < 15*time.Minute {
			s.attemptsMu.Unlock()
			bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password)) // timing-safe
			return nil, http.StatusTooManyRequests, fmt.Errorf("account temporarily locked, try again later")
		}
		delete(s.loginAttempts, email)
	}
	s.attemptsMu.Unlock()

	var userID, passwordHash string
	var createdAt, updatedAt time.Time
	err := s.db.QueryRow(ctx, `
		SELECT id, encrypted_password, created_at, updated_at
		FROM auth.users WHERE email = $1
	`, email).Scan(&userID, &passwordHash, &createdAt, &updatedAt)
	if err != nil {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
		return nil, http.StatusUnauthorized, fmt.Errorf("invalid login credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
		s.attemptsMu.Lock()
		a := s.loginAttempts[email]
		if a == nil {
			a = &loginAttempt{}
			s.loginAttempts[email] = a
		}
		a.count++
		if a.count >= 5 {
			a.lockedAt = time.Now()
		}
		s.attemptsMu.Unlock()
		return nil, http.StatusUnauthorized, fmt.Errorf("invalid login credentials")
	}

	s.attemptsMu.Lock()
	delete(s.loginAttempts, email)
	s.attemptsMu.Unlock()

	now := time.Now()
	s.db.Exec(ctx, `UPDATE auth.users SET last_sign_in_at = $1, updated_at = $1 WHERE id = $2`, now, userID)

	session, err := s.createSession(ctx, userID, email, userAgent, ip)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	session.User = User{ID: userID, Email: email, Role: database.RoleAuthenticated, LastSignInAt: &now, CreatedAt: createdAt, UpdatedAt: updatedAt}

	return session, http.StatusOK, nil
}

// Refresh rotates a refresh token. A reused revoked token revokes the
// whole session family.
func (s *Service) Refresh(ctx context.Context, refreshToken, userAgent, ip string) (*Session, int, error) {
	if refreshToken == "" {
		return nil, http.StatusBadRequest, fmt.Errorf("refresh_token is required")
	}

	var tokenID int64
	var userID, sessionID string
	var revoked bool
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, session_id, revoked
		FROM auth.refresh_tokens
		WHERE token = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, refreshToken).Scan(&tokenID, &userID, &sessionID, &revoked)
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid refresh token")
	}
	if revoked {
		// Rotation attack detection: revoke the whole family
		if _, err := s.db.Exec(ctx, `UPDATE auth.refresh_tokens SET revoked = true WHERE session_id = $1`, sessionID); err != nil {
			return nil, http.StatusInternalServerError, fmt.Errorf("revoke token family: %w", err)
		}
		return nil, http.StatusBadRequest, fmt.Errorf("token has been revoked")
	}

	if _, err := s.db.Exec(ctx, `UPDATE auth.refresh_tokens SET revoked = true, updated_at = NOW() WHERE id = $1`, tokenID); err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("revoke old token: %w", err)
	}

	var email string
	var lastSignInAt *time.Time
	var createdAt, updatedAt time.Time
	err = s.db.QueryRow(ctx, `
		SELECT email, last_sign_in_at, created_at, updated_at
		FROM auth.users WHERE id = $1
	`, userID).Scan(&email, &lastSignInAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("user not found")
	}

	accessToken, expiresAt, err := s.generateToken(userID, email, sessionID)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("generate token: %w", err)
	}

	newRefresh, err := generateRefreshToken()
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("generate refresh token: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO auth.refresh_tokens (token, user_id, session_id, parent)
		VALUES ($1, $2, $3, $4)
	`, newRefresh, userID, sessionID, refreshToken)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("store refresh token: %w", err)
	}

	now := time.Now()
	s.db.Exec(ctx, `UPDATE auth.sessions SET refreshed_at = $1, updated_at = $1 WHERE id = $2`, now, sessionID)

	return &Session{
		AccessToken:  accessToken,
		TokenType:    "bearer",
		ExpiresIn:    int(s.jwtExpiry.Seconds()),
		ExpiresAt:    expiresAt,
		RefreshToken: newRefresh,
		User:         User{ID: userID, Email: email, Role: database.RoleAuthenticated, LastSignInAt: lastSignInAt, CreatedAt: createdAt, UpdatedAt: updatedAt},
	}, http.StatusOK, nil
}

// Logout revokes the current session, or every session with scope=global.
func (s *Service) Logout(ctx context.Context, userID, sessionID, scope string) {
	if scope == "global" {
		s.db.Exec(ctx, `DELETE FROM auth.sessions WHERE user_id = $1`, userID)
		s.db.Exec(ctx, `UPDATE auth.refresh_tokens SET revoked = true WHERE user_id = $1`, userID)
		return
	}
	if sessionID != "" {
		s.db.Exec(ctx, `DELETE FROM auth.sessions WHERE id = $1`, sessionID)
		s.db.Exec(ctx, `UPDATE auth.refresh_tokens SET revoked = true WHERE session_id = $1`, sessionID)
	}
}

// GetUser returns the auth record for an identity.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, last_sign_in_at, created_at, updated_at
		FROM auth.users WHERE id = $1
	`, userID).Scan(&u.ID, &u.Email, &u.LastSignInAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = database.RoleAuthenticated
	return &u, nil
}

// UpdateEmail changes the identity's email after a uniqueness check.
func (s *Service) UpdateEmail(ctx context.Context, userID, newEmail string) (int, error) {
	email := strings.ToLower(strings.TrimSpace(newEmail))
	if email == "" {
		return http.StatusBadRequest, fmt.Errorf("email is required")
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM auth.users WHERE email = $1 AND id != $2)`, email, userID).Scan(&exists); err != nil {
		return http.StatusInternalServerError, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return http.StatusBadRequest, fmt.Errorf("email already in use")
	}

	if _, err := s.db.Exec(ctx, `UPDATE auth.users SET email = $1, updated_at = NOW() WHERE id = $2`, email, userID); err != nil {
		return http.StatusInternalServerError, fmt.Errorf("update email: %w", err)
	}
	return http.StatusOK, nil
}

// UpdatePassword sets a new password for the identity.
func (s *Service) UpdatePassword(ctx context.Context, userID, newPassword string) (int, error) {
	if len(newPassword) < s.passwordMin {
		return http.StatusBadRequest, fmt.Errorf("password must be at least %d characters", s.passwordMin)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), 12)
	if err != nil {
		return http.StatusInternalServerError, fmt.Errorf("hash password: %w", err)
	}

	if _, err := s.db.Exec(ctx, `UPDATE auth.users SET encrypted_password = $1, updated_at = NOW() WHERE id = $2`, string(hash), userID); err != nil {
		return http.StatusInternalServerError, fmt.Errorf("update password: %w", err)
	}
	return http.StatusOK, nil
}

func (s *Service) createSession(ctx context.Context, userID, email, userAgent, ip string) (*Session, error) {
	var sessionID string
	err := s.db.QueryRow(ctx, `
		INSERT INTO auth.sessions (user_id, user_agent, ip)
		VALUES ($1, $2, $3)
		RETURNING id
	`, userID, userAgent, ip).Scan(&sessionID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	accessToken, expiresAt, err := s.generateToken(userID, email, sessionID)
	if err != nil {
		return nil, fmt.Errorf("generate jwt: %w", err)
	}

	refreshToken, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO auth.refresh_tokens (token, user_id, session_id)
		VALUES ($1, $2, $3)
	`, refreshToken, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &Session{
		AccessToken:  accessToken,
		TokenType:    "bearer",
		ExpiresIn:    int(s.jwtExpiry.Seconds()),
		ExpiresAt:    expiresAt,
		RefreshToken: refreshToken,
	}, nil
}

func (s *Service) generateToken(userID, email, sessionID string) (string, int64, error) {
	now := time.Now()
	expiresAt := now.Add(s.jwtExpiry).Unix()

	claims := jwt.MapClaims{
		"aud":        "authenticated",
		"exp":        expiresAt,
		"iat":        now.Unix(),
		"iss":        s.siteURL + "/auth/v1",
		"sub":        userID,
		"email":      email,
		"role":       database.RoleAuthenticated,
		"session_id": sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	return signed, expiresAt, err
}

// ValidateToken verifies a JWT and returns its claims. Only HMAC-signed
// tokens are accepted.
func (s *Service) ValidateToken(tokenString string) (database.JWTClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if sub, _ := claims["sub"].(string); sub == "" {
		return nil, fmt.Errorf("missing sub claim")
	}

	return database.JWTClaims(claims), nil
}

func generateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
