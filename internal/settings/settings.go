// Package settings implements the account settings workflow: theme,
// username, email, password and verification requests. Each operation
// has its own cache discipline, noted on the method.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cooperblacks/liaotian/internal/cache"
	"github.com/cooperblacks/liaotian/internal/store"
)

// ErrIdentityService wraps failures from the auth layer so handlers can
// report "the identity service rejected this" distinctly from policy or
// constraint errors.
var ErrIdentityService = errors.New("identity service error")

// ProfileStore is the slice of the data facade settings needs.
type ProfileStore interface {
	GetProfile(ctx context.Context, sess store.Session, id string) (*store.Profile, error)
	UpdateTheme(ctx context.Context, sess store.Session, id, theme string) error
	UpdateUsername(ctx context.Context, sess store.Session, id, username string) (*store.Profile, error)
	RequestVerification(ctx context.Context, sess store.Session, id, request string) error
}

// Identity is the slice of the auth service settings delegates to.
type Identity interface {
	UpdateEmail(ctx context.Context, userID, newEmail string) (int, error)
	UpdatePassword(ctx context.Context, userID, newPassword string) (int, error)
}

type Service struct {
	profiles ProfileStore
	identity Identity
	cache    cache.ProfileCache
	logger   *slog.Logger
}

func NewService(profiles ProfileStore, identity Identity, profileCache cache.ProfileCache, logger *slog.Logger) *Service {
	return &Service{profiles: profiles, identity: identity, cache: profileCache, logger: logger}
}

var validThemes = map[string]bool{"dark": true, "light": true, "midnight": true}

// UpdateTheme writes the theme, then patches the cached profile with the
// submitted value rather than re-reading. A failed write is terminal:
// the error surfaces and the cache keeps the stored theme.
func (s *Service) UpdateTheme(ctx context.Context, sess store.Session, theme string) (int, error) {
	if !validThemes[theme] {
		return http.StatusBadRequest, fmt.Errorf("unknown theme %q", theme)
	}
	userID := sess.UserID()

	if err := s.profiles.UpdateTheme(ctx, sess, userID, theme); err != nil {
		if errors.Is(err, store.ErrPolicyDenied) {
			return http.StatusForbidden, err
		}
		return http.StatusInternalServerError, err
	}

	if p, ok := s.cache.Get(ctx, userID); ok {
		p.Theme = theme
		s.cache.Set(ctx, p)
	}
	return http.StatusOK, nil
}

// UpdateUsername lowercases and pre-checks in the store, then replaces
// the cached profile with the row the write returned.
func (s *Service) UpdateUsername(ctx context.Context, sess store.Session, username string) (*store.Profile, int, error) {
	p, err := s.profiles.UpdateUsername(ctx, sess, sess.UserID(), username)
	if err != nil {
		if errors.Is(err, store.ErrConstraint) {
			return nil, http.StatusConflict, err
		}
		if errors.Is(err, store.ErrPolicyDenied) {
			return nil, http.StatusForbidden, err
		}
		return nil, http.StatusBadRequest, err
	}
	s.cache.Set(ctx, p)
	return p, http.StatusOK, nil
}

// UpdateEmail delegates verbatim to the identity service. No cache
// involvement: email is not a profile column.
func (s *Service) UpdateEmail(ctx context.Context, sess store.Session, newEmail string) (int, error) {
	status, err := s.identity.UpdateEmail(ctx, sess.UserID(), newEmail)
	if err != nil {
		s.logger.Warn("identity service rejected email update",
			"user_id", sess.UserID(), "error", err)
		return status, fmt.Errorf("%w: %v", ErrIdentityService, err)
	}
	return status, nil
}

// UpdatePassword delegates verbatim to the identity service.
func (s *Service) UpdatePassword(ctx context.Context, sess store.Session, newPassword string) (int, error) {
	status, err := s.identity.UpdatePassword(ctx, sess.UserID(), newPassword)
	if err != nil {
		s.logger.Warn("identity service rejected password update",
			"user_id", sess.UserID(), "error", err)
		return status, fmt.Errorf("%w: %v", ErrIdentityService, err)
	}
	return status, nil
}

// RequestVerification is confirm-read: after the write, the profile is
// re-read and the cache replaced with what the database actually holds
// (the write is a no-op for already-verified profiles).
func (s *Service) RequestVerification(ctx context.Context, sess store.Session, request string) (*store.Profile, int, error) {
	userID := sess.UserID()
	if err := s.profiles.RequestVerification(ctx, sess, userID, request); err != nil {
		if errors.Is(err, store.ErrPolicyDenied) {
			return nil, http.StatusForbidden, err
		}
		return nil, http.StatusBadRequest, err
	}

	p, err := s.profiles.GetProfile(ctx, sess, userID)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	s.cache.Set(ctx, p)
	return p, http.StatusOK, nil
}
