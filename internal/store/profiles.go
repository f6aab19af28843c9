package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/cooperblacks/liaotian/internal/database"
)

const profileCols = `id, username, display_name, bio, avatar_url, banner_url,
	verified, theme, verification_request, last_seen, created_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Username, &p.DisplayName, &p.Bio, &p.AvatarURL,
		&p.BannerURL, &p.Verified, &p.Theme, &p.VerificationRequest, &p.LastSeen, &p.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

func (s *Store) GetProfile(ctx context.Context, sess Session, id string) (*Profile, error) {
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (*Profile, error) {
		return scanProfile(tx.QueryRow(ctx,
			`SELECT `+profileCols+` FROM public.profiles WHERE id = $1`, id))
	})
}

func (s *Store) GetProfileByUsername(ctx context.Context, sess Session, username string) (*Profile, error) {
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (*Profile, error) {
		return scanProfile(tx.QueryRow(ctx,
			`SELECT `+profileCols+` FROM public.profiles WHERE username = $1`,
			strings.ToLower(username)))
	})
}

// SearchProfiles matches username or display name, case-insensitively.
func (s *Store) SearchProfiles(ctx context.Context, sess Session, query string, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) ([]Profile, error) {
		rows, err := tx.Query(ctx, `
			SELECT `+profileCols+` FROM public.profiles
			WHERE username ILIKE '%' || $1 || '%' OR display_name ILIKE '%' || $1 || '%'
			ORDER BY username LIMIT $2
		`, query, limit)
		if err != nil {
			return nil, classify(err)
		}
		defer rows.Close()
		return collectProfiles(rows)
	})
}

// ProfileUpdate carries the writable profile columns. Nil fields are
// left untouched.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatar_url"`
	BannerURL   *string `json:"banner_url"`
}

func (s *Store) UpdateProfile(ctx context.Context, sess Session, id string, upd ProfileUpdate) (*Profile, error) {
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (*Profile, error) {
		return scanProfile(tx.QueryRow(ctx, `
			UPDATE public.profiles SET
				display_name = COALESCE($2, display_name),
				bio          = COALESCE($3, bio),
				avatar_url   = COALESCE($4, avatar_url),
				banner_url   = COALESCE($5, banner_url)
			WHERE id = $1
			RETURNING `+profileCols,
			id, upd.DisplayName, upd.Bio, upd.AvatarURL, upd.BannerURL))
	})
}

// UpdateTheme persists the theme preference. Callers apply the change
// optimistically; a failure here only logs.
func (s *Store) UpdateTheme(ctx context.Context, sess Session, id, theme string) error {
	_, err := database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (struct{}, error) {
		_, err := tx.Exec(ctx, `UPDATE public.profiles SET theme = $2 WHERE id = $1`, id, theme)
		return struct{}{}, classify(err)
	})
	return err
}

// UpdateUsername lowercases, pre-checks availability, then writes. The
// pre-check keeps the common failure friendly; a concurrent rename can
// still lose the race and surface as ErrConstraint.
func (s *Store) UpdateUsername(ctx context.Context, sess Session, id, username string) (*Profile, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (*Profile, error) {
		var taken bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM public.profiles WHERE username = $1 AND id <> $2)`,
			username, id).Scan(&taken)
		if err != nil {
			return nil, classify(err)
		}
		if taken {
			return nil, fmt.Errorf("username already taken: %w", ErrConstraint)
		}
		return scanProfile(tx.QueryRow(ctx,
			`UPDATE public.profiles SET username = $2 WHERE id = $1 RETURNING `+profileCols,
			id, username))
	})
}

// RequestVerification stores a pending verification note on the profile.
func (s *Store) RequestVerification(ctx context.Context, sess Session, id, request string) error {
	_, err := database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (struct{}, error) {
		_, err := tx.Exec(ctx,
			`UPDATE public.profiles SET verification_request = $2 WHERE id = $1 AND verified = false`,
			id, request)
		return struct{}{}, classify(err)
	})
	return err
}

func (s *Store) TouchLastSeen(ctx context.Context, sess Session, id string) error {
	_, err := database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (struct{}, error) {
		_, err := tx.Exec(ctx, `UPDATE public.profiles SET last_seen = NOW() WHERE id = $1`, id)
		return struct{}{}, classify(err)
	})
	return err
}

func collectProfiles(rows pgx.Rows) ([]Profile, error) {
	out := []Profile{}
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.DisplayName, &p.Bio, &p.AvatarURL,
			&p.BannerURL, &p.Verified, &p.Theme, &p.VerificationRequest, &p.LastSeen, &p.CreatedAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, p)
	}
	return out, classify(rows.Err())
}
