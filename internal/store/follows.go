package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/cooperblacks/liaotian/internal/database"
)

func (s *Store) Follow(ctx context.Context, sess Session, followingID string) error {
	_, err := database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (struct{}, error) {
		_, err := tx.Exec(ctx, `
			INSERT INTO public.follows (follower_id, following_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, sess.UserID(), followingID)
		return struct{}{}, classify(err)
	})
	return err
}

func (s *Store) Unfollow(ctx context.Context, sess Session, followingID string) error {
	_, err := database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (struct{}, error) {
		_, err := tx.Exec(ctx,
			`DELETE FROM public.follows WHERE follower_id = $1 AND following_id = $2`,
			sess.UserID(), followingID)
		return struct{}{}, classify(err)
	})
	return err
}

// Followers lists profiles following the given user.
func (s *Store) Followers(ctx context.Context, sess Session, userID string) ([]Profile, error) {
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) ([]Profile, error) {
		rows, err := tx.Query(ctx, `
			SELECT `+profileCols+` FROM public.profiles
			WHERE id IN (SELECT follower_id FROM public.follows WHERE following_id = $1)
			ORDER BY username
		`, userID)
		if err != nil {
			return nil, classify(err)
		}
		defer rows.Close()
		return collectProfiles(rows)
	})
}

// Following lists profiles the given user follows.
func (s *Store) Following(ctx context.Context, sess Session, userID string) ([]Profile, error) {
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) ([]Profile, error) {
		rows, err := tx.Query(ctx, `
			SELECT `+profileCols+` FROM public.profiles
			WHERE id IN (SELECT following_id FROM public.follows WHERE follower_id = $1)
			ORDER BY username
		`, userID)
		if err != nil {
			return nil, classify(err)
		}
		defer rows.Close()
		return collectProfiles(rows)
	})
}

// FollowCounts returns follower and following totals in one round trip.
func (s *Store) FollowCounts(ctx context.Context, sess Session, userID string) (followers, following int, err error) {
	type counts struct{ followers, following int }
	c, err := database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (counts, error) {
		var c counts
		err := tx.QueryRow(ctx, `
			SELECT
				(SELECT COUNT(*) FROM public.follows WHERE following_id = $1),
				(SELECT COUNT(*) FROM public.follows WHERE follower_id = $1)
		`, userID).Scan(&c.followers, &c.following)
		return c, classify(err)
	})
	return c.followers, c.following, err
}
