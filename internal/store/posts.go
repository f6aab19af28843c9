package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/cooperblacks/liaotian/internal/database"
)

type PostCreate struct {
	Content   string  `json:"content"`
	MediaURL  *string `json:"media_url"`
	MediaType *string `json:"media_type"`
}

func (s *Store) CreatePost(ctx context.Context, sess Session, in PostCreate) (*Post, error) {
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (*Post, error) {
		var p Post
		err := tx.QueryRow(ctx, `
			INSERT INTO public.posts (user_id, content, media_url, media_type)
			VALUES ($1, $2, $3, $4)
			RETURNING id, user_id, content, media_url, media_type, created_at
		`, sess.UserID(), in.Content, in.MediaURL, in.MediaType).
			Scan(&p.ID, &p.UserID, &p.Content, &p.MediaURL, &p.MediaType, &p.CreatedAt)
		if err != nil {
			return nil, classify(err)
		}
		return &p, nil
	})
}

// Feed returns newest-first posts with the author joined in, optionally
// filtered to a single author.
func (s *Store) Feed(ctx context.Context, sess Session, authorID string, limit, offset int) ([]Post, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) ([]Post, error) {
		rows, err := tx.Query(ctx, `
			SELECT p.id, p.user_id, p.content, p.media_url, p.media_type, p.created_at,
			       pr.username, pr.display_name, pr.avatar_url, pr.verified
			FROM public.posts p
			JOIN public.profiles pr ON pr.id = p.user_id
			WHERE ($1 = '' OR p.user_id::text = $1)
			ORDER BY p.created_at DESC
			LIMIT $2 OFFSET $3
		`, authorID, limit, offset)
		if err != nil {
			return nil, classify(err)
		}
		defer rows.Close()

		out := []Post{}
		for rows.Next() {
			var p Post
			var a Profile
			if err := rows.Scan(&p.ID, &p.UserID, &p.Content, &p.MediaURL, &p.MediaType, &p.CreatedAt,
				&a.Username, &a.DisplayName, &a.AvatarURL, &a.Verified); err != nil {
				return nil, classify(err)
			}
			a.ID = p.UserID
			p.Author = &a
			out = append(out, p)
		}
		return out, classify(rows.Err())
	})
}

// FollowingFeed returns posts only from profiles the caller follows.
func (s *Store) FollowingFeed(ctx context.Context, sess Session, limit, offset int) ([]Post, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) ([]Post, error) {
		rows, err := tx.Query(ctx, `
			SELECT p.id, p.user_id, p.content, p.media_url, p.media_type, p.created_at,
			       pr.username, pr.display_name, pr.avatar_url, pr.verified
			FROM public.posts p
			JOIN public.profiles pr ON pr.id = p.user_id
			JOIN public.follows f ON f.following_id = p.user_id AND f.follower_id = $1
			ORDER BY p.created_at DESC
			LIMIT $2 OFFSET $3
		`, sess.UserID(), limit, offset)
		if err != nil {
			return nil, classify(err)
		}
		defer rows.Close()

		out := []Post{}
		for rows.Next() {
			var p Post
			var a Profile
			if err := rows.Scan(&p.ID, &p.UserID, &p.Content, &p.MediaURL, &p.MediaType, &p.CreatedAt,
				&a.Username, &a.DisplayName, &a.AvatarURL, &a.Verified); err != nil {
				return nil, classify(err)
			}
			a.ID = p.UserID
			p.Author = &a
			out = append(out, p)
		}
		return out, classify(rows.Err())
	})
}

func (s *Store) UpdatePost(ctx context.Context, sess Session, id, content string) (*Post, error) {
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (*Post, error) {
		var p Post
		err := tx.QueryRow(ctx, `
			UPDATE public.posts SET content = $2 WHERE id = $1
			RETURNING id, user_id, content, media_url, media_type, created_at
		`, id, content).Scan(&p.ID, &p.UserID, &p.Content, &p.MediaURL, &p.MediaType, &p.CreatedAt)
		if err != nil {
			return nil, classify(err)
		}
		return &p, nil
	})
}

// DeletePost removes a post. A policy rejection surfaces as ErrNotFound
// since the row simply isn't writable through RLS.
func (s *Store) DeletePost(ctx context.Context, sess Session, id string) error {
	_, err := database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (struct{}, error) {
		tag, err := tx.Exec(ctx, `DELETE FROM public.posts WHERE id = $1`, id)
		if err != nil {
			return struct{}{}, classify(err)
		}
		if tag.RowsAffected() == 0 {
			return struct{}{}, ErrNotFound
		}
		return struct{}{}, nil
	})
	return err
}
