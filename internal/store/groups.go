package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cooperblacks/liaotian/internal/database"
)

const groupCols = `id, name, creator_id, avatar_url, banner_url, created_at`

func scanGroup(row pgx.Row) (*Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Name, &g.CreatorID, &g.AvatarURL, &g.BannerURL, &g.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &g, nil
}

// CreateGroup inserts the group and the creator's admin membership in
// the same transaction, so the creator can see the group immediately
// through either branch of the SELECT policy.
func (s *Store) CreateGroup(ctx context.Context, sess Session, name string) (*Group, error) {
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (*Group, error) {
		g, err := scanGroup(tx.QueryRow(ctx, `
			INSERT INTO public.groups (name, creator_id) VALUES ($1, $2)
			RETURNING `+groupCols, name, sess.UserID()))
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO public.group_members (group_id, user_id, is_admin)
			VALUES ($1, $2, true)
		`, g.ID, sess.UserID())
		if err != nil {
			return nil, classify(err)
		}
		return g, nil
	})
}

func (s *Store) GetGroup(ctx context.Context, sess Session, id string) (*Group, error) {
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (*Group, error) {
		return scanGroup(tx.QueryRow(ctx,
			`SELECT `+groupCols+` FROM public.groups WHERE id = $1`, id))
	})
}

// MyGroups lists groups visible to the caller. The SELECT policy already
// restricts rows to created-or-member, so no extra predicate is needed.
func (s *Store) MyGroups(ctx context.Context, sess Session) ([]Group, error) {
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) ([]Group, error) {
		rows, err := tx.Query(ctx,
			`SELECT `+groupCols+` FROM public.groups ORDER BY created_at DESC`)
		if err != nil {
			return nil, classify(err)
		}
		defer rows.Close()

		out := []Group{}
		for rows.Next() {
			var g Group
			if err := rows.Scan(&g.ID, &g.Name, &g.CreatorID, &g.AvatarURL, &g.BannerURL, &g.CreatedAt); err != nil {
				return nil, classify(err)
			}
			out = append(out, g)
		}
		return out, classify(rows.Err())
	})
}

type GroupUpdate struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
	BannerURL *string `json:"banner_url"`
}

func (s *Store) UpdateGroup(ctx context.Context, sess Session, id string, upd GroupUpdate) (*Group, error) {
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (*Group, error) {
		return scanGroup(tx.QueryRow(ctx, `
			UPDATE public.groups SET
				name       = COALESCE($2, name),
				avatar_url = COALESCE($3, avatar_url),
				banner_url = COALESCE($4, banner_url)
			WHERE id = $1
			RETURNING `+groupCols,
			id, upd.Name, upd.AvatarURL, upd.BannerURL))
	})
}

func (s *Store) DeleteGroup(ctx context.Context, sess Session, id string) error {
	_, err := database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (struct{}, error) {
		tag, err := tx.Exec(ctx, `DELETE FROM public.groups WHERE id = $1`, id)
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

// AddGroupMember inserts a membership. The INSERT policy requires the
// caller to be the group creator or an admin member.
func (s *Store) AddGroupMember(ctx context.Context, sess Session, groupID, userID string, isAdmin bool) error {
	_, err := database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (struct{}, error) {
		_, err := tx.Exec(ctx, `
			INSERT INTO public.group_members (group_id, user_id, is_admin)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, groupID, userID, isAdmin)
		return struct{}{}, classify(err)
	})
	return err
}

// SetGroupAdmin toggles a member's admin flag. The UPDATE policy refuses
// rows where the target is the caller, so admins cannot change their own
// standing.
func (s *Store) SetGroupAdmin(ctx context.Context, sess Session, groupID, userID string, isAdmin bool) error {
	_, err := database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (struct{}, error) {
		tag, err := tx.Exec(ctx, `
			UPDATE public.group_members SET is_admin = $3
			WHERE group_id = $1 AND user_id = $2
		`, groupID, userID, isAdmin)
		if err != nil {
			return struct{}{}, classify(err)
		}
		if tag.RowsAffected() == 0 {
			return struct{}{}, ErrPolicyDenied
		}
		return struct{}{}, nil
	})
	return err
}

// RemoveGroupMember deletes a membership: members remove themselves,
// creators and admins remove anyone.
func (s *Store) RemoveGroupMember(ctx context.Context, sess Session, groupID, userID string) error {
	_, err := database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (struct{}, error) {
		tag, err := tx.Exec(ctx,
			`DELETE FROM public.group_members WHERE group_id = $1 AND user_id = $2`,
			groupID, userID)
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

// GroupMembers lists memberships with profile fields joined. The caller
// sees only rows its SELECT policy admits; for a regular member that is
// their own row, so handlers use the service role plus a membership
// pre-check when a full roster is needed.
func (s *Store) GroupMembers(ctx context.Context, sess Session, groupID string) ([]GroupMemberProfile, error) {
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) ([]GroupMemberProfile, error) {
		rows, err := tx.Query(ctx, `
			SELECT gm.group_id, gm.user_id, gm.joined_at, gm.is_admin,
			       pr.username, pr.display_name, pr.avatar_url, pr.verified
			FROM public.group_members gm
			JOIN public.profiles pr ON pr.id = gm.user_id
			WHERE gm.group_id = $1
			ORDER BY gm.joined_at
		`, groupID)
		if err != nil {
			return nil, classify(err)
		}
		defer rows.Close()

		out := []GroupMemberProfile{}
		for rows.Next() {
			var m GroupMemberProfile
			if err := rows.Scan(&m.GroupID, &m.UserID, &m.JoinedAt, &m.IsAdmin,
				&m.Username, &m.DisplayName, &m.AvatarURL, &m.Verified); err != nil {
				return nil, classify(err)
			}
			out = append(out, m)
		}
		return out, classify(rows.Err())
	})
}

// MemberGroupIDs returns the ids of groups the caller currently belongs
// to, read from their own membership rows. Creator status alone does
// not qualify: a creator who left the group is excluded.
func (s *Store) MemberGroupIDs(ctx context.Context, sess Session) ([]string, error) {
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) ([]string, error) {
		rows, err := tx.Query(ctx,
			`SELECT group_id FROM public.group_members WHERE user_id = $1`, sess.UserID())
		if err != nil {
			return nil, classify(err)
		}
		defer rows.Close()

		out := []string{}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, classify(err)
			}
			out = append(out, id)
		}
		return out, classify(rows.Err())
	})
}

// IsGroupMember checks the caller's own membership. Runs under the
// caller's session: the self-only SELECT policy is exactly enough.
func (s *Store) IsGroupMember(ctx context.Context, sess Session, groupID string) (bool, error) {
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (bool, error) {
		var ok bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM public.group_members WHERE group_id = $1 AND user_id = $2)
		`, groupID, sess.UserID()).Scan(&ok)
		return ok, classify(err)
	})
}

type GroupMemberProfile struct {
	GroupID     string    `json:"group_id"`
	UserID      string    `json:"user_id"`
	JoinedAt    time.Time `json:"joined_at"`
	IsAdmin     bool      `json:"is_admin"`
	Username    string    `json:"username"`
	DisplayName *string   `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url"`
	Verified    bool      `json:"verified"`
}
