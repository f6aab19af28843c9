package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/cooperblacks/liaotian/internal/database"
)

const messageCols = `id, sender_id, recipient_id, content, media_url, media_type,
	read, reply_to_id, group_id, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.MediaURL,
		&m.MediaType, &m.Read, &m.ReplyToID, &m.GroupID, &m.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &m, nil
}

type MessageCreate struct {
	RecipientID *string `json:"recipient_id"`
	GroupID     *string `json:"group_id"`
	Content     *string `json:"content"`
	MediaURL    *string `json:"media_url"`
	MediaType   *string `json:"media_type"`
	ReplyToID   *string `json:"reply_to_id"`
}

// SendMessage inserts a message. Exactly one of RecipientID and GroupID
// must be set; the insert policies reject anything else, so the check
// here only produces a friendlier error.
func (s *Store) SendMessage(ctx context.Context, sess Session, in MessageCreate) (*Message, error) {
	if (in.RecipientID == nil) == (in.GroupID == nil) {
		return nil, ErrConstraint
	}
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (*Message, error) {
		return scanMessage(tx.QueryRow(ctx, `
			INSERT INTO public.messages (sender_id, recipient_id, group_id, content, media_url, media_type, reply_to_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+messageCols,
			sess.UserID(), in.RecipientID, in.GroupID, in.Content, in.MediaURL, in.MediaType, in.ReplyToID))
	})
}

// Conversation returns the direct-message history between the caller and
// another user, oldest first. RLS limits rows to the caller's own pairs.
func (s *Store) Conversation(ctx context.Context, sess Session, otherID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) ([]Message, error) {
		rows, err := tx.Query(ctx, `
			SELECT `+messageCols+` FROM public.messages
			WHERE group_id IS NULL
			  AND ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
			ORDER BY created_at DESC LIMIT $3
		`, sess.UserID(), otherID, limit)
		if err != nil {
			return nil, classify(err)
		}
		defer rows.Close()
		msgs, err := collectMessages(rows)
		if err != nil {
			return nil, err
		}
		reverse(msgs)
		return msgs, nil
	})
}

// GroupMessages returns a group's history, oldest first. Non-members get
// an empty slice: the SELECT policy filters every row out.
func (s *Store) GroupMessages(ctx context.Context, sess Session, groupID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) ([]Message, error) {
		rows, err := tx.Query(ctx, `
			SELECT `+messageCols+` FROM public.messages
			WHERE group_id = $1
			ORDER BY created_at DESC LIMIT $2
		`, groupID, limit)
		if err != nil {
			return nil, classify(err)
		}
		defer rows.Close()
		msgs, err := collectMessages(rows)
		if err != nil {
			return nil, err
		}
		reverse(msgs)
		return msgs, nil
	})
}

// MarkConversationRead flags every unread direct message from the given
// sender to the caller. Only the recipient holds the UPDATE policy.
func (s *Store) MarkConversationRead(ctx context.Context, sess Session, senderID string) error {
	_, err := database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (struct{}, error) {
		_, err := tx.Exec(ctx, `
			UPDATE public.messages SET read = true
			WHERE group_id IS NULL AND sender_id = $1 AND recipient_id = $2 AND read = false
		`, senderID, sess.UserID())
		return struct{}{}, classify(err)
	})
	return err
}

func (s *Store) DeleteMessage(ctx context.Context, sess Session, id string) error {
	_, err := database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) (struct{}, error) {
		tag, err := tx.Exec(ctx, `DELETE FROM public.messages WHERE id = $1`, id)
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

// ConversationPartner is one direct-message thread summary.
type ConversationPartner struct {
	Profile     Profile `json:"profile"`
	LastMessage Message `json:"last_message"`
	UnreadCount int     `json:"unread_count"`
}

// Conversations lists the caller's direct threads, most recent first.
func (s *Store) Conversations(ctx context.Context, sess Session) ([]ConversationPartner, error) {
	return database.ExecuteWithRLS(ctx, s.pool, sess.Role, sess.Claims, func(tx pgx.Tx) ([]ConversationPartner, error) {
		rows, err := tx.Query(ctx, `
			WITH threads AS (
				SELECT DISTINCT ON (partner_id) partner_id, id FROM (
					SELECT CASE WHEN sender_id = $1 THEN recipient_id ELSE sender_id END AS partner_id,
					       id, created_at
					FROM public.messages
					WHERE group_id IS NULL AND (sender_id = $1 OR recipient_id = $1)
				) t
				ORDER BY partner_id, created_at DESC
			)
			SELECT pr.id, pr.username, pr.display_name, pr.bio, pr.avatar_url, pr.banner_url,
			       pr.verified, pr.theme, pr.verification_request, pr.last_seen, pr.created_at,
			       m.id, m.sender_id, m.recipient_id, m.content, m.media_url, m.media_type,
			       m.read, m.reply_to_id, m.group_id, m.created_at,
			       (SELECT COUNT(*) FROM public.messages u
			        WHERE u.group_id IS NULL AND u.sender_id = pr.id AND u.recipient_id = $1 AND u.read = false)
			FROM threads th
			JOIN public.profiles pr ON pr.id = th.partner_id
			JOIN public.messages m ON m.id = th.id
			ORDER BY m.created_at DESC
		`, sess.UserID())
		if err != nil {
			return nil, classify(err)
		}
		defer rows.Close()

		out := []ConversationPartner{}
		for rows.Next() {
			var c ConversationPartner
			p := &c.Profile
			m := &c.LastMessage
			if err := rows.Scan(&p.ID, &p.Username, &p.DisplayName, &p.Bio, &p.AvatarURL, &p.BannerURL,
				&p.Verified, &p.Theme, &p.VerificationRequest, &p.LastSeen, &p.CreatedAt,
				&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.MediaURL, &m.MediaType,
				&m.Read, &m.ReplyToID, &m.GroupID, &m.CreatedAt,
				&c.UnreadCount); err != nil {
				return nil, classify(err)
			}
			out = append(out, c)
		}
		return out, classify(rows.Err())
	})
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	out := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.MediaURL,
			&m.MediaType, &m.Read, &m.ReplyToID, &m.GroupID, &m.CreatedAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, m)
	}
	return out, classify(rows.Err())
}

func reverse(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
