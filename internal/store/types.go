package store

import "time"

type Profile struct {
	ID                  string     `json:"id"`
	Username            string     `json:"username"`
	DisplayName         *string    `json:"display_name"`
	Bio                 *string    `json:"bio"`
	AvatarURL           *string    `json:"avatar_url"`
	BannerURL           *string    `json:"banner_url"`
	Verified            bool       `json:"verified"`
	Theme               string     `json:"theme"`
	VerificationRequest *string    `json:"verification_request,omitempty"`
	LastSeen            *time.Time `json:"last_seen"`
	CreatedAt           time.Time  `json:"created_at"`
}

type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	MediaURL  *string   `json:"media_url"`
	MediaType *string   `json:"media_type"`
	CreatedAt time.Time `json:"created_at"`

	// Joined author fields, present on feed reads.
	Author *Profile `json:"author,omitempty"`
}

type Follow struct {
	FollowerID  string    `json:"follower_id"`
	FollowingID string    `json:"following_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID *string   `json:"recipient_id"`
	Content     *string   `json:"content"`
	MediaURL    *string   `json:"media_url"`
	MediaType   *string   `json:"media_type"`
	Read        bool      `json:"read"`
	ReplyToID   *string   `json:"reply_to_id"`
	GroupID     *string   `json:"group_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatorID *string   `json:"creator_id"`
	AvatarURL *string   `json:"avatar_url"`
	BannerURL *string   `json:"banner_url"`
	CreatedAt time.Time `json:"created_at"`
}

type GroupMember struct {
	GroupID  string    `json:"group_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
	IsAdmin  bool      `json:"is_admin"`
}
