package models

import "time"

// ConversationKind distinguishes one-to-one from group conversations.
type ConversationKind string

const (
	KindDirect ConversationKind = "DIRECT"
	KindGroup  ConversationKind = "GROUP"
)

// Conversation is a durable message thread.
type Conversation struct {
	ID        int              `db:"id" json:"id"`
	Kind      ConversationKind `db:"kind" json:"kind"`
	DirectKey *string          `db:"direct_key" json:"-"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// Participant is a user's membership in a conversation.
type Participant struct {
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	UserID         int       `db:"user_id" json:"user_id"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
	LastReadAt     time.Time `db:"last_read_at" json:"last_read_at"`
}

// ConversationSummary is one row of a user's inbox.
type ConversationSummary struct {
	ID             int              `json:"id"`
	Kind           ConversationKind `json:"kind"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	ParticipantIDs []int            `json:"participant_ids"`
	OtherUser      *Profile         `json:"other_user,omitempty"`
	Group          *GroupSummary    `json:"group,omitempty"`
	LastMessage    *Message         `json:"last_message,omitempty"`
	UnreadCount    int              `json:"unread_count"`
}

// InboxRow is the raw per-conversation row read for a user's inbox.
type InboxRow struct {
	ID            int              `db:"id"`
	Kind          ConversationKind `db:"kind"`
	CreatedAt     time.Time        `db:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at"`
	LastReadAt    time.Time        `db:"last_read_at"`
	UnreadCount   int              `db:"unread_count"`
	LastMessageID *int             `db:"last_message_id"`
}

// Profile is the display identity of a user, owned by the external profile service.
type Profile struct {
	ID    int     `db:"user_id" json:"id"`
	Name  string  `db:"name" json:"name"`
	Image *string `db:"image_url" json:"image"`
}

// DirectKey returns the uniqueness key of the unordered user pair.
func DirectKey(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return itoa(a) + ":" + itoa(b)
}
