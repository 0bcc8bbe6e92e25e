package models

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// MessageKind is the payload type of a message.
type MessageKind string

const (
	MessageText   MessageKind = "TEXT"
	MessageImage  MessageKind = "IMAGE"
	MessageFile   MessageKind = "FILE"
	MessageSystem MessageKind = "SYSTEM"
)

// Valid reports whether k is a known message kind.
func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return true
	}
	return false
}

// Message is an append-only entry of a conversation.
type Message struct {
	ID             int         `db:"id" json:"id"`
	ConversationID int         `db:"conversation_id" json:"conversation_id"`
	SenderID       int         `db:"sender_id" json:"sender_id"`
	Content        string      `db:"content" json:"content"`
	Kind           MessageKind `db:"kind" json:"kind"`
	AttachmentURL  *string     `db:"attachment_url" json:"attachment_url,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	Sender         *Profile    `db:"-" json:"sender,omitempty"`
}

// Cursor returns the pagination position of the message.
func (m Message) Cursor() Cursor {
	return Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// ReadReceipt acknowledges that a user has read a message.
type ReadReceipt struct {
	MessageID int       `db:"message_id" json:"message_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	ReadAt    time.Time `db:"read_at" json:"read_at"`
}

// MessagePage is one page of a conversation's history, oldest first.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"has_more"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// Cursor is a keyset position: messages strictly before (CreatedAt, ID).
type Cursor struct {
	CreatedAt time.Time
	ID        int
}

var ErrInvalidCursor = errors.New("invalid cursor")

// String encodes the cursor as an opaque token.
func (c Cursor) String() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixMicro(), 10) + ":" + strconv.Itoa(c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a token produced by Cursor.String.
func ParseCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}
	micros, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return Cursor{}, ErrInvalidCursor
	}
	us, err := strconv.ParseInt(micros, 10, 64)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}
	n, err := strconv.Atoi(id)
	if err != nil || n <= 0 {
		return Cursor{}, ErrInvalidCursor
	}
	return Cursor{CreatedAt: time.UnixMicro(us).UTC(), ID: n}, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
