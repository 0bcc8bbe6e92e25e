package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chat-engine/internal/models"
)

const messageColumns = `id, conversation_id, sender_id, content, kind, attachment_url, created_at`

// CreateMessage appends a message. CreatedAt must be set by the caller.
func (q *queries) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	err := q.get(ctx, &msg.ID, `INSERT INTO messages (conversation_id, sender_id, content, kind, attachment_url, created_at)
        VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		msg.ConversationID, msg.SenderID, msg.Content, string(msg.Kind), msg.AttachmentURL, msg.CreatedAt)
	return msg, err
}

// GetMessage retrieves a single message.
func (q *queries) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := q.get(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListMessages returns up to limit messages strictly before the cursor,
// newest first.
func (q *queries) ListMessages(ctx context.Context, conversationID int, before *models.Cursor, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	args := []interface{}{conversationID}
	if before != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, before.CreatedAt, before.CreatedAt, before.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	msgs := []models.Message{}
	err := q.sel(ctx, &msgs, query, args...)
	return msgs, err
}

// MessagesByID fetches the given messages in no particular order.
func (q *queries) MessagesByID(ctx context.Context, messageIDs []int) ([]models.Message, error) {
	msgs := []models.Message{}
	if len(messageIDs) == 0 {
		return msgs, nil
	}
	err := q.selectIn(ctx, &msgs, `SELECT `+messageColumns+` FROM messages WHERE id IN (?)`, messageIDs)
	return msgs, err
}

// InsertReadReceipts records receipts for messages created in (after, upTo]
// that the user did not send. Existing receipts are kept.
func (q *queries) InsertReadReceipts(ctx context.Context, conversationID, userID int, after, upTo, readAt time.Time) (int, error) {
	var ids []int
	if err := q.sel(ctx, &ids, `SELECT id FROM messages
        WHERE conversation_id = ? AND created_at > ? AND created_at <= ? AND sender_id <> ?
        ORDER BY created_at, id`, conversationID, after, upTo, userID); err != nil {
		return 0, err
	}
	inserted := 0
	for _, id := range ids {
		n, err := q.exec(ctx, `INSERT INTO read_receipts (message_id, user_id, read_at) VALUES (?, ?, ?)
            ON CONFLICT (message_id, user_id) DO NOTHING`, id, userID, readAt)
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

// ReadReceipts lists who has read a message.
func (q *queries) ReadReceipts(ctx context.Context, messageID int) ([]models.ReadReceipt, error) {
	receipts := []models.ReadReceipt{}
	err := q.sel(ctx, &receipts, `SELECT message_id, user_id, read_at FROM read_receipts
        WHERE message_id = ? ORDER BY read_at, user_id`, messageID)
	return receipts, err
}
