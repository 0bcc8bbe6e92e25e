package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chat-engine/internal/models"
)

const conversationColumns = `id, kind, direct_key, created_at, updated_at`

// GetConversation fetches a conversation by id.
func (q *queries) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := q.get(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// FindDirectConversation looks up the DIRECT conversation of a user pair.
func (q *queries) FindDirectConversation(ctx context.Context, directKey string) (models.Conversation, error) {
	var conv models.Conversation
	err := q.get(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE direct_key = ?`, directKey)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// InsertDirectConversation inserts the DIRECT row for directKey unless one
// exists. It reports false when another writer already holds the key.
func (q *queries) InsertDirectConversation(ctx context.Context, directKey string, at time.Time) (int, bool, error) {
	var id int
	err := q.get(ctx, &id, `INSERT INTO conversations (kind, direct_key, created_at, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (direct_key) DO NOTHING
        RETURNING id`, string(models.KindDirect), directKey, at, at)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// CreateConversation inserts a conversation without a direct key.
func (q *queries) CreateConversation(ctx context.Context, kind models.ConversationKind, at time.Time) (models.Conversation, error) {
	conv := models.Conversation{Kind: kind, CreatedAt: at, UpdatedAt: at}
	err := q.get(ctx, &conv.ID, `INSERT INTO conversations (kind, created_at, updated_at) VALUES (?, ?, ?) RETURNING id`, string(kind), at, at)
	return conv, err
}

// TouchConversation bumps updated_at so the conversation sorts first in inboxes.
func (q *queries) TouchConversation(ctx context.Context, conversationID int, at time.Time) error {
	_, err := q.exec(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, at, conversationID)
	return err
}

// InboxRows returns one row per conversation of the user, most recently active first.
func (q *queries) InboxRows(ctx context.Context, userID int) ([]models.InboxRow, error) {
	rows := []models.InboxRow{}
	err := q.sel(ctx, &rows, `SELECT c.id, c.kind, c.created_at, c.updated_at, p.last_read_at,
            (SELECT COUNT(*) FROM messages m
                WHERE m.conversation_id = c.id AND m.created_at > p.last_read_at AND m.sender_id <> p.user_id) AS unread_count,
            (SELECT m.id FROM messages m
                WHERE m.conversation_id = c.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1) AS last_message_id
        FROM conversations c
        INNER JOIN participants p ON p.conversation_id = c.id
        WHERE p.user_id = ?
        ORDER BY c.updated_at DESC, c.id DESC`, userID)
	return rows, err
}

// AddParticipants inserts memberships, skipping users already present. It
// returns how many rows were inserted.
func (q *queries) AddParticipants(ctx context.Context, conversationID int, userIDs []int, at time.Time) (int, error) {
	added := 0
	for _, id := range userIDs {
		n, err := q.exec(ctx, `INSERT INTO participants (conversation_id, user_id, joined_at, last_read_at)
            VALUES (?, ?, ?, ?)
            ON CONFLICT (conversation_id, user_id) DO NOTHING`, conversationID, id, at, at)
		if err != nil {
			return added, err
		}
		added += int(n)
	}
	return added, nil
}

// RemoveParticipant deletes a membership and reports whether it existed.
func (q *queries) RemoveParticipant(ctx context.Context, conversationID, userID int) (bool, error) {
	n, err := q.exec(ctx, `DELETE FROM participants WHERE conversation_id = ? AND user_id = ?`, conversationID, userID)
	return n > 0, err
}

// FindParticipant fetches one membership row.
func (q *queries) FindParticipant(ctx context.Context, conversationID, userID int) (models.Participant, error) {
	var p models.Participant
	err := q.get(ctx, &p, `SELECT conversation_id, user_id, joined_at, last_read_at
        FROM participants WHERE conversation_id = ? AND user_id = ?`, conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrParticipantNotFound
	}
	return p, err
}

// ParticipantIDs lists the members of a conversation in id order.
func (q *queries) ParticipantIDs(ctx context.Context, conversationID int) ([]int, error) {
	ids := []int{}
	err := q.sel(ctx, &ids, `SELECT user_id FROM participants WHERE conversation_id = ? ORDER BY user_id`, conversationID)
	return ids, err
}

// ParticipantIDsFor lists members for several conversations at once.
func (q *queries) ParticipantIDsFor(ctx context.Context, conversationIDs []int) (map[int][]int, error) {
	out := make(map[int][]int, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var rows []models.Participant
	if err := q.selectIn(ctx, &rows, `SELECT conversation_id, user_id, joined_at, last_read_at
        FROM participants WHERE conversation_id IN (?) ORDER BY conversation_id, user_id`, conversationIDs); err != nil {
		return nil, err
	}
	for _, p := range rows {
		out[p.ConversationID] = append(out[p.ConversationID], p.UserID)
	}
	return out, nil
}

// AdvanceLastRead moves the read watermark forward. It never moves it back.
func (q *queries) AdvanceLastRead(ctx context.Context, conversationID, userID int, at time.Time) (bool, error) {
	n, err := q.exec(ctx, `UPDATE participants SET last_read_at = ?
        WHERE conversation_id = ? AND user_id = ? AND last_read_at < ?`, at, conversationID, userID, at)
	return n > 0, err
}
