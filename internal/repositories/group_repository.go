package repositories

import (
	"context"
	"database/sql"
	"errors"

	"chat-engine/internal/models"
)

const groupColumns = `id, conversation_id, name, description, image_url, category, created_by, created_at, updated_at`

// CreateGroup inserts the metadata row of a GROUP conversation.
func (q *queries) CreateGroup(ctx context.Context, group models.Group) (models.Group, error) {
	err := q.get(ctx, &group.ID, `INSERT INTO groups (conversation_id, name, description, image_url, category, created_by, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		group.ConversationID, group.Name, group.Description, group.ImageURL, string(group.Category), group.CreatedByID, group.CreatedAt, group.UpdatedAt)
	return group, err
}

// GetGroup fetches a single group.
func (q *queries) GetGroup(ctx context.Context, groupID int) (models.Group, error) {
	var group models.Group
	err := q.get(ctx, &group, `SELECT `+groupColumns+` FROM groups WHERE id = ?`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	return group, err
}

// UpdateGroup overwrites the editable fields of a group.
func (q *queries) UpdateGroup(ctx context.Context, group models.Group) error {
	n, err := q.exec(ctx, `UPDATE groups SET name = ?, description = ?, image_url = ?, category = ?, updated_at = ?
        WHERE id = ?`, group.Name, group.Description, group.ImageURL, string(group.Category), group.UpdatedAt, group.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// GroupsForConversations maps conversation ids to their group summary.
func (q *queries) GroupsForConversations(ctx context.Context, conversationIDs []int) (map[int]models.GroupSummary, error) {
	out := make(map[int]models.GroupSummary, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var groups []models.Group
	if err := q.selectIn(ctx, &groups, `SELECT `+groupColumns+` FROM groups WHERE conversation_id IN (?)`, conversationIDs); err != nil {
		return nil, err
	}
	for _, g := range groups {
		out[g.ConversationID] = models.GroupSummary{ID: g.ID, Name: g.Name, ImageURL: g.ImageURL, Category: g.Category}
	}
	return out, nil
}

type groupSearchRow struct {
	models.Group
	MemberCount int `db:"member_count"`
	Membership  int `db:"membership"`
}

// SearchGroups matches pattern (already lowercased and LIKE-escaped) against
// name and description. An empty category searches every category.
func (q *queries) SearchGroups(ctx context.Context, userID int, pattern string, category models.GroupCategory, limit int) ([]models.GroupSearchResult, error) {
	query := `SELECT g.id, g.conversation_id, g.name, g.description, g.image_url, g.category, g.created_by, g.created_at, g.updated_at,
            (SELECT COUNT(*) FROM participants p WHERE p.conversation_id = g.conversation_id) AS member_count,
            (SELECT COUNT(*) FROM participants p WHERE p.conversation_id = g.conversation_id AND p.user_id = ?) AS membership
        FROM groups g
        WHERE (LOWER(g.name) LIKE ? ESCAPE '\' OR LOWER(COALESCE(g.description, '')) LIKE ? ESCAPE '\')`
	args := []interface{}{userID, pattern, pattern}
	if category != "" {
		query += ` AND g.category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY member_count DESC, g.id ASC LIMIT ?`
	args = append(args, limit)

	var rows []groupSearchRow
	if err := q.sel(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	results := make([]models.GroupSearchResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, models.GroupSearchResult{Group: r.Group, MemberCount: r.MemberCount, IsMember: r.Membership > 0})
	}
	return results, nil
}
