package repositories

import (
	"context"

	"chat-engine/internal/models"
)

// ProfilesByID reads display profiles. Unknown ids are simply absent.
func (q *queries) ProfilesByID(ctx context.Context, userIDs []int) ([]models.Profile, error) {
	profiles := []models.Profile{}
	if len(userIDs) == 0 {
		return profiles, nil
	}
	err := q.selectIn(ctx, &profiles, `SELECT user_id, name, image_url FROM user_profiles WHERE user_id IN (?)`, userIDs)
	return profiles, err
}

// UpsertProfile writes a profile row; the profile service owns this table in production.
func (q *queries) UpsertProfile(ctx context.Context, profile models.Profile) error {
	_, err := q.exec(ctx, `INSERT INTO user_profiles (user_id, name, image_url) VALUES (?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE SET name = excluded.name, image_url = excluded.image_url`,
		profile.ID, profile.Name, profile.Image)
	return err
}
