package profiles

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"chat-engine/internal/models"
)

// Source reads profiles from the profile store.
type Source interface {
	ProfilesByID(ctx context.Context, userIDs []int) ([]models.Profile, error)
}

// Lookup resolves display profiles with a bounded, expiring cache in front
// of the source.
type Lookup struct {
	source Source
	cache  *expirable.LRU[int, models.Profile]
}

func NewLookup(source Source, size int, ttl time.Duration) *Lookup {
	return &Lookup{
		source: source,
		cache:  expirable.NewLRU[int, models.Profile](size, nil, ttl),
	}
}

// Profiles returns a profile for every id. Users without a stored profile get
// a placeholder that is not cached.
func (l *Lookup) Profiles(ctx context.Context, userIDs []int) (map[int]models.Profile, error) {
	out := make(map[int]models.Profile, len(userIDs))
	var missing []int
	for _, id := range userIDs {
		if _, seen := out[id]; seen {
			continue
		}
		if p, ok := l.cache.Get(id); ok {
			out[id] = p
			continue
		}
		out[id] = Placeholder(id)
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	found, err := l.source.ProfilesByID(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, p := range found {
		l.cache.Add(p.ID, p)
		out[p.ID] = p
	}
	return out, nil
}

// Profile resolves a single user.
func (l *Lookup) Profile(ctx context.Context, userID int) (models.Profile, error) {
	m, err := l.Profiles(ctx, []int{userID})
	if err != nil {
		return models.Profile{}, err
	}
	return m[userID], nil
}

// Forget drops a cached profile after it changed upstream.
func (l *Lookup) Forget(userID int) {
	l.cache.Remove(userID)
}

func Placeholder(userID int) models.Profile {
	return models.Profile{ID: userID, Name: "Unknown user"}
}
