package services

import (
	"strings"
	"unicode/utf8"

	"chat-engine/internal/models"
)

const (
	MaxContentLength     = 4000
	MaxGroupNameLength   = 100
	MaxDescriptionLength = 500

	DefaultMessageLimit = 50
	MaxMessageLimit     = 100
	DefaultSearchLimit  = 20
	MaxSearchLimit      = 50
)

// MessageInput is a client request to append a message.
type MessageInput struct {
	ConversationID int
	Content        string
	Kind           models.MessageKind
	AttachmentURL  *string
}

func (in MessageInput) normalize() (MessageInput, error) {
	if in.Kind == "" {
		in.Kind = models.MessageText
	}
	if !in.Kind.Valid() || in.Kind == models.MessageSystem {
		return in, ErrInvalidKind
	}
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return in, ErrInvalidContent
	}
	if utf8.RuneCountInString(in.Content) > MaxContentLength {
		return in, ErrContentTooLong
	}
	in.AttachmentURL = trimmedOrNil(in.AttachmentURL)
	switch in.Kind {
	case models.MessageImage, models.MessageFile:
		if in.AttachmentURL == nil {
			return in, ErrInvalidAttachment
		}
	default:
		if in.AttachmentURL != nil {
			return in, ErrInvalidAttachment
		}
	}
	return in, nil
}

// GroupInput describes a new group.
type GroupInput struct {
	Name        string
	Description *string
	Category    models.GroupCategory
	ImageURL    *string
	MemberIDs   []int
}

// GroupPatch changes selected fields of a group. Nil fields are left as is;
// an empty description or image clears it.
type GroupPatch struct {
	Name        *string
	Description *string
	Category    *models.GroupCategory
	ImageURL    *string
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxGroupNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}

func validateDescription(desc *string) (*string, error) {
	desc = trimmedOrNil(desc)
	if desc != nil && utf8.RuneCountInString(*desc) > MaxDescriptionLength {
		return nil, ErrDescriptionTooLong
	}
	return desc, nil
}

func validateCategory(c models.GroupCategory) (models.GroupCategory, error) {
	if c == "" {
		return models.CategoryGeneral, nil
	}
	c = models.GroupCategory(strings.ToUpper(string(c)))
	if !c.Valid() {
		return "", ErrInvalidCategory
	}
	return c, nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// uniqueIDs drops duplicates, non-positive ids and the excluded id, keeping order.
func uniqueIDs(ids []int, exclude int) []int {
	seen := map[int]struct{}{exclude: {}}
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a case-insensitive LIKE pattern matching query anywhere.
func containsPattern(query string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(query))) + "%"
}
