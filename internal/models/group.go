package models

import "time"

// GroupCategory is the closed set of group topics.
type GroupCategory string

const (
	CategoryGeneral   GroupCategory = "GENERAL"
	CategoryFarming   GroupCategory = "FARMING"
	CategoryLivestock GroupCategory = "LIVESTOCK"
	CategoryProduce   GroupCategory = "PRODUCE"
	CategoryMarket    GroupCategory = "MARKET"
	CategoryRecipes   GroupCategory = "RECIPES"
	CategoryEquipment GroupCategory = "EQUIPMENT"
	CategoryOther     GroupCategory = "OTHER"
)

// Valid reports whether c is one of the known categories.
func (c GroupCategory) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryFarming, CategoryLivestock, CategoryProduce,
		CategoryMarket, CategoryRecipes, CategoryEquipment, CategoryOther:
		return true
	}
	return false
}

// Group is the metadata of a GROUP conversation.
type Group struct {
	ID             int           `db:"id" json:"id"`
	ConversationID int           `db:"conversation_id" json:"conversation_id"`
	Name           string        `db:"name" json:"name"`
	Description    *string       `db:"description" json:"description,omitempty"`
	ImageURL       *string       `db:"image_url" json:"image_url,omitempty"`
	Category       GroupCategory `db:"category" json:"category"`
	CreatedByID    int           `db:"created_by" json:"created_by"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// GroupSummary is the short form embedded in inbox rows.
type GroupSummary struct {
	ID       int           `db:"id" json:"id"`
	Name     string        `db:"name" json:"name"`
	ImageURL *string       `db:"image_url" json:"image_url,omitempty"`
	Category GroupCategory `db:"category" json:"category"`
}

// GroupSearchResult is one hit of a group search.
type GroupSearchResult struct {
	Group
	MemberCount int  `db:"member_count" json:"member_count"`
	IsMember    bool `db:"-" json:"is_member"`
}

// GroupDetail is a group together with its member ids.
type GroupDetail struct {
	Group
	MemberIDs []int `json:"member_ids"`
	IsMember  bool  `json:"is_member"`
}
