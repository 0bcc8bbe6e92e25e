package services

import (
	"context"
	"log"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chat-engine/internal/models"
	"chat-engine/internal/profiles"
	"chat-engine/internal/repositories"
)

// Service is the durable side of the chat engine. Every method is one
// logical action applied in one store transaction.
type Service interface {
	GetOrCreateDirectConversation(ctx context.Context, selfID, otherID int) (models.Conversation, bool, error)
	SendMessage(ctx context.Context, senderID int, in MessageInput) (models.Message, error)
	ListMessages(ctx context.Context, requesterID, conversationID, limit int, before *models.Cursor) (models.MessagePage, error)
	ListConversationsForUser(ctx context.Context, userID int) ([]models.ConversationSummary, error)
	MarkRead(ctx context.Context, userID, conversationID int, upToMessageID *int) (ReadResult, error)
	IsParticipant(ctx context.Context, conversationID, userID int) (bool, error)
	Participants(ctx context.Context, conversationID int) ([]int, error)

	CreateGroup(ctx context.Context, creatorID int, in GroupInput) (CreatedGroup, error)
	GetGroup(ctx context.Context, requesterID, groupID int) (models.GroupDetail, error)
	UpdateGroup(ctx context.Context, actorID, groupID int, patch GroupPatch) (models.Group, error)
	JoinGroup(ctx context.Context, userID, groupID int) (MembershipChange, error)
	LeaveGroup(ctx context.Context, userID, groupID int) (MembershipChange, error)
	AddGroupMembers(ctx context.Context, actorID, groupID int, userIDs []int) (MembershipChange, error)
	RemoveGroupMember(ctx context.Context, actorID, groupID, userID int) (MembershipChange, error)
	SearchGroups(ctx context.Context, requesterID int, query string, category models.GroupCategory, limit int) ([]models.GroupSearchResult, error)
}

// ProfileLookup resolves display fields of users.
type ProfileLookup interface {
	Profiles(ctx context.Context, userIDs []int) (map[int]models.Profile, error)
}

// ReadResult is the outcome of MarkRead.
type ReadResult struct {
	ConversationID int       `json:"conversation_id"`
	UserID         int       `json:"user_id"`
	MessageID      int       `json:"message_id,omitempty"`
	LastReadAt     time.Time `json:"last_read_at"`
	Advanced       bool      `json:"advanced"`
	Receipts       int       `json:"receipts"`
}

// CreatedGroup is the outcome of CreateGroup.
type CreatedGroup struct {
	Group         models.Group    `json:"group"`
	MemberIDs     []int           `json:"member_ids"`
	SystemMessage *models.Message `json:"system_message"`
}

// MembershipChange is the outcome of a join, leave, add or remove.
// Changed is false when the call was a no-op; SystemMessage is then nil.
type MembershipChange struct {
	Group         models.Group    `json:"group"`
	UserIDs       []int           `json:"user_ids"`
	Changed       bool            `json:"changed"`
	SystemMessage *models.Message `json:"system_message,omitempty"`
}

// ConversationService implements Service over a repository.
type ConversationService struct {
	repo     repositories.Repository
	profiles ProfileLookup
	clock    clockwork.Clock
	tracer   trace.Tracer
}

var _ Service = (*ConversationService)(nil)

func NewConversationService(repo repositories.Repository, profiles ProfileLookup, clock clockwork.Clock) *ConversationService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ConversationService{
		repo:     repo,
		profiles: profiles,
		clock:    clock,
		tracer:   otel.Tracer("chat-engine/services"),
	}
}

// now is the persistence timestamp. The store keeps microseconds.
func (s *ConversationService) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

func (s *ConversationService) start(ctx context.Context, op string, userID int) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "services."+op, trace.WithAttributes(attribute.Int("user.id", userID)))
}

// resolve fills each message's sender. A lookup failure degrades to placeholders.
func (s *ConversationService) resolve(ctx context.Context, msgs []models.Message) {
	if len(msgs) == 0 {
		return
	}
	ids := make([]int, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
	}
	found := s.lookup(ctx, ids)
	for i := range msgs {
		p := found[msgs[i].SenderID]
		msgs[i].Sender = &p
	}
}

func (s *ConversationService) lookup(ctx context.Context, ids []int) map[int]models.Profile {
	found, err := s.profiles.Profiles(ctx, ids)
	if err != nil {
		log.Printf("profile lookup failed ids=%v: %v", ids, err)
		found = make(map[int]models.Profile, len(ids))
		for _, id := range ids {
			found[id] = profiles.Placeholder(id)
		}
	}
	return found
}

func (s *ConversationService) name(ctx context.Context, userID int) string {
	return s.lookup(ctx, []int{userID})[userID].Name
}

// appendSystem writes a SYSTEM message and bumps the conversation.
func appendSystem(ctx context.Context, q repositories.Queries, conversationID, actorID int, content string, at time.Time) (models.Message, error) {
	msg, err := q.CreateMessage(ctx, models.Message{
		ConversationID: conversationID,
		SenderID:       actorID,
		Content:        content,
		Kind:           models.MessageSystem,
		CreatedAt:      at,
	})
	if err != nil {
		return models.Message{}, err
	}
	if err := q.TouchConversation(ctx, conversationID, at); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}
