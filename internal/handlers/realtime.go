package handlers

import (
	"context"

	"chat-engine/internal/models"
	"chat-engine/internal/presence"
	"chat-engine/internal/services"
)

// Realtime is the ordered fan-out side of every write that reaches
// connected clients. ws.Hub implements it.
type Realtime interface {
	SendMessage(ctx context.Context, senderID int, in services.MessageInput) (models.Message, error)
	MarkRead(ctx context.Context, userID, conversationID int, upToMessageID *int) (services.ReadResult, error)
	GetOrCreateDirectConversation(ctx context.Context, selfID, otherID int) (models.Conversation, bool, error)
	CreateGroup(ctx context.Context, creatorID int, in services.GroupInput) (services.CreatedGroup, error)
	JoinGroup(ctx context.Context, userID, groupID int) (services.MembershipChange, error)
	LeaveGroup(ctx context.Context, userID, groupID int) (services.MembershipChange, error)
	AddGroupMembers(ctx context.Context, actorID, groupID int, userIDs []int) (services.MembershipChange, error)
	RemoveGroupMember(ctx context.Context, actorID, groupID, userID int) (services.MembershipChange, error)
	Statuses(userIDs []int) []presence.Status
}
