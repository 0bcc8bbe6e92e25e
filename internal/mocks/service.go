package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-engine/internal/models"
	"chat-engine/internal/presence"
	"chat-engine/internal/services"
)

type ServiceMock struct {
	mock.Mock
}

var _ services.Service = (*ServiceMock)(nil)

func (m *ServiceMock) GetOrCreateDirectConversation(ctx context.Context, selfID, otherID int) (models.Conversation, bool, error) {
	args := m.Called(ctx, selfID, otherID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Bool(1), args.Error(2)
}

func (m *ServiceMock) SendMessage(ctx context.Context, senderID int, in services.MessageInput) (models.Message, error) {
	args := m.Called(ctx, senderID, in)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ServiceMock) ListMessages(ctx context.Context, requesterID, conversationID, limit int, before *models.Cursor) (models.MessagePage, error) {
	args := m.Called(ctx, requesterID, conversationID, limit, before)
	var page models.MessagePage
	if val := args.Get(0); val != nil {
		page = val.(models.MessagePage)
	}
	return page, args.Error(1)
}

func (m *ServiceMock) ListConversationsForUser(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ServiceMock) MarkRead(ctx context.Context, userID, conversationID int, upToMessageID *int) (services.ReadResult, error) {
	args := m.Called(ctx, userID, conversationID, upToMessageID)
	var res services.ReadResult
	if val := args.Get(0); val != nil {
		res = val.(services.ReadResult)
	}
	return res, args.Error(1)
}

func (m *ServiceMock) IsParticipant(ctx context.Context, conversationID, userID int) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ServiceMock) Participants(ctx context.Context, conversationID int) ([]int, error) {
	args := m.Called(ctx, conversationID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *ServiceMock) CreateGroup(ctx context.Context, creatorID int, in services.GroupInput) (services.CreatedGroup, error) {
	args := m.Called(ctx, creatorID, in)
	var out services.CreatedGroup
	if val := args.Get(0); val != nil {
		out = val.(services.CreatedGroup)
	}
	return out, args.Error(1)
}

func (m *ServiceMock) GetGroup(ctx context.Context, requesterID, groupID int) (models.GroupDetail, error) {
	args := m.Called(ctx, requesterID, groupID)
	var detail models.GroupDetail
	if val := args.Get(0); val != nil {
		detail = val.(models.GroupDetail)
	}
	return detail, args.Error(1)
}

func (m *ServiceMock) UpdateGroup(ctx context.Context, actorID, groupID int, patch services.GroupPatch) (models.Group, error) {
	args := m.Called(ctx, actorID, groupID, patch)
	var group models.Group
	if val := args.Get(0); val != nil {
		group = val.(models.Group)
	}
	return group, args.Error(1)
}

func (m *ServiceMock) JoinGroup(ctx context.Context, userID, groupID int) (services.MembershipChange, error) {
	return m.membership(m.Called(ctx, userID, groupID))
}

func (m *ServiceMock) LeaveGroup(ctx context.Context, userID, groupID int) (services.MembershipChange, error) {
	return m.membership(m.Called(ctx, userID, groupID))
}

func (m *ServiceMock) AddGroupMembers(ctx context.Context, actorID, groupID int, userIDs []int) (services.MembershipChange, error) {
	return m.membership(m.Called(ctx, actorID, groupID, userIDs))
}

func (m *ServiceMock) RemoveGroupMember(ctx context.Context, actorID, groupID, userID int) (services.MembershipChange, error) {
	return m.membership(m.Called(ctx, actorID, groupID, userID))
}

func (m *ServiceMock) membership(args mock.Arguments) (services.MembershipChange, error) {
	var change services.MembershipChange
	if val := args.Get(0); val != nil {
		change = val.(services.MembershipChange)
	}
	return change, args.Error(1)
}

func (m *ServiceMock) SearchGroups(ctx context.Context, requesterID int, query string, category models.GroupCategory, limit int) ([]models.GroupSearchResult, error) {
	args := m.Called(ctx, requesterID, query, category, limit)
	var list []models.GroupSearchResult
	if val := args.Get(0); val != nil {
		list = val.([]models.GroupSearchResult)
	}
	return list, args.Error(1)
}

// RealtimeMock stands in for the hub in handler tests. It embeds
// ServiceMock for the write methods the two share.
type RealtimeMock struct {
	ServiceMock
}

func (m *RealtimeMock) Statuses(userIDs []int) []presence.Status {
	args := m.Called(userIDs)
	var out []presence.Status
	if val := args.Get(0); val != nil {
		out = val.([]presence.Status)
	}
	return out
}
