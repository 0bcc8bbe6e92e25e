package services

import (
	"context"
	"errors"

	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

// GetOrCreateDirectConversation returns the DIRECT conversation of the pair,
// creating it on first use. A concurrent creator of the same pair resolves to
// the row that won.
func (s *ConversationService) GetOrCreateDirectConversation(ctx context.Context, selfID, otherID int) (models.Conversation, bool, error) {
	ctx, span := s.start(ctx, "GetOrCreateDirectConversation", selfID)
	defer span.End()

	if otherID <= 0 {
		return models.Conversation{}, false, ErrInvalidUser
	}
	if selfID == otherID {
		return models.Conversation{}, false, ErrSelfConversation
	}
	key := models.DirectKey(selfID, otherID)

	var (
		conv    models.Conversation
		created bool
	)
	err := s.repo.WithTx(ctx, func(q repositories.Queries) error {
		existing, err := q.FindDirectConversation(ctx, key)
		if err == nil {
			conv = existing
			return nil
		}
		if !errors.Is(err, repositories.ErrConversationNotFound) {
			return err
		}

		now := s.now()
		id, inserted, err := q.InsertDirectConversation(ctx, key, now)
		if err != nil {
			return err
		}
		if !inserted {
			conv, err = q.FindDirectConversation(ctx, key)
			return err
		}
		if _, err := q.AddParticipants(ctx, id, []int{selfID, otherID}, now); err != nil {
			return err
		}
		conv = models.Conversation{ID: id, Kind: models.KindDirect, DirectKey: &key, CreatedAt: now, UpdatedAt: now}
		created = true
		return nil
	})
	if err != nil {
		return models.Conversation{}, false, storeErr(err)
	}
	return conv, created, nil
}

// SendMessage validates and appends a message from a participant.
func (s *ConversationService) SendMessage(ctx context.Context, senderID int, in MessageInput) (models.Message, error) {
	ctx, span := s.start(ctx, "SendMessage", senderID)
	defer span.End()

	in, err := in.normalize()
	if err != nil {
		return models.Message{}, err
	}

	var msg models.Message
	err = s.repo.WithTx(ctx, func(q repositories.Queries) error {
		if _, err := q.GetConversation(ctx, in.ConversationID); err != nil {
			return err
		}
		if _, err := q.FindParticipant(ctx, in.ConversationID, senderID); err != nil {
			return err
		}
		now := s.now()
		msg, err = q.CreateMessage(ctx, models.Message{
			ConversationID: in.ConversationID,
			SenderID:       senderID,
			Content:        in.Content,
			Kind:           in.Kind,
			AttachmentURL:  in.AttachmentURL,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		return q.TouchConversation(ctx, in.ConversationID, now)
	})
	if err != nil {
		return models.Message{}, storeErr(err)
	}

	msgs := []models.Message{msg}
	s.resolve(ctx, msgs)
	return msgs[0], nil
}

// ListMessages returns one page of history, oldest first. before excludes
// itself and everything newer.
func (s *ConversationService) ListMessages(ctx context.Context, requesterID, conversationID, limit int, before *models.Cursor) (models.MessagePage, error) {
	ctx, span := s.start(ctx, "ListMessages", requesterID)
	defer span.End()

	if err := s.requireParticipant(ctx, s.repo, conversationID, requesterID); err != nil {
		return models.MessagePage{}, err
	}

	limit = clampLimit(limit, DefaultMessageLimit, MaxMessageLimit)
	msgs, err := s.repo.ListMessages(ctx, conversationID, before, limit+1)
	if err != nil {
		return models.MessagePage{}, storeErr(err)
	}

	page := models.MessagePage{}
	if len(msgs) > limit {
		page.HasMore = true
		msgs = msgs[:limit]
		page.NextCursor = msgs[len(msgs)-1].Cursor().String()
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	s.resolve(ctx, msgs)
	page.Messages = msgs
	return page, nil
}

// ListConversationsForUser builds the user's inbox, most recent first.
func (s *ConversationService) ListConversationsForUser(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	ctx, span := s.start(ctx, "ListConversationsForUser", userID)
	defer span.End()

	rows, err := s.repo.InboxRows(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	if len(rows) == 0 {
		return []models.ConversationSummary{}, nil
	}

	convIDs := make([]int, 0, len(rows))
	var lastIDs []int
	for _, r := range rows {
		convIDs = append(convIDs, r.ID)
		if r.LastMessageID != nil {
			lastIDs = append(lastIDs, *r.LastMessageID)
		}
	}

	members, err := s.repo.ParticipantIDsFor(ctx, convIDs)
	if err != nil {
		return nil, storeErr(err)
	}
	groups, err := s.repo.GroupsForConversations(ctx, convIDs)
	if err != nil {
		return nil, storeErr(err)
	}
	lastMsgs, err := s.repo.MessagesByID(ctx, lastIDs)
	if err != nil {
		return nil, storeErr(err)
	}

	var userIDs []int
	for _, r := range rows {
		if r.Kind == models.KindDirect {
			userIDs = append(userIDs, members[r.ID]...)
		}
	}
	for _, m := range lastMsgs {
		userIDs = append(userIDs, m.SenderID)
	}
	found := s.lookup(ctx, userIDs)

	lastByID := make(map[int]models.Message, len(lastMsgs))
	for _, m := range lastMsgs {
		p := found[m.SenderID]
		m.Sender = &p
		lastByID[m.ID] = m
	}

	out := make([]models.ConversationSummary, 0, len(rows))
	for _, r := range rows {
		item := models.ConversationSummary{
			ID:             r.ID,
			Kind:           r.Kind,
			CreatedAt:      r.CreatedAt,
			UpdatedAt:      r.UpdatedAt,
			ParticipantIDs: members[r.ID],
			UnreadCount:    r.UnreadCount,
		}
		if item.ParticipantIDs == nil {
			item.ParticipantIDs = []int{}
		}
		if r.LastMessageID != nil {
			if m, ok := lastByID[*r.LastMessageID]; ok {
				item.LastMessage = &m
			}
		}
		switch r.Kind {
		case models.KindDirect:
			for _, id := range item.ParticipantIDs {
				if id != userID {
					p := found[id]
					item.OtherUser = &p
				}
			}
		case models.KindGroup:
			if g, ok := groups[r.ID]; ok {
				item.Group = &g
			}
		}
		out = append(out, item)
	}
	return out, nil
}

// MarkRead moves the user's read watermark to upToMessageID's timestamp, or
// to now when nil, and records receipts for the newly read messages. The
// watermark never moves backwards.
func (s *ConversationService) MarkRead(ctx context.Context, userID, conversationID int, upToMessageID *int) (ReadResult, error) {
	ctx, span := s.start(ctx, "MarkRead", userID)
	defer span.End()

	result := ReadResult{ConversationID: conversationID, UserID: userID}
	err := s.repo.WithTx(ctx, func(q repositories.Queries) error {
		if _, err := q.GetConversation(ctx, conversationID); err != nil {
			return err
		}
		p, err := q.FindParticipant(ctx, conversationID, userID)
		if err != nil {
			return err
		}

		now := s.now()
		watermark := now
		if upToMessageID != nil {
			msg, err := q.GetMessage(ctx, *upToMessageID)
			if err != nil {
				return err
			}
			if msg.ConversationID != conversationID {
				return repositories.ErrMessageNotFound
			}
			watermark = msg.CreatedAt
			result.MessageID = msg.ID
		} else {
			latest, err := q.ListMessages(ctx, conversationID, nil, 1)
			if err != nil {
				return err
			}
			if len(latest) > 0 {
				result.MessageID = latest[0].ID
			}
		}

		result.LastReadAt = p.LastReadAt
		advanced, err := q.AdvanceLastRead(ctx, conversationID, userID, watermark)
		if err != nil || !advanced {
			return err
		}
		result.Receipts, err = q.InsertReadReceipts(ctx, conversationID, userID, p.LastReadAt, watermark, now)
		if err != nil {
			return err
		}
		result.LastReadAt = watermark
		result.Advanced = true
		return nil
	})
	if err != nil {
		return ReadResult{}, storeErr(err)
	}
	return result, nil
}

// IsParticipant reports membership; an unknown conversation is ErrNotFound.
func (s *ConversationService) IsParticipant(ctx context.Context, conversationID, userID int) (bool, error) {
	err := s.requireParticipant(ctx, s.repo, conversationID, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotParticipant):
		return false, nil
	default:
		return false, err
	}
}

// Participants lists the user ids of a conversation.
func (s *ConversationService) Participants(ctx context.Context, conversationID int) ([]int, error) {
	ids, err := s.repo.ParticipantIDs(ctx, conversationID)
	if err != nil {
		return nil, storeErr(err)
	}
	return ids, nil
}

func (s *ConversationService) requireParticipant(ctx context.Context, q repositories.Queries, conversationID, userID int) error {
	if _, err := q.GetConversation(ctx, conversationID); err != nil {
		return storeErr(err)
	}
	if _, err := q.FindParticipant(ctx, conversationID, userID); err != nil {
		return storeErr(err)
	}
	return nil
}
