package services

import (
	"context"
	"fmt"
	"strings"

	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

// CreateGroup creates the GROUP conversation, its members, the group row and
// the announcement message atomically.
func (s *ConversationService) CreateGroup(ctx context.Context, creatorID int, in GroupInput) (CreatedGroup, error) {
	ctx, span := s.start(ctx, "CreateGroup", creatorID)
	defer span.End()

	name, err := validateName(in.Name)
	if err != nil {
		return CreatedGroup{}, err
	}
	desc, err := validateDescription(in.Description)
	if err != nil {
		return CreatedGroup{}, err
	}
	category, err := validateCategory(in.Category)
	if err != nil {
		return CreatedGroup{}, err
	}
	members := append([]int{creatorID}, uniqueIDs(in.MemberIDs, creatorID)...)
	announcement := fmt.Sprintf("%s created the group %q", s.name(ctx, creatorID), name)

	var out CreatedGroup
	err = s.repo.WithTx(ctx, func(q repositories.Queries) error {
		now := s.now()
		conv, err := q.CreateConversation(ctx, models.KindGroup, now)
		if err != nil {
			return err
		}
		if _, err := q.AddParticipants(ctx, conv.ID, members, now); err != nil {
			return err
		}
		group, err := q.CreateGroup(ctx, models.Group{
			ConversationID: conv.ID,
			Name:           name,
			Description:    desc,
			ImageURL:       trimmedOrNil(in.ImageURL),
			Category:       category,
			CreatedByID:    creatorID,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			return err
		}
		msg, err := appendSystem(ctx, q, conv.ID, creatorID, announcement, now)
		if err != nil {
			return err
		}
		out = CreatedGroup{Group: group, MemberIDs: members, SystemMessage: &msg}
		return nil
	})
	if err != nil {
		return CreatedGroup{}, storeErr(err)
	}
	msgs := []models.Message{*out.SystemMessage}
	s.resolve(ctx, msgs)
	out.SystemMessage = &msgs[0]
	return out, nil
}

// GetGroup returns a group with its members.
func (s *ConversationService) GetGroup(ctx context.Context, requesterID, groupID int) (models.GroupDetail, error) {
	ctx, span := s.start(ctx, "GetGroup", requesterID)
	defer span.End()

	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return models.GroupDetail{}, storeErr(err)
	}
	ids, err := s.repo.ParticipantIDs(ctx, group.ConversationID)
	if err != nil {
		return models.GroupDetail{}, storeErr(err)
	}
	detail := models.GroupDetail{Group: group, MemberIDs: ids}
	for _, id := range ids {
		if id == requesterID {
			detail.IsMember = true
		}
	}
	return detail, nil
}

// UpdateGroup edits group metadata. Only the creator may do this.
func (s *ConversationService) UpdateGroup(ctx context.Context, actorID, groupID int, patch GroupPatch) (models.Group, error) {
	ctx, span := s.start(ctx, "UpdateGroup", actorID)
	defer span.End()

	var out models.Group
	err := s.repo.WithTx(ctx, func(q repositories.Queries) error {
		group, err := q.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if group.CreatedByID != actorID {
			return ErrNotCreator
		}
		if patch.Name != nil {
			if group.Name, err = validateName(*patch.Name); err != nil {
				return err
			}
		}
		if patch.Description != nil {
			if group.Description, err = validateDescription(patch.Description); err != nil {
				return err
			}
		}
		if patch.Category != nil {
			if group.Category, err = validateCategory(*patch.Category); err != nil {
				return err
			}
		}
		if patch.ImageURL != nil {
			group.ImageURL = trimmedOrNil(patch.ImageURL)
		}
		group.UpdatedAt = s.now()
		if err := q.UpdateGroup(ctx, group); err != nil {
			return err
		}
		out = group
		return nil
	})
	if err != nil {
		return models.Group{}, storeErr(err)
	}
	return out, nil
}

// JoinGroup adds the user to the group. Joining twice is a successful no-op.
func (s *ConversationService) JoinGroup(ctx context.Context, userID, groupID int) (MembershipChange, error) {
	ctx, span := s.start(ctx, "JoinGroup", userID)
	defer span.End()

	text := s.name(ctx, userID) + " joined the group"
	return s.changeMembership(ctx, groupID, userID, func(q repositories.Queries, group models.Group, change *MembershipChange) (string, error) {
		change.UserIDs = []int{userID}
		added, err := q.AddParticipants(ctx, group.ConversationID, []int{userID}, s.now())
		if err != nil || added == 0 {
			return "", err
		}
		return text, nil
	})
}

// LeaveGroup removes the user from the group. The creator cannot leave.
func (s *ConversationService) LeaveGroup(ctx context.Context, userID, groupID int) (MembershipChange, error) {
	ctx, span := s.start(ctx, "LeaveGroup", userID)
	defer span.End()

	text := s.name(ctx, userID) + " left the group"
	return s.changeMembership(ctx, groupID, userID, func(q repositories.Queries, group models.Group, change *MembershipChange) (string, error) {
		if group.CreatedByID == userID {
			return "", ErrCreatorCannotLeave
		}
		change.UserIDs = []int{userID}
		removed, err := q.RemoveParticipant(ctx, group.ConversationID, userID)
		if err != nil {
			return "", err
		}
		if !removed {
			return "", ErrNotParticipant
		}
		return text, nil
	})
}

// AddGroupMembers lets the creator add users. Existing members are skipped.
func (s *ConversationService) AddGroupMembers(ctx context.Context, actorID, groupID int, userIDs []int) (MembershipChange, error) {
	ctx, span := s.start(ctx, "AddGroupMembers", actorID)
	defer span.End()

	candidates := uniqueIDs(userIDs, actorID)
	if len(candidates) == 0 {
		return MembershipChange{}, ErrInvalidUser
	}
	found := s.lookup(ctx, append([]int{actorID}, candidates...))

	return s.changeMembership(ctx, groupID, actorID, func(q repositories.Queries, group models.Group, change *MembershipChange) (string, error) {
		if group.CreatedByID != actorID {
			return "", ErrNotCreator
		}
		now := s.now()
		var names []string
		for _, id := range candidates {
			added, err := q.AddParticipants(ctx, group.ConversationID, []int{id}, now)
			if err != nil {
				return "", err
			}
			if added > 0 {
				change.UserIDs = append(change.UserIDs, id)
				names = append(names, found[id].Name)
			}
		}
		if len(names) == 0 {
			return "", nil
		}
		return fmt.Sprintf("%s added %s", found[actorID].Name, strings.Join(names, ", ")), nil
	})
}

// RemoveGroupMember lets the creator remove a member other than themselves.
func (s *ConversationService) RemoveGroupMember(ctx context.Context, actorID, groupID, userID int) (MembershipChange, error) {
	ctx, span := s.start(ctx, "RemoveGroupMember", actorID)
	defer span.End()

	found := s.lookup(ctx, []int{actorID, userID})
	return s.changeMembership(ctx, groupID, actorID, func(q repositories.Queries, group models.Group, change *MembershipChange) (string, error) {
		if group.CreatedByID != actorID {
			return "", ErrNotCreator
		}
		if userID == group.CreatedByID {
			return "", ErrCreatorCannotLeave
		}
		change.UserIDs = []int{userID}
		removed, err := q.RemoveParticipant(ctx, group.ConversationID, userID)
		if err != nil {
			return "", err
		}
		if !removed {
			return "", ErrNotParticipant
		}
		return fmt.Sprintf("%s removed %s", found[actorID].Name, found[userID].Name), nil
	})
}

// changeMembership runs apply in a transaction; a non-empty returned text is
// recorded as a SYSTEM message from actorID in the same transaction.
func (s *ConversationService) changeMembership(
	ctx context.Context,
	groupID int,
	actorID int,
	apply func(q repositories.Queries, group models.Group, change *MembershipChange) (string, error),
) (MembershipChange, error) {
	var change MembershipChange
	err := s.repo.WithTx(ctx, func(q repositories.Queries) error {
		group, err := q.GetGroup(ctx, groupID)
		if err != nil {
			return err
		}
		change = MembershipChange{Group: group}
		text, err := apply(q, group, &change)
		if err != nil || text == "" {
			return err
		}
		msg, err := appendSystem(ctx, q, group.ConversationID, actorID, text, s.now())
		if err != nil {
			return err
		}
		change.Changed = true
		change.SystemMessage = &msg
		return nil
	})
	if err != nil {
		return MembershipChange{}, storeErr(err)
	}
	if change.SystemMessage != nil {
		msgs := []models.Message{*change.SystemMessage}
		s.resolve(ctx, msgs)
		change.SystemMessage = &msgs[0]
	}
	return change, nil
}

// SearchGroups finds groups whose name or description contains query.
func (s *ConversationService) SearchGroups(ctx context.Context, requesterID int, query string, category models.GroupCategory, limit int) ([]models.GroupSearchResult, error) {
	ctx, span := s.start(ctx, "SearchGroups", requesterID)
	defer span.End()

	if category != "" {
		var err error
		if category, err = validateCategory(category); err != nil {
			return nil, err
		}
	}
	limit = clampLimit(limit, DefaultSearchLimit, MaxSearchLimit)
	results, err := s.repo.SearchGroups(ctx, requesterID, containsPattern(query), category, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return results, nil
}
