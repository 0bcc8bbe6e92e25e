package services

import (
	"errors"
	"fmt"

	"chat-engine/internal/repositories"
)

// Error kinds. Every error returned by the service matches exactly one of
// these with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotAuthorized = errors.New("not authorized")
	ErrNotFound      = errors.New("not found")
	ErrStore         = errors.New("store unavailable")
)

var (
	ErrInvalidName        = fmt.Errorf("%w: name must be 1-%d characters", ErrValidation, MaxGroupNameLength)
	ErrInvalidContent     = fmt.Errorf("%w: message content is required", ErrValidation)
	ErrInvalidKind        = fmt.Errorf("%w: unsupported message kind", ErrValidation)
	ErrInvalidAttachment  = fmt.Errorf("%w: attachment url required for image and file messages only", ErrValidation)
	ErrContentTooLong     = fmt.Errorf("%w: message content exceeds %d characters", ErrValidation, MaxContentLength)
	ErrSelfConversation   = fmt.Errorf("%w: cannot start a conversation with yourself", ErrValidation)
	ErrInvalidUser        = fmt.Errorf("%w: invalid user id", ErrValidation)
	ErrInvalidCategory    = fmt.Errorf("%w: unknown group category", ErrValidation)
	ErrDescriptionTooLong = fmt.Errorf("%w: description exceeds %d characters", ErrValidation, MaxDescriptionLength)

	ErrNotParticipant     = fmt.Errorf("%w: not a participant", ErrNotAuthorized)
	ErrNotCreator         = fmt.Errorf("%w: only the group creator can do this", ErrNotAuthorized)
	ErrCreatorCannotLeave = fmt.Errorf("%w: the group creator cannot leave", ErrNotAuthorized)
)

// Code returns the wire code of an error kind.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// storeErr classifies an error escaping a repository call.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotAuthorized), errors.Is(err, ErrNotFound), errors.Is(err, ErrStore):
		return err
	case errors.Is(err, repositories.ErrConversationNotFound):
		return fmt.Errorf("%w: conversation", ErrNotFound)
	case errors.Is(err, repositories.ErrGroupNotFound):
		return fmt.Errorf("%w: group", ErrNotFound)
	case errors.Is(err, repositories.ErrMessageNotFound):
		return fmt.Errorf("%w: message", ErrNotFound)
	case errors.Is(err, repositories.ErrParticipantNotFound):
		return ErrNotParticipant
	default:
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
}
