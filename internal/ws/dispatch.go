package ws

import (
	"context"
	"errors"
	"log"

	"chat-engine/internal/observability"
	"chat-engine/internal/services"
)

// handle decodes and dispatches one inbound frame on the reader goroutine.
func (h *Hub) handle(ctx context.Context, c *Client, raw []byte) {
	req, event, err := DecodeRequest(raw)
	if err != nil {
		code := CodeBadRequest
		label := event
		if errors.Is(err, errUnknownEvent) || label == "" {
			code = CodeUnknownEvent
			label = "unknown"
		}
		observability.IncWSInbound(label)
		c.Send(errorFrame(event, 0, code, err.Error()))
		return
	}
	observability.IncWSInbound(event)
	h.dispatch(ctx, c, req)
}

func (h *Hub) dispatch(ctx context.Context, c *Client, req Request) {
	switch r := req.(type) {
	case AuthRequest:
		c.Send(errorFrame(EventAuth, 0, CodeBadRequest, "already authenticated"))

	case HeartbeatRequest:
		c.Send(NewFrame(EventHeartbeatAck, nil))

	case JoinRequest:
		if err := h.Join(ctx, c, r.ConversationID); err != nil {
			c.Send(joinError(r.ConversationID, err))
			return
		}
		c.Send(NewFrame(EventJoined, ConversationRef{ConversationID: r.ConversationID}))

	case LeaveRequest:
		h.rooms.Leave(c, r.ConversationID)

	case SendRequest:
		msg, err := h.SendMessage(ctx, c.UserID(), services.MessageInput{
			ConversationID: r.ConversationID,
			Content:        r.Content,
			Kind:           r.Kind,
			AttachmentURL:  r.AttachmentURL,
		})
		if err != nil {
			c.Send(serviceError(EventMessageSend, r.ConversationID, err))
			return
		}
		c.Send(NewFrame(EventMessageSent, MessageSentPayload{ClientID: r.ClientID, Message: NewMessagePayload(msg)}))

	case ReadRequest:
		if _, err := h.MarkRead(ctx, c.UserID(), r.ConversationID, r.MessageID); err != nil {
			c.Send(serviceError(EventMessageRead, r.ConversationID, err))
		}

	case TypingStartRequest:
		if !h.rooms.Has(r.ConversationID, c) {
			c.Send(errorFrame(EventTypingStart, r.ConversationID, CodeNotAuthorized, "join the conversation first"))
			return
		}
		h.typing.Start(r.ConversationID, c.UserID())

	case TypingStopRequest:
		h.typing.Stop(r.ConversationID, c.UserID())

	case PresenceCheckRequest:
		c.Send(NewFrame(EventPresenceStatus, h.presence.Statuses(r.UserIDs)))

	default:
		log.Printf("ws unhandled request %T conn=%s", req, c.info.ConnID)
	}
}

func errorFrame(event string, conversationID int, code, message string) Frame {
	return NewFrame(EventError, ErrorPayload{
		Message:        message,
		Code:           code,
		Event:          event,
		ConversationID: conversationID,
	})
}

func joinError(conversationID int, err error) Frame {
	if errors.Is(err, ErrJoinTimeout) {
		return errorFrame(EventJoin, conversationID, CodeTimeout, err.Error())
	}
	return serviceError(EventJoin, conversationID, err)
}

// serviceError hides internal failures behind a generic message.
func serviceError(event string, conversationID int, err error) Frame {
	code := services.Code(err)
	msg := err.Error()
	if code == CodeInternal {
		log.Printf("ws %s failed conversation=%d: %v", event, conversationID, err)
		msg = "internal error"
	}
	return errorFrame(event, conversationID, code, msg)
}
