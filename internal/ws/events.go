package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chat-engine/internal/models"
)

// Client to server events.
const (
	EventAuth          = "auth"
	EventHeartbeat     = "heartbeat"
	EventJoin          = "join:conversation"
	EventLeave         = "leave:conversation"
	EventMessageSend   = "message:send"
	EventMessageRead   = "message:read"
	EventTypingStart   = "typing:start"
	EventTypingStop    = "typing:stop"
	EventPresenceCheck = "presence:check"
)

// Server to client events.
const (
	EventHeartbeatAck        = "heartbeat:ack"
	EventJoined              = "joined:conversation"
	EventMessageNew          = "message:new"
	EventMessageSent         = "message:sent"
	EventTypingUserStart     = "typing:user_start"
	EventTypingUserStop      = "typing:user_stop"
	EventUserOnline          = "presence:user_online"
	EventUserOffline         = "presence:user_offline"
	EventPresenceStatus      = "presence:status"
	EventConversationCreated = "conversation:created"
	EventGroupCreated        = "group:created"
	EventEvicted             = "conversation:evicted"
	EventError               = "error"
)

// Error codes carried by error events.
const (
	CodeUnauthorized  = "unauthorized"
	CodeNotAuthorized = "not_authorized"
	CodeNotFound      = "not_found"
	CodeValidation    = "validation"
	CodeTimeout       = "timeout"
	CodeBadRequest    = "bad_request"
	CodeUnknownEvent  = "unknown_event"
	CodeInternal      = "internal"
)

// Envelope is the wire frame in both directions. Seq is set on server frames
// and increases by one per frame on a connection.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Seq   uint64          `json:"seq,omitempty"`
}

// Frame is an outbound event whose payload is already encoded, so a
// broadcast marshals its payload once.
type Frame struct {
	Event string
	Data  json.RawMessage
}

// NewFrame encodes data into a frame.
func NewFrame(event string, data any) Frame {
	if data == nil {
		return Frame{Event: event}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		raw, _ = json.Marshal(ErrorPayload{Message: "encode failed", Code: CodeInternal, Event: event})
		return Frame{Event: EventError, Data: raw}
	}
	return Frame{Event: event, Data: raw}
}

// Payloads of server events.

type ConversationRef struct {
	ConversationID int `json:"conversationId"`
}

// MessagePayload is a message as realtime clients receive it.
type MessagePayload struct {
	ID             int                `json:"id"`
	ConversationID int                `json:"conversationId"`
	SenderID       int                `json:"senderId"`
	Content        string             `json:"content"`
	Kind           models.MessageKind `json:"kind"`
	AttachmentURL  *string            `json:"attachmentUrl,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	Sender         *models.Profile    `json:"sender,omitempty"`
}

func NewMessagePayload(m models.Message) MessagePayload {
	return MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Kind:           m.Kind,
		AttachmentURL:  m.AttachmentURL,
		CreatedAt:      m.CreatedAt,
		Sender:         m.Sender,
	}
}

// Model converts the payload back into the stored message shape.
func (p MessagePayload) Model() models.Message {
	return models.Message{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		Content:        p.Content,
		Kind:           p.Kind,
		AttachmentURL:  p.AttachmentURL,
		CreatedAt:      p.CreatedAt,
		Sender:         p.Sender,
	}
}

type MessageSentPayload struct {
	ClientID string         `json:"clientId,omitempty"`
	Message  MessagePayload `json:"message"`
}

type ReadPayload struct {
	ConversationID int       `json:"conversationId"`
	MessageID      int       `json:"messageId"`
	UserID         int       `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
}

type UserRef struct {
	UserID int `json:"userId"`
}

type ConversationCreatedPayload struct {
	ConversationID int                     `json:"conversationId"`
	Kind           models.ConversationKind `json:"kind"`
}

type GroupCreatedPayload struct {
	GroupID        int    `json:"groupId"`
	ConversationID int    `json:"conversationId"`
	Name           string `json:"name"`
}

type ErrorPayload struct {
	Message        string `json:"message"`
	Code           string `json:"code"`
	Event          string `json:"event,omitempty"`
	ConversationID int    `json:"conversationId,omitempty"`
}

// Request is the closed set of client events. Each inbound frame decodes
// into exactly one of the types below.
type Request interface {
	event() string
}

type AuthRequest struct {
	Token string `json:"token"`
}

type HeartbeatRequest struct{}

type JoinRequest struct {
	ConversationID int
}

type LeaveRequest struct {
	ConversationID int
}

type SendRequest struct {
	ConversationID int                `json:"conversationId"`
	Content        string             `json:"content"`
	Kind           models.MessageKind `json:"kind"`
	AttachmentURL  *string            `json:"attachmentUrl"`
	ClientID       string             `json:"clientId"`
}

type ReadRequest struct {
	ConversationID int  `json:"conversationId"`
	MessageID      *int `json:"messageId"`
}

type TypingStartRequest struct {
	ConversationID int
}

type TypingStopRequest struct {
	ConversationID int
}

type PresenceCheckRequest struct {
	UserIDs []int
}

func (AuthRequest) event() string          { return EventAuth }
func (HeartbeatRequest) event() string     { return EventHeartbeat }
func (JoinRequest) event() string          { return EventJoin }
func (LeaveRequest) event() string         { return EventLeave }
func (SendRequest) event() string          { return EventMessageSend }
func (ReadRequest) event() string          { return EventMessageRead }
func (TypingStartRequest) event() string   { return EventTypingStart }
func (TypingStopRequest) event() string    { return EventTypingStop }
func (PresenceCheckRequest) event() string { return EventPresenceCheck }

var (
	errUnknownEvent = errors.New("unknown event")
	errBadPayload   = errors.New("malformed payload")
)

// DecodeRequest parses one inbound frame. The returned event name is set
// whenever the envelope itself was readable.
func DecodeRequest(raw []byte) (Request, string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, "", errBadPayload
	}

	var (
		req Request
		err error
	)
	switch env.Event {
	case EventAuth:
		var r AuthRequest
		err = decodeData(env.Data, &r)
		req = r
	case EventHeartbeat:
		req = HeartbeatRequest{}
	case EventJoin:
		var id int
		id, err = decodeConversationID(env.Data)
		req = JoinRequest{ConversationID: id}
	case EventLeave:
		var id int
		id, err = decodeConversationID(env.Data)
		req = LeaveRequest{ConversationID: id}
	case EventMessageSend:
		var r SendRequest
		if err = decodeData(env.Data, &r); err == nil && r.ConversationID <= 0 {
			err = errBadPayload
		}
		req = r
	case EventMessageRead:
		var r ReadRequest
		if err = decodeData(env.Data, &r); err == nil && r.ConversationID <= 0 {
			err = errBadPayload
		}
		req = r
	case EventTypingStart:
		var id int
		id, err = decodeConversationID(env.Data)
		req = TypingStartRequest{ConversationID: id}
	case EventTypingStop:
		var id int
		id, err = decodeConversationID(env.Data)
		req = TypingStopRequest{ConversationID: id}
	case EventPresenceCheck:
		var ids []int
		ids, err = decodeUserIDs(env.Data)
		req = PresenceCheckRequest{UserIDs: ids}
	default:
		return nil, env.Event, fmt.Errorf("%w %q", errUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, env.Event, err
	}
	return req, env.Event, nil
}

func decodeData(data json.RawMessage, dest any) error {
	if len(data) == 0 {
		return errBadPayload
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errBadPayload
	}
	return nil
}

// decodeConversationID accepts a bare id or {"conversationId": id}.
func decodeConversationID(data json.RawMessage) (int, error) {
	var id int
	if err := json.Unmarshal(data, &id); err != nil {
		var ref ConversationRef
		if err := decodeData(data, &ref); err != nil {
			return 0, err
		}
		id = ref.ConversationID
	}
	if id <= 0 {
		return 0, errBadPayload
	}
	return id, nil
}

// decodeUserIDs accepts [ids] or {"userIds": [ids]}.
func decodeUserIDs(data json.RawMessage) ([]int, error) {
	var ids []int
	if err := json.Unmarshal(data, &ids); err != nil {
		var wrapped struct {
			UserIDs []int `json:"userIds"`
		}
		if err := decodeData(data, &wrapped); err != nil {
			return nil, err
		}
		ids = wrapped.UserIDs
	}
	return ids, nil
}
