package observability

import (
	"context"
	"sync"
	"time"
)

// Routing keys of the events published to the bus.
const (
	RouteMessageCreated      = "chat.message.created"
	RouteMessageRead         = "chat.message.read"
	RouteConversationCreated = "chat.conversation.created"
	RouteGroupCreated        = "chat.group.created"
	RouteGroupMemberJoined   = "chat.group.member_joined"
	RouteGroupMemberLeft     = "chat.group.member_left"
	RouteWSEvents            = "ws_events.connections"
	RouteAudit               = "audit.chat"
)

type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt string      `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// Publisher is the bus the events go to; rabbitmq.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

var (
	publisherMu      sync.RWMutex
	defaultPublisher Publisher
)

func SetPublisher(publisher Publisher) {
	publisherMu.Lock()
	defaultPublisher = publisher
	publisherMu.Unlock()
}

// PublishEvent wraps payload in an envelope and publishes it. Without a
// publisher it does nothing.
func PublishEvent(ctx context.Context, routingKey, eventType, eventName string, payload interface{}, headers map[string]string) error {
	publisherMu.RLock()
	p := defaultPublisher
	publisherMu.RUnlock()
	if p == nil {
		return nil
	}

	err := p.Publish(ctx, routingKey, EventEnvelope{
		EventType:  eventType,
		EventName:  eventName,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    payload,
	}, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}

// PublishDomainEvent publishes a chat_events envelope named after its routing key.
func PublishDomainEvent(ctx context.Context, routingKey string, payload interface{}, headers map[string]string) error {
	return PublishEvent(ctx, routingKey, "chat_events", routingKey, payload, headers)
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
