package ws

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jonboulle/clockwork"

	"chat-engine/internal/config"
	"chat-engine/internal/models"
	"chat-engine/internal/observability"
	"chat-engine/internal/presence"
	"chat-engine/internal/services"
	"chat-engine/internal/typing"
)

type Options struct {
	Clock         clockwork.Clock
	PresenceGrace time.Duration
	TypingStale   time.Duration
	TypingSweep   time.Duration
	JoinTimeout   time.Duration
	StoreTimeout  time.Duration
	AuthTimeout   time.Duration
	PingPeriod    time.Duration
	PongWait      time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Clock:         clockwork.NewRealClock(),
		PresenceGrace: cfg.Presence.Grace,
		TypingStale:   cfg.Typing.Stale,
		TypingSweep:   cfg.Typing.Sweep,
		JoinTimeout:   cfg.WS.JoinTimeout,
		StoreTimeout:  cfg.WS.StoreTimeout,
		AuthTimeout:   cfg.WS.AuthTimeout,
		PingPeriod:    cfg.WS.PingPeriod,
		PongWait:      cfg.WS.PongWait,
	}
}

// Hub ties the connection registries to the conversation service. Every
// action that produces a message goes through it so subscribers see
// messages in commit order.
type Hub struct {
	service  services.Service
	gateway  *Gateway
	rooms    *Rooms
	presence *presence.Tracker
	typing   *typing.Coordinator
	locks    *keyedMutex
	opts     Options
}

var (
	_ presence.Notifier = (*Hub)(nil)
	_ typing.Notifier   = (*Hub)(nil)
)

func NewHub(service services.Service, opts Options) *Hub {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	h := &Hub{
		service: service,
		gateway: NewGateway(),
		rooms:   NewRooms(service, opts.JoinTimeout),
		locks:   newKeyedMutex(),
		opts:    opts,
	}
	h.presence = presence.NewTracker(opts.Clock, opts.PresenceGrace, h)
	h.typing = typing.NewCoordinator(opts.Clock, opts.TypingStale, opts.TypingSweep, h)
	return h
}

func (h *Hub) Gateway() *Gateway { return h.gateway }
func (h *Hub) Rooms() *Rooms     { return h.rooms }

// Close drops every connection and stops the presence and typing actors.
func (h *Hub) Close() {
	for _, c := range h.gateway.all() {
		c.Close()
	}
	h.typing.Close()
	h.presence.Close()
}

func (h *Hub) register(c *Client) {
	h.gateway.Add(c)
	observability.IncWSActive()
	h.presence.Connect(c.UserID())
}

func (h *Hub) unregister(c *Client) {
	h.rooms.RemoveClient(c)
	removed, last := h.gateway.Remove(c)
	if !removed {
		return
	}
	observability.DecWSActive()
	h.presence.Disconnect(c.UserID())
	if last {
		h.typing.StopAll(c.UserID())
	}
}

// Join subscribes c to a conversation it participates in.
func (h *Hub) Join(ctx context.Context, c *Client, conversationID int) error {
	if h.opts.JoinTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.JoinTimeout)
		defer cancel()
	}
	unlock, err := h.locks.LockContext(ctx, conversationID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrJoinTimeout
		}
		return err
	}
	defer unlock()
	return h.rooms.Join(ctx, c, conversationID)
}

// storeContext detaches ctx from the caller and bounds it by StoreTimeout
// so a stuck store cannot hold the conversation lock forever.
func (h *Hub) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if h.opts.StoreTimeout > 0 {
		return context.WithTimeout(ctx, h.opts.StoreTimeout)
	}
	return ctx, func() {}
}

// SendMessage persists a message and broadcasts it to the room. Once
// accepted the message is committed and delivered even if ctx is cancelled.
func (h *Hub) SendMessage(ctx context.Context, senderID int, in services.MessageInput) (models.Message, error) {
	ctx = context.WithoutCancel(ctx)

	unlock := h.locks.Lock(in.ConversationID)
	storeCtx, cancel := h.storeContext(ctx)
	msg, err := h.service.SendMessage(storeCtx, senderID, in)
	cancel()
	if err != nil {
		unlock()
		return models.Message{}, err
	}
	h.rooms.Broadcast(in.ConversationID, NewFrame(EventMessageNew, NewMessagePayload(msg)), nil)
	unlock()

	observability.IncMessagePersisted(string(msg.Kind))
	h.typing.Stop(in.ConversationID, senderID)
	h.publish(ctx, observability.RouteMessageCreated, msg)
	return msg, nil
}

// MarkRead advances the read watermark and tells the room when it moved.
// It holds the conversation lock so the watermark never passes a message
// the room has not been sent yet.
func (h *Hub) MarkRead(ctx context.Context, userID, conversationID int, upToMessageID *int) (services.ReadResult, error) {
	unlock, err := h.locks.LockContext(ctx, conversationID)
	if err != nil {
		return services.ReadResult{}, err
	}
	defer unlock()

	storeCtx, cancel := h.storeContext(ctx)
	defer cancel()
	res, err := h.service.MarkRead(storeCtx, userID, conversationID, upToMessageID)
	if err != nil {
		return services.ReadResult{}, err
	}
	if res.Advanced {
		payload := ReadPayload{
			ConversationID: conversationID,
			MessageID:      res.MessageID,
			UserID:         userID,
			ReadAt:         res.LastReadAt,
		}
		h.rooms.Broadcast(conversationID, NewFrame(EventMessageRead, payload), nil)
		h.publish(ctx, observability.RouteMessageRead, payload)
	}
	return res, nil
}

// GetOrCreateDirectConversation notifies both users when the conversation is new.
func (h *Hub) GetOrCreateDirectConversation(ctx context.Context, selfID, otherID int) (models.Conversation, bool, error) {
	conv, created, err := h.service.GetOrCreateDirectConversation(ctx, selfID, otherID)
	if err != nil || !created {
		return conv, created, err
	}
	f := NewFrame(EventConversationCreated, ConversationCreatedPayload{ConversationID: conv.ID, Kind: conv.Kind})
	h.gateway.SendToUser(selfID, f)
	h.gateway.SendToUser(otherID, f)
	h.publish(ctx, observability.RouteConversationCreated, conversationEvent{
		ConversationID: conv.ID,
		Kind:           conv.Kind,
		UserIDs:        []int{selfID, otherID},
	})
	return conv, true, nil
}

// CreateGroup notifies every member of the new group.
func (h *Hub) CreateGroup(ctx context.Context, creatorID int, in services.GroupInput) (services.CreatedGroup, error) {
	out, err := h.service.CreateGroup(ctx, creatorID, in)
	if err != nil {
		return services.CreatedGroup{}, err
	}
	f := NewFrame(EventGroupCreated, GroupCreatedPayload{
		GroupID:        out.Group.ID,
		ConversationID: out.Group.ConversationID,
		Name:           out.Group.Name,
	})
	for _, id := range out.MemberIDs {
		h.gateway.SendToUser(id, f)
	}
	h.publish(ctx, observability.RouteGroupCreated, memberEvent{
		GroupID:        out.Group.ID,
		ConversationID: out.Group.ConversationID,
		ActorID:        creatorID,
		UserIDs:        out.MemberIDs,
	})
	return out, nil
}

func (h *Hub) JoinGroup(ctx context.Context, userID, groupID int) (services.MembershipChange, error) {
	return h.changeMembership(ctx, userID, groupID, false, func(ctx context.Context) (services.MembershipChange, error) {
		return h.service.JoinGroup(ctx, userID, groupID)
	})
}

func (h *Hub) LeaveGroup(ctx context.Context, userID, groupID int) (services.MembershipChange, error) {
	return h.changeMembership(ctx, userID, groupID, true, func(ctx context.Context) (services.MembershipChange, error) {
		return h.service.LeaveGroup(ctx, userID, groupID)
	})
}

func (h *Hub) AddGroupMembers(ctx context.Context, actorID, groupID int, userIDs []int) (services.MembershipChange, error) {
	change, err := h.changeMembership(ctx, actorID, groupID, false, func(ctx context.Context) (services.MembershipChange, error) {
		return h.service.AddGroupMembers(ctx, actorID, groupID, userIDs)
	})
	if err != nil || !change.Changed {
		return change, err
	}
	f := NewFrame(EventGroupCreated, GroupCreatedPayload{
		GroupID:        change.Group.ID,
		ConversationID: change.Group.ConversationID,
		Name:           change.Group.Name,
	})
	for _, id := range change.UserIDs {
		h.gateway.SendToUser(id, f)
	}
	return change, nil
}

func (h *Hub) RemoveGroupMember(ctx context.Context, actorID, groupID, userID int) (services.MembershipChange, error) {
	return h.changeMembership(ctx, actorID, groupID, true, func(ctx context.Context) (services.MembershipChange, error) {
		return h.service.RemoveGroupMember(ctx, actorID, groupID, userID)
	})
}

// changeMembership runs a membership change under the conversation lock,
// broadcasts its system message and evicts users who lost access.
func (h *Hub) changeMembership(ctx context.Context, actorID, groupID int, leaving bool, apply func(context.Context) (services.MembershipChange, error)) (services.MembershipChange, error) {
	detail, err := h.service.GetGroup(ctx, actorID, groupID)
	if err != nil {
		return services.MembershipChange{}, err
	}
	conversationID := detail.ConversationID

	unlock, err := h.locks.LockContext(ctx, conversationID)
	if err != nil {
		return services.MembershipChange{}, err
	}
	ctx = context.WithoutCancel(ctx)
	storeCtx, cancel := h.storeContext(ctx)
	change, err := apply(storeCtx)
	cancel()
	if err != nil {
		unlock()
		return services.MembershipChange{}, err
	}
	if change.Changed && change.SystemMessage != nil {
		h.rooms.Broadcast(conversationID, NewFrame(EventMessageNew, NewMessagePayload(*change.SystemMessage)), nil)
	}
	if change.Changed && leaving {
		for _, id := range change.UserIDs {
			h.evictLocked(conversationID, id)
		}
	}
	unlock()

	if !change.Changed {
		return change, nil
	}
	if change.SystemMessage != nil {
		observability.IncMessagePersisted(string(change.SystemMessage.Kind))
	}
	route := observability.RouteGroupMemberJoined
	if leaving {
		route = observability.RouteGroupMemberLeft
	}
	h.publish(ctx, route, memberEvent{
		GroupID:        change.Group.ID,
		ConversationID: conversationID,
		ActorID:        actorID,
		UserIDs:        change.UserIDs,
	})
	return change, nil
}

// Evict removes a user's connections from a conversation room.
func (h *Hub) Evict(conversationID, userID int) int {
	unlock := h.locks.Lock(conversationID)
	defer unlock()
	return h.evictLocked(conversationID, userID)
}

func (h *Hub) evictLocked(conversationID, userID int) int {
	evicted := h.rooms.Evict(conversationID, userID)
	f := NewFrame(EventEvicted, ConversationRef{ConversationID: conversationID})
	for _, c := range evicted {
		c.Send(f)
	}
	h.typing.Stop(conversationID, userID)
	return len(evicted)
}

func (h *Hub) Statuses(userIDs []int) []presence.Status {
	return h.presence.Statuses(userIDs)
}

func (h *Hub) IsOnline(userID int) bool {
	return h.presence.IsOnline(userID)
}

func (h *Hub) ActiveTypers(conversationID int) []typing.Typer {
	return h.typing.ActiveTypers(conversationID)
}

// Presence and typing notifications. These run on the actor goroutines.

func (h *Hub) UserOnline(userID int) {
	observability.IncPresenceOnline()
	h.gateway.BroadcastAll(NewFrame(EventUserOnline, UserRef{UserID: userID}))
}

func (h *Hub) UserOffline(userID int) {
	observability.DecPresenceOnline()
	h.gateway.BroadcastAll(NewFrame(EventUserOffline, UserRef{UserID: userID}))
}

func (h *Hub) TypingStarted(ev typing.Event) {
	observability.IncTypingActive()
	h.rooms.BroadcastExceptUser(ev.ConversationID, NewFrame(EventTypingUserStart, ev), ev.UserID)
}

func (h *Hub) TypingStopped(ev typing.Event) {
	observability.DecTypingActive()
	h.rooms.BroadcastExceptUser(ev.ConversationID, NewFrame(EventTypingUserStop, ev), ev.UserID)
}

type conversationEvent struct {
	ConversationID int                     `json:"conversation_id"`
	Kind           models.ConversationKind `json:"kind"`
	UserIDs        []int                   `json:"user_ids"`
}

type memberEvent struct {
	GroupID        int   `json:"group_id"`
	ConversationID int   `json:"conversation_id"`
	ActorID        int   `json:"actor_id"`
	UserIDs        []int `json:"user_ids"`
}

func (h *Hub) publish(ctx context.Context, routingKey string, payload any) {
	if err := observability.PublishDomainEvent(ctx, routingKey, payload, observability.HeadersFromContext(ctx)); err != nil {
		log.Printf("publish %s failed: %v", routingKey, err)
	}
}
