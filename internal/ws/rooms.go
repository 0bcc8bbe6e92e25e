package ws

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"chat-engine/internal/services"
)

var ErrJoinTimeout = errors.New("join timed out")

// Membership answers whether a user may subscribe to a conversation.
type Membership interface {
	IsParticipant(ctx context.Context, conversationID, userID int) (bool, error)
}

// Rooms maps conversations to their subscribed connections. Empty rooms
// are deleted.
type Rooms struct {
	members     Membership
	joinTimeout time.Duration

	mu     sync.RWMutex
	rooms  map[int]map[*Client]struct{}
	joined map[*Client]map[int]struct{}
}

func NewRooms(members Membership, joinTimeout time.Duration) *Rooms {
	return &Rooms{
		members:     members,
		joinTimeout: joinTimeout,
		rooms:       make(map[int]map[*Client]struct{}),
		joined:      make(map[*Client]map[int]struct{}),
	}
}

// Join subscribes c after checking participation. Joining twice is a no-op.
func (r *Rooms) Join(ctx context.Context, c *Client, conversationID int) error {
	if r.Has(conversationID, c) {
		return nil
	}

	if r.joinTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.joinTimeout)
		defer cancel()
	}
	ok, err := r.members.IsParticipant(ctx, conversationID, c.UserID())
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrJoinTimeout
		}
		return err
	}
	if !ok {
		return services.ErrNotParticipant
	}

	r.add(conversationID, c)
	return nil
}

func (r *Rooms) add(conversationID int, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[conversationID]
	if !ok {
		room = make(map[*Client]struct{})
		r.rooms[conversationID] = room
	}
	room[c] = struct{}{}

	convs, ok := r.joined[c]
	if !ok {
		convs = make(map[int]struct{})
		r.joined[c] = convs
	}
	convs[conversationID] = struct{}{}
}

// Leave unsubscribes c. It reports whether c was subscribed.
func (r *Rooms) Leave(c *Client, conversationID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(conversationID, c)
}

func (r *Rooms) removeLocked(conversationID int, c *Client) bool {
	room, ok := r.rooms[conversationID]
	if !ok {
		return false
	}
	if _, ok := room[c]; !ok {
		return false
	}
	delete(room, c)
	if len(room) == 0 {
		delete(r.rooms, conversationID)
	}
	if convs := r.joined[c]; convs != nil {
		delete(convs, conversationID)
		if len(convs) == 0 {
			delete(r.joined, c)
		}
	}
	return true
}

// RemoveClient drops c from every room and returns the conversations it left.
func (r *Rooms) RemoveClient(c *Client) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []int
	for id := range r.joined[c] {
		left = append(left, id)
	}
	for _, id := range left {
		r.removeLocked(id, c)
	}
	sort.Ints(left)
	return left
}

// Evict removes every connection of userID from the room and returns them.
func (r *Rooms) Evict(conversationID, userID int) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Client
	for c := range r.rooms[conversationID] {
		if c.UserID() == userID {
			out = append(out, c)
		}
	}
	for _, c := range out {
		r.removeLocked(conversationID, c)
	}
	return out
}

func (r *Rooms) Has(conversationID int, c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[conversationID][c]
	return ok
}

func (r *Rooms) Members(conversationID int) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.rooms[conversationID]))
	for c := range r.rooms[conversationID] {
		out = append(out, c)
	}
	return out
}

// Broadcast enqueues f to every subscriber except exclude, which may be nil.
func (r *Rooms) Broadcast(conversationID int, f Frame, exclude *Client) int {
	return r.broadcast(conversationID, f, func(c *Client) bool { return c == exclude })
}

// BroadcastExceptUser enqueues f to every subscriber not owned by userID.
func (r *Rooms) BroadcastExceptUser(conversationID int, f Frame, userID int) int {
	return r.broadcast(conversationID, f, func(c *Client) bool { return c.UserID() == userID })
}

func (r *Rooms) broadcast(conversationID int, f Frame, skip func(*Client) bool) int {
	sent := 0
	for _, c := range r.Members(conversationID) {
		if skip(c) {
			continue
		}
		if c.Send(f) {
			sent++
		}
	}
	return sent
}

// Len is the number of non-empty rooms.
func (r *Rooms) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
