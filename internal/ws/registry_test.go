package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/models"
	"chat-engine/internal/services"
)

func testClient(userID int) *Client {
	return &Client{
		info: ConnInfo{UserID: userID},
		send: make(chan Frame, sendBufferSize),
		done: make(chan struct{}),
	}
}

func drain(c *Client) []Frame {
	var out []Frame
	for {
		select {
		case f := <-c.send:
			out = append(out, f)
		default:
			return out
		}
	}
}

type fakeMembership struct {
	allowed map[int]bool
	err     error
	block   bool
}

func (m fakeMembership) IsParticipant(ctx context.Context, conversationID, userID int) (bool, error) {
	if m.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if m.err != nil {
		return false, m.err
	}
	return m.allowed[userID], nil
}

func TestClientDropsWhenBufferFull(t *testing.T) {
	c := testClient(1)
	for i := 0; i < sendBufferSize; i++ {
		require.True(t, c.Send(NewFrame(EventHeartbeatAck, nil)))
	}

	assert.False(t, c.Send(NewFrame(EventHeartbeatAck, nil)))
	select {
	case <-c.Done():
	default:
		t.Fatal("slow client was not closed")
	}
	assert.False(t, c.Send(NewFrame(EventHeartbeatAck, nil)))
}

func TestGatewayTracksConnectionsPerUser(t *testing.T) {
	g := NewGateway()
	a1, a2, b := testClient(1), testClient(1), testClient(2)

	assert.True(t, g.Add(a1))
	assert.False(t, g.Add(a2))
	assert.True(t, g.Add(b))
	assert.Equal(t, 3, g.Connections())

	assert.Equal(t, 2, g.SendToUser(1, NewFrame(EventHeartbeatAck, nil)))
	assert.Equal(t, 3, g.BroadcastAll(NewFrame(EventUserOnline, UserRef{UserID: 3})))
	assert.Len(t, drain(a1), 2)
	assert.Len(t, drain(b), 1)

	removed, last := g.Remove(a1)
	assert.True(t, removed)
	assert.False(t, last)
	removed, last = g.Remove(a2)
	assert.True(t, removed)
	assert.True(t, last)
	removed, _ = g.Remove(a2)
	assert.False(t, removed)
	assert.Empty(t, g.Clients(1))
}

func TestRoomsJoinChecksMembership(t *testing.T) {
	rooms := NewRooms(fakeMembership{allowed: map[int]bool{1: true}}, time.Second)
	ctx := context.Background()
	member, outsider := testClient(1), testClient(2)

	require.NoError(t, rooms.Join(ctx, member, 5))
	require.NoError(t, rooms.Join(ctx, member, 5))
	assert.True(t, rooms.Has(5, member))
	assert.Len(t, rooms.Members(5), 1)

	err := rooms.Join(ctx, outsider, 5)
	assert.ErrorIs(t, err, services.ErrNotParticipant)
	assert.False(t, rooms.Has(5, outsider))
}

func TestRoomsJoinErrors(t *testing.T) {
	ctx := context.Background()

	slow := NewRooms(fakeMembership{block: true}, 20*time.Millisecond)
	assert.ErrorIs(t, slow.Join(ctx, testClient(1), 5), ErrJoinTimeout)

	missing := NewRooms(fakeMembership{err: services.ErrNotFound}, time.Second)
	assert.ErrorIs(t, missing.Join(ctx, testClient(1), 5), services.ErrNotFound)
	assert.Equal(t, 0, missing.Len())
}

func TestRoomsBroadcastAndCleanup(t *testing.T) {
	rooms := NewRooms(fakeMembership{allowed: map[int]bool{1: true, 2: true}}, time.Second)
	ctx := context.Background()
	a, b1, b2 := testClient(1), testClient(2), testClient(2)
	for _, c := range []*Client{a, b1, b2} {
		require.NoError(t, rooms.Join(ctx, c, 1))
	}
	require.NoError(t, rooms.Join(ctx, a, 2))

	assert.Equal(t, 2, rooms.Broadcast(1, NewFrame(EventMessageNew, nil), a))
	assert.Equal(t, 1, rooms.BroadcastExceptUser(1, NewFrame(EventTypingUserStart, nil), 2))
	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b1), 1)

	evicted := rooms.Evict(1, 2)
	assert.ElementsMatch(t, []*Client{b1, b2}, evicted)
	assert.False(t, rooms.Has(1, b1))
	assert.True(t, rooms.Has(1, a))

	assert.True(t, rooms.Leave(a, 1))
	assert.False(t, rooms.Leave(a, 1))
	assert.Equal(t, 1, rooms.Len())

	assert.Equal(t, []int{2}, rooms.RemoveClient(a))
	assert.Equal(t, 0, rooms.Len())
}

func TestKeyedMutexSerialisesPerKey(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(7)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, k.size())

	// other keys are independent
	unlock := k.Lock(1)
	done := make(chan struct{})
	go func() {
		k.Lock(2)()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another key blocked")
	}
	unlock()
}

func TestKeyedMutexLockContextGivesUp(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock(3)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := k.LockContext(ctx, 3)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, k.size())

	unlock()
	assert.Equal(t, 0, k.size())

	// the abandoned wait must not leave the key held
	again, err := k.LockContext(context.Background(), 3)
	require.NoError(t, err)
	again()
}

func TestMessagePayloadUsesRealtimeCasing(t *testing.T) {
	url := "https://cdn.test/a.png"
	m := models.Message{
		ID:             5,
		ConversationID: 2,
		SenderID:       1,
		Content:        "look",
		Kind:           models.MessageImage,
		AttachmentURL:  &url,
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Sender:         &models.Profile{ID: 1, Name: "Ana"},
	}
	f := NewFrame(EventMessageNew, NewMessagePayload(m))
	assert.JSONEq(t, `{"id":5,"conversationId":2,"senderId":1,"content":"look","kind":"IMAGE",
		"attachmentUrl":"https://cdn.test/a.png","createdAt":"2026-03-01T12:00:00Z",
		"sender":{"id":1,"name":"Ana","image":null}}`, string(f.Data))

	var back MessagePayload
	require.NoError(t, json.Unmarshal(f.Data, &back))
	assert.Equal(t, m, back.Model())
}

func TestServiceErrorHidesInternalFailures(t *testing.T) {
	f := serviceError(EventMessageSend, 3, errors.New("pq: connection refused"))
	assert.JSONEq(t, `{"message":"internal error","code":"internal","event":"message:send","conversationId":3}`, string(f.Data))

	f = joinError(4, services.ErrNotParticipant)
	assert.JSONEq(t, `{"message":"not authorized: not a participant","code":"not_authorized","event":"join:conversation","conversationId":4}`, string(f.Data))

	f = joinError(4, ErrJoinTimeout)
	assert.Contains(t, string(f.Data), `"code":"timeout"`)
}
