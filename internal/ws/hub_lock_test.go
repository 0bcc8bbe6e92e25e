package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/db"
	"chat-engine/internal/models"
	"chat-engine/internal/profiles"
	"chat-engine/internal/repositories"
	"chat-engine/internal/services"
)

// stallingService parks SendMessage until release is closed or its ctx ends.
type stallingService struct {
	services.Service
	entered chan struct{}
	release chan struct{}
}

func (s *stallingService) SendMessage(ctx context.Context, senderID int, in services.MessageInput) (models.Message, error) {
	close(s.entered)
	select {
	case <-s.release:
		return s.Service.SendMessage(ctx, senderID, in)
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}
}

func newStallingHub(t *testing.T, opts Options) (*Hub, *stallingService, int) {
	t.Helper()
	conn, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	store := repositories.NewStore(conn)
	for id, name := range map[int]string{1: "Ana", 2: "Bo"} {
		require.NoError(t, store.UpsertProfile(context.Background(), models.Profile{ID: id, Name: name}))
	}
	svc := services.NewConversationService(store, profiles.NewLookup(store, 64, time.Minute), nil)
	conv, _, err := svc.GetOrCreateDirectConversation(context.Background(), 1, 2)
	require.NoError(t, err)

	stall := &stallingService{Service: svc, entered: make(chan struct{}), release: make(chan struct{})}
	hub := NewHub(stall, opts)
	t.Cleanup(hub.Close)
	return hub, stall, conv.ID
}

func TestJoinTimesOutBehindStalledSend(t *testing.T) {
	hub, stall, convID := newStallingHub(t, Options{JoinTimeout: 50 * time.Millisecond, StoreTimeout: 10 * time.Second})

	sent := make(chan error, 1)
	go func() {
		_, err := hub.SendMessage(context.Background(), 1, services.MessageInput{ConversationID: convID, Content: "hi"})
		sent <- err
	}()
	<-stall.entered

	start := time.Now()
	err := hub.Join(context.Background(), testClient(2), convID)
	assert.ErrorIs(t, err, ErrJoinTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, hub.Rooms().Has(convID, testClient(2)))

	close(stall.release)
	require.NoError(t, <-sent)
	assert.Equal(t, 0, hub.locks.size())
}

func TestStoreTimeoutReleasesConversationLock(t *testing.T) {
	hub, stall, convID := newStallingHub(t, Options{JoinTimeout: time.Second, StoreTimeout: 50 * time.Millisecond})

	_, err := hub.SendMessage(context.Background(), 1, services.MessageInput{ConversationID: convID, Content: "hi"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	<-stall.entered

	c := testClient(2)
	require.NoError(t, hub.Join(context.Background(), c, convID))
	assert.True(t, hub.Rooms().Has(convID, c))
}

func TestMarkReadWaitsForInFlightSend(t *testing.T) {
	hub, stall, convID := newStallingHub(t, Options{JoinTimeout: time.Second, StoreTimeout: 10 * time.Second})

	reader := testClient(2)
	require.NoError(t, hub.Join(context.Background(), reader, convID))

	sent := make(chan models.Message, 1)
	go func() {
		msg, err := hub.SendMessage(context.Background(), 1, services.MessageInput{ConversationID: convID, Content: "hi"})
		assert.NoError(t, err)
		sent <- msg
	}()
	<-stall.entered

	read := make(chan services.ReadResult, 1)
	go func() {
		res, err := hub.MarkRead(context.Background(), 2, convID, nil)
		assert.NoError(t, err)
		read <- res
	}()

	select {
	case <-read:
		t.Fatal("mark read finished while a send held the conversation")
	case <-time.After(50 * time.Millisecond):
	}

	close(stall.release)
	msg := <-sent
	res := <-read
	require.True(t, res.Advanced)
	assert.Equal(t, msg.ID, res.MessageID)

	// the room sees the message before the read receipt that covers it
	var events []string
	for _, f := range drain(reader) {
		events = append(events, f.Event)
	}
	assert.Equal(t, []string{EventMessageNew, EventMessageRead}, events)
}

func TestMarkReadGivesUpWhenCallerLeaves(t *testing.T) {
	hub, stall, convID := newStallingHub(t, Options{StoreTimeout: 10 * time.Second})

	sent := make(chan error, 1)
	go func() {
		_, err := hub.SendMessage(context.Background(), 1, services.MessageInput{ConversationID: convID, Content: "hi"})
		sent <- err
	}()
	<-stall.entered

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := hub.MarkRead(ctx, 2, convID, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(stall.release)
	require.NoError(t, <-sent)
}
