package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/models"
	"chat-engine/internal/ws"
)

type sentEvent struct {
	event string
	data  any
}

type recorder struct {
	mu   sync.Mutex
	sent []sentEvent
	err  error
}

func (r *recorder) Send(event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentEvent{event, data})
	return nil
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.event)
	}
	return out
}

func (r *recorder) last() sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[len(r.sent)-1]
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id, sender int, offset time.Duration) models.Message {
	return models.Message{ID: id, ConversationID: 10, SenderID: sender, Content: "m", Kind: models.MessageText, CreatedAt: t0.Add(offset)}
}

func frame(t *testing.T, event string, data any) ws.Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return ws.Envelope{Event: event, Data: raw}
}

func ids(msgs []models.Message) []int {
	out := make([]int, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func joined(t *testing.T, clock clockwork.Clock) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := New(10, 1, rec, clock, 5*time.Second)
	require.NoError(t, s.Open(nil))
	s.Handle(frame(t, ws.EventJoined, ws.ConversationRef{ConversationID: 10}))
	require.Equal(t, StateJoined, s.State())
	return s, rec
}

func TestOpenSeedsOrderedListAndJoins(t *testing.T) {
	rec := &recorder{}
	s := New(10, 1, rec, nil, 5*time.Second)
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Open([]models.Message{msg(3, 2, 2*time.Second), msg(1, 2, 0), msg(2, 1, 0), msg(1, 2, 0)}))
	assert.Equal(t, []int{1, 2, 3}, ids(s.Messages()))
	assert.Equal(t, StateJoining, s.State())
	assert.Equal(t, []string{ws.EventJoin}, rec.events())

	assert.False(t, s.SendMessage("too early"))
	assert.Len(t, rec.events(), 1)
	assert.ErrorIs(t, s.Open(nil), ErrNotOpen)
}

func TestLiveMessagesAreDeduplicatedAndOrdered(t *testing.T) {
	s, _ := joined(t, nil)
	s.Handle(frame(t, ws.EventMessageNew, ws.NewMessagePayload(msg(5, 2, 5*time.Second))))
	assert.Equal(t, StateActive, s.State())

	s.Handle(frame(t, ws.EventMessageNew, ws.NewMessagePayload(msg(5, 2, 5*time.Second))))
	s.Handle(frame(t, ws.EventMessageNew, ws.NewMessagePayload(msg(4, 2, 5*time.Second))))
	s.Handle(frame(t, ws.EventMessageNew, ws.NewMessagePayload(msg(3, 2, time.Second))))

	other := msg(9, 2, 0)
	other.ConversationID = 11
	s.Handle(frame(t, ws.EventMessageNew, ws.NewMessagePayload(other)))

	assert.Equal(t, []int{3, 4, 5}, ids(s.Messages()))
}

func TestJoinFailures(t *testing.T) {
	rec := &recorder{}
	s := New(10, 1, rec, nil, time.Second)
	require.NoError(t, s.Open(nil))
	s.Handle(frame(t, ws.EventError, ws.ErrorPayload{Code: ws.CodeNotAuthorized, Event: ws.EventJoin, ConversationID: 10}))
	assert.Equal(t, StateError, s.State())
	assert.Equal(t, FailedToLoad, s.Failure())

	s.Handle(frame(t, ws.EventMessageNew, ws.NewMessagePayload(msg(1, 2, 0))))
	assert.Empty(t, s.Messages())

	transient := New(10, 1, &recorder{}, nil, time.Second)
	require.NoError(t, transient.Open(nil))
	transient.Handle(frame(t, ws.EventError, ws.ErrorPayload{Code: ws.CodeTimeout, Event: ws.EventJoin, ConversationID: 10}))
	assert.Equal(t, StateIdle, transient.State())
	assert.Equal(t, ws.CodeTimeout, transient.LastError().Code)
	require.NoError(t, transient.Open(nil))
	assert.Equal(t, StateJoining, transient.State())
}

func TestSendMessage(t *testing.T) {
	s, rec := joined(t, nil)

	assert.False(t, s.SendMessage("   "))
	require.True(t, s.SendMessage("  hi there "))

	sent := rec.last()
	assert.Equal(t, ws.EventMessageSend, sent.event)
	req := sent.data.(ws.SendRequest)
	assert.Equal(t, "hi there", req.Content)
	assert.Equal(t, 10, req.ConversationID)
	assert.NotEmpty(t, req.ClientID)
	assert.Equal(t, 1, s.Pending())

	echo := msg(7, 1, 0)
	s.Handle(frame(t, ws.EventMessageNew, ws.NewMessagePayload(echo)))
	s.Handle(frame(t, ws.EventMessageSent, ws.MessageSentPayload{ClientID: req.ClientID, Message: ws.NewMessagePayload(echo)}))
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, []int{7}, ids(s.Messages()))
	assert.Equal(t, StateActive, s.State())
}

func TestValidationErrorKeepsState(t *testing.T) {
	s, _ := joined(t, nil)
	s.Handle(frame(t, ws.EventMessageNew, ws.NewMessagePayload(msg(1, 2, 0))))

	s.Handle(frame(t, ws.EventError, ws.ErrorPayload{Code: ws.CodeValidation, Event: ws.EventMessageSend, ConversationID: 10}))
	assert.Equal(t, StateActive, s.State())
	require.NotNil(t, s.LastError())
	assert.Equal(t, ws.CodeValidation, s.LastError().Code)
	assert.Len(t, s.Messages(), 1)
}

func TestSendFailureIsRecorded(t *testing.T) {
	s, rec := joined(t, nil)
	rec.err = errors.New("broken pipe")

	assert.False(t, s.SendMessage("hello"))
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, StateJoined, s.State())
	require.NotNil(t, s.LastError())
}

func TestTypers(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	s, _ := joined(t, clock)

	s.Handle(frame(t, ws.EventTypingUserStart, map[string]any{"userId": 1, "conversationId": 10}))
	assert.Empty(t, s.Typers())

	s.Handle(frame(t, ws.EventTypingUserStart, map[string]any{"userId": 2, "conversationId": 10}))
	s.Handle(frame(t, ws.EventTypingUserStart, map[string]any{"userId": 3, "conversationId": 10}))
	assert.Equal(t, []int{2, 3}, s.Typers())

	s.Handle(frame(t, ws.EventTypingUserStop, map[string]any{"userId": 3, "conversationId": 10}))
	assert.Equal(t, []int{2}, s.Typers())

	clock.Advance(5 * time.Second)
	assert.Equal(t, []int{2}, s.Typers(), "still inside the window at exactly its length")

	clock.Advance(time.Millisecond)
	assert.Empty(t, s.Typers())

	s.Handle(frame(t, ws.EventTypingUserStart, map[string]any{"userId": 2, "conversationId": 10}))
	s.Handle(frame(t, ws.EventMessageNew, ws.NewMessagePayload(msg(1, 2, 0))))
	assert.Empty(t, s.Typers(), "a message from the typer ends typing")
}

func TestReadReceipts(t *testing.T) {
	s, _ := joined(t, nil)
	for _, m := range []models.Message{msg(1, 1, 0), msg(2, 2, time.Second), msg(3, 1, 2*time.Second), msg(4, 1, 3*time.Second)} {
		s.Handle(frame(t, ws.EventMessageNew, ws.NewMessagePayload(m)))
	}

	s.Handle(frame(t, ws.EventMessageRead, ws.ReadPayload{ConversationID: 10, MessageID: 3, UserID: 2, ReadAt: t0.Add(time.Minute)}))
	assert.Equal(t, []int{2}, s.Readers(1))
	assert.Empty(t, s.Readers(2), "own messages carry no receipt")
	assert.Equal(t, []int{2}, s.Readers(3))
	assert.Empty(t, s.Readers(4))
}

func TestEvictionAndClose(t *testing.T) {
	s, rec := joined(t, nil)
	s.Handle(frame(t, ws.EventMessageNew, ws.NewMessagePayload(msg(1, 2, 0))))
	s.Handle(frame(t, ws.EventTypingUserStart, map[string]any{"userId": 2, "conversationId": 10}))

	require.NoError(t, s.Close())
	assert.Equal(t, ws.EventLeave, rec.last().event)
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.Typers())
	assert.Len(t, s.Messages(), 1, "messages survive close")

	evicted, _ := joined(t, nil)
	evicted.Handle(frame(t, ws.EventEvicted, ws.ConversationRef{ConversationID: 10}))
	assert.Equal(t, StateError, evicted.State())
	assert.False(t, evicted.SendMessage("still here?"))
}
