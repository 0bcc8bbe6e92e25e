package session

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"chat-engine/internal/models"
	"chat-engine/internal/ws"
)

// State of a conversation view.
type State int

const (
	StateIdle State = iota
	StateJoining
	StateJoined
	StateActive
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// FailedToLoad is the failure shown when the room cannot be joined.
const FailedToLoad = "failed to load chat"

var ErrNotOpen = errors.New("session is not idle")

// Transport sends one client event.
type Transport interface {
	Send(event string, data any) error
}

// Session is the client view of one open conversation. It keeps the
// message list ordered by (created_at, id) with no duplicate ids, whatever
// order the initial fetch and live events arrive in.
type Session struct {
	conversationID int
	userID         int
	transport      Transport
	clock          clockwork.Clock
	stale          time.Duration

	mu        sync.Mutex
	state     State
	messages  []models.Message
	ids       map[int]struct{}
	typers    map[int]time.Time
	readers   map[int]map[int]time.Time
	pending   map[string]struct{}
	lastError *ws.ErrorPayload
	failure   string
}

func New(conversationID, userID int, transport Transport, clock clockwork.Clock, stale time.Duration) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Session{
		conversationID: conversationID,
		userID:         userID,
		transport:      transport,
		clock:          clock,
		stale:          stale,
		ids:            make(map[int]struct{}),
		typers:         make(map[int]time.Time),
		readers:        make(map[int]map[int]time.Time),
		pending:        make(map[string]struct{}),
	}
}

func (s *Session) ConversationID() int { return s.conversationID }

// Open seeds the list and asks to join the room.
func (s *Session) Open(initial []models.Message) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrNotOpen
	}
	for _, m := range initial {
		s.insert(m)
	}
	s.state = StateJoining
	s.failure = ""
	s.lastError = nil
	s.mu.Unlock()

	if err := s.transport.Send(ws.EventJoin, ws.ConversationRef{ConversationID: s.conversationID}); err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return err
	}
	return nil
}

// SendMessage sends a TEXT message. It returns false without sending when
// the trimmed content is empty or the room is not joined.
func (s *Session) SendMessage(content string) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}

	s.mu.Lock()
	if s.state != StateJoined && s.state != StateActive {
		s.mu.Unlock()
		return false
	}
	clientID := uuid.NewString()
	s.pending[clientID] = struct{}{}
	s.mu.Unlock()

	err := s.transport.Send(ws.EventMessageSend, ws.SendRequest{
		ConversationID: s.conversationID,
		Content:        content,
		Kind:           models.MessageText,
		ClientID:       clientID,
	})
	if err != nil {
		s.mu.Lock()
		delete(s.pending, clientID)
		s.lastError = &ws.ErrorPayload{Message: err.Error(), Code: ws.CodeInternal, Event: ws.EventMessageSend}
		s.mu.Unlock()
		return false
	}
	return true
}

// SetTyping reports the local user's typing state.
func (s *Session) SetTyping(typing bool) bool {
	if !s.live() {
		return false
	}
	event := ws.EventTypingStop
	if typing {
		event = ws.EventTypingStart
	}
	return s.transport.Send(event, ws.ConversationRef{ConversationID: s.conversationID}) == nil
}

// MarkRead marks the conversation read up to messageID, or entirely when nil.
func (s *Session) MarkRead(messageID *int) bool {
	if !s.live() {
		return false
	}
	return s.transport.Send(ws.EventMessageRead, ws.ReadRequest{ConversationID: s.conversationID, MessageID: messageID}) == nil
}

func (s *Session) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateJoined || s.state == StateActive
}

// Close leaves the room and drops typing state. Messages are kept.
func (s *Session) Close() error {
	s.mu.Lock()
	wasOpen := s.state != StateIdle && s.state != StateError
	s.state = StateIdle
	s.typers = make(map[int]time.Time)
	s.pending = make(map[string]struct{})
	s.mu.Unlock()

	if !wasOpen {
		return nil
	}
	return s.transport.Send(ws.EventLeave, ws.ConversationRef{ConversationID: s.conversationID})
}

// Handle applies one server event addressed to this conversation.
func (s *Session) Handle(env ws.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle || s.state == StateError {
		return
	}

	switch env.Event {
	case ws.EventJoined:
		if s.state == StateJoining {
			s.state = StateJoined
		}

	case ws.EventError:
		var p ws.ErrorPayload
		if json.Unmarshal(env.Data, &p) == nil {
			s.applyError(p)
		}

	case ws.EventMessageNew:
		var p ws.MessagePayload
		if json.Unmarshal(env.Data, &p) == nil && p.ConversationID == s.conversationID {
			m := p.Model()
			s.insert(m)
			delete(s.typers, m.SenderID)
			s.activate()
		}

	case ws.EventMessageSent:
		var p ws.MessageSentPayload
		if json.Unmarshal(env.Data, &p) == nil && p.Message.ConversationID == s.conversationID {
			delete(s.pending, p.ClientID)
			s.insert(p.Message.Model())
			s.activate()
		}

	case ws.EventTypingUserStart, ws.EventTypingUserStop:
		var p struct {
			UserID    int       `json:"userId"`
			Timestamp time.Time `json:"timestamp"`
		}
		if json.Unmarshal(env.Data, &p) != nil || p.UserID == s.userID {
			return
		}
		if env.Event == ws.EventTypingUserStart {
			s.typers[p.UserID] = s.clock.Now()
		} else {
			delete(s.typers, p.UserID)
		}
		s.activate()

	case ws.EventMessageRead:
		var p ws.ReadPayload
		if json.Unmarshal(env.Data, &p) == nil {
			s.applyRead(p)
			s.activate()
		}

	case ws.EventEvicted:
		s.state = StateError
		s.failure = "removed from conversation"
		s.typers = make(map[int]time.Time)
	}
}

// activate moves Joined to Active on the first live event.
func (s *Session) activate() {
	if s.state == StateJoined {
		s.state = StateActive
	}
}

func (s *Session) applyError(p ws.ErrorPayload) {
	if p.Event == ws.EventJoin && s.state == StateJoining {
		switch p.Code {
		case ws.CodeNotAuthorized, ws.CodeNotFound:
			s.state = StateError
			s.failure = FailedToLoad
		default:
			// transient: the caller may Open again
			s.state = StateIdle
		}
	}
	s.lastError = &p
}

// insert places m by (created_at, id), ignoring ids already present.
func (s *Session) insert(m models.Message) {
	if _, dup := s.ids[m.ID]; dup {
		return
	}
	s.ids[m.ID] = struct{}{}
	i := sort.Search(len(s.messages), func(i int) bool {
		return after(s.messages[i], m)
	})
	s.messages = append(s.messages, models.Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = m
}

func after(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// applyRead marks every message up to the watermark, except the reader's own.
func (s *Session) applyRead(p ws.ReadPayload) {
	limit := p.ReadAt
	if p.MessageID != 0 {
		if _, ok := s.ids[p.MessageID]; ok {
			for _, m := range s.messages {
				if m.ID == p.MessageID {
					limit = m.CreatedAt
					break
				}
			}
		}
	}
	for _, m := range s.messages {
		if m.CreatedAt.After(limit) {
			break
		}
		if m.SenderID == p.UserID {
			continue
		}
		readers := s.readers[m.ID]
		if readers == nil {
			readers = make(map[int]time.Time)
			s.readers[m.ID] = readers
		}
		if _, ok := readers[p.UserID]; !ok {
			readers[p.UserID] = p.ReadAt
		}
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the ordered list.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.messages...)
}

// Typers lists users typing within the staleness window, by id.
func (s *Session) Typers() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var out []int
	for id, at := range s.typers {
		if s.stale > 0 && now.Sub(at) > s.stale {
			delete(s.typers, id)
			continue
		}
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Readers lists who has read a message, by id.
func (s *Session) Readers(messageID int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int, 0, len(s.readers[messageID]))
	for id := range s.readers[messageID] {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// LastError is the most recent error event for this conversation.
func (s *Session) LastError() *ws.ErrorPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Failure describes why the session is in StateError.
func (s *Session) Failure() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Pending is the number of sends not yet acknowledged.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
