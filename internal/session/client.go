package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"chat-engine/internal/models"
	"chat-engine/internal/ws"
)

const (
	writeWait   = 10 * time.Second
	eventBuffer = 256
)

var ErrClosed = errors.New("client closed")

type Config struct {
	URL    string
	Token  string
	UserID int
	// TypingStale expires remote typers locally when no stop arrives.
	TypingStale time.Duration
	Clock       clockwork.Clock
	Dialer      *websocket.Dialer
}

// Client is a websocket connection to the chat engine that routes server
// events to the sessions opened on it.
type Client struct {
	cfg  Config
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.RWMutex
	sessions map[int]*Session

	events chan ws.Envelope
	done   chan struct{}
	once   sync.Once
}

// Dial connects and authenticates with the bearer token.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.New("websocket handshake unauthorized")
		}
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		conn:     conn,
		sessions: make(map[int]*Session),
		events:   make(chan ws.Envelope, eventBuffer),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Send writes one client event.
func (c *Client) Send(event string, data any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = b
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ws.Envelope{Event: event, Data: raw})
}

// Open starts a session for a conversation, seeded with initial messages.
func (c *Client) Open(conversationID int, initial []models.Message) (*Session, error) {
	s := New(conversationID, c.cfg.UserID, c, c.cfg.Clock, c.cfg.TypingStale)

	c.mu.Lock()
	if _, exists := c.sessions[conversationID]; exists {
		c.mu.Unlock()
		return nil, ErrNotOpen
	}
	c.sessions[conversationID] = s
	c.mu.Unlock()

	if err := s.Open(initial); err != nil {
		c.forget(conversationID)
		return nil, err
	}
	return s, nil
}

// CloseSession leaves a conversation and stops routing its events.
func (c *Client) CloseSession(s *Session) error {
	c.forget(s.ConversationID())
	return s.Close()
}

func (c *Client) forget(conversationID int) {
	c.mu.Lock()
	delete(c.sessions, conversationID)
	c.mu.Unlock()
}

// Events is the raw stream of server frames. Frames are dropped when the
// stream is not drained.
func (c *Client) Events() <-chan ws.Envelope { return c.events }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.once.Do(func() { close(c.done) })
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer c.once.Do(func() { close(c.done) })

	for {
		var env ws.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				select {
				case <-c.done:
				default:
					log.Printf("session read failed: %v", err)
				}
			}
			return
		}

		if id := conversationOf(env); id != 0 {
			c.mu.RLock()
			s := c.sessions[id]
			c.mu.RUnlock()
			if s != nil {
				s.Handle(env)
			}
		}

		select {
		case c.events <- env:
		default:
		}
	}
}

// conversationOf extracts the conversation an event is about, or 0. Acks
// carry it on the nested message; error frames use "message" for text.
func conversationOf(env ws.Envelope) int {
	var ref struct {
		ConversationID int             `json:"conversationId"`
		Message        json.RawMessage `json:"message"`
	}
	if len(env.Data) == 0 || json.Unmarshal(env.Data, &ref) != nil {
		return 0
	}
	if ref.ConversationID != 0 {
		return ref.ConversationID
	}
	nested := bytes.TrimSpace(ref.Message)
	if len(nested) == 0 || nested[0] != '{' {
		return 0
	}
	var inner ws.ConversationRef
	if json.Unmarshal(nested, &inner) != nil {
		return 0
	}
	return inner.ConversationID
}
