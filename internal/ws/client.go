package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-engine/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 16 * 1024
	sendBufferSize = 256
)

// Client is one websocket connection. The read pump dispatches inbound
// frames in order; the write pump owns every write to the socket.
type Client struct {
	info ConnInfo
	conn *websocket.Conn

	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once

	pingPeriod time.Duration
	pongWait   time.Duration
}

func newClient(conn *websocket.Conn, info ConnInfo, pingPeriod, pongWait time.Duration) *Client {
	return &Client{
		info:       info,
		conn:       conn,
		send:       make(chan Frame, sendBufferSize),
		done:       make(chan struct{}),
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
	}
}

func (c *Client) UserID() int    { return c.info.UserID }
func (c *Client) Info() ConnInfo { return c.info }

// Done is closed once the connection is shutting down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send enqueues a frame without blocking. A client whose buffer is full is
// dropped.
func (c *Client) Send(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- f:
		return true
	default:
		observability.IncWSDropped()
		log.Printf("ws drop slow client conn=%s user=%d", c.info.ConnID, c.info.UserID)
		c.Close()
		return false
	}
}

// Close stops both pumps. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) refreshDeadline() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		log.Printf("ws set read deadline conn=%s: %v", c.info.ConnID, err)
	}
}

// readPump blocks until the connection fails or closes and returns the read
// error. Every frame and every pong pushes the read deadline out by pongWait.
func (c *Client) readPump(handle func(raw []byte)) error {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.refreshDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.refreshDeadline()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws unexpected close conn=%s user=%d: %v", c.info.ConnID, c.info.UserID, err)
			}
			return err
		}
		c.refreshDeadline()
		handle(raw)
	}
}

// writePump numbers and writes queued frames and keeps the peer alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	var seq uint64
	for {
		select {
		case f := <-c.send:
			seq++
			raw, err := json.Marshal(Envelope{Event: f.Event, Data: f.Data, Seq: seq})
			if err != nil {
				log.Printf("ws encode event=%s conn=%s: %v", f.Event, c.info.ConnID, err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.Close()
				return
			}
			observability.IncWSOutbound(f.Event)
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
