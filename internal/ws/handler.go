package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"chat-engine/internal/auth"
	"chat-engine/internal/observability"
)

var errAuthRequired = errors.New("authentication required")

// Handler upgrades /ws requests and runs the connection until it closes.
type Handler struct {
	hub      *Hub
	tokens   auth.TokenValidator
	upgrader websocket.Upgrader
	tracer   trace.Tracer
}

func NewHandler(hub *Hub, tokens auth.TokenValidator, allowedOrigins []string) *Handler {
	return &Handler{
		hub:    hub,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		tracer: otel.Tracer("chat-engine/ws"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Handle authenticates the handshake, upgrades, and blocks in the read pump.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "ws.handshake")

	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}

	var userID int
	if token != "" {
		id, err := h.tokens.ValidateToken(token)
		if err != nil {
			span.End()
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID = id
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		return
	}

	if userID == 0 {
		userID, err = h.authenticateFirstFrame(conn)
		if err != nil {
			span.End()
			rejectUnauthorized(conn)
			return
		}
	}
	span.SetAttributes(attribute.Int("user.id", userID))

	info := newConnInfo(ctx, c.Request, userID)
	span.End()

	connCtx := observability.WithRequestID(context.WithoutCancel(ctx), info.RequestID)
	client := newClient(conn, info, h.hub.opts.PingPeriod, h.hub.opts.PongWait)
	h.hub.register(client)
	log.Printf("ws connect conn=%s user=%d ip=%s", info.ConnID, info.UserID, info.IP)
	publishLifecycle(connCtx, "ws_connect", info, 0, "")

	go client.writePump()
	readErr := client.readPump(func(raw []byte) {
		h.hub.handle(connCtx, client, raw)
	})

	h.hub.unregister(client)
	duration := time.Since(info.ConnectedAt)
	var reason string
	if readErr != nil {
		reason = readErr.Error()
		if !websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			publishLifecycle(connCtx, "ws_error", info, duration, reason)
		}
	}
	log.Printf("ws disconnect conn=%s user=%d duration=%s", info.ConnID, info.UserID, duration.Round(time.Millisecond))
	publishLifecycle(connCtx, "ws_disconnect", info, duration, reason)
}

// authenticateFirstFrame waits for an auth frame when the handshake carried
// no token.
func (h *Handler) authenticateFirstFrame(conn *websocket.Conn) (int, error) {
	timeout := h.hub.opts.AuthTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	conn.SetReadLimit(maxMessageSize)
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return 0, err
	}
	req, _, err := DecodeRequest(raw)
	if err != nil {
		return 0, err
	}
	ar, ok := req.(AuthRequest)
	if !ok || ar.Token == "" {
		return 0, errAuthRequired
	}
	return h.tokens.ValidateToken(ar.Token)
}

// rejectUnauthorized writes one error frame and a policy violation close.
func rejectUnauthorized(conn *websocket.Conn) {
	defer conn.Close()

	frame := errorFrame(EventAuth, 0, CodeUnauthorized, errAuthRequired.Error())
	raw, _ := json.Marshal(Envelope{Event: frame.Event, Data: frame.Data, Seq: 1})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
		time.Now().Add(writeWait))
}

func publishLifecycle(ctx context.Context, event string, info ConnInfo, duration time.Duration, reason string) {
	payload := info.lifecyclePayload(event, duration, reason)
	if err := observability.PublishEvent(ctx, observability.RouteWSEvents, "ws_events", event, payload, info.headers()); err != nil {
		log.Printf("publish %s failed conn=%s: %v", event, info.ConnID, err)
	}
}
