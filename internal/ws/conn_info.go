package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"chat-engine/internal/observability"
)

// ConnInfo identifies a connection in logs and lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	UserAgent   string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// newConnInfo describes the upgraded request. A missing request id is generated.
func newConnInfo(ctx context.Context, r *http.Request, userID int) ConnInfo {
	requestID := observability.RequestIDFromRequest(r)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(r),
		IP:          observability.IPFromRequest(r),
		UserAgent:   r.UserAgent(),
		RequestID:   requestID,
		TraceID:     observability.TraceIDFromContext(ctx),
		ConnectedAt: time.Now(),
	}
}

// lifecyclePayload is the ws_events body: what happened to the connection
// and who was on it.
func (i ConnInfo) lifecyclePayload(event string, duration time.Duration, reason string) map[string]any {
	return map[string]any{
		"ws": map[string]any{
			"event":       event,
			"conn_id":     i.ConnID,
			"duration_ms": duration.Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]any{
			"user_id":    i.UserID,
			"device_id":  i.DeviceID,
			"ip":         i.IP,
			"user_agent": i.UserAgent,
		},
	}
}

func (i ConnInfo) headers() map[string]string {
	return observability.BuildHeaders(i.RequestID, i.TraceID)
}
