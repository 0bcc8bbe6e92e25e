package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/auth"
	"chat-engine/internal/rabbitmq"
	"chat-engine/internal/services"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{services.ErrInvalidName, http.StatusBadRequest},
		{services.ErrNotParticipant, http.StatusForbidden},
		{fmt.Errorf("%w: group", services.ErrNotFound), http.StatusNotFound},
		{auth.ErrInvalidToken, http.StatusUnauthorized},
		{services.ErrStore, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestRequestIDReusesHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var seen []string
	r.GET("/", func(c *gin.Context) {
		seen = append(seen, requestIDFromContext(c), requestIDFromContext(c))
	})

	req := serveWithHeader(r, "X-Request-ID", "req-1")
	require.Equal(t, http.StatusOK, req.Code)
	assert.Equal(t, []string{"req-1", "req-1"}, seen)

	seen = nil
	serveWithHeader(r, "", "")
	require.Len(t, seen, 2)
	assert.NotEmpty(t, seen[0])
	assert.Equal(t, seen[0], seen[1])
}

func TestDebugRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	disabled := gin.New()
	RegisterDebugRoutes(disabled, nil, rabbitmq.NewPublisher("", "chat"), false)
	assert.Equal(t, http.StatusNotFound, serve(disabled, http.MethodGet, "/debug/publisher", "").Code)

	r := gin.New()
	RegisterDebugRoutes(r, nil, rabbitmq.NewPublisher("", "chat"), true)
	rec := serve(r, http.MethodGet, "/debug/publisher", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mode":"noop","reason":"empty amqp url"}`, rec.Body.String())

	rec = serve(r, http.MethodGet, "/debug/audit-test", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDebugAuditEmits(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newGroupFixture()
	f.expectAudit("INFO", "audit test")

	r := gin.New()
	RegisterDebugRoutes(r, auditFor(f.publisher), f.publisher, true)
	rec := serve(r, http.MethodGet, "/debug/audit-test", "")
	require.Equal(t, http.StatusOK, rec.Code)
	f.publisher.AssertExpectations(t)
}
