package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-engine/internal/mocks"
	"chat-engine/internal/presence"
)

func setupPresenceRouter(handler *PresenceHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/presence", handler.Statuses)
	return r
}

func TestPresenceStatuses(t *testing.T) {
	rt := new(mocks.RealtimeMock)
	router := setupPresenceRouter(NewPresenceHandler(rt))

	rt.On("Statuses", []int{2, 3}).Return([]presence.Status{{UserID: 2, Online: true}, {UserID: 3}}).Once()

	rec := serve(router, http.MethodGet, "/presence?user_ids=2,%203", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"statuses":[{"userId":2,"online":true},{"userId":3,"online":false}]}`, rec.Body.String())
	rt.AssertExpectations(t)
}

func TestPresenceRejectsBadIDs(t *testing.T) {
	rt := new(mocks.RealtimeMock)
	router := setupPresenceRouter(NewPresenceHandler(rt))

	rec := serve(router, http.MethodGet, "/presence?user_ids=2,x", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	ids := make([]string, maxPresenceIDs+1)
	for i := range ids {
		ids[i] = strconv.Itoa(i + 1)
	}
	rec = serve(router, http.MethodGet, "/presence?user_ids="+strings.Join(ids, ","), "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rt.AssertNotCalled(t, "Statuses")
}
