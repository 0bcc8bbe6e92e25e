package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxPresenceIDs = 200

// PresenceHandler answers online status queries.
type PresenceHandler struct {
	realtime Realtime
}

func NewPresenceHandler(realtime Realtime) *PresenceHandler {
	return &PresenceHandler{realtime: realtime}
}

// Statuses handles GET /presence?user_ids=1,2.
func (h *PresenceHandler) Statuses(c *gin.Context) {
	var ids []int
	for _, part := range strings.Split(c.Query("user_ids"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id " + strconv.Quote(part)})
			return
		}
		ids = append(ids, id)
	}
	if len(ids) > maxPresenceIDs {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many user ids"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": h.realtime.Statuses(ids)})
}
