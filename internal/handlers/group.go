package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-engine/internal/models"
	"chat-engine/internal/services"
	"chat-engine/internal/telemetry"
)

// GroupHandler serves group endpoints. Membership changes are audited.
type GroupHandler struct {
	service  services.Service
	realtime Realtime
	audit    *telemetry.AuditEmitter
}

func NewGroupHandler(service services.Service, realtime Realtime, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{service: service, realtime: realtime, audit: audit}
}

// CreateGroup creates a group with the caller as creator.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name        string               `json:"name" binding:"required"`
		Description *string              `json:"description"`
		Category    models.GroupCategory `json:"category"`
		ImageURL    *string              `json:"image_url"`
		MemberIDs   []int                `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload", nil)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.realtime.CreateGroup(requestContext(c), userIDFromContext(c), services.GroupInput{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		ImageURL:    req.ImageURL,
		MemberIDs:   req.MemberIDs,
	})
	if err != nil {
		h.fail(c, "group create failed", err)
		return
	}
	h.emitAudit(c, "INFO", "Group created", map[string]any{"group_id": out.Group.ID, "member_ids": out.MemberIDs})
	c.JSON(http.StatusCreated, out)
}

// SearchGroups handles GET /groups/search?q&category&limit.
func (h *GroupHandler) SearchGroups(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	groups, err := h.service.SearchGroups(c.Request.Context(), userIDFromContext(c), c.Query("q"), models.GroupCategory(c.Query("category")), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *GroupHandler) GetGroup(c *gin.Context) {
	groupID, ok := intParam(c, "group_id")
	if !ok {
		return
	}
	detail, err := h.service.GetGroup(c.Request.Context(), userIDFromContext(c), groupID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// UpdateGroup applies a partial update. Only the creator may call it.
func (h *GroupHandler) UpdateGroup(c *gin.Context) {
	groupID, ok := intParam(c, "group_id")
	if !ok {
		return
	}
	var req struct {
		Name        *string               `json:"name"`
		Description *string               `json:"description"`
		Category    *models.GroupCategory `json:"category"`
		ImageURL    *string               `json:"image_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.service.UpdateGroup(c.Request.Context(), userIDFromContext(c), groupID, services.GroupPatch{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		h.fail(c, "group update failed", err)
		return
	}
	h.emitAudit(c, "INFO", "Group updated", map[string]any{"group_id": group.ID})
	c.JSON(http.StatusOK, group)
}

func (h *GroupHandler) JoinGroup(c *gin.Context) {
	groupID, ok := intParam(c, "group_id")
	if !ok {
		return
	}
	change, err := h.realtime.JoinGroup(requestContext(c), userIDFromContext(c), groupID)
	if err != nil {
		h.fail(c, "group join failed", err)
		return
	}
	if change.Changed {
		h.emitAudit(c, "INFO", "Group member joined", map[string]any{"group_id": groupID})
	}
	c.JSON(http.StatusOK, change)
}

func (h *GroupHandler) LeaveGroup(c *gin.Context) {
	groupID, ok := intParam(c, "group_id")
	if !ok {
		return
	}
	change, err := h.realtime.LeaveGroup(requestContext(c), userIDFromContext(c), groupID)
	if err != nil {
		h.fail(c, "group leave failed", err)
		return
	}
	h.emitAudit(c, "INFO", "Group member left", map[string]any{"group_id": groupID})
	c.JSON(http.StatusOK, change)
}

// AddMembers adds users to a group. Only the creator may call it.
func (h *GroupHandler) AddMembers(c *gin.Context) {
	groupID, ok := intParam(c, "group_id")
	if !ok {
		return
	}
	var req struct {
		UserIDs []int `json:"user_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	change, err := h.realtime.AddGroupMembers(requestContext(c), userIDFromContext(c), groupID, req.UserIDs)
	if err != nil {
		h.fail(c, "group add members failed", err)
		return
	}
	if change.Changed {
		h.emitAudit(c, "INFO", "Group members added", map[string]any{"group_id": groupID, "user_ids": change.UserIDs})
	}
	c.JSON(http.StatusOK, change)
}

// RemoveMember removes a user from a group. Only the creator may call it.
func (h *GroupHandler) RemoveMember(c *gin.Context) {
	groupID, ok := intParam(c, "group_id")
	if !ok {
		return
	}
	userID, ok := intParam(c, "user_id")
	if !ok {
		return
	}

	change, err := h.realtime.RemoveGroupMember(requestContext(c), userIDFromContext(c), groupID, userID)
	if err != nil {
		h.fail(c, "group remove member failed", err)
		return
	}
	h.emitAudit(c, "INFO", "Group member removed", map[string]any{"group_id": groupID, "user_id": userID})
	c.JSON(http.StatusOK, change)
}

func (h *GroupHandler) fail(c *gin.Context, text string, err error) {
	h.emitAudit(c, "ERROR", text, map[string]any{"code": services.Code(err)})
	writeError(c, err)
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, text string, fields map[string]any) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c), fields)
}
