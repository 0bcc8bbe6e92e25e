package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-engine/internal/models"
	"chat-engine/internal/services"
)

// ConversationHandler serves conversation and message endpoints.
type ConversationHandler struct {
	service  services.Service
	realtime Realtime
}

func NewConversationHandler(service services.Service, realtime Realtime) *ConversationHandler {
	return &ConversationHandler{service: service, realtime: realtime}
}

// ListConversations returns the caller's inbox.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	items, err := h.service.ListConversationsForUser(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": items})
}

// StartDirect creates or returns the caller's direct conversation with another user.
func (h *ConversationHandler) StartDirect(c *gin.Context) {
	var req struct {
		UserID int `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, created, err := h.realtime.GetOrCreateDirectConversation(requestContext(c), userIDFromContext(c), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": conv, "created": created})
}

// ListMessages pages backwards through a conversation.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	conversationID, ok := intParam(c, "conversation_id")
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	var before *models.Cursor
	if raw := c.Query("before"); raw != "" {
		cursor, err := models.ParseCursor(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		before = &cursor
	}

	page, err := h.service.ListMessages(c.Request.Context(), userIDFromContext(c), conversationID, limit, before)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// PostMessage appends a message and broadcasts it to the room.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	conversationID, ok := intParam(c, "conversation_id")
	if !ok {
		return
	}

	var req struct {
		Content       string             `json:"content"`
		Kind          models.MessageKind `json:"kind"`
		AttachmentURL *string            `json:"attachment_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.realtime.SendMessage(requestContext(c), userIDFromContext(c), services.MessageInput{
		ConversationID: conversationID,
		Content:        req.Content,
		Kind:           req.Kind,
		AttachmentURL:  req.AttachmentURL,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead advances the caller's read watermark. The body is optional.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	conversationID, ok := intParam(c, "conversation_id")
	if !ok {
		return
	}

	var req struct {
		MessageID *int `json:"message_id"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	res, err := h.realtime.MarkRead(requestContext(c), userIDFromContext(c), conversationID, req.MessageID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
