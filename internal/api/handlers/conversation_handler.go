package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dagornc/DagBot/internal/services"
)

type ConversationHandler struct {
	svc services.ConversationService
}

func NewConversationHandler(svc services.ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

func (h *ConversationHandler) List(c *gin.Context) {
	rows, err := h.svc.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

type conversationCreateBody struct {
	Title        string `json:"title"`
	SystemPrompt string `json:"system_prompt"`
}

func (h *ConversationHandler) Create(c *gin.Context) {
	var body conversationCreateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Code: "INVALID_ARGUMENT", Message: "invalid request body"})
		return
	}

	conv, err := h.svc.Create(c.Request.Context(), body.Title, body.SystemPrompt)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *ConversationHandler) Get(c *gin.Context) {
	conv, msgs, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":            conv.ID,
		"title":         conv.Title,
		"system_prompt": conv.SystemPrompt,
		"created_at":    conv.CreatedAt,
		"updated_at":    conv.UpdatedAt,
		"messages":      msgs,
	})
}

type conversationUpdateBody struct {
	Title        *string `json:"title"`
	SystemPrompt *string `json:"system_prompt"`
}

func (h *ConversationHandler) Update(c *gin.Context) {
	var body conversationUpdateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Code: "INVALID_ARGUMENT", Message: "invalid request body"})
		return
	}

	if err := h.svc.UpdateMeta(c.Request.Context(), c.Param("id"), body.Title, body.SystemPrompt); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
