package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dagornc/DagBot/internal/services"
)

type PromptHandler struct {
	svc services.PromptService
}

func NewPromptHandler(svc services.PromptService) *PromptHandler {
	return &PromptHandler{svc: svc}
}

func (h *PromptHandler) List(c *gin.Context) {
	rows, err := h.svc.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

type promptCreateBody struct {
	Title      string   `json:"title" binding:"required"`
	Content    string   `json:"content" binding:"required"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags"`
	IsFavorite bool     `json:"is_favorite"`
}

func (h *PromptHandler) Create(c *gin.Context) {
	var body promptCreateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Code: "INVALID_ARGUMENT", Message: "invalid request body"})
		return
	}

	p, err := h.svc.Create(c.Request.Context(), body.Title, body.Content, body.Category, body.Tags, body.IsFavorite)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

type promptUpdateBody struct {
	Title      *string  `json:"title"`
	Content    *string  `json:"content"`
	Category   *string  `json:"category"`
	Tags       []string `json:"tags"`
	IsFavorite *bool    `json:"is_favorite"`
}

func (h *PromptHandler) Update(c *gin.Context) {
	var body promptUpdateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Code: "INVALID_ARGUMENT", Message: "invalid request body"})
		return
	}

	if err := h.svc.Update(c.Request.Context(), c.Param("id"), body.Title, body.Content, body.Category, body.Tags, body.IsFavorite); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *PromptHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
