package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/dagornc/DagBot/internal/api/handlers"
)

type Deps struct {
	Chat         *handlers.ChatHandler
	WS           *handlers.WSHandler
	Provider     *handlers.ProviderHandler
	Conversation *handlers.ConversationHandler
	Prompt       *handlers.PromptHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	api := r.Group("/api")

	api.POST("/chat", d.Chat.Stream)

	api.GET("/providers", d.Provider.List)
	api.POST("/providers", d.Provider.Add)
	api.PUT("/providers/:name", d.Provider.Update)
	api.DELETE("/providers/:name", d.Provider.Delete)
	api.POST("/providers/:name/test", d.Provider.Test)
	api.GET("/providers/:name/models", d.Provider.Models)
	api.POST("/providers/:name/models/refresh", d.Provider.RefreshModels)
	api.GET("/providers/:name/settings", d.Provider.GetSettings)
	api.PUT("/providers/:name/settings", d.Provider.PutSettings)

	api.GET("/conversations", d.Conversation.List)
	api.POST("/conversations", d.Conversation.Create)
	api.GET("/conversations/:id", d.Conversation.Get)
	api.PATCH("/conversations/:id", d.Conversation.Update)
	api.DELETE("/conversations/:id", d.Conversation.Delete)

	api.GET("/prompts", d.Prompt.List)
	api.POST("/prompts", d.Prompt.Create)
	api.PUT("/prompts/:id", d.Prompt.Update)
	api.DELETE("/prompts/:id", d.Prompt.Delete)

	// WebSocket transport for chat streaming
	r.GET("/ws/chat", d.WS.ChatWS)
}
