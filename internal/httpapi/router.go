package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/telkom-research/paperchat/internal/common"
	"github.com/telkom-research/paperchat/internal/config"
	"github.com/telkom-research/paperchat/internal/httpapi/handlers"
	"github.com/telkom-research/paperchat/internal/httpapi/middleware"
)

func NewRouter(cfg config.Config, h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/health", h.Health)

	// chat routes; bearer auth only when a secret is configured
	chat := r.Group("/")
	if cfg.JWTSecret != "" {
		chat.Use(middleware.AuthRequired(cfg.JWTSecret))
	}
	chat.POST("/chat", h.Chat)
	chat.POST("/chat/async", h.ChatAsync)
	chat.GET("/chat/jobs/:job_id", h.GetChatJob)
	chat.POST("/chat/conversations", h.StartConversation)
	chat.GET("/chat/conversations/:conversation_id", h.GetConversation)
	chat.DELETE("/chat/conversations/:conversation_id", h.DeleteConversation)
	chat.POST("/chat/conversations/:conversation_id/prune", h.PruneConversation)

	return r
}
