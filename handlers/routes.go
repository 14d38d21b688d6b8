package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type RouteConfig struct {
	AllowedOrigins string
	UploadDir      string
}

// NewEngine wires every HTTP route onto a fresh gin engine.
func NewEngine(cfg RouteConfig, log zerolog.Logger, auth TokenParser, authH *AuthHandler, chatH *ChatHandler, msgH *MessageHandler, userH *UserHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log), CORS(cfg.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().Format(time.RFC3339)})
	})
	if cfg.UploadDir != "" {
		r.Static("/uploads", cfg.UploadDir)
	}

	r.POST("/api/register", authH.Register)
	r.POST("/api/login", authH.Login)
	r.GET("/ws", chatH.WS)

	api := r.Group("/api")
	api.Use(AuthMiddleware(auth))
	api.POST("/users/lookup", authH.Lookup)
	api.PUT("/profile", userH.UpdateProfile)
	api.POST("/users/block", userH.Block)
	api.DELETE("/users/block/:id", userH.Unblock)
	api.GET("/chats", chatH.List)
	api.POST("/chats", chatH.Create)
	api.DELETE("/chats/:id", chatH.Delete)
	api.GET("/chats/:id/messages", msgH.ListMessages)
	api.POST("/upload-image", msgH.UploadImage)

	return r
}
