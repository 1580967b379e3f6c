package http

import (
	"github.com/gin-gonic/gin"

	"streamchat/internal/ai"
	appsvc "streamchat/internal/app"
	"streamchat/internal/bootstrap"
	"streamchat/internal/cache"
	"streamchat/internal/repository"
	"streamchat/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	sessionRepo := repository.NewSessionRepository(app.MySQL)
	messageRepo := repository.NewMessageRepository(app.MySQL)
	agentRepo := repository.NewAgentRepository(app.MySQL)
	prefs := cache.NewPreferenceStore(app.Redis)

	chatService := appsvc.NewChatService(
		sessionRepo,
		messageRepo,
		agentRepo,
		app.Publisher,
		app.HistoryCache,
		app.Hub,
		ai.ChatConfig{
			BaseURL: app.Config.LLM.BaseURL,
			APIKey:  app.Config.LLM.APIKey,
			Model:   app.Config.LLM.Model,
		},
		app.Config.LLM.MaxContextMessage,
	)
	agentService := appsvc.NewAgentService(agentRepo)

	chatHandler := handler.NewChatHandler(chatService)
	agentHandler := handler.NewAgentHandler(agentService, prefs)
	streamHandler := handler.NewStreamHandler(chatService, app.Hub)

	v1 := router.Group("/api/v1")

	chatGroup := v1.Group("/chat")
	chatGroup.POST("/sessions", chatHandler.CreateSession)
	chatGroup.GET("/sessions", chatHandler.ListSessions)
	chatGroup.DELETE("/sessions/:id", chatHandler.DeleteSession)
	chatGroup.POST("/messages", chatHandler.SendMessage)
	chatGroup.GET("/history", chatHandler.GetHistory)
	chatGroup.GET("/stream", streamHandler.Subscribe)

	v1.GET("/agents", agentHandler.ListAgents)
	v1.GET("/preferences/agent", agentHandler.GetAgentPreference)
	v1.PUT("/preferences/agent", agentHandler.SetAgentPreference)

	return router
}
