package api

import (
	"github.com/gin-gonic/gin"

	"ttsapi/config"
	"ttsapi/task"
	"ttsapi/tts"
)

func SetupRouter(m *task.Manager, engine tts.Engine, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(), gin.Recovery())

	h := NewHandler(m, engine, cfg)

	// Health check
	r.GET("/health", h.handleHealth)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", h.handleHealth)


		// Dual sync/async task creation
		v1.POST("/tts/tasks", h.handleCreateTask)

		// Synchronous one-shot variant (flat query parameters)
		v1.GET("/tts/tasks", h.handleSyncTTS)

		// Polling endpoints
		v1.GET("/tts/tasks/:taskId", h.handleGetTaskStatus)
		v1.GET("/tts/tasks/:taskId/result", h.handleGetTaskResult)
	}
	return r
}
