package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/denizyuce/callscribe/internal/api/handlers"
	"github.com/denizyuce/callscribe/internal/api/middleware"
)

type Deps struct {
	SessionLog *handlers.SessionLogHandler
	Call       *handlers.CallHandler
	CallWS     *handlers.CallWSHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth())

	auth.GET("/sessionlogs", d.SessionLog.List)
	auth.GET("/sessionlogs/:id", d.SessionLog.Get)
	auth.DELETE("/sessionlogs/:id", d.SessionLog.Delete)
	auth.POST("/sessionlogs/:id/summarize", d.SessionLog.Summarize)

	auth.GET("/calls/:connection_id/segments", d.Call.Segments)
	auth.GET("/presence/:user_id", d.Call.Presence)

	// WebSocket
	auth.GET("/ws/call", d.CallWS.CallWS)
}
