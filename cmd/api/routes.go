package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"voip-session/internal/engine"
	"voip-session/internal/httpapi"
)

func registerRoutes(r *gin.Engine, h *httpapi.Handlers, loop *engine.Loopback, appEnv string) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/session/login", h.Login)
		v1.POST("/session/logout", h.Logout)
		v1.GET("/session", h.GetSnapshot)

		v1.POST("/calls", h.StartCall)
		v1.DELETE("/calls/current", h.StopCall)
		v1.POST("/calls/answer", h.AnswerCall)
		v1.POST("/calls/reject", h.RejectCall)
		v1.PUT("/calls/mute", h.SetMute)

		v1.GET("/missed-calls", h.ListMissedCalls)
		v1.DELETE("/missed-calls", h.ClearMissedCalls)
	}

	// Loopback-only: lets operators drive an inbound call without a remote
	// peer. Not registered in production.
	if loop != nil && appEnv != "production" {
		r.POST("/debug/incoming-call", func(c *gin.Context) {
			var req struct {
				From string `json:"from" binding:"required"`
				Kind string `json:"kind"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			kind := engine.AddressRTC
			if req.Kind != "" {
				kind = engine.AddressKind(req.Kind)
			}
			if err := loop.SimulateIncomingCall(req.From, kind); err != nil {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.Status(http.StatusAccepted)
		})
	}
}
