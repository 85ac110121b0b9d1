package main

import (
	"siteos/internal/auth"
	"siteos/internal/directory"
	"siteos/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// live event stream (token is carried in the subprotocol or query by
	// browser clients; the stream only pushes, never accepts commands)
	r.GET("/ws", h.Hub.Handler())

	// protected API group
	v1 := r.Group("/v1")
	{
		// AUTH routes (token issuance).
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", h.Login)
		}

		protected := v1.Group("")
		protected.Use(authMW)
		{
			protected.GET("/me", func(c *gin.Context) {
				uid, _ := auth.UserID(c.Request.Context())
				role, _ := auth.Role(c.Request.Context())
				c.JSON(200, gin.H{"user_id": uid, "role": role})
			})

			// CALLS routes
			callsGroup := protected.Group("/calls")
			{
				callsGroup.POST("/dial", h.Dial)
				callsGroup.POST("/end", h.EndCall)
				callsGroup.POST("/accept", h.AcceptCall)
				callsGroup.POST("/reject", h.RejectCall)
				callsGroup.POST("/digits", h.SendDigits)
				callsGroup.GET("/state", h.CallState)
			}

			// HISTORY routes
			protected.GET("/history", h.GetHistory)
			protected.DELETE("/history", h.ClearHistory)

			// PRESENCE routes
			presenceGroup := protected.Group("/presence")
			{
				presenceGroup.GET("", h.GetPresence)
				presenceGroup.POST("/sample", h.ReportLocation)
			}

			// SITE + CONTACTS routes
			protected.GET("/site", h.GetSite)
			protected.GET("/contacts", h.ListContacts)

			// ADMIN routes: routing rules are site policy, admin only.
			admin := protected.Group("/admin")
			admin.Use(auth.RequireRole(string(directory.RoleAdmin)))
			{
				admin.POST("/voice/token", h.SetVoiceToken)
				admin.GET("/rules", h.ListRules)
				admin.PUT("/rules", h.UpsertRule)
				admin.DELETE("/rules/:rule_id", h.DeleteRule)
				admin.POST("/rules/:rule_id/toggle", h.ToggleRule)
				admin.POST("/rules/reorder", h.ReorderRules)
			}
		}
	}
}
