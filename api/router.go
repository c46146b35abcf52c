// Package api exposes the print engine over HTTP for the booth UI and
// the operator tools.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/boothworks/printfleet/api/handlers"
)

// SetupRouter wires the API routes onto a gin engine.
func SetupRouter(h *handlers.Handler, metrics http.Handler) *gin.Engine {
	router := gin.Default()

	router.Use(h.LeaderMiddleware())

	api := router.Group("/api/v1")
	{
		api.POST("/print", h.SubmitPrint)
		api.GET("/jobs", h.ListJobs)
		api.GET("/jobs/:id", h.GetJob)
		api.POST("/jobs/:id/cancel", h.CancelJob)

		api.GET("/profiles", h.ListProfiles)
		api.GET("/profiles/export", h.ExportProfiles)
		api.POST("/profiles/import", h.ImportProfiles)

		// Item routes live under the singular prefix; gin's router does
		// not mix wildcard and static segments at one level.
		api.POST("/profile/:printer/:format/capture", h.CaptureProfile)
		api.POST("/profile/:printer/:format/apply", h.ApplyProfile)
		api.GET("/profile/:printer/:format", h.GetProfile)
		api.DELETE("/profile/:printer/:format", h.DeleteProfile)

		api.GET("/quotas/sessions/:id", h.SessionQuota)
		api.POST("/quotas/sessions/:id/reset", h.ResetSessionQuota)
		api.GET("/quotas/events/:id", h.EventQuota)
		api.POST("/quotas/events/:id/reset", h.ResetEventQuota)
		api.PUT("/quotas/limits", h.SetQuotaLimits)

		api.GET("/pools", h.PoolStatus)
		api.POST("/pools/:format/members/:name/reset", h.ResetPoolMember)
		api.POST("/pools/:format/members/:name/quarantine", h.QuarantinePoolMember)
	}

	router.GET("/ws", h.WebSocket)
	router.GET("/status", h.Status)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	return router
}
