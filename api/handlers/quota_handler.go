package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SessionQuota returns prints remaining for a session; 0 means
// unlimited.
func (h *Handler) SessionQuota(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"remaining":  h.Svc.RemainingSession(id),
	})
}

// EventQuota returns prints remaining for an event; 0 means unlimited.
func (h *Handler) EventQuota(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"event_id":  id,
		"remaining": h.Svc.RemainingEvent(id),
	})
}

// SetQuotaLimits installs session/event limits, typically at event
// start.
func (h *Handler) SetQuotaLimits(c *gin.Context) {
	var req struct {
		SessionLimit int `json:"session_limit"`
		EventLimit   int `json:"event_limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Svc.SetQuotaLimits(req.SessionLimit, req.EventLimit); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ResetSessionQuota zeroes a session's usage.
func (h *Handler) ResetSessionQuota(c *gin.Context) {
	if err := h.Svc.ResetSessionQuota(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ResetEventQuota zeroes an event's usage.
func (h *Handler) ResetEventQuota(c *gin.Context) {
	if err := h.Svc.ResetEventQuota(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
