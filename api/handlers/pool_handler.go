package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PoolStatus returns the runtime state of every pool: member health, in
// flight counts, last failures.
func (h *Handler) PoolStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Svc.PoolStatus())
}

// ResetPoolMember returns a member to Healthy, clearing quarantine.
func (h *Handler) ResetPoolMember(c *gin.Context) {
	format, ok := formatParam(c)
	if !ok {
		return
	}
	if err := h.Svc.ResetPoolMember(format, c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// QuarantinePoolMember pulls a member out of routing immediately.
func (h *Handler) QuarantinePoolMember(c *gin.Context) {
	format, ok := formatParam(c)
	if !ok {
		return
	}
	if err := h.Svc.QuarantinePoolMember(format, c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
