package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/boothworks/printfleet/print"
	"github.com/boothworks/printfleet/service"
)

// SubmitPrint runs a job to its terminal state and returns the result.
// The body always carries the result object so the UI can show the
// attempt history on failure.
func (h *Handler) SubmitPrint(c *gin.Context) {
	var req service.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.Svc.Submit(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrShuttingDown) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch res.Reason {
	case print.ReasonQuotaExceeded:
		c.JSON(http.StatusTooManyRequests, res)
	case print.ReasonQuotaUnavailable:
		c.JSON(http.StatusServiceUnavailable, res)
	case print.ReasonAllPrintersFailed:
		c.JSON(http.StatusBadGateway, res)
	default:
		c.JSON(http.StatusOK, res)
	}
}

// GetJob returns a job record with its full attempt history.
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.Svc.Job(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs returns every job seen since startup, for the post-event
// audit.
func (h *Handler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.Svc.Jobs())
}

// CancelJob requests cancellation; a job already printing is unaffected.
func (h *Handler) CancelJob(c *gin.Context) {
	if err := h.Svc.Cancel(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}
