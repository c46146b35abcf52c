package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/boothworks/printfleet/print"
	"github.com/boothworks/printfleet/profile"
)

func formatParam(c *gin.Context) (print.Format, bool) {
	format, err := print.ParseFormat(c.Param("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	return format, true
}

// CaptureProfile snapshots the printer's current driver configuration as
// the profile for the format. The operator calls this after closing the
// driver settings dialog.
func (h *Handler) CaptureProfile(c *gin.Context) {
	format, ok := formatParam(c)
	if !ok {
		return
	}
	prof, err := h.Svc.CaptureProfile(c.Request.Context(), c.Param("printer"), format)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, prof)
}

// ApplyProfile pushes the stored driver configuration to the printer,
// outside the job path.
func (h *Handler) ApplyProfile(c *gin.Context) {
	format, ok := formatParam(c)
	if !ok {
		return
	}
	err := h.Svc.ApplyProfile(c.Request.Context(), c.Param("printer"), format)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.Status(http.StatusNoContent)
	}
}

// GetProfile returns the stored profile for a printer+format.
func (h *Handler) GetProfile(c *gin.Context) {
	format, ok := formatParam(c)
	if !ok {
		return
	}
	prof, err := h.Svc.Profile(c.Param("printer"), format)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, prof)
}

// ListProfiles returns all stored profiles.
func (h *Handler) ListProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, h.Svc.Profiles())
}

// DeleteProfile removes a stored profile.
func (h *Handler) DeleteProfile(c *gin.Context) {
	format, ok := formatParam(c)
	if !ok {
		return
	}
	if err := h.Svc.DeleteProfile(c.Param("printer"), format); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// ExportProfiles streams the profile bundle for backup.
func (h *Handler) ExportProfiles(c *gin.Context) {
	c.Header("Content-Type", "application/json")
	c.Header("Content-Disposition", `attachment; filename="printfleet-profiles.json"`)
	if err := h.Svc.ExportProfiles(c.Writer); err != nil {
		h.Log.Error("profile export failed", "err", err)
	}
}

// ImportProfiles loads a profile bundle from the request body.
func (h *Handler) ImportProfiles(c *gin.Context) {
	if err := h.Svc.ImportProfiles(c.Request.Body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
