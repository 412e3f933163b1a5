package handlers

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/store-monitor/internal/db"
)

type triggerResponse struct {
	ReportID string `json:"report_id"`
}

type statusResponse struct {
	Status          db.JobStatus `json:"status"`
	PercentComplete *float64     `json:"percent_complete,omitempty"`
	OutputLocation  string       `json:"output_location,omitempty"`
}

func (h *Handler) TriggerReport(c *gin.Context) {
	reportID, err := h.reports.Trigger(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to trigger report", zap.Error(err))
		c.JSON(statusForError(err), gin.H{"error": "Failed to trigger report"})
		return
	}

	c.JSON(http.StatusOK, triggerResponse{ReportID: reportID})
}

func (h *Handler) GetReport(c *gin.Context) {
	reportID := strings.TrimSpace(c.Query("report_id"))
	if reportID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "report_id is required"})
		return
	}

	job, err := h.reports.GetStatus(c.Request.Context(), reportID)
	if errors.Is(err, db.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"status": "NotFound"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to read report status", zap.String("report_id", reportID), zap.Error(err))
		c.JSON(statusForError(err), gin.H{"error": "Failed to read report status"})
		return
	}

	resp := statusResponse{Status: job.Status}
	switch job.Status {
	case db.JobRunning:
		percent := job.PercentComplete
		resp.PercentComplete = &percent
	case db.JobComplete:
		resp.OutputLocation = job.Location()
	}
	c.JSON(http.StatusOK, resp)
}

// DownloadReport serves a completed report written to the local filesystem.
func (h *Handler) DownloadReport(c *gin.Context) {
	reportID := c.Param("id")

	job, err := h.reports.GetStatus(c.Request.Context(), reportID)
	if errors.Is(err, db.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"status": "NotFound"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to read report status", zap.String("report_id", reportID), zap.Error(err))
		c.JSON(statusForError(err), gin.H{"error": "Failed to read report status"})
		return
	}

	if job.Status != db.JobComplete {
		c.JSON(http.StatusConflict, gin.H{"status": job.Status, "error": "Report is not complete"})
		return
	}

	location := job.Location()
	if strings.Contains(location, "://") {
		c.JSON(http.StatusConflict, gin.H{"status": job.Status, "output_location": location, "error": "Report is not stored locally"})
		return
	}
	if _, err := os.Stat(location); err != nil {
		h.logger.Error("Report file missing", zap.String("report_id", reportID), zap.String("output_location", location), zap.Error(err))
		c.JSON(http.StatusGone, gin.H{"error": "Report file is no longer available"})
		return
	}

	c.FileAttachment(location, reportID+".csv")
}

func statusForError(err error) int {
	if errors.Is(err, db.ErrRepositoryUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
