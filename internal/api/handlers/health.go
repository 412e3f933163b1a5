package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "store-monitor"

type healthResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Time          int64  `json:"time"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type readyResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Health reports process liveness only; it never touches the database.
func (h *Handler) Health(c *gin.Context) {
	now := time.Now()
	c.JSON(http.StatusOK, healthResponse{
		Status:        "healthy",
		Service:       serviceName,
		Time:          now.Unix(),
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
	})
}

// Ready reports whether the report store can be reached, and how fast.
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	start := time.Now()
	err := h.db.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		h.logger.Warn("Readiness check failed", zap.Duration("latency", latency), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, readyResponse{
			Status:    "not ready",
			Database:  "down",
			LatencyMS: latency.Milliseconds(),
			Error:     "database connection failed",
		})
		return
	}

	c.JSON(http.StatusOK, readyResponse{
		Status:    "ready",
		Database:  "up",
		LatencyMS: latency.Milliseconds(),
	})
}
