package handler

import (
	"net/http"

	"github.com/dubaigit/task-mail-sub001/internal/metrics"
	"github.com/gin-gonic/gin"
)

// MetricsHandler serves pipeline metric snapshots.
type MetricsHandler struct {
	collector *metrics.Collector
}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler(collector *metrics.Collector) *MetricsHandler {
	return &MetricsHandler{collector: collector}
}

// Snapshot handles GET /api/v1/metrics.
func (h *MetricsHandler) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.collector.GetSnapshot())
}
