package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/urmzd/homesync/pkg/api/types"
	"github.com/urmzd/homesync/pkg/hub"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	hub *hub.Hub
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(h *hub.Hub) *HealthHandler {
	return &HealthHandler{hub: h}
}

// Health handles GET /health
// @Summary      Health check
// @Description  Returns the health status of the API and controller connection
// @Tags         health
// @Produce      json
// @Success      200  {object}  types.HealthResponse  "Service is healthy"
// @Failure      503  {object}  types.HealthResponse  "Service is degraded"
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	status := "healthy"
	httpStatus := http.StatusOK
	if !h.hub.IsConnected() {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, types.HealthResponse{
		Status:    status,
		Transport: string(h.hub.TransportKind()),
		ConnState: h.hub.ConnState().String(),
		Timestamp: time.Now(),
	})
}
