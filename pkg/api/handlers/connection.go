package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/urmzd/homesync/pkg/api/types"
	"github.com/urmzd/homesync/pkg/hub"
	"github.com/urmzd/homesync/pkg/transport"
)

// ConnectionHandler handles connection lifecycle endpoints
type ConnectionHandler struct {
	hub *hub.Hub
}

// NewConnectionHandler creates a new connection handler
func NewConnectionHandler(h *hub.Hub) *ConnectionHandler {
	return &ConnectionHandler{hub: h}
}

func (h *ConnectionHandler) status() types.ConnectionResponse {
	return types.ConnectionResponse{
		Connected: h.hub.IsConnected(),
		Transport: string(h.hub.TransportKind()),
		ConnState: h.hub.ConnState().String(),
		LastError: h.hub.LastError(),
		Entities:  h.hub.EntityCount(),
	}
}

// Status handles GET /connection
// @Summary      Connection status
// @Description  Returns the current transport connection status
// @Tags         connection
// @Produce      json
// @Success      200  {object}  types.ConnectionResponse
// @Router       /connection [get]
func (h *ConnectionHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.status())
}

// Connect handles POST /connection
// @Summary      Connect to the controller
// @Description  Establishes a connection over the chosen transport and pulls the initial snapshot
// @Tags         connection
// @Accept       json
// @Produce      json
// @Param        request  body      types.ConnectRequest  true  "Connection parameters"
// @Success      200      {object}  types.ConnectionResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid request"
// @Failure      401      {object}  types.ErrorResponse  "Credential rejected"
// @Failure      502      {object}  types.ErrorResponse  "Controller unreachable"
// @Router       /connection [post]
func (h *ConnectionHandler) Connect(c *gin.Context) {
	var req types.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	kind := transport.Kind(req.Transport)
	if kind != transport.KindPush && kind != transport.KindRest {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid_request",
			Message: "transport must be \"push\" or \"rest\"",
		})
		return
	}

	if err := h.hub.Connect(c.Request.Context(), req.Endpoint, req.Token, kind); err != nil {
		if errors.Is(err, transport.ErrAuth) {
			c.JSON(http.StatusUnauthorized, types.ErrorResponse{
				Error:   "auth_rejected",
				Message: err.Error(),
			})
			return
		}
		c.JSON(http.StatusBadGateway, types.ErrorResponse{
			Error:   "connect_failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, h.status())
}

// Disconnect handles DELETE /connection
// @Summary      Disconnect from the controller
// @Description  Tears down the active transport; idempotent
// @Tags         connection
// @Produce      json
// @Success      200  {object}  types.ConnectionResponse
// @Router       /connection [delete]
func (h *ConnectionHandler) Disconnect(c *gin.Context) {
	h.hub.Disconnect()
	c.JSON(http.StatusOK, h.status())
}
