package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/urmzd/homesync/pkg/api/types"
	"github.com/urmzd/homesync/pkg/hub"
	"github.com/urmzd/homesync/pkg/transport"
)

// ActionsHandler handles the action catalog and invocation endpoints
type ActionsHandler struct {
	hub *hub.Hub
}

// NewActionsHandler creates a new actions handler
func NewActionsHandler(h *hub.Hub) *ActionsHandler {
	return &ActionsHandler{hub: h}
}

// ListActions handles GET /actions
// @Summary      List actions
// @Description  Returns the action catalog fetched at connect time
// @Tags         actions
// @Produce      json
// @Success      200  {object}  types.ListActionsResponse
// @Router       /actions [get]
func (h *ActionsHandler) ListActions(c *gin.Context) {
	actions := h.hub.Actions()
	c.JSON(http.StatusOK, types.ListActionsResponse{
		Actions: actions,
		Count:   len(actions),
	})
}

// Invoke handles POST /actions/:domain/:name
// @Summary      Invoke an action
// @Description  Invokes a remote action with a free-form JSON parameter object validated against the action's schema
// @Tags         actions
// @Accept       json
// @Produce      json
// @Param        domain   path      string  true  "Action domain (e.g. light)"
// @Param        name     path      string  true  "Action name (e.g. turn_on)"
// @Param        request  body      object  false "Action parameters"
// @Success      200      {object}  types.InvokeResponse
// @Failure      400      {object}  types.ErrorResponse  "Invalid parameters"
// @Failure      502      {object}  types.ErrorResponse  "Controller rejected the call"
// @Failure      503      {object}  types.ErrorResponse  "Not connected"
// @Router       /actions/{domain}/{name} [post]
func (h *ActionsHandler) Invoke(c *gin.Context) {
	var params map[string]any
	if c.Request.ContentLength > 0 {
		if err := json.NewDecoder(c.Request.Body).Decode(&params); err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "invalid_request",
				Message: "Invalid request body",
			})
			return
		}
	}

	result, err := h.hub.InvokeAction(c.Request.Context(), c.Param("domain"), c.Param("name"), params)
	if err != nil {
		var actionErr *transport.ActionError
		switch {
		case errors.As(err, &actionErr):
			c.JSON(http.StatusBadGateway, types.ErrorResponse{
				Error:   "action_rejected",
				Message: actionErr.Error(),
			})
		case errors.Is(err, transport.ErrConnection):
			c.JSON(http.StatusServiceUnavailable, types.ErrorResponse{
				Error:   "not_connected",
				Message: err.Error(),
			})
		default:
			c.JSON(http.StatusBadRequest, types.ErrorResponse{
				Error:   "invoke_failed",
				Message: err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, types.InvokeResponse{
		Result:    result,
		Timestamp: time.Now(),
	})
}
