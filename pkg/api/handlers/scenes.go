package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/urmzd/homesync/pkg/api/types"
	"github.com/urmzd/homesync/pkg/scene"
	"github.com/urmzd/homesync/pkg/transport"
)

// ScenesHandler handles scene activation endpoints
type ScenesHandler struct {
	engine *scene.Engine
}

// NewScenesHandler creates a new scenes handler
func NewScenesHandler(engine *scene.Engine) *ScenesHandler {
	return &ScenesHandler{engine: engine}
}

func (h *ScenesHandler) sceneStatus(sceneID string) types.SceneResponse {
	snaps, active := h.engine.Snapshots(sceneID)
	return types.SceneResponse{
		SceneID:   sceneID,
		Active:    active,
		Snapshots: snaps,
	}
}

// GetScene handles GET /scenes/:id
// @Summary      Scene status
// @Description  Returns whether the scene is active and its captured snapshots
// @Tags         scenes
// @Produce      json
// @Param        id   path      string  true  "Scene entity id"
// @Success      200  {object}  types.SceneResponse
// @Router       /scenes/{id} [get]
func (h *ScenesHandler) GetScene(c *gin.Context) {
	c.JSON(http.StatusOK, h.sceneStatus(c.Param("id")))
}

// Activate handles POST /scenes/:id/activate
// @Summary      Activate a scene
// @Description  Snapshots member entities and invokes the scene activation
// @Tags         scenes
// @Produce      json
// @Param        id   path      string  true  "Scene entity id"
// @Success      200  {object}  types.SceneResponse
// @Failure      404  {object}  types.ErrorResponse  "Scene not found"
// @Failure      409  {object}  types.ErrorResponse  "Scene already active"
// @Failure      502  {object}  types.ErrorResponse  "Activation failed"
// @Router       /scenes/{id}/activate [post]
func (h *ScenesHandler) Activate(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.Activate(c.Request.Context(), id); err != nil {
		h.sceneError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.sceneStatus(id))
}

// Deactivate handles POST /scenes/:id/deactivate
// @Summary      Deactivate a scene
// @Description  Restores every captured member entity; no-op when the scene is not active
// @Tags         scenes
// @Produce      json
// @Param        id   path      string  true  "Scene entity id"
// @Success      200  {object}  types.SceneResponse
// @Failure      502  {object}  types.ErrorResponse  "One or more restorations failed"
// @Router       /scenes/{id}/deactivate [post]
func (h *ScenesHandler) Deactivate(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.Deactivate(c.Request.Context(), id); err != nil {
		h.sceneError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.sceneStatus(id))
}

// Toggle handles POST /scenes/:id/toggle
// @Summary      Toggle a scene
// @Description  Activates an inactive scene, deactivates an active one
// @Tags         scenes
// @Produce      json
// @Param        id   path      string  true  "Scene entity id"
// @Success      200  {object}  types.SceneResponse
// @Failure      404  {object}  types.ErrorResponse  "Scene not found"
// @Failure      502  {object}  types.ErrorResponse  "Transition failed"
// @Router       /scenes/{id}/toggle [post]
func (h *ScenesHandler) Toggle(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.Toggle(c.Request.Context(), id); err != nil {
		h.sceneError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.sceneStatus(id))
}

func (h *ScenesHandler) sceneError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, transport.ErrNotFound):
		c.JSON(http.StatusNotFound, types.ErrorResponse{
			Error:   "not_found",
			Message: "Scene not found",
		})
	case errors.Is(err, scene.ErrAlreadyActive):
		c.JSON(http.StatusConflict, types.ErrorResponse{
			Error:   "already_active",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusBadGateway, types.ErrorResponse{
			Error:   "scene_error",
			Message: err.Error(),
		})
	}
}
