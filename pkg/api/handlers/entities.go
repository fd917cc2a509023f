package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/urmzd/homesync/pkg/api/types"
	"github.com/urmzd/homesync/pkg/entity"
	"github.com/urmzd/homesync/pkg/hub"
	"github.com/urmzd/homesync/pkg/transport"
)

// EntitiesHandler handles entity read endpoints
type EntitiesHandler struct {
	hub *hub.Hub
}

// NewEntitiesHandler creates a new entities handler
func NewEntitiesHandler(h *hub.Hub) *EntitiesHandler {
	return &EntitiesHandler{hub: h}
}

// ListEntities handles GET /entities
// @Summary      List entities
// @Description  Returns the cached entity table, optionally filtered by domain prefix
// @Tags         entities
// @Produce      json
// @Param        domain  query     string  false  "Domain prefix filter (e.g. light)"
// @Success      200     {object}  types.ListEntitiesResponse
// @Router       /entities [get]
func (h *EntitiesHandler) ListEntities(c *gin.Context) {
	var entities []*entity.Entity
	if domain := c.Query("domain"); domain != "" {
		entities = h.hub.QueryByDomainPrefix(domain)
	} else {
		entities = h.hub.All()
	}

	c.JSON(http.StatusOK, types.ListEntitiesResponse{
		Entities: entities,
		Count:    len(entities),
	})
}

// GetEntity handles GET /entities/:id
// @Summary      Get entity
// @Description  Returns one cached entity by id
// @Tags         entities
// @Produce      json
// @Param        id   path      string  true  "Entity id (domain.object)"
// @Success      200  {object}  types.EntityResponse
// @Failure      404  {object}  types.ErrorResponse  "Entity not found"
// @Router       /entities/{id} [get]
func (h *EntitiesHandler) GetEntity(c *gin.Context) {
	e, err := h.hub.Query(c.Param("id"))
	if err != nil {
		if errors.Is(err, transport.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{
				Error:   "not_found",
				Message: "Entity not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "query_error",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, types.EntityResponse{Entity: e})
}
