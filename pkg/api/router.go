package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/urmzd/homesync/pkg/api/handlers"
	"github.com/urmzd/homesync/pkg/hub"
	"github.com/urmzd/homesync/pkg/scene"
)

// Router holds the Gin engine and dependencies
type Router struct {
	engine *gin.Engine
	hub    *hub.Hub
	scenes *scene.Engine
}

// NewRouter creates a new API router over the hub and scene engine
func NewRouter(h *hub.Hub, scenes *scene.Engine) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	SetupMiddleware(engine)

	router := &Router{
		engine: engine,
		hub:    h,
		scenes: scenes,
	}

	router.setupRoutes()

	return router
}

// setupRoutes configures all API routes
func (r *Router) setupRoutes() {
	// Swagger UI
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.engine.GET("/docs", func(c *gin.Context) {
		c.Redirect(301, "/swagger/index.html")
	})

	// Health check at root
	healthHandler := handlers.NewHealthHandler(r.hub)
	r.engine.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.engine.Group("/api/v1")
	{
		// Health
		v1.GET("/health", healthHandler.Health)

		// Connection lifecycle
		connectionHandler := handlers.NewConnectionHandler(r.hub)
		v1.GET("/connection", connectionHandler.Status)
		v1.POST("/connection", connectionHandler.Connect)
		v1.DELETE("/connection", connectionHandler.Disconnect)

		// Entities
		entitiesHandler := handlers.NewEntitiesHandler(r.hub)
		v1.GET("/entities", entitiesHandler.ListEntities)
		v1.GET("/entities/:id", entitiesHandler.GetEntity)

		// Actions
		actionsHandler := handlers.NewActionsHandler(r.hub)
		v1.GET("/actions", actionsHandler.ListActions)
		v1.POST("/actions/:domain/:name", actionsHandler.Invoke)

		// Scenes
		scenesHandler := handlers.NewScenesHandler(r.scenes)
		scenes := v1.Group("/scenes")
		{
			scenes.GET("/:id", scenesHandler.GetScene)
			scenes.POST("/:id/activate", scenesHandler.Activate)
			scenes.POST("/:id/deactivate", scenesHandler.Deactivate)
			scenes.POST("/:id/toggle", scenesHandler.Toggle)
		}

		// Change events
		eventsHandler := handlers.NewEventsHandler(r.hub)
		v1.GET("/events", eventsHandler.Events)
	}
}

// Run starts the HTTP server
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
