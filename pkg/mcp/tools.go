package mcp

import "github.com/mark3labs/mcp-go/mcp"

// registerTools registers all MCP tools with the server
func (s *Server) registerTools() {
	// Health check
	s.mcpServer.AddTool(
		mcp.NewTool("get_health",
			mcp.WithDescription("Check the controller connection status and entity table size"),
		),
		s.handleGetHealth,
	)

	// List entities
	s.mcpServer.AddTool(
		mcp.NewTool("list_entities",
			mcp.WithDescription("List cached entities with their current state, optionally filtered by domain"),
			mcp.WithString("domain",
				mcp.Description("Domain prefix filter, e.g. light or switch (optional)"),
			),
		),
		s.handleListEntities,
	)

	// Get entity
	s.mcpServer.AddTool(
		mcp.NewTool("get_entity",
			mcp.WithDescription("Get one entity's state and attributes by id"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Entity id in domain.object form, e.g. light.kitchen"),
			),
		),
		s.handleGetEntity,
	)

	// List actions
	s.mcpServer.AddTool(
		mcp.NewTool("list_actions",
			mcp.WithDescription("List the remote actions the controller exposes"),
			mcp.WithString("domain",
				mcp.Description("Domain filter, e.g. light (optional)"),
			),
		),
		s.handleListActions,
	)

	// Invoke action
	s.mcpServer.AddTool(
		mcp.NewTool("invoke_action",
			mcp.WithDescription("Invoke a remote action. Parameters are validated against the action's schema."),
			mcp.WithString("domain",
				mcp.Required(),
				mcp.Description("Action domain, e.g. light"),
			),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Action name, e.g. turn_on"),
			),
			mcp.WithObject("params",
				mcp.Description("Action parameters (e.g. {\"entity_id\": \"light.kitchen\", \"brightness\": 200})"),
			),
		),
		s.handleInvokeAction,
	)

	// Scene status
	s.mcpServer.AddTool(
		mcp.NewTool("get_scene",
			mcp.WithDescription("Get a scene's active/inactive status and its captured snapshots"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Scene entity id, e.g. scene.movie_night"),
			),
		),
		s.handleGetScene,
	)

	// Activate scene
	s.mcpServer.AddTool(
		mcp.NewTool("activate_scene",
			mcp.WithDescription("Activate a scene, snapshotting member entity state for later rollback"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Scene entity id, e.g. scene.movie_night"),
			),
		),
		s.handleActivateScene,
	)

	// Deactivate scene
	s.mcpServer.AddTool(
		mcp.NewTool("deactivate_scene",
			mcp.WithDescription("Deactivate a scene, restoring every member entity to its snapshotted state"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Scene entity id, e.g. scene.movie_night"),
			),
		),
		s.handleDeactivateScene,
	)

	// Toggle scene
	s.mcpServer.AddTool(
		mcp.NewTool("toggle_scene",
			mcp.WithDescription("Activate the scene if inactive, deactivate it if active"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Scene entity id, e.g. scene.movie_night"),
			),
		),
		s.handleToggleScene,
	)
}
