package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) handleGetHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := "healthy"
	if !s.hub.IsConnected() {
		status = "degraded"
	}

	out := GetHealthOutput{
		Status:    status,
		ConnState: s.hub.ConnState().String(),
		Transport: string(s.hub.TransportKind()),
		Entities:  s.hub.EntityCount(),
		LastError: s.hub.LastError(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleListEntities(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var entities = s.hub.All()
	if domain := optionalString(request, "domain"); domain != "" {
		entities = s.hub.QueryByDomainPrefix(domain)
	}

	infos := make([]EntityInfo, 0, len(entities))
	for _, e := range entities {
		infos = append(infos, EntityToInfo(e))
	}

	out := ListEntitiesOutput{
		Entities: infos,
		Count:    len(infos),
	}

	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleGetEntity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	e, err := s.hub.Query(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get entity: %s", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(GetEntityOutput{Entity: EntityToInfo(e)})), nil
}

func (s *Server) handleListActions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	domain := optionalString(request, "domain")

	var infos []ActionInfo
	for _, a := range s.hub.Actions() {
		if domain != "" && a.Domain != domain {
			continue
		}
		infos = append(infos, ActionInfo{
			Domain:      a.Domain,
			Name:        a.Name,
			Description: a.Description,
		})
	}

	out := ListActionsOutput{
		Actions: infos,
		Count:   len(infos),
	}

	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleInvokeAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	domain, err := requiredString(request, "domain")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := requiredString(request, "name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var params map[string]any
	if raw, ok := request.GetArguments()["params"]; ok && raw != nil {
		params, ok = raw.(map[string]any)
		if !ok {
			return mcp.NewToolResultError(`parameter "params" must be an object`), nil
		}
	}

	result, err := s.hub.InvokeAction(ctx, domain, name, params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to invoke %s.%s: %s", domain, name, err)), nil
	}

	out := InvokeActionOutput{
		Success: true,
		Result:  string(result),
	}

	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleGetScene(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatJSON(s.sceneOutput(id))), nil
}

func (s *Server) handleActivateScene(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.scenes.Activate(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to activate scene: %s", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(s.sceneOutput(id))), nil
}

func (s *Server) handleDeactivateScene(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.scenes.Deactivate(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to deactivate scene: %s", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(s.sceneOutput(id))), nil
}

func (s *Server) handleToggleScene(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.scenes.Toggle(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to toggle scene: %s", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(s.sceneOutput(id))), nil
}

func (s *Server) sceneOutput(id string) SceneOutput {
	snaps, active := s.scenes.Snapshots(id)
	return SceneOutput{
		SceneID:   id,
		Active:    active,
		Snapshots: snaps,
	}
}

// --- Helpers ---

func requiredString(request mcp.CallToolRequest, key string) (string, error) {
	args := request.GetArguments()
	v, ok := args[key]
	if !ok || v == nil {
		return "", fmt.Errorf("required parameter %q is missing", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func optionalString(request mcp.CallToolRequest, key string) string {
	if v, ok := request.GetArguments()[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func formatJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response: %s"}`, err)
	}
	return string(b)
}
