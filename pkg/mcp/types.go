package mcp

import (
	"github.com/urmzd/homesync/pkg/entity"
	"github.com/urmzd/homesync/pkg/scene"
)

// --- Health Tool ---

// GetHealthOutput is the output for the get_health tool
type GetHealthOutput struct {
	Status    string `json:"status" jsonschema:"description=Overall health status (healthy or degraded)"`
	ConnState string `json:"conn_state" jsonschema:"description=Transport connection state"`
	Transport string `json:"transport,omitempty" jsonschema:"description=Active transport kind (push or rest)"`
	Entities  int    `json:"entities" jsonschema:"description=Number of cached entities"`
	LastError string `json:"last_error,omitempty" jsonschema:"description=Most recent surfaced transport error"`
	Timestamp string `json:"timestamp" jsonschema:"description=ISO8601 timestamp"`
}

// --- Entity Tools ---

// EntityInfo represents an entity in tool outputs
type EntityInfo struct {
	ID          string         `json:"id" jsonschema:"description=Entity id in domain.object form"`
	Name        string         `json:"name" jsonschema:"description=Friendly name"`
	State       string         `json:"state" jsonschema:"description=Current state value"`
	Attributes  map[string]any `json:"attributes,omitempty" jsonschema:"description=Entity attributes"`
	LastChanged string         `json:"last_changed,omitempty" jsonschema:"description=When the state last changed"`
}

// ListEntitiesOutput is the output for the list_entities tool
type ListEntitiesOutput struct {
	Entities []EntityInfo `json:"entities" jsonschema:"description=Cached entities"`
	Count    int          `json:"count" jsonschema:"description=Total number of entities"`
}

// GetEntityOutput is the output for the get_entity tool
type GetEntityOutput struct {
	Entity EntityInfo `json:"entity" jsonschema:"description=Entity information"`
}

// EntityToInfo converts an entity to its tool-output form
func EntityToInfo(e *entity.Entity) EntityInfo {
	info := EntityInfo{
		ID:         e.ID,
		Name:       e.FriendlyName(),
		State:      e.State,
		Attributes: e.Attributes,
	}
	if !e.LastChanged.IsZero() {
		info.LastChanged = e.LastChanged.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return info
}

// --- Action Tools ---

// ActionInfo represents an action descriptor in tool outputs
type ActionInfo struct {
	Domain      string `json:"domain" jsonschema:"description=Action domain"`
	Name        string `json:"name" jsonschema:"description=Action name"`
	Description string `json:"description,omitempty" jsonschema:"description=Human description"`
}

// ListActionsOutput is the output for the list_actions tool
type ListActionsOutput struct {
	Actions []ActionInfo `json:"actions" jsonschema:"description=Available remote actions"`
	Count   int          `json:"count" jsonschema:"description=Total number of actions"`
}

// InvokeActionOutput is the output for the invoke_action tool
type InvokeActionOutput struct {
	Success bool   `json:"success" jsonschema:"description=Whether the invocation succeeded"`
	Result  string `json:"result,omitempty" jsonschema:"description=Raw controller result payload"`
}

// --- Scene Tools ---

// SceneOutput is the output for the scene tools
type SceneOutput struct {
	SceneID   string           `json:"scene_id" jsonschema:"description=Scene entity id"`
	Active    bool             `json:"active" jsonschema:"description=Whether the scene holds an active record"`
	Snapshots []scene.Snapshot `json:"snapshots,omitempty" jsonschema:"description=Captured member snapshots"`
}
