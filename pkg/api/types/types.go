package types

import (
	"encoding/json"
	"time"

	"github.com/urmzd/homesync/pkg/entity"
	"github.com/urmzd/homesync/pkg/scene"
)

// --- Request DTOs ---

// ConnectRequest is the request body for POST /connection
type ConnectRequest struct {
	Endpoint  string `json:"endpoint" binding:"required"`
	Token     string `json:"token" binding:"required"`
	Transport string `json:"transport" binding:"required"`
}

// --- Response DTOs ---

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned from GET /health
type HealthResponse struct {
	Status    string    `json:"status"`
	Transport string    `json:"transport,omitempty"`
	ConnState string    `json:"conn_state"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionResponse is returned from GET/POST /connection
type ConnectionResponse struct {
	Connected bool   `json:"connected"`
	Transport string `json:"transport,omitempty"`
	ConnState string `json:"conn_state"`
	LastError string `json:"last_error,omitempty"`
	Entities  int    `json:"entities"`
}

// ListEntitiesResponse is returned from GET /entities
type ListEntitiesResponse struct {
	Entities []*entity.Entity `json:"entities"`
	Count    int              `json:"count"`
}

// EntityResponse is returned from GET /entities/:id
type EntityResponse struct {
	Entity *entity.Entity `json:"entity"`
}

// ListActionsResponse is returned from GET /actions
type ListActionsResponse struct {
	Actions []entity.ActionDescriptor `json:"actions"`
	Count   int                       `json:"count"`
}

// InvokeResponse is returned from POST /actions/:domain/:name
type InvokeResponse struct {
	Result    json.RawMessage `json:"result,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SceneResponse is returned from GET /scenes/:id and the scene mutation
// endpoints
type SceneResponse struct {
	SceneID   string           `json:"scene_id"`
	Active    bool             `json:"active"`
	Snapshots []scene.Snapshot `json:"snapshots,omitempty"`
}
