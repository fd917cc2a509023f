package entity

import (
	"strings"
	"time"
)

// Entity is one piece of controller state, identified as "<domain>.<object>".
// An Entity is immutable once constructed: every observed change produces a
// fresh value, so holders of an *Entity never see it mutate underneath them.
type Entity struct {
	ID          string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Domain returns the category prefix of the entity id ("light" for
// "light.kitchen"). Returns the whole id if it carries no dot.
func (e *Entity) Domain() string {
	return Domain(e.ID)
}

// FriendlyName returns the friendly_name attribute, or the entity id when
// the controller did not supply one.
func (e *Entity) FriendlyName() string {
	if v, ok := e.Attributes["friendly_name"].(string); ok && v != "" {
		return v
	}
	return e.ID
}

// IsOn reports whether the entity's state is the canonical "on" value.
func (e *Entity) IsOn() bool {
	return e.State == StateOn
}

// Domain extracts the domain prefix from an entity id.
func Domain(id string) string {
	if i := strings.IndexByte(id, '.'); i >= 0 {
		return id[:i]
	}
	return id
}

// Domain constants for the device classes the scene engine treats specially.
const (
	DomainLight        = "light"
	DomainSwitch       = "switch"
	DomainInputBoolean = "input_boolean"
	DomainCover        = "cover"
	DomainScene        = "scene"
)

// Canonical state values.
const (
	StateOn      = "on"
	StateOff     = "off"
	StateOpen    = "open"
	StateOpening = "opening"
	StateClosed  = "closed"
)
