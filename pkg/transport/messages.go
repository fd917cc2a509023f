package transport

import (
	"encoding/json"
	"fmt"

	"github.com/urmzd/homesync/pkg/entity"
)

// WebSocket frame types spoken by the controller.
const (
	msgAuthRequired    = "auth_required"
	msgAuth            = "auth"
	msgAuthOK          = "auth_ok"
	msgAuthInvalid     = "auth_invalid"
	msgResult          = "result"
	msgEvent           = "event"
	msgPing            = "ping"
	msgPong            = "pong"
	msgGetStates       = "get_states"
	msgGetServices     = "get_services"
	msgCallService     = "call_service"
	msgSubscribeEvents = "subscribe_events"

	eventStateChanged = "state_changed"
)

// wsMessage is the superset of every frame exchanged on the push channel.
// Unused fields stay zero and are omitted on the wire.
type wsMessage struct {
	ID   int64  `json:"id,omitempty"`
	Type string `json:"type"`

	// auth handshake
	AccessToken string `json:"access_token,omitempty"`
	HAVersion   string `json:"ha_version,omitempty"`
	Message     string `json:"message,omitempty"`

	// command results
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wsError        `json:"error,omitempty"`

	// event subscription and delivery
	EventType string   `json:"event_type,omitempty"`
	Event     *wsEvent `json:"event,omitempty"`

	// call_service
	Domain      string         `json:"domain,omitempty"`
	Service     string         `json:"service,omitempty"`
	ServiceData map[string]any `json:"service_data,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsEvent struct {
	EventType string      `json:"event_type"`
	Data      wsEventData `json:"data"`
}

type wsEventData struct {
	EntityID string         `json:"entity_id"`
	NewState *entity.Entity `json:"new_state"`
	OldState *entity.Entity `json:"old_state"`
}

// wireField is the controller's description of one service parameter.
type wireField struct {
	Description string          `json:"description"`
	Required    bool            `json:"required"`
	Example     any             `json:"example"`
	Selector    json.RawMessage `json:"selector"`
}

// wireService is the controller's description of one service.
type wireService struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Fields      map[string]wireField `json:"fields"`
}

// parseServiceMap converts the controller's domain -> service -> description
// mapping into action descriptors with synthesized parameter schemas.
func parseServiceMap(raw json.RawMessage) ([]entity.ActionDescriptor, error) {
	var domains map[string]map[string]wireService
	if err := json.Unmarshal(raw, &domains); err != nil {
		return nil, fmt.Errorf("%w: decode services: %v", ErrTransport, err)
	}

	var actions []entity.ActionDescriptor
	for domain, services := range domains {
		for name, svc := range services {
			desc := entity.ActionDescriptor{
				Domain:      domain,
				Name:        name,
				Description: svc.Description,
			}
			if len(svc.Fields) > 0 {
				desc.Fields = make(map[string]entity.ActionField, len(svc.Fields))
				for fname, f := range svc.Fields {
					desc.Fields[fname] = entity.ActionField{
						Description: f.Description,
						Required:    f.Required,
						Example:     f.Example,
						Selector:    f.Selector,
					}
				}
				desc.ParamSchema = buildParamSchema(svc.Fields)
			}
			actions = append(actions, desc)
		}
	}
	return actions, nil
}

// buildParamSchema synthesizes a permissive JSON Schema from the
// controller's field listing: required fields become required properties,
// numeric selectors contribute range constraints, everything else is left
// unconstrained. Unknown properties are allowed since controllers accept
// fields they never document.
func buildParamSchema(fields map[string]wireField) json.RawMessage {
	properties := make(map[string]any, len(fields))
	var required []string

	for name, f := range fields {
		prop := map[string]any{}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if len(f.Selector) > 0 {
			var selector map[string]json.RawMessage
			if err := json.Unmarshal(f.Selector, &selector); err == nil {
				if num, ok := selector["number"]; ok {
					prop["type"] = "number"
					var bounds struct {
						Min *float64 `json:"min"`
						Max *float64 `json:"max"`
					}
					if err := json.Unmarshal(num, &bounds); err == nil {
						if bounds.Min != nil {
							prop["minimum"] = *bounds.Min
						}
						if bounds.Max != nil {
							prop["maximum"] = *bounds.Max
						}
					}
				} else if _, ok := selector["boolean"]; ok {
					prop["type"] = "boolean"
				} else if _, ok := selector["text"]; ok {
					prop["type"] = "string"
				}
			}
		}
		properties[name] = prop
		if f.Required {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	return raw
}
