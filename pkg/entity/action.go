package entity

import "encoding/json"

// ActionField describes one named parameter of a remote action.
type ActionField struct {
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required,omitempty"`
	Example     any             `json:"example,omitempty"`
	Selector    json.RawMessage `json:"selector,omitempty"`
}

// ActionDescriptor describes one remote operation the controller exposes
// ("light.turn_on"). Descriptors are read-only and refreshed wholesale on
// each connect.
type ActionDescriptor struct {
	Domain      string                 `json:"domain"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Fields      map[string]ActionField `json:"fields,omitempty"`

	// ParamSchema is a JSON Schema synthesized from Fields, used to validate
	// invocation parameters before dispatch. Empty when the controller
	// published no field metadata.
	ParamSchema json.RawMessage `json:"param_schema,omitempty"`
}

// Qualified returns the "<domain>.<name>" form of the action.
func (a *ActionDescriptor) Qualified() string {
	return a.Domain + "." + a.Name
}
