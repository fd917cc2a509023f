package schema

import (
	"encoding/json"
	"testing"
)

var lightSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"entity_id": {"type": "string"},
		"brightness": {"type": "number", "minimum": 0, "maximum": 255}
	},
	"required": ["entity_id"]
}`)

func TestValidateParams(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{
			name:   "valid full payload",
			params: map[string]any{"entity_id": "light.lamp", "brightness": float64(120)},
		},
		{
			name:   "valid minimal payload",
			params: map[string]any{"entity_id": "light.lamp"},
		},
		{
			name:    "missing required field",
			params:  map[string]any{"brightness": float64(120)},
			wantErr: true,
		},
		{
			name:    "out of range",
			params:  map[string]any{"entity_id": "light.lamp", "brightness": float64(300)},
			wantErr: true,
		},
		{
			name:    "wrong type",
			params:  map[string]any{"entity_id": float64(42)},
			wantErr: true,
		},
		{
			name: "unknown fields pass",
			params: map[string]any{
				"entity_id": "light.lamp",
				"transition": float64(2),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateParams(lightSchema, tt.params)
			if tt.wantErr && err == nil {
				t.Error("expected a validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateParams_EmptySchemaAccepts(t *testing.T) {
	v := NewValidator()

	for _, doc := range []json.RawMessage{nil, json.RawMessage(`{}`), json.RawMessage(`null`)} {
		if err := v.ValidateParams(doc, map[string]any{"anything": true}); err != nil {
			t.Errorf("schema %q should accept everything, got %v", doc, err)
		}
	}
}

func TestValidateParams_NilParams(t *testing.T) {
	v := NewValidator()

	schema := json.RawMessage(`{"type": "object"}`)
	if err := v.ValidateParams(schema, nil); err != nil {
		t.Errorf("nil params should validate as an empty object, got %v", err)
	}

	required := json.RawMessage(`{"type": "object", "required": ["entity_id"]}`)
	if err := v.ValidateParams(required, nil); err == nil {
		t.Error("expected nil params to fail a required constraint")
	}
}

func TestValidateParams_MalformedSchema(t *testing.T) {
	v := NewValidator()
	if err := v.ValidateParams(json.RawMessage(`{"type":`), map[string]any{}); err == nil {
		t.Error("expected a compile error for a malformed schema")
	}
}

func TestValidateParams_CachesCompiledSchema(t *testing.T) {
	v := NewValidator()

	for i := 0; i < 3; i++ {
		if err := v.ValidateParams(lightSchema, map[string]any{"entity_id": "light.lamp"}); err != nil {
			t.Fatalf("validation failed: %v", err)
		}
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.compiled) != 1 {
		t.Errorf("expected one cached schema, got %d", len(v.compiled))
	}
}
