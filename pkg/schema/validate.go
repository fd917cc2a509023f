// Package schema validates action invocation parameters against the JSON
// Schema documents synthesized from the controller's service catalog.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator compiles and caches parameter schemas keyed by their raw
// bytes, so repeated invocations of the same action reuse the compiled
// form.
type Validator struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// NewValidator creates a Validator with an empty cache.
func NewValidator() *Validator {
	return &Validator{
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// ValidateParams checks params against the given schema document. A
// missing or empty schema means the action published no constraints and
// every payload passes.
func (v *Validator) ValidateParams(schemaDoc json.RawMessage, params map[string]any) error {
	if len(schemaDoc) == 0 || string(schemaDoc) == "{}" || string(schemaDoc) == "null" {
		return nil
	}

	s, err := v.compile(schemaDoc)
	if err != nil {
		return fmt.Errorf("compile parameter schema: %w", err)
	}

	// The schema library validates generic JSON values; a nil map is an
	// empty parameter set.
	payload := map[string]any(params)
	if payload == nil {
		payload = map[string]any{}
	}
	return s.Validate(payload)
}

func (v *Validator) compile(schemaDoc json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schemaDoc)

	v.mu.RLock()
	s, ok := v.compiled[key]
	v.mu.RUnlock()
	if ok {
		return s, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.compiled[key]; ok {
		return s, nil
	}

	var doc any
	if err := json.Unmarshal(schemaDoc, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("params.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := c.Compile("params.json")
	if err != nil {
		return nil, err
	}

	v.compiled[key] = s
	return s, nil
}
