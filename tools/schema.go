package tools

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Property describes one named field of a tool's input schema.
type Property struct {
	Type        string
	Description string
}

// Schema is the strict object schema a tool declares for its arguments.
// Unless AdditionalProperties is set, unknown fields are rejected.
type Schema struct {
	Properties           map[string]Property
	Required             []string
	AdditionalProperties bool
}

// Map renders the schema as the generic JSON-schema object shape the LLM
// providers expect.
func (s Schema) Map() map[string]interface{} {
	props := map[string]interface{}{}
	for name, p := range s.Properties {
		prop := map[string]interface{}{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[name] = prop
	}
	out := map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": s.AdditionalProperties,
	}
	if len(s.Required) > 0 {
		out["required"] = append([]string(nil), s.Required...)
	}
	return out
}

// Validate checks args against the schema: required fields present, no
// unknown fields (for strict schemas), and primitive types matching.
func (s Schema) Validate(args map[string]interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	for _, field := range s.Required {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required field: %s", field)
		}
	}
	if !s.AdditionalProperties {
		var unknown []string
		for key := range args {
			if _, ok := s.Properties[key]; !ok {
				unknown = append(unknown, key)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return fmt.Errorf("unknown field(s): %s", strings.Join(unknown, ", "))
		}
	}
	for key, value := range args {
		prop, ok := s.Properties[key]
		if !ok || prop.Type == "" || value == nil {
			continue
		}
		if err := checkType(value, prop.Type); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
	}
	return nil
}

func checkType(value interface{}, expected string) error {
	switch expected {
	case "string":
		if _, ok := value.(string); ok {
			return nil
		}
	case "number":
		if isNumber(value) {
			return nil
		}
	case "integer":
		if isInteger(value) {
			return nil
		}
	case "boolean":
		if _, ok := value.(bool); ok {
			return nil
		}
	case "object":
		if _, ok := value.(map[string]interface{}); ok {
			return nil
		}
	case "array":
		if _, ok := value.([]interface{}); ok {
			return nil
		}
	default:
		return nil
	}
	return fmt.Errorf("expected %s, got %T", expected, value)
}

func isNumber(value interface{}) bool {
	switch value.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}

func isInteger(value interface{}) bool {
	switch v := value.(type) {
	case int, int32, int64:
		return true
	case float64:
		return v == math.Trunc(v)
	case float32:
		return float64(v) == math.Trunc(float64(v))
	}
	return false
}
