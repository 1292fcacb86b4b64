package tools

import (
	"strings"
	"testing"
)

func TestSchemaValidateRequired(t *testing.T) {
	s := Schema{
		Properties: map[string]Property{
			"name": {Type: "string"},
		},
		Required: []string{"name"},
	}
	if err := s.Validate(map[string]interface{}{"name": "x"}); err != nil {
		t.Errorf("Validate: %v", err)
	}
	err := s.Validate(nil)
	if err == nil || !strings.Contains(err.Error(), "missing required field: name") {
		t.Errorf("expected a missing-field error, got: %v", err)
	}
}

func TestSchemaValidateRejectsUnknownFields(t *testing.T) {
	s := Schema{Properties: map[string]Property{"name": {Type: "string"}}}
	err := s.Validate(map[string]interface{}{"name": "x", "zzz": 1, "aaa": 2})
	if err == nil || !strings.Contains(err.Error(), "unknown field(s): aaa, zzz") {
		t.Errorf("expected a sorted unknown-field error, got: %v", err)
	}

	open := Schema{Properties: map[string]Property{}, AdditionalProperties: true}
	if err := open.Validate(map[string]interface{}{"anything": true}); err != nil {
		t.Errorf("open schema should accept unknown fields: %v", err)
	}
}

func TestSchemaValidateTypes(t *testing.T) {
	s := Schema{Properties: map[string]Property{
		"name":   {Type: "string"},
		"count":  {Type: "integer"},
		"spend":  {Type: "number"},
		"flag":   {Type: "boolean"},
		"params": {Type: "object"},
	}}

	ok := map[string]interface{}{
		"name":   "x",
		"count":  float64(3), // JSON numbers decode to float64
		"spend":  2.5,
		"flag":   true,
		"params": map[string]interface{}{},
	}
	if err := s.Validate(ok); err != nil {
		t.Errorf("Validate: %v", err)
	}

	if err := s.Validate(map[string]interface{}{"count": 2.5}); err == nil {
		t.Error("expected a fractional integer to be rejected")
	}
	if err := s.Validate(map[string]interface{}{"name": 7}); err == nil {
		t.Error("expected a non-string name to be rejected")
	}
	// nil values skip type checks.
	if err := s.Validate(map[string]interface{}{"name": nil}); err != nil {
		t.Errorf("nil value should pass: %v", err)
	}
}

func TestSchemaMapShape(t *testing.T) {
	s := Schema{
		Properties: map[string]Property{
			"action_type": {Type: "string", Description: "what to do"},
		},
		Required: []string{"action_type"},
	}
	m := s.Map()
	if m["type"] != "object" {
		t.Errorf("type = %v", m["type"])
	}
	if m["additionalProperties"] != false {
		t.Errorf("additionalProperties = %v", m["additionalProperties"])
	}
	props := m["properties"].(map[string]interface{})
	at := props["action_type"].(map[string]interface{})
	if at["type"] != "string" || at["description"] != "what to do" {
		t.Errorf("property = %v", at)
	}
	req := m["required"].([]string)
	if len(req) != 1 || req[0] != "action_type" {
		t.Errorf("required = %v", req)
	}
}
