// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

package config_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/RepeaterTS/yggdrasil/internal/config"
)

func TestGenerateSchema(t *testing.T) {
	data, err := config.GenerateSchema()
	if err != nil {
		t.Fatalf("GenerateSchema() error = %v", err)
	}

	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("generated schema is not valid JSON: %v", err)
	}

	if schema["$id"] != config.GetSchemaID() {
		t.Errorf("schema $id = %v, want %v", schema["$id"], config.GetSchemaID())
	}
	if !strings.Contains(string(data), "client_id") {
		t.Error("schema does not describe client_id")
	}
}

func TestValidateSchema_ValidConfig(t *testing.T) {
	yaml := `
username: steve
client_id: 00000000-0000-0000-0000-000000000000
grace_window: 1m
log:
  format: json
  level: info
hosts:
  services: https://api.minecraftservices.com
`
	if err := config.ValidateSchema([]byte(yaml)); err != nil {
		t.Errorf("ValidateSchema() error = %v, want nil", err)
	}
}

func TestValidateSchema_BadLogFormat(t *testing.T) {
	yaml := `
log:
  format: xml
`
	if err := config.ValidateSchema([]byte(yaml)); err == nil {
		t.Error("ValidateSchema() expected error for unknown log format")
	}
}

func TestValidateSchema_Empty(t *testing.T) {
	if err := config.ValidateSchema(nil); err == nil {
		t.Error("ValidateSchema() expected error for empty data")
	}
}

func TestValidateSchema_InvalidYAML(t *testing.T) {
	if err := config.ValidateSchema([]byte("{{not yaml")); err == nil {
		t.Error("ValidateSchema() expected error for invalid YAML")
	}
}
