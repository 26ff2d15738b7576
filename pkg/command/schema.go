package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Per-type JSON Schemas for command payloads. Players reject malformed
// payloads anyway; validating at dispatch keeps the failure synchronous.
var payloadSchemas = map[Type]string{
	TypeUpdateURL: `{
		"type": "object",
		"properties": {
			"url": {"type": "string", "minLength": 1},
			"scheduleId": {"type": "string"}
		},
		"required": ["url"],
		"additionalProperties": true
	}`,
	TypeReboot: `{
		"type": "object",
		"additionalProperties": true
	}`,
	TypeScreenshot: `{
		"type": "object",
		"properties": {
			"quality": {"type": "integer", "minimum": 1, "maximum": 100}
		},
		"additionalProperties": true
	}`,
	TypeUpdate: `{
		"type": "object",
		"properties": {
			"version": {"type": "string"}
		},
		"additionalProperties": true
	}`,
	TypeSystemUpdate: `{
		"type": "object",
		"properties": {
			"version": {"type": "string"}
		},
		"additionalProperties": true
	}`,
}

var compiledSchemas = mustCompileSchemas()

func mustCompileSchemas() map[Type]*jsonschema.Schema {
	out := make(map[Type]*jsonschema.Schema, len(payloadSchemas))
	for typ, raw := range payloadSchemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://marquee.schemas.local/commands/%s.schema.json", typ)
		if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
			panic(fmt.Sprintf("command schema %s: %v", typ, err))
		}
		compiled, err := c.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("command schema %s: %v", typ, err))
		}
		out[typ] = compiled
	}
	return out
}

// ValidatePayload checks that payload matches the schema for the given type.
// A nil payload is treated as an empty object.
func ValidatePayload(typ Type, payload map[string]any) error {
	if !typ.Valid() {
		return fmt.Errorf("unknown command type %q", typ)
	}
	if payload == nil {
		payload = map[string]any{}
	}

	// Round-trip through JSON so numeric types match what arrives on the wire.
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("payload not serializable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return fmt.Errorf("payload decode: %w", err)
	}

	if err := compiledSchemas[typ].Validate(generic); err != nil {
		return fmt.Errorf("invalid %s payload: %w", typ, err)
	}
	return nil
}
