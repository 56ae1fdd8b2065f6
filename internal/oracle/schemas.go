package oracle

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const sectionDecisionsSchema = `{
  "type": "object",
  "required": ["decisions"],
  "properties": {
    "decisions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["field_id", "value", "confidence"],
        "properties": {
          "field_id": {"type": "string", "minLength": 1},
          "value": {},
          "reasoning": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  }
}`

const errorFixesSchema = `{
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "required": ["value"],
    "properties": {
      "value": {},
      "reasoning": {"type": "string"}
    }
  }
}`

const validationSchema = `{
  "type": "object",
  "required": ["valid"],
  "properties": {
    "valid": {"type": "boolean"},
    "validation_notes": {"type": "string"},
    "cleaned_data": {"type": ["object", "null"]},
    "issues": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["description"],
        "properties": {
          "field": {"type": "string"},
          "issue_type": {"type": "string"},
          "description": {"type": "string"},
          "severity": {"type": "string"}
        }
      }
    }
  }
}`

// responseSchemas holds the compiled response contracts, one per oracle call.
type responseSchemas struct {
	decisions  *jsonschema.Schema
	fixes      *jsonschema.Schema
	validation *jsonschema.Schema
}

func compileSchemas() (*responseSchemas, error) {
	decisions, err := compileSchema("section_decisions", sectionDecisionsSchema)
	if err != nil {
		return nil, err
	}
	fixes, err := compileSchema("error_fixes", errorFixesSchema)
	if err != nil {
		return nil, err
	}
	validation, err := compileSchema("validation", validationSchema)
	if err != nil {
		return nil, err
	}
	return &responseSchemas{decisions: decisions, fixes: fixes, validation: validation}, nil
}

func compileSchema(name, doc string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://lca-filing.local/oracle/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("oracle: load %s schema: %w", name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("oracle: compile %s schema: %w", name, err)
	}
	return schema, nil
}
