package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema names, one per structured response.
const (
	schemaForecastability = "forecastability"
	schemaClarification   = "clarification"
	schemaBackground      = "background"
	schemaReferences      = "reference_classes"
	schemaParameters      = "parameters"
	schemaSample          = "parameter_sample"
	schemaForecast        = "final_forecast"
	schemaRedTeam         = "red_team"
)

const probability = `{"type": "number", "minimum": 0, "maximum": 1}`

const stringList = `{"type": "array", "items": {"type": "string"}}`

var schemaSources = map[string]string{
	schemaForecastability: `{
  "type": "object",
  "required": ["is_forecastable", "reasoning"],
  "properties": {
    "is_forecastable": {"type": "boolean"},
    "reasoning": {"type": "string"}
  }
}`,
	schemaClarification: `{
  "type": "object",
  "required": ["clarified_question", "needs_clarification"],
  "properties": {
    "original_question": {"type": "string"},
    "clarified_question": {"type": "string", "minLength": 1},
    "needs_clarification": {"type": "boolean"},
    "follow_up_questions": ` + stringList + `
  }
}`,
	schemaBackground: `{
  "type": "object",
  "required": ["summary"],
  "properties": {
    "current_date": {"type": "string"},
    "major_recent_events": ` + stringList + `,
    "key_trends": ` + stringList + `,
    "notable_changes": ` + stringList + `,
    "summary": {"type": "string", "minLength": 1}
  }
}`,
	schemaReferences: `{
  "type": "object",
  "required": ["reference_classes", "recommended_class_index"],
  "properties": {
    "reference_classes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["description", "base_rate", "low", "high"],
        "properties": {
          "description": {"type": "string", "minLength": 1},
          "base_rate": {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 1},
          "low": ` + probability + `,
          "high": ` + probability + `,
          "sample_size": {"type": "integer", "minimum": 0},
          "sources": ` + stringList + `,
          "reasoning": {"type": "string"}
        }
      }
    },
    "recommended_class_index": {"type": "integer", "minimum": 0},
    "selection_reasoning": {"type": "string"}
  }
}`,
	schemaParameters: `{
  "type": "object",
  "required": ["parameters"],
  "properties": {
    "parameters": {
      "type": "array",
      "minItems": 1,
      "maxItems": 8,
      "items": {
        "type": "object",
        "required": ["name", "description"],
        "properties": {
          "name": {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"},
          "description": {"type": "string"},
          "scale_description": {"type": "string"},
          "interacts_with": ` + stringList + `,
          "interaction_type": {"enum": ["none", "additive", "multiplicative", "weak_exponential", "strong_exponential"]},
          "interaction_description": {"type": "string"}
        }
      }
    },
    "additional_considerations": ` + stringList + `
  }
}`,
	schemaSample: `{
  "type": "object",
  "required": ["value", "reasoning"],
  "properties": {
    "name": {"type": "string"},
    "value": {"type": "number", "minimum": 0, "maximum": 10},
    "low": {"type": "number", "minimum": 0, "maximum": 10},
    "high": {"type": "number", "minimum": 0, "maximum": 10},
    "delta_log_odds": {"type": ["number", "null"]},
    "reasoning": {"type": "string"},
    "sources": ` + stringList + `
  }
}`,
	schemaForecast: `{
  "type": "object",
  "required": ["rationale", "key_parameters"],
  "properties": {
    "question": {"type": "string"},
    "rationale": {"type": "string", "minLength": 1},
    "key_parameters": ` + stringList + `,
    "base_rate": ` + probability + `,
    "final_estimate": ` + probability + `,
    "final_low": ` + probability + `,
    "final_high": ` + probability + `
  }
}`,
	schemaRedTeam: `{
  "type": "object",
  "required": ["alternate_estimate", "strongest_objection"],
  "properties": {
    "alternate_estimate": ` + probability + `,
    "alternate_low": ` + probability + `,
    "alternate_high": ` + probability + `,
    "strongest_objection": {"type": "string", "minLength": 1},
    "key_disagreements": ` + stringList + `,
    "rationale": {"type": "string"}
  }
}`,
}

// schemas holds the compiled response schemas.
type schemas map[string]*jsonschema.Schema

func compileSchemas() (schemas, error) {
	out := make(schemas, len(schemaSources))
	for name, src := range schemaSources {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://forecast.schemas.local/%s.schema.json", name)
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, eris.Wrapf(err, "agent: load schema %s", name)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, eris.Wrapf(err, "agent: compile schema %s", name)
		}
		out[name] = s
	}
	return out, nil
}

// decode validates raw against the named schema, then unmarshals it into out.
func (s schemas) decode(name string, raw []byte, out any) error {
	schema, ok := s[name]
	if !ok {
		return eris.Errorf("unknown schema %q", name)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return eris.Wrap(err, "invalid JSON")
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
