package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// JSONSchema reflects Config into a JSON Schema document keyed by the yaml
// field names. `config validate` checks a raw file against it before the
// strict decode, and `config schema` prints it for external tooling.
func JSONSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "advisor-agent configuration"
	return json.MarshalIndent(schema, "", "  ")
}
