package chatshelf

import (
	"bytes"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Persisted payloads are validated before use. A payload that fails its
// schema is treated exactly like an absent one: the store starts from an
// empty default and the next write-back replaces the corrupt value.

const projectsSchemaJSON = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["id", "name"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"name": {"type": "string"},
			"order": {"type": "integer"},
			"createdAt": {"type": "integer"},
			"contextId": {"type": "string"},
			"contextName": {"type": "string"},
			"isExpanded": {"type": "boolean"}
		}
	}
}`

const associationsSchemaJSON = `{
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"required": ["projectId"],
		"properties": {
			"projectId": {"type": "string", "minLength": 1},
			"title": {"type": "string"},
			"addedAt": {"type": "integer"}
		}
	}
}`

var (
	projectsSchema     = mustCompileSchema("projects.json", projectsSchemaJSON)
	associationsSchema = mustCompileSchema("associations.json", associationsSchemaJSON)
)

func mustCompileSchema(name, source string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(err)
	}
	return compiler.MustCompile(name)
}

// ValidProjectsPayload reports whether data is a structurally sound projects
// document.
func ValidProjectsPayload(data []byte) bool {
	return validatePayload(projectsSchema, data)
}

// ValidAssociationsPayload reports whether data is a structurally sound
// associations document.
func ValidAssociationsPayload(data []byte) bool {
	return validatePayload(associationsSchema, data)
}

func validatePayload(schema *jsonschema.Schema, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return schema.Validate(inst) == nil
}
