package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ToolDefinition advertises a tool the model may call.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolFor builds a ToolDefinition whose input schema is reflected from T.
// T should be a struct with json and jsonschema struct tags:
//
//	type SearchInput struct {
//	    Query string `json:"query" jsonschema:"required,description=Search terms"`
//	}
//
//	tool := protocol.ToolFor[SearchInput]("web_search", "Search the web")
func ToolFor[T any](name, description string) ToolDefinition {
	return ToolDefinition{
		Name:        name,
		Description: description,
		InputSchema: generateSchema[T](),
	}
}

// generateSchema reflects T into an inline JSON schema.
func generateSchema[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	var zero T
	schema := reflector.Reflect(zero)

	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("failed to generate schema for type %T: %v", zero, err))
	}
	return data
}
