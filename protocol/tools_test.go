package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchInput struct {
	Query string `json:"query" jsonschema:"required,description=Search terms"`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50"`
}

func TestToolFor_ReflectsSchema(t *testing.T) {
	tool := ToolFor[searchInput]("web_search", "Search the web")
	assert.Equal(t, "web_search", tool.Name)
	assert.Equal(t, "Search the web", tool.Description)

	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(tool.InputSchema, &schema))
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok, "schema should inline properties")
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "limit")
	assert.NotContains(t, string(tool.InputSchema), "$ref")

	required, ok := schema["required"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, required, "query")
}
