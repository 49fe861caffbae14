package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/yoloswe/agentcore/protocol"
)

const settingsJSONC = `{
  // project defaults
  "permissions": {
    "defaultMode": "acceptEdits",
    "allow": ["Read", "Bash(git log:*)",],
    "deny": ["Bash(rm -rf *)"],
    /* ask before touching the network */
    "ask": ["WebFetch"],
    "additionalDirectories": ["/srv/shared"],
  },
}`

func TestParsePermissionSettings(t *testing.T) {
	updates, err := ParsePermissionSettings([]byte(settingsJSONC), protocol.PermissionDestProjectSettings)
	require.NoError(t, err)
	require.Len(t, updates, 5)

	for _, u := range updates {
		assert.Equal(t, protocol.PermissionDestProjectSettings, u.Destination)
	}

	assert.Equal(t, protocol.AddRules(protocol.PermissionBehaviorAllow,
		protocol.PermissionRule{ToolName: "Read"},
		protocol.PermissionRule{ToolName: "Bash", RuleContent: "git log:*"},
	).Rules, updates[0].Rules)
	assert.Equal(t, protocol.PermissionBehaviorDeny, updates[1].Behavior)
	assert.Equal(t, "rm -rf *", updates[1].Rules[0].RuleContent)
	assert.Equal(t, protocol.PermissionBehaviorAsk, updates[2].Behavior)
	assert.Equal(t, []string{"/srv/shared"}, updates[3].Directories)
	assert.Equal(t, protocol.PermissionUpdateSetMode, updates[4].Type)
	assert.Equal(t, protocol.PermissionModeAcceptEdits, updates[4].Mode)

	e := NewPermissionEvaluator(protocol.PermissionModeDefault)
	for _, u := range updates {
		require.NoError(t, e.UpdatePermissions(u))
	}
	assert.Equal(t, protocol.PermissionModeAcceptEdits, e.Mode())
	b, ok := e.MatchRule("WebFetch")
	assert.True(t, ok)
	assert.Equal(t, protocol.PermissionBehaviorAsk, b)
}

func TestParsePermissionSettings_Errors(t *testing.T) {
	cases := map[string]string{
		"bad json":   `{"permissions": `,
		"bad mode":   `{"permissions": {"defaultMode": "plan"}}`,
		"bad rule":   `{"permissions": {"allow": ["Bash(git"]}}`,
		"empty rule": `{"permissions": {"deny": [" "]}}`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePermissionSettings([]byte(data), protocol.PermissionDestSession)
			assert.Error(t, err)
		})
	}

	updates, err := ParsePermissionSettings([]byte(`{"env": {}}`), protocol.PermissionDestSession)
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestLoadPermissionSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(settingsJSONC), 0o600))

	updates, err := LoadPermissionSettings(path, protocol.PermissionDestLocalSettings)
	require.NoError(t, err)
	assert.Len(t, updates, 5)

	_, err = LoadPermissionSettings(filepath.Join(t.TempDir(), "missing.json"), protocol.PermissionDestLocalSettings)
	var cerr *ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestParsePermissionRule(t *testing.T) {
	r, err := ParsePermissionRule("  Read ")
	require.NoError(t, err)
	assert.Equal(t, protocol.PermissionRule{ToolName: "Read"}, r)

	r, err = ParsePermissionRule("Bash(npm run test:*)")
	require.NoError(t, err)
	assert.Equal(t, protocol.PermissionRule{ToolName: "Bash", RuleContent: "npm run test:*"}, r)

	for _, bad := range []string{"", "(x)", "Bash(x"} {
		_, err := ParsePermissionRule(bad)
		assert.Error(t, err, bad)
	}
}
