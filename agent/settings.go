package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/bazelment/yoloswe/agentcore/protocol"
)

// PermissionSettings is the "permissions" object of a settings file.
type PermissionSettings struct {
	DefaultMode           string   `json:"defaultMode,omitempty"`
	Allow                 []string `json:"allow,omitempty"`
	Deny                  []string `json:"deny,omitempty"`
	Ask                   []string `json:"ask,omitempty"`
	AdditionalDirectories []string `json:"additionalDirectories,omitempty"`
}

type settingsFile struct {
	Permissions PermissionSettings `json:"permissions"`
}

// LoadPermissionSettings reads a JSON-with-comments settings file and
// returns the permission updates it describes, tagged with dest.
//
// Rules are written as "Tool" or "Tool(content)", e.g. "Bash(git log:*)".
func LoadPermissionSettings(path string, dest protocol.PermissionUpdateDestination) ([]protocol.PermissionUpdate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Message: "read permission settings", Cause: err}
	}
	updates, err := ParsePermissionSettings(data, dest)
	if err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("parse %s", path), Cause: err}
	}
	return updates, nil
}

// ParsePermissionSettings is LoadPermissionSettings on bytes.
func ParsePermissionSettings(data []byte, dest protocol.PermissionUpdateDestination) ([]protocol.PermissionUpdate, error) {
	var f settingsFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
		return nil, err
	}
	p := f.Permissions

	var updates []protocol.PermissionUpdate
	for _, group := range []struct {
		behavior protocol.PermissionBehavior
		rules    []string
	}{
		{protocol.PermissionBehaviorAllow, p.Allow},
		{protocol.PermissionBehaviorDeny, p.Deny},
		{protocol.PermissionBehaviorAsk, p.Ask},
	} {
		if len(group.rules) == 0 {
			continue
		}
		rules := make([]protocol.PermissionRule, 0, len(group.rules))
		for _, s := range group.rules {
			r, err := ParsePermissionRule(s)
			if err != nil {
				return nil, err
			}
			rules = append(rules, r)
		}
		updates = append(updates, protocol.AddRules(group.behavior, rules...))
	}
	if len(p.AdditionalDirectories) > 0 {
		updates = append(updates, protocol.AddDirectories(p.AdditionalDirectories...))
	}
	if p.DefaultMode != "" {
		mode, err := protocol.ParsePermissionMode(p.DefaultMode)
		if err != nil {
			return nil, err
		}
		updates = append(updates, protocol.SetMode(mode))
	}

	for i := range updates {
		updates[i].Destination = dest
		if err := updates[i].Validate(); err != nil {
			return nil, err
		}
	}
	return updates, nil
}

// ParsePermissionRule parses "Tool" or "Tool(content)".
func ParsePermissionRule(s string) (protocol.PermissionRule, error) {
	s = strings.TrimSpace(s)
	name, rest, found := strings.Cut(s, "(")
	if !found {
		if s == "" {
			return protocol.PermissionRule{}, fmt.Errorf("empty permission rule")
		}
		return protocol.PermissionRule{ToolName: s}, nil
	}
	content, ok := strings.CutSuffix(rest, ")")
	if !ok || name == "" {
		return protocol.PermissionRule{}, fmt.Errorf("malformed permission rule %q", s)
	}
	return protocol.PermissionRule{ToolName: name, RuleContent: content}, nil
}
