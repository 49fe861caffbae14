package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PermissionMode controls how tool permission checks are answered.
type PermissionMode string

const (
	PermissionModeDefault     PermissionMode = "default"
	PermissionModeAcceptEdits PermissionMode = "acceptEdits"
	PermissionModeBypass      PermissionMode = "bypassPermissions"
)

// ParsePermissionMode accepts both camelCase and snake_case spellings.
func ParsePermissionMode(s string) (PermissionMode, error) {
	switch s {
	case "default", "":
		return PermissionModeDefault, nil
	case "acceptEdits", "accept_edits":
		return PermissionModeAcceptEdits, nil
	case "bypassPermissions", "bypass_permissions", "bypass":
		return PermissionModeBypass, nil
	default:
		return "", fmt.Errorf("unknown permission mode %q", s)
	}
}

// PermissionCheckRequest asks whether a tool may run.
type PermissionCheckRequest struct {
	Input      json.RawMessage `json:"input"`
	Tool       string          `json:"tool"`
	Suggestion string          `json:"suggestion"`
}

// MsgType returns the message type.
func (m PermissionCheckRequest) MsgType() MessageType { return MessageTypePermissionCheck }

// PermissionResponse answers a PermissionCheckRequest.
type PermissionResponse struct {
	ModifiedInput json.RawMessage `json:"modified_input,omitempty"`
	Reason        *string         `json:"reason,omitempty"`
	Allow         bool            `json:"allow"`
}

// MsgType returns the message type.
func (m PermissionResponse) MsgType() MessageType { return MessageTypePermissionResponse }

// NewPermissionAllow returns an allow response with an optional reason.
func NewPermissionAllow(reason string) *PermissionResponse {
	r := &PermissionResponse{Allow: true}
	if reason != "" {
		r.Reason = &reason
	}
	return r
}

// NewPermissionDeny returns a deny response with a reason.
func NewPermissionDeny(reason string) *PermissionResponse {
	return &PermissionResponse{Allow: false, Reason: &reason}
}

// ReasonText returns the reason or "".
func (m PermissionResponse) ReasonText() string {
	if m.Reason == nil {
		return ""
	}
	return *m.Reason
}

// PermissionBehavior selects a rule store.
type PermissionBehavior string

const (
	PermissionBehaviorAllow PermissionBehavior = "allow"
	PermissionBehaviorDeny  PermissionBehavior = "deny"
	PermissionBehaviorAsk   PermissionBehavior = "ask"
)

func (b PermissionBehavior) valid() bool {
	switch b {
	case PermissionBehaviorAllow, PermissionBehaviorDeny, PermissionBehaviorAsk:
		return true
	}
	return false
}

// PermissionUpdateType discriminates PermissionUpdate variants.
type PermissionUpdateType string

const (
	PermissionUpdateAddRules          PermissionUpdateType = "addRules"
	PermissionUpdateReplaceRules      PermissionUpdateType = "replaceRules"
	PermissionUpdateRemoveRules       PermissionUpdateType = "removeRules"
	PermissionUpdateSetMode           PermissionUpdateType = "setMode"
	PermissionUpdateAddDirectories    PermissionUpdateType = "addDirectories"
	PermissionUpdateRemoveDirectories PermissionUpdateType = "removeDirectories"
)

// PermissionUpdateDestination names where an update should be persisted.
type PermissionUpdateDestination string

const (
	PermissionDestUserSettings    PermissionUpdateDestination = "userSettings"
	PermissionDestProjectSettings PermissionUpdateDestination = "projectSettings"
	PermissionDestLocalSettings   PermissionUpdateDestination = "localSettings"
	PermissionDestSession         PermissionUpdateDestination = "session"
)

// PermissionRule is a single rule keyed by tool name.
type PermissionRule struct {
	ToolName    string `json:"toolName"`
	RuleContent string `json:"ruleContent,omitempty"`
}

// PermissionUpdate describes one change to the permission state.
type PermissionUpdate struct {
	Type        PermissionUpdateType        `json:"type"`
	Behavior    PermissionBehavior          `json:"behavior,omitempty"`
	Mode        PermissionMode              `json:"mode,omitempty"`
	Destination PermissionUpdateDestination `json:"destination,omitempty"`
	Rules       []PermissionRule            `json:"rules,omitempty"`
	Directories []string                    `json:"directories,omitempty"`
}

// AddRules returns an addRules update.
func AddRules(behavior PermissionBehavior, rules ...PermissionRule) PermissionUpdate {
	return PermissionUpdate{Type: PermissionUpdateAddRules, Behavior: behavior, Rules: rules}
}

// ReplaceRules returns a replaceRules update.
func ReplaceRules(behavior PermissionBehavior, rules ...PermissionRule) PermissionUpdate {
	return PermissionUpdate{Type: PermissionUpdateReplaceRules, Behavior: behavior, Rules: rules}
}

// RemoveRules returns a removeRules update.
func RemoveRules(rules ...PermissionRule) PermissionUpdate {
	return PermissionUpdate{Type: PermissionUpdateRemoveRules, Rules: rules}
}

// SetMode returns a setMode update.
func SetMode(mode PermissionMode) PermissionUpdate {
	return PermissionUpdate{Type: PermissionUpdateSetMode, Mode: mode}
}

// AddDirectories returns an addDirectories update.
func AddDirectories(dirs ...string) PermissionUpdate {
	return PermissionUpdate{Type: PermissionUpdateAddDirectories, Directories: dirs}
}

// RemoveDirectories returns a removeDirectories update.
func RemoveDirectories(dirs ...string) PermissionUpdate {
	return PermissionUpdate{Type: PermissionUpdateRemoveDirectories, Directories: dirs}
}

// ErrInvalidPermissionUpdate is wrapped by every Validate failure.
var ErrInvalidPermissionUpdate = errors.New("invalid permission update")

// Validate checks the update is well formed before it is applied.
func (u PermissionUpdate) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidPermissionUpdate, fmt.Sprintf(format, args...))
	}

	switch u.Type {
	case PermissionUpdateAddRules, PermissionUpdateReplaceRules:
		if !u.Behavior.valid() {
			return invalid("%s update has unknown behavior %q", u.Type, u.Behavior)
		}
		fallthrough
	case PermissionUpdateRemoveRules:
		if len(u.Rules) == 0 {
			return invalid("%s update must have at least one rule", u.Type)
		}
		for _, r := range u.Rules {
			if r.ToolName == "" {
				return invalid("rule tool name cannot be empty")
			}
		}
	case PermissionUpdateSetMode:
		if _, err := ParsePermissionMode(string(u.Mode)); err != nil || u.Mode == "" {
			return invalid("setMode update has unknown mode %q", u.Mode)
		}
	case PermissionUpdateAddDirectories, PermissionUpdateRemoveDirectories:
		if len(u.Directories) == 0 {
			return invalid("%s update must have at least one directory", u.Type)
		}
		for _, d := range u.Directories {
			if d == "" {
				return invalid("directory cannot be empty")
			}
		}
	default:
		return invalid("unknown update type %q", u.Type)
	}
	return nil
}
