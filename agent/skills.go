package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bazelment/yoloswe/agentcore/skills"
)

// ActiveSkill is a loaded skill and its usage.
type ActiveSkill struct {
	ActivatedAt time.Time
	Skill       *skills.Skill
	UsageCount  int
}

// ToolValidation is the result of SkillManager.ValidateTool.
type ToolValidation struct {
	Tool      string
	BlockedBy string
	Allowed   bool
}

// SkillManager tracks which skills from a registry are active in a session.
type SkillManager struct {
	registry    *skills.Registry
	active      map[string]*ActiveSkill
	now         func() time.Time
	newExecutor func(dir string) skills.ScriptExecutor
	mu          sync.RWMutex
}

// NewSkillManager wraps registry.
func NewSkillManager(registry *skills.Registry) *SkillManager {
	return &SkillManager{
		registry:    registry,
		active:      make(map[string]*ActiveSkill),
		now:         time.Now,
		newExecutor: confinedExecutor,
	}
}

func confinedExecutor(dir string) skills.ScriptExecutor {
	return skills.NewCommandExecutor(&skills.PathValidator{BaseDir: dir})
}

// Registry returns the underlying registry.
func (m *SkillManager) Registry() *skills.Registry {
	return m.registry
}

// Discover rescans the registry roots.
func (m *SkillManager) Discover() skills.Report {
	return m.registry.Discover()
}

// Load activates the named skill. Loading an active skill resets its usage.
func (m *SkillManager) Load(name string) error {
	s, err := m.registry.Get(name)
	if err != nil {
		return &ConfigError{Message: fmt.Sprintf("skill %q", name), Cause: err}
	}
	m.mu.Lock()
	m.active[name] = &ActiveSkill{Skill: s, ActivatedAt: m.now()}
	m.mu.Unlock()
	return nil
}

// Unload deactivates the named skill.
func (m *SkillManager) Unload(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[name]; !ok {
		return &ConfigError{Message: fmt.Sprintf("skill %q", name), Cause: ErrSkillNotActive}
	}
	delete(m.active, name)
	return nil
}

// ListActive returns active skill names, sorted.
func (m *SkillManager) ListActive() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeNamesLocked()
}

func (m *SkillManager) activeNamesLocked() []string {
	names := make([]string, 0, len(m.active))
	for name := range m.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListAvailable returns every skill name in the registry, sorted.
func (m *SkillManager) ListAvailable() []string {
	list := m.registry.List()
	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.Metadata.Name
	}
	return names
}

// Find searches the registry.
func (m *SkillManager) Find(query string) []skills.Match {
	return m.registry.Find(query)
}

// BuildContext renders the active skills as a system prompt section, or ""
// when none are active.
func (m *SkillManager) BuildContext() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.active) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n# Available Skills\n\n")
	b.WriteString("You have access to the following skills:\n\n")
	for _, name := range m.activeNamesLocked() {
		fmt.Fprintf(&b, "## Skill: %s\n\n", name)
		b.WriteString(m.active[name].Skill.Content)
		b.WriteString("\n\n---\n\n")
	}
	return b.String()
}

// ValidateTool checks tool against every active skill's allowed tools.
func (m *SkillManager) ValidateTool(tool string) ToolValidation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, name := range m.activeNamesLocked() {
		if !m.active[name].Skill.Metadata.AllowsTool(tool) {
			return ToolValidation{Tool: tool, Allowed: false, BlockedBy: name}
		}
	}
	return ToolValidation{Tool: tool, Allowed: true}
}

// IncrementUsage bumps the usage count of every active skill.
func (m *SkillManager) IncrementUsage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.active {
		a.UsageCount++
	}
}

// Usage returns a copy of the named active skill's record.
func (m *SkillManager) Usage(name string) (ActiveSkill, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.active[name]
	if !ok {
		return ActiveSkill{}, false
	}
	return *a, true
}

// RunScript runs a script shipped in an active skill's directory. script is
// relative to the skill directory and may not escape it.
func (m *SkillManager) RunScript(ctx context.Context, name, script string, args []string, timeout time.Duration) (*skills.ScriptOutput, error) {
	m.mu.RLock()
	a, ok := m.active[name]
	m.mu.RUnlock()
	if !ok {
		return nil, &ConfigError{Message: fmt.Sprintf("skill %q", name), Cause: ErrSkillNotActive}
	}
	if a.Skill.Path == "" {
		return nil, &ConfigError{Message: fmt.Sprintf("skill %q has no directory", name)}
	}

	runner := m.newExecutor(a.Skill.Path)
	path := filepath.Join(a.Skill.Path, script)
	if !runner.CanExecute(path) {
		return nil, &ConfigError{Message: fmt.Sprintf("cannot run %s", script), Cause: skills.ErrNoInterpreter}
	}
	return runner.Execute(ctx, path, args, timeout)
}
