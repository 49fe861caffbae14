// Package skills loads SKILL.md files: YAML frontmatter describing a skill
// followed by markdown instructions.
package skills

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// FileName is the name of a skill definition inside its directory.
const FileName = "SKILL.md"

const frontmatterDelimiter = "---"

var namePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Metadata is the frontmatter of a SKILL.md.
type Metadata struct {
	Metadata map[string]string
	License  string
	// AllowedTools limits the tools a skill may use. nil allows every tool,
	// an empty slice allows none. Entries are glob patterns.
	AllowedTools []string
	Name         string
	Description  string
}

// Skill is a parsed SKILL.md.
type Skill struct {
	// Path is the directory holding the SKILL.md, empty for parsed bytes.
	Path     string
	Content  string
	Metadata Metadata
}

type frontmatter struct {
	AllowedTools *[]string         `yaml:"allowed-tools,omitempty"`
	Metadata     map[string]string `yaml:"metadata,omitempty"`
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	License      string            `yaml:"license,omitempty"`
}

// ValidateName checks a skill name is hyphen-case.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Validate checks required fields.
func (m Metadata) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: name", ErrMissingField)
	}
	if err := ValidateName(m.Name); err != nil {
		return err
	}
	if strings.TrimSpace(m.Description) == "" {
		return fmt.Errorf("%w: description", ErrMissingField)
	}
	return nil
}

// AllowsTool reports whether tool is permitted by AllowedTools.
func (m Metadata) AllowsTool(tool string) bool {
	if m.AllowedTools == nil {
		return true
	}
	for _, pattern := range m.AllowedTools {
		if pattern == tool {
			return true
		}
		if ok, err := doublestar.Match(pattern, tool); err == nil && ok {
			return true
		}
	}
	return false
}

// Parse reads a SKILL.md document.
func Parse(data []byte) (*Skill, error) {
	content := strings.TrimPrefix(string(data), "\uFEFF")
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(content, frontmatterDelimiter+"\n") {
		return nil, ErrNoFrontmatter
	}

	rest := content[len(frontmatterDelimiter)+1:]
	var yamlContent, body string
	if strings.HasPrefix(rest, frontmatterDelimiter) {
		yamlContent, body = "", rest[len(frontmatterDelimiter):]
	} else {
		var found bool
		yamlContent, body, found = strings.Cut(rest, "\n"+frontmatterDelimiter)
		if !found {
			return nil, fmt.Errorf("%w: no closing delimiter", ErrNoFrontmatter)
		}
	}
	body = strings.TrimPrefix(body, "\n")

	var fm frontmatter
	if err := yaml.NewDecoder(strings.NewReader(yamlContent)).Decode(&fm); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	s := &Skill{
		Metadata: Metadata{
			Name:        fm.Name,
			Description: fm.Description,
			License:     fm.License,
			Metadata:    fm.Metadata,
		},
		Content: body,
	}
	if fm.AllowedTools != nil {
		s.Metadata.AllowedTools = append([]string{}, *fm.AllowedTools...)
	}
	if err := s.Metadata.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Marshal renders s as a SKILL.md document.
func Marshal(s *Skill) ([]byte, error) {
	fm := frontmatter{
		Name:        s.Metadata.Name,
		Description: s.Metadata.Description,
		License:     s.Metadata.License,
		Metadata:    s.Metadata.Metadata,
	}
	if s.Metadata.AllowedTools != nil {
		tools := append([]string{}, s.Metadata.AllowedTools...)
		fm.AllowedTools = &tools
	}

	var buf bytes.Buffer
	buf.WriteString(frontmatterDelimiter + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteString(frontmatterDelimiter + "\n")
	buf.WriteString(s.Content)
	return buf.Bytes(), nil
}
