package skills

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrNotFound       = errors.New("skill not found")
	ErrNoFrontmatter  = errors.New("missing frontmatter")
	ErrInvalidName    = errors.New("invalid skill name")
	ErrMissingField   = errors.New("missing required field")
	ErrNameMismatch   = errors.New("skill name does not match directory")
	ErrScriptRejected = errors.New("script rejected")
	ErrNoInterpreter  = errors.New("no interpreter for script")
)

// LoadError records a SKILL.md that could not be loaded.
type LoadError struct {
	Cause error
	Path  string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load skill %s: %v", e.Path, e.Cause)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
