package skills

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const discoverPattern = "**/" + FileName

// Report summarizes a Discover pass.
type Report struct {
	Errors []error
	Loaded int
	Failed int
}

// Match is a Find result.
type Match struct {
	Skill *Skill
	Score int
}

// Registry discovers and indexes skills under a set of root directories.
type Registry struct {
	fs     afero.Fs
	skills map[string]*Skill
	logger zerolog.Logger
	roots  []string
	mu     sync.RWMutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFs sets the filesystem skills are read from. Defaults to the OS.
func WithFs(fsys afero.Fs) RegistryOption {
	return func(r *Registry) { r.fs = fsys }
}

// WithLogger sets the registry logger.
func WithLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry over roots. Call Discover to populate it.
func NewRegistry(roots []string, opts ...RegistryOption) *Registry {
	r := &Registry{
		fs:     afero.NewOsFs(),
		skills: make(map[string]*Skill),
		logger: zerolog.Nop(),
		roots:  append([]string(nil), roots...),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Discover walks every root for SKILL.md files and replaces the index.
// Missing roots are skipped. Later roots shadow earlier ones on name clashes.
func (r *Registry) Discover() Report {
	var report Report
	found := make(map[string]*Skill)

	for _, root := range r.roots {
		exists, err := afero.DirExists(r.fs, root)
		if err != nil || !exists {
			r.logger.Debug().Str("root", root).Msg("skill root not found")
			continue
		}
		err = afero.Walk(r.fs, root, func(path string, info fs.FileInfo, walkErr error) error {
			if walkErr != nil {
				report.Failed++
				report.Errors = append(report.Errors, &LoadError{Path: path, Cause: walkErr})
				return nil
			}
			if info.IsDir() {
				if path != root && strings.HasPrefix(info.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			if ok, _ := doublestar.Match(discoverPattern, filepath.ToSlash(rel)); !ok {
				return nil
			}

			s, err := r.load(path)
			if err != nil {
				report.Failed++
				report.Errors = append(report.Errors, &LoadError{Path: path, Cause: err})
				r.logger.Warn().Err(err).Str("path", path).Msg("skipping skill")
				return nil
			}
			if prev, ok := found[s.Metadata.Name]; ok {
				r.logger.Debug().Str("skill", s.Metadata.Name).Str("shadowed", prev.Path).Msg("skill overridden")
			} else {
				report.Loaded++
			}
			found[s.Metadata.Name] = s
			return nil
		})
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("walk %s: %w", root, err))
		}
	}

	r.mu.Lock()
	r.skills = found
	r.mu.Unlock()

	r.logger.Debug().Int("loaded", report.Loaded).Int("failed", report.Failed).Msg("skills discovered")
	return report
}

func (r *Registry) load(path string) (*Skill, error) {
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if base := filepath.Base(dir); base != s.Metadata.Name {
		return nil, fmt.Errorf("%w: directory %q, name %q", ErrNameMismatch, base, s.Metadata.Name)
	}
	s.Path = dir
	return s, nil
}

// Add registers a skill directly, replacing any skill of the same name.
func (r *Registry) Add(s *Skill) error {
	if err := s.Metadata.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.skills[s.Metadata.Name] = s
	r.mu.Unlock()
	return nil
}

// Get returns the named skill.
func (r *Registry) Get(name string) (*Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, nil
}

// List returns all skills sorted by name.
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	out := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.Name < out[j].Metadata.Name })
	return out
}

// Len returns the number of indexed skills.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.skills)
}

// Find ranks skills against a free-text query. Each query word longer than
// two characters scores 3 when found in the name and 1 when found in the
// description. Skills scoring zero are omitted.
func (r *Registry) Find(query string) []Match {
	keywords := keywords(query)
	if len(keywords) == 0 {
		return nil
	}

	var matches []Match
	for _, s := range r.List() {
		if score := score(s, keywords); score > 0 {
			matches = append(matches, Match{Skill: s, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches
}

func keywords(query string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) > 2 {
			out = append(out, w)
		}
	}
	return out
}

func score(s *Skill, keywords []string) int {
	name := strings.ToLower(s.Metadata.Name)
	desc := strings.ToLower(s.Metadata.Description)
	total := 0
	for _, k := range keywords {
		if strings.Contains(name, k) {
			total += 3
		}
		if strings.Contains(desc, k) {
			total++
		}
	}
	return total
}

// Err joins the report's errors, or returns nil.
func (rep Report) Err() error {
	return errors.Join(rep.Errors...)
}
