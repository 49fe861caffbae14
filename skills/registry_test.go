package skills

import (
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, fsys afero.Fs, dir, name, description string) {
	t.Helper()
	doc := fmt.Sprintf("---\nname: %s\ndescription: %s\n---\nInstructions for %s.\n", name, description, name)
	require.NoError(t, afero.WriteFile(fsys, dir+"/SKILL.md", []byte(doc), 0o644))
}

func TestRegistry_Discover(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeSkill(t, fsys, "/skills/pdf-tools", "pdf-tools", "Extract text from PDF documents")
	writeSkill(t, fsys, "/skills/nested/git-helper", "git-helper", "Write commit messages")
	writeSkill(t, fsys, "/skills/.hidden/secret", "secret", "Should not load")
	writeSkill(t, fsys, "/skills/wrong-dir", "other-name", "Name does not match")
	require.NoError(t, afero.WriteFile(fsys, "/skills/broken/SKILL.md", []byte("no frontmatter"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/skills/pdf-tools/README.md", []byte("ignored"), 0o644))

	r := NewRegistry([]string{"/skills", "/missing"}, WithFs(fsys))
	report := r.Discover()

	assert.Equal(t, 2, report.Loaded)
	assert.Equal(t, 2, report.Failed)
	require.Len(t, report.Errors, 2)
	assert.ErrorIs(t, report.Err(), ErrNameMismatch)
	assert.ErrorIs(t, report.Err(), ErrNoFrontmatter)

	var loadErr *LoadError
	require.ErrorAs(t, report.Errors[0], &loadErr)
	assert.Contains(t, loadErr.Path, "SKILL.md")

	assert.Equal(t, 2, r.Len())
	s, err := r.Get("pdf-tools")
	require.NoError(t, err)
	assert.Equal(t, "/skills/pdf-tools", s.Path)
	assert.Equal(t, "Instructions for pdf-tools.\n", s.Content)

	_, err = r.Get("secret")
	assert.ErrorIs(t, err, ErrNotFound)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "git-helper", list[0].Metadata.Name)
	assert.Equal(t, "pdf-tools", list[1].Metadata.Name)
}

func TestRegistry_LaterRootShadows(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeSkill(t, fsys, "/user/review", "review", "User review skill")
	writeSkill(t, fsys, "/project/review", "review", "Project review skill")

	r := NewRegistry([]string{"/user", "/project"}, WithFs(fsys))
	report := r.Discover()
	assert.Equal(t, 1, report.Loaded)
	assert.Zero(t, report.Failed)

	s, err := r.Get("review")
	require.NoError(t, err)
	assert.Equal(t, "Project review skill", s.Metadata.Description)
}

func TestRegistry_DiscoverReplacesIndex(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeSkill(t, fsys, "/skills/one", "one", "First skill")

	r := NewRegistry([]string{"/skills"}, WithFs(fsys))
	r.Discover()
	require.Equal(t, 1, r.Len())

	require.NoError(t, fsys.RemoveAll("/skills/one"))
	writeSkill(t, fsys, "/skills/two", "two", "Second skill")
	r.Discover()

	_, err := r.Get("one")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get("two")
	assert.NoError(t, err)
}

func TestRegistry_Add(t *testing.T) {
	r := NewRegistry(nil, WithFs(afero.NewMemMapFs()))
	assert.ErrorIs(t, r.Add(&Skill{Metadata: Metadata{Name: "Bad Name", Description: "x"}}), ErrInvalidName)
	require.NoError(t, r.Add(&Skill{Metadata: Metadata{Name: "inline", Description: "Added in code"}}))
	_, err := r.Get("inline")
	assert.NoError(t, err)
}

func TestRegistry_Find(t *testing.T) {
	r := NewRegistry(nil, WithFs(afero.NewMemMapFs()))
	require.NoError(t, r.Add(&Skill{Metadata: Metadata{Name: "pdf-tools", Description: "Extract text from documents"}}))
	require.NoError(t, r.Add(&Skill{Metadata: Metadata{Name: "doc-writer", Description: "Write PDF reports and documents"}}))
	require.NoError(t, r.Add(&Skill{Metadata: Metadata{Name: "git-helper", Description: "Commit messages"}}))

	matches := r.Find("PDF documents")
	require.Len(t, matches, 2)
	// pdf-tools: name hit (3) + description hit on "documents" (1).
	assert.Equal(t, "pdf-tools", matches[0].Skill.Metadata.Name)
	assert.Equal(t, 4, matches[0].Score)
	// doc-writer: description hits on both words.
	assert.Equal(t, "doc-writer", matches[1].Skill.Metadata.Name)
	assert.Equal(t, 2, matches[1].Score)

	assert.Empty(t, r.Find("a to of"), "short words are ignored")
	assert.Empty(t, r.Find("kubernetes"))
}
