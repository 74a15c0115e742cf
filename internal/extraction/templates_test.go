package extraction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proethica/ontextract/internal/model"
)

func TestTemplateStoreCoversEveryConcept(t *testing.T) {
	t.Parallel()

	store, err := NewTemplateStore()
	require.NoError(t, err)

	for _, pass := range model.Passes() {
		for _, concept := range pass.Concepts {
			out, err := store.Render(pass.Number, concept, TemplateVars{
				Concept:          string(concept),
				Section:          "facts",
				SourceText:       "Some case text.",
				ExistingEntities: "(none)",
				ClassesField:     "new_classes",
				IndividualsField: "individuals",
			})
			require.NoError(t, err, "concept %s", concept)
			assert.Contains(t, out, "Some case text.")
			assert.Contains(t, out, `"new_classes"`)
		}
	}
}

func TestRenderMissingTemplateIsFatal(t *testing.T) {
	t.Parallel()

	store, err := NewTemplateStore()
	require.NoError(t, err)

	// Roles belong to step 1; there is no step 3 roles template.
	_, err = store.Render(3, model.ConceptRoles, TemplateVars{})
	require.ErrorIs(t, err, ErrNoTemplate)
}

func TestRenderOmitsEmptyContextBlock(t *testing.T) {
	t.Parallel()

	store, err := NewTemplateStore()
	require.NoError(t, err)

	out, err := store.Render(1, model.ConceptRoles, TemplateVars{SourceText: "text"})
	require.NoError(t, err)
	assert.NotContains(t, out, "Previously extracted concepts")

	out, err = store.Render(1, model.ConceptRoles, TemplateVars{SourceText: "text", Context: "- roles: Engineer"})
	require.NoError(t, err)
	assert.Contains(t, out, "Previously extracted concepts")
	assert.Contains(t, out, "- roles: Engineer")
}

func TestLoadOverridesReplacesTemplate(t *testing.T) {
	t.Parallel()

	store, err := NewTemplateStore()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("\"1.roles\": \"custom roles prompt for {{.SourceText}}\"\n"), 0o644))

	require.NoError(t, store.LoadOverrides(path))

	out, err := store.Render(1, model.ConceptRoles, TemplateVars{SourceText: "case 252"})
	require.NoError(t, err)
	assert.Equal(t, "custom roles prompt for case 252", out)
}

func TestLoadOverridesRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	store, err := NewTemplateStore()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("\"9.widgets\": \"nope\"\n"), 0o644))

	err = store.LoadOverrides(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown template key")
}
