package taxonomy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/attestor/internal/common"
	"github.com/ternarybob/attestor/internal/models"
)

const amlTaxonomy = `framework: aml-ctf
name: AML/CTF Program
controls:
  - id: AML-1.1
    name: Customer identification
    query: customer identification procedures at onboarding
    framework_refs: ["AUSTRAC 4.2"]
  - id: AML-1.2
    name: Transaction monitoring
    query: automated transaction monitoring coverage
    synonyms: ["TM system", "alert generation"]
`

func writeTaxonomy(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeTaxonomy(t, dir, "aml-ctf.yaml", amlTaxonomy)
	writeTaxonomy(t, dir, "notes.txt", "not a taxonomy")

	store := NewStore(common.GetLogger())
	require.NoError(t, store.LoadDir(dir))

	assert.Equal(t, []string{"aml-ctf"}, store.Frameworks())

	taxonomy, err := store.TaxonomyFor("aml-ctf")
	require.NoError(t, err)
	require.Len(t, taxonomy.Controls, 2)
	assert.Equal(t, "AML-1.1", taxonomy.Controls[0].ControlID)
	assert.Equal(t, "automated transaction monitoring coverage | TM system | alert generation", taxonomy.Controls[1].RetrievalQuery())
}

func TestLoadDirRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing framework", content: "controls:\n  - id: C-1\n    query: q\n"},
		{name: "no controls", content: "framework: empty\ncontrols: []\n"},
		{name: "control missing query", content: "framework: f\ncontrols:\n  - id: C-1\n"},
		{name: "duplicate control ids", content: "framework: f\ncontrols:\n  - id: C-1\n    query: a\n  - id: C-1\n    query: b\n"},
		{name: "malformed yaml", content: "framework: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeTaxonomy(t, dir, "bad.yaml", tt.content)

			store := NewStore(common.GetLogger())
			assert.Error(t, store.LoadDir(dir))
		})
	}
}

func TestTaxonomyForUnknownFramework(t *testing.T) {
	store := NewStore(common.GetLogger())
	_, err := store.TaxonomyFor("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown framework")
}

func TestLoadDirMissingDirectory(t *testing.T) {
	store := NewStore(common.GetLogger())
	assert.Error(t, store.LoadDir(filepath.Join(t.TempDir(), "absent")))
}

func TestRegister(t *testing.T) {
	store := NewStore(common.GetLogger())
	require.NoError(t, store.Register(&models.Taxonomy{
		Framework: "manual",
		Controls:  []models.Control{{ControlID: "M-1", QueryText: "q"}},
	}))

	taxonomy, err := store.TaxonomyFor("manual")
	require.NoError(t, err)
	assert.Len(t, taxonomy.Controls, 1)
}
