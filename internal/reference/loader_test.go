package reference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnumCatalog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sizes.yaml"), []byte(`
items:
  - code: L
    name: Large
    order: 2
  - code: S
    name: Small
    order: 1
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o600))

	cat, err := LoadEnumCatalog(dir)
	require.NoError(t, err)
	require.Contains(t, cat, "sizes")
	assert.Equal(t, "S", cat["sizes"].Items[0].Code)
	assert.True(t, cat["sizes"].Has("L"))
	assert.False(t, cat["sizes"].Has("XL"))
}

func TestSectionRegistry(t *testing.T) {
	reg, err := LoadSections("../../reference/sections.yaml")
	require.NoError(t, err)

	s, ok := reg.BySectionKey("/Product")
	require.True(t, ok)
	assert.Equal(t, "catalog.Product", s.ClassName)
	assert.Equal(t, "/product", s.URL())

	s, ok = reg.ByClassName("catalog.Category")
	require.True(t, ok)
	assert.Equal(t, "category", s.Key)

	_, ok = reg.BySectionKey("missing")
	assert.False(t, ok)
}

func TestSectionRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewSectionRegistry([]Section{
		{Key: "a", ClassName: "m.A"},
		{Key: "A", ClassName: "m.B"},
	})
	assert.Error(t, err)

	_, err = NewSectionRegistry([]Section{{Key: "a"}})
	assert.Error(t, err)
}
