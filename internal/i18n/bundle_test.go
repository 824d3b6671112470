package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestLoadBundle(t *testing.T) {
	b, err := LoadBundle("../../messages", "en")
	require.NoError(t, err)
	assert.Equal(t, language.English, b.Default())

	tests := []struct {
		accept string
		want   language.Tag
	}{
		{"fr-CA,fr;q=0.9,en;q=0.8", language.French},
		{"de-DE, en;q=0.5", language.English},
		{"ja", language.English},
		{"", language.English},
		{"not a header;;", language.English},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Match(tt.accept), tt.accept)
	}
}

func TestMessageFallbacks(t *testing.T) {
	b, err := LoadBundle("../../messages", "en")
	require.NoError(t, err)

	assert.Equal(t, "Enregistrement réussi", b.Message(language.French, "save.successful"))
	assert.Equal(t, "That key is already in use", b.Message(language.French, "map_key_duplicate"), "falls back to default locale")
	assert.Equal(t, "no.such.code", b.Message(language.French, "no.such.code"))
	assert.Equal(t, "Add Product", b.Message(language.English, "entity.add", "Product"))
	assert.Equal(t, "Ajouter Produit", b.Message(language.French, "entity.add", "Produit"))
}

func TestNewBundleRequiresDefault(t *testing.T) {
	_, err := NewBundle("de", map[language.Tag]map[string]string{language.English: {"a": "b"}})
	require.Error(t, err)
}
