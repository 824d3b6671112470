package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitOptionTokens(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`required unique`, []string{"required", "unique"}},
		{`label="Display Name" order=10`, []string{`label="Display Name"`, "order=10"}},
		{`pattern=^[A-Z0-9 _-]+$ required`, []string{"pattern=^[A-Z0-9 _-]+$", "required"}},
		{`keys="a:A,b:B", sort=x`, []string{`keys="a:A,b:B"`, "sort=x"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitOptionTokens(tt.in), tt.in)
	}
}

func TestParseEntities(t *testing.T) {
	src := `
module shop

entity Item:
  @label="Item"
  @auditable
  name: string required label="Item Name" order=10
  state: enum[NEW, OLD] default=NEW
  owner: ref[Person] display=fullName
  parts: collection[Part] via=item add=lookup sort=position
  links: adorned[Item] join=ItemLink linked=item target=linked sort=seq maintained="note,weight"
  props: map[ItemProp] via=item key=name keys="a:Alpha,b:Beta"
  constraints:
    unique(name, owner)

entity Book extends Item:
  isbn: string
`
	ents, err := Build(src)
	require.NoError(t, err)
	require.Len(t, ents, 2)

	item := ents["shop.Item"]
	require.NotNil(t, item)
	assert.True(t, item.Flag("auditable"))
	label, _ := item.Option("label")
	assert.Equal(t, "Item", label)
	require.Len(t, item.Fields, 6)

	name := item.Fields[0]
	assert.Equal(t, "string", name.Type)
	assert.True(t, name.Flag("required"))
	assert.Equal(t, "Item Name", name.Option("label"))

	state := item.Fields[1]
	assert.Equal(t, TypeEnum, state.Type)
	assert.Equal(t, []string{"NEW", "OLD"}, state.Enum)

	owner := item.Fields[2]
	assert.Equal(t, TypeRef, owner.Type)
	assert.Equal(t, "Person", owner.RefTarget)

	parts := item.Fields[3]
	assert.Equal(t, TypeCollection, parts.Type)
	assert.True(t, parts.Virtual())
	assert.Equal(t, "lookup", parts.Option("add"))

	links := item.Fields[4]
	assert.Equal(t, TypeAdorned, links.Type)
	assert.Equal(t, []string{"note", "weight"}, links.ListOption("maintained"))

	props := item.Fields[5]
	assert.Equal(t, TypeMap, props.Type)
	assert.Equal(t, "a:Alpha,b:Beta", props.Option("keys"))

	assert.Equal(t, [][]string{{"name", "owner"}}, item.Constraints.Unique)
	assert.Equal(t, "shop.Item", ents["shop.Book"].Extends)
}

func TestParseEntitiesErrors(t *testing.T) {
	tests := map[string]string{
		"unknown type":   "module m\nentity A:\n  x: blob\n",
		"collection via": "module m\nentity A:\n  x: collection[B]\n",
		"adorned join":   "module m\nentity A:\n  x: adorned[B] linked=a target=b\n",
		"unknown parent": "module m\nentity A extends Z:\n  x: string\n",
		"no module":      "entity A:\n  x: string\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Build(src)
			assert.Error(t, err)
		})
	}
}

func TestLoadAllEntities(t *testing.T) {
	ents, err := LoadAllEntities("../../dsl")
	require.NoError(t, err)
	assert.Contains(t, ents, "catalog.Product")
	assert.Contains(t, ents, "catalog.RelatedProduct")
	assert.Equal(t, "catalog.Product", ents["catalog.DigitalProduct"].Extends)
}
