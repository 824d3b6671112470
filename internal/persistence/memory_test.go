package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreVersioning(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	ids := NewIDGenerator()

	rec := &Record{ID: ids.NewID(), Type: "shop.Item", Data: map[string]any{"name": "a"}}
	require.NoError(t, st.Insert(ctx, "shop.Item", rec))
	assert.EqualValues(t, 1, rec.Version)
	require.ErrorIs(t, st.Insert(ctx, "shop.Item", rec), ErrVersionConflict)

	got, err := st.Get(ctx, "shop.Item", rec.ID)
	require.NoError(t, err)
	got.Data["name"] = "b"
	require.NoError(t, st.Update(ctx, "shop.Item", got))
	assert.EqualValues(t, 2, got.Version)

	stale := rec.Clone()
	stale.Data["name"] = "c"
	require.ErrorIs(t, st.Update(ctx, "shop.Item", stale), ErrVersionConflict)

	require.NoError(t, st.Delete(ctx, "shop.Item", rec.ID))
	_, err = st.Get(ctx, "shop.Item", rec.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, st.Delete(ctx, "shop.Item", rec.ID), ErrNotFound)
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	ids := NewIDGenerator()
	add := func(typ string, data map[string]any) {
		require.NoError(t, st.Insert(ctx, "shop.Item", &Record{ID: ids.NewID(), Type: typ, Data: data}))
	}
	add("shop.Item", map[string]any{"name": "pear", "qty": int64(3)})
	add("shop.Item", map[string]any{"name": "Apple", "qty": int64(10)})
	add("shop.Special", map[string]any{"name": "fig"})

	recs, total, err := st.List(ctx, Query{Root: "shop.Item", Sort: []SortKey{{Field: "qty"}}})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, "pear", recs[0].Data["name"], "numeric sort")
	assert.Equal(t, "fig", recs[2].Data["name"], "nulls last")

	recs, _, err = st.List(ctx, Query{Root: "shop.Item", Sort: []SortKey{{Field: "qty"}}, Nulls: "first", Offset: 0, Limit: 1})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "fig", recs[0].Data["name"])

	recs, total, err = st.List(ctx, Query{Root: "shop.Item", Types: []string{"shop.Special"}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "shop.Special", recs[0].Type)

	n, err := st.Count(ctx, Query{Root: "shop.Item", Filters: []Filter{{Field: "name", Values: []string{"APP"}, Like: true}}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = st.Count(ctx, Query{Root: "shop.Item", Filters: []Filter{{Field: "qty", Values: []string{"3", "10"}}}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSectionCrumbs(t *testing.T) {
	crumbs := ParseSectionCrumbs(" product--01H, bad, category--7 ,")
	assert.Equal(t, []SectionCrumb{
		{SectionIdentifier: "product", SectionID: "01H"},
		{SectionIdentifier: "category", SectionID: "7"},
	}, crumbs)
	assert.Equal(t, "product--01H,category--7", FormatSectionCrumbs(crumbs))
	assert.Empty(t, ParseSectionCrumbs(""))
}
