package api

import (
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openadmin/internal/persistence"
)

func intp(n int) *int { return &n }

func TestParseListParams(t *testing.T) {
	f := newFixture(t)
	cmd, err := f.reg.ClassMetadata("catalog.Product")
	require.NoError(t, err)

	cases := []struct {
		name  string
		query string
		want  listParams
	}{
		{
			name:  "empty",
			query: "",
			want:  listParams{},
		},
		{
			name:  "filters on basic properties only",
			query: "name=Lamp&name=+&skus=x&headerFlash=ok&bogus=1",
			want: listParams{Criteria: []persistence.FilterAndSortCriteria{
				{PropertyID: "name", FilterValues: []string{"Lamp"}},
			}},
		},
		{
			name:  "sort and filter merge",
			query: "_sort=-name,code,nope&name=Lamp",
			want: listParams{Criteria: []persistence.FilterAndSortCriteria{
				{PropertyID: "name", SortDirection: persistence.SortDescending, FilterValues: []string{"Lamp"}},
				{PropertyID: "code", SortDirection: persistence.SortAscending},
			}},
		},
		{
			name:  "limit and offset",
			query: "_limit=10&_offset=20",
			want:  listParams{Start: intp(20), Max: intp(29)},
		},
		{
			name:  "max index wins over limit",
			query: "maxIndex=5&_limit=10",
			want:  listParams{Max: intp(5)},
		},
		{
			name:  "oversized limit ignored",
			query: "_limit=5000",
			want:  listParams{},
		},
		{
			name:  "cursor",
			query: "lastId=abc&lowerCount=3&pageSize=25",
			want:  listParams{LastID: "abc", Lower: 3, PageSize: 25},
		},
		{
			name:  "nulls policy",
			query: "_sort=code&nulls=LAST",
			want: listParams{Criteria: []persistence.FilterAndSortCriteria{
				{PropertyID: "code", SortDirection: persistence.SortAscending, Nulls: "last"},
			}},
		},
		{
			name:  "custom criteria",
			query: "criteria=inStock&criteria=",
			want:  listParams{Custom: []string{"inStock"}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := url.ParseQuery(tc.query)
			require.NoError(t, err)
			got := parseListParams(q, cmd)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("parseListParams(%q) mismatch (-want +got):\n%s", tc.query, diff)
			}
		})
	}
}

func TestListParamsHasFilter(t *testing.T) {
	assert.False(t, listParams{}.hasFilter())
	assert.False(t, listParams{Criteria: []persistence.FilterAndSortCriteria{
		{PropertyID: "name", SortDirection: persistence.SortAscending},
	}}.hasFilter())
	assert.True(t, listParams{Criteria: []persistence.FilterAndSortCriteria{
		{PropertyID: "name", FilterValues: []string{"x"}},
	}}.hasFilter())
}

func TestListParamsApply(t *testing.T) {
	lp := listParams{Start: intp(0), Max: intp(9), LastID: "b", Lower: 2}
	ppr := lp.apply(persistence.NewRequest("catalog.Product"))
	require.NotNil(t, ppr.StartIndex)
	require.NotNil(t, ppr.MaxIndex)
	assert.Equal(t, 0, *ppr.StartIndex)
	assert.Equal(t, 9, *ppr.MaxIndex)
}
