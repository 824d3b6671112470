package api

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"openadmin/internal/metadata"
	"openadmin/internal/persistence"
)

const maxPageSize = 1000

// listParams is the filtering, sorting and paging a grid request asks for.
type listParams struct {
	Criteria []persistence.FilterAndSortCriteria
	Start    *int
	Max      *int
	FirstID  string
	LastID   string
	Upper    int
	Lower    int
	PageSize int
	// Custom holds the values of the "criteria" parameter.
	Custom []string
}

// controlParams never become filters.
var controlParams = map[string]bool{
	"_limit": true, "limit": true, "maxIndex": true,
	"_offset": true, "offset": true, "startIndex": true,
	"_sort": true, "sort": true, "nulls": true,
	"firstId": true, "lastId": true, "upperCount": true, "lowerCount": true, "pageSize": true,
	"criteria": true, "headerFlash": true, "sectionCrumbs": true, "entityType": true,
	"tab": true, "currentFolderId": true, "ids": true, "key": true, "newSequence": true,
}

// parseListParams reads list query parameters. Parameters naming a basic
// property of cmd filter on it; "_sort=-name,code" sorts, a leading "-"
// meaning descending; "_limit"/"_offset" page by index and
// "firstId"/"lastId" by cursor.
func parseListParams(q url.Values, cmd *metadata.ClassMetadata) listParams {
	var lp listParams

	if n, ok := intParam(q, "_offset", "offset", "startIndex"); ok && n >= 0 {
		lp.Start = &n
	}
	// maxIndex is inclusive, _limit a count
	if n, ok := intParam(q, "maxIndex"); ok && n >= 0 {
		lp.Max = &n
	} else if n, ok := intParam(q, "_limit", "limit"); ok && n > 0 && n <= maxPageSize {
		last := n - 1
		if lp.Start != nil {
			last += *lp.Start
		}
		lp.Max = &last
	}
	lp.FirstID = strings.TrimSpace(q.Get("firstId"))
	lp.LastID = strings.TrimSpace(q.Get("lastId"))
	lp.Upper, _ = intParam(q, "upperCount")
	lp.Lower, _ = intParam(q, "lowerCount")
	lp.PageSize, _ = intParam(q, "pageSize")

	nulls := strings.ToLower(strings.TrimSpace(q.Get("nulls")))
	if nulls != "first" && nulls != "last" {
		nulls = ""
	}

	byProp := map[string]*persistence.FilterAndSortCriteria{}
	var order []string
	criterion := func(name string) *persistence.FilterAndSortCriteria {
		if c, ok := byProp[name]; ok {
			return c
		}
		c := &persistence.FilterAndSortCriteria{PropertyID: name, Nulls: nulls}
		byProp[name] = c
		order = append(order, name)
		return c
	}

	sortParam := strings.TrimSpace(q.Get("_sort"))
	if sortParam == "" {
		sortParam = strings.TrimSpace(q.Get("sort"))
	}
	for _, p := range strings.Split(sortParam, ",") {
		p = strings.TrimSpace(p)
		dir := persistence.SortAscending
		if strings.HasPrefix(p, "-") {
			dir = persistence.SortDescending
			p = p[1:]
		} else {
			p = strings.TrimPrefix(p, "+")
		}
		if p == "" || !isBasicProperty(cmd, p) {
			continue
		}
		criterion(p).SortDirection = dir
	}

	names := make([]string, 0, len(q))
	for k := range q {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, key := range names {
		if controlParams[key] || !isBasicProperty(cmd, key) {
			continue
		}
		var clean []string
		for _, v := range q[key] {
			if v = strings.TrimSpace(v); v != "" {
				clean = append(clean, v)
			}
		}
		if len(clean) > 0 {
			c := criterion(key)
			c.FilterValues = append(c.FilterValues, clean...)
		}
	}
	for _, name := range order {
		lp.Criteria = append(lp.Criteria, *byProp[name])
	}

	for _, v := range q["criteria"] {
		if v = strings.TrimSpace(v); v != "" {
			lp.Custom = append(lp.Custom, v)
		}
	}
	return lp
}

// hasFilter reports whether any criterion filters.
func (lp listParams) hasFilter() bool {
	for _, c := range lp.Criteria {
		if c.HasFilter() {
			return true
		}
	}
	return false
}

// apply copies paging and criteria onto ppr.
func (lp listParams) apply(ppr *persistence.PersistencePackageRequest) *persistence.PersistencePackageRequest {
	ppr.WithFilterAndSortCriteria(lp.Criteria).
		WithStartIndex(lp.Start).
		WithMaxIndex(lp.Max)
	if lp.FirstID != "" || lp.LastID != "" {
		ppr.WithCursor(lp.FirstID, lp.LastID, lp.Upper, lp.Lower, lp.PageSize)
	}
	return ppr
}

func isBasicProperty(cmd *metadata.ClassMetadata, name string) bool {
	if cmd == nil {
		return false
	}
	p, ok := cmd.Property(name)
	return ok && p.Metadata.Kind == metadata.KindBasic
}

// intParam returns the first parsable value among names.
func intParam(q url.Values, names ...string) (int, bool) {
	for _, name := range names {
		v := strings.TrimSpace(q.Get(name))
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}
