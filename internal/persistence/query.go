package persistence

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func typeAllowed(t string, types []string) bool {
	if len(types) == 0 {
		return true
	}
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func fieldValue(rec *Record, field string) (any, bool) {
	switch field {
	case "id":
		return rec.ID, true
	case "version":
		return rec.Version, true
	}
	v, ok := rec.Data[field]
	return v, ok
}

func matchesFilters(rec *Record, filters []Filter) bool {
	for _, f := range filters {
		v, _ := fieldValue(rec, f.Field)
		s := toString(v)
		if f.Like {
			if len(f.Values) == 0 || !strings.Contains(strings.ToLower(s), strings.ToLower(f.Values[0])) {
				return false
			}
			continue
		}
		found := false
		for _, want := range f.Values {
			if s == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func isNull(v any, ok bool) bool { return !ok || v == nil || v == "" }

// cmpByKey compares two records on one key honouring nulls policy and direction.
func cmpByKey(a, b *Record, key string, nullsPolicy string, desc bool) int {
	va, oka := fieldValue(a, key)
	vb, okb := fieldValue(b, key)

	na := isNull(va, oka)
	nb := isNull(vb, okb)
	if na && nb {
		return 0
	}
	if na != nb {
		if nullsPolicy == "first" {
			if na {
				return -1
			}
			return +1
		}
		if na {
			return +1
		}
		return -1
	}

	rel := compareValues(va, vb)
	if desc {
		rel = -rel
	}
	return rel
}

func compareValues(a, b any) int {
	fa, aNum := asFloat(a)
	fb, bNum := asFloat(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return +1
		}
		return 0
	}
	return strings.Compare(toString(a), toString(b))
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// sortRecords applies a stable multi-key sort, falling back to id order.
func sortRecords(records []*Record, keys []SortKey, nullsPolicy string) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, k := range keys {
			if k.Field == "" {
				continue
			}
			if c := cmpByKey(records[i], records[j], k.Field, nullsPolicy, k.Desc); c != 0 {
				return c < 0
			}
		}
		return records[i].ID < records[j].ID
	})
}

func page(records []*Record, offset, limit int) []*Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return nil
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

// buildQuery converts request criteria into a store query.
func buildQuery(root string, types []string, criteria []FilterAndSortCriteria) Query {
	q := Query{Root: root, Types: types}
	for _, c := range criteria {
		if c.PropertyID == "" {
			continue
		}
		if c.HasFilter() {
			var plain []string
			for _, v := range c.FilterValues {
				if strings.HasPrefix(v, "~") {
					if term := strings.TrimPrefix(v, "~"); term != "" {
						q.Filters = append(q.Filters, Filter{Field: c.PropertyID, Values: []string{term}, Like: true})
					}
					continue
				}
				plain = append(plain, v)
			}
			if len(plain) > 0 {
				q.Filters = append(q.Filters, Filter{Field: c.PropertyID, Values: plain})
			}
		}
		if c.SortDirection != "" {
			q.Sort = append(q.Sort, SortKey{Field: c.PropertyID, Desc: c.SortDirection == SortDescending})
		}
		if c.Nulls == "first" {
			q.Nulls = "first"
		}
	}
	return q
}
