package persistence

import (
	"strings"

	"openadmin/internal/metadata"
)

// RequestType selects how the persistence layer interprets a request.
type RequestType int

const (
	RequestStandard RequestType = iota
	RequestAdorned
	RequestMap
)

// SortDirection of a criterion.
type SortDirection string

const (
	SortAscending  SortDirection = "ASCENDING"
	SortDescending SortDirection = "DESCENDING"
)

// Custom criteria understood by the service.
const (
	CriteriaSelectize          = "isSelectizeRequest"
	CriteriaReorderChildFetch  = "reorderChildEntityFetch"
	CriteriaOwningClassPrefix  = "owningClass="
	CriteriaRequestingEntity   = "requestingEntityName="
	CriteriaRequestingProperty = "requestingField="
)

// FilterAndSortCriteria filters on a property and optionally sorts by it.
// A value starting with "~" is a case-insensitive contains match.
type FilterAndSortCriteria struct {
	PropertyID    string        `json:"propertyId"`
	FilterValues  []string      `json:"filterValues,omitempty"`
	SortDirection SortDirection `json:"sortDirection,omitempty"`
	Nulls         string        `json:"nulls,omitempty"`
}

func (c FilterAndSortCriteria) HasFilter() bool { return len(c.FilterValues) > 0 }

// SectionCrumb records an ancestor section/id while editing nested collections.
type SectionCrumb struct {
	SectionIdentifier string `json:"sectionIdentifier"`
	SectionID         string `json:"sectionId"`
}

// ParseSectionCrumbs parses "section--id,section--id".
func ParseSectionCrumbs(raw string) []SectionCrumb {
	var out []SectionCrumb
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, id, ok := strings.Cut(part, "--")
		if !ok || key == "" {
			continue
		}
		out = append(out, SectionCrumb{SectionIdentifier: key, SectionID: id})
	}
	return out
}

// FormatSectionCrumbs is the inverse of ParseSectionCrumbs.
func FormatSectionCrumbs(crumbs []SectionCrumb) string {
	parts := make([]string, 0, len(crumbs))
	for _, c := range crumbs {
		parts = append(parts, c.SectionIdentifier+"--"+c.SectionID)
	}
	return strings.Join(parts, ",")
}

// ForeignKey scopes a basic collection fetch to its parent.
type ForeignKey struct {
	ManyToField  string `json:"manyToField"`
	ForeignClass string `json:"foreignClass"`
	CurrentValue string `json:"currentValue,omitempty"`
	SortField    string `json:"sortField,omitempty"`
}

// AdornedTargetList describes a join entity between a parent and its targets.
type AdornedTargetList struct {
	CollectionFieldName string   `json:"collectionFieldName"`
	JoinEntityClass     string   `json:"joinEntityClass"`
	LinkedObjectPath    string   `json:"linkedObjectPath"`
	TargetObjectPath    string   `json:"targetObjectPath"`
	TargetEntityClass   string   `json:"targetEntityClass"`
	SortField           string   `json:"sortField,omitempty"`
	SortAscending       bool     `json:"sortAscending"`
	MaintainedFields    []string `json:"maintainedFields,omitempty"`
	LinkedID            string   `json:"linkedId,omitempty"`
}

// MapStructure describes a keyed collection of value entities.
type MapStructure struct {
	MapProperty string            `json:"mapProperty"`
	ValueClass  string            `json:"valueClass"`
	ManyToField string            `json:"manyToField"`
	KeyProperty string            `json:"keyProperty"`
	Keys        []metadata.Option `json:"keys,omitempty"`
	ParentID    string            `json:"parentId,omitempty"`
}

// PersistencePackageRequest describes the metadata and records a caller wants.
type PersistencePackageRequest struct {
	Type                   RequestType             `json:"type"`
	CeilingEntityClassname string                  `json:"ceilingEntityClassname"`
	SectionEntityField     string                  `json:"sectionEntityField,omitempty"`
	ForeignKey             *ForeignKey             `json:"foreignKey,omitempty"`
	AdornedList            *AdornedTargetList      `json:"adornedList,omitempty"`
	MapStructure           *MapStructure           `json:"mapStructure,omitempty"`
	FilterAndSortCriteria  []FilterAndSortCriteria `json:"filterAndSortCriteria,omitempty"`
	CustomCriteria         []string                `json:"customCriteria,omitempty"`
	StartIndex             *int                    `json:"startIndex,omitempty"`
	MaxIndex               *int                    `json:"maxIndex,omitempty"`
	FirstID                string                  `json:"firstId,omitempty"`
	LastID                 string                  `json:"lastId,omitempty"`
	UpperCount             int                     `json:"upperCount,omitempty"`
	LowerCount             int                     `json:"lowerCount,omitempty"`
	PageSize               int                     `json:"pageSize,omitempty"`
	PresentationFetch      bool                    `json:"presentationFetch,omitempty"`
	AddOperationInspect    bool                    `json:"addOperationInspect,omitempty"`
	SectionCrumbs          []SectionCrumb          `json:"sectionCrumbs,omitempty"`
}

func NewRequest(ceiling string) *PersistencePackageRequest {
	return &PersistencePackageRequest{CeilingEntityClassname: ceiling}
}

func (p *PersistencePackageRequest) WithType(t RequestType) *PersistencePackageRequest {
	p.Type = t
	return p
}

func (p *PersistencePackageRequest) WithCeilingEntityClassname(c string) *PersistencePackageRequest {
	p.CeilingEntityClassname = c
	return p
}

func (p *PersistencePackageRequest) WithSectionEntityField(f string) *PersistencePackageRequest {
	p.SectionEntityField = f
	return p
}

func (p *PersistencePackageRequest) WithFilterAndSortCriteria(c []FilterAndSortCriteria) *PersistencePackageRequest {
	p.FilterAndSortCriteria = append(p.FilterAndSortCriteria, c...)
	return p
}

func (p *PersistencePackageRequest) WithCustomCriteria(c ...string) *PersistencePackageRequest {
	for _, v := range c {
		if v != "" {
			p.CustomCriteria = append(p.CustomCriteria, v)
		}
	}
	return p
}

func (p *PersistencePackageRequest) WithStartIndex(i *int) *PersistencePackageRequest {
	p.StartIndex = i
	return p
}

func (p *PersistencePackageRequest) WithMaxIndex(i *int) *PersistencePackageRequest {
	p.MaxIndex = i
	return p
}

func (p *PersistencePackageRequest) WithCursor(firstID, lastID string, upper, lower, pageSize int) *PersistencePackageRequest {
	p.FirstID, p.LastID = firstID, lastID
	p.UpperCount, p.LowerCount, p.PageSize = upper, lower, pageSize
	return p
}

func (p *PersistencePackageRequest) WithPresentationFetch(b bool) *PersistencePackageRequest {
	p.PresentationFetch = b
	return p
}

func (p *PersistencePackageRequest) WithAddOperationInspect(b bool) *PersistencePackageRequest {
	p.AddOperationInspect = b
	return p
}

func (p *PersistencePackageRequest) WithSectionCrumbs(c []SectionCrumb) *PersistencePackageRequest {
	p.SectionCrumbs = c
	return p
}

// HasCustomCriteria reports whether name is present.
func (p *PersistencePackageRequest) HasCustomCriteria(name string) bool {
	for _, c := range p.CustomCriteria {
		if c == name {
			return true
		}
	}
	return false
}

// FromMetadata derives the request that fetches a collection field's records.
func FromMetadata(fmd *metadata.FieldMetadata, crumbs []SectionCrumb) *PersistencePackageRequest {
	p := NewRequest(fmd.CollectionCeilingEntity).WithSectionCrumbs(crumbs)
	switch fmd.Kind {
	case metadata.KindBasicCollection:
		p.ForeignKey = &ForeignKey{
			ManyToField:  fmd.ManyToField,
			ForeignClass: fmd.OwningClass,
			SortField:    fmd.SortProperty,
		}
	case metadata.KindAdornedTarget:
		p.Type = RequestAdorned
		p.AdornedList = &AdornedTargetList{
			CollectionFieldName: fmd.Name,
			JoinEntityClass:     fmd.JoinEntityClass,
			LinkedObjectPath:    fmd.LinkedProperty,
			TargetObjectPath:    fmd.TargetProperty,
			TargetEntityClass:   fmd.CollectionCeilingEntity,
			SortField:           fmd.SortProperty,
			SortAscending:       true,
			MaintainedFields:    fmd.MaintainedFields,
		}
	case metadata.KindMap:
		p.Type = RequestMap
		p.MapStructure = &MapStructure{
			MapProperty: fmd.Name,
			ValueClass:  fmd.ValueClass,
			ManyToField: fmd.ManyToField,
			KeyProperty: fmd.KeyProperty,
			Keys:        fmd.Keys,
		}
	}
	return p
}
