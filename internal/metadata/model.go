package metadata

import (
	"sort"
	"strings"
)

// FieldKind tags the structural variant of a field.
type FieldKind int

const (
	KindBasic FieldKind = iota
	KindBasicCollection
	KindAdornedTarget
	KindMap
)

func (k FieldKind) String() string {
	switch k {
	case KindBasicCollection:
		return "basicCollection"
	case KindAdornedTarget:
		return "adornedTargetCollection"
	case KindMap:
		return "map"
	default:
		return "basic"
	}
}

// AddMethod controls how items are added to a basic collection.
type AddMethod string

const (
	AddPersist         AddMethod = "persist"
	AddLookup          AddMethod = "lookup"
	AddSelectizeLookup AddMethod = "selectize_lookup"
	AddPersistEmpty    AddMethod = "persist_empty"
)

type FieldType string

const (
	FieldTypeID          FieldType = "id"
	FieldTypeString      FieldType = "string"
	FieldTypeText        FieldType = "html_basic"
	FieldTypeInteger     FieldType = "integer"
	FieldTypeDecimal     FieldType = "decimal"
	FieldTypeMoney       FieldType = "money"
	FieldTypeBoolean     FieldType = "boolean"
	FieldTypeDate        FieldType = "date"
	FieldTypeDateTime    FieldType = "datetime"
	FieldTypeEnumeration FieldType = "enumeration"
	FieldTypeForeignKey  FieldType = "foreign_key"
	FieldTypeCollection  FieldType = "collection"
)

const (
	DefaultTab   = "General"
	DefaultGroup = "General"
	AuditGroup   = "AdminAuditable_Audit"

	IDProperty        = "id"
	AuditCreatedBy    = "auditable.createdBy"
	AuditUpdatedBy    = "auditable.updatedBy"
	AuditDateCreated  = "auditable.dateCreated"
	AuditDateUpdated  = "auditable.dateUpdated"
	AlternateIDProp   = "__adminAlternateId"
	MapKeyProperty    = "key"
	AdornedTargetProp = "adornedTargetId"
)

type Option struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// FieldMetadata describes a single property of a class.
type FieldMetadata struct {
	Name         string    `json:"name"`
	FriendlyName string    `json:"friendlyName"`
	Kind         FieldKind `json:"kind"`
	FieldType    FieldType `json:"fieldType"`
	OwningClass  string    `json:"owningClass"`

	Group     string `json:"group"`
	Tab       string `json:"tab"`
	TabOrder  int    `json:"tabOrder"`
	Order     int    `json:"order"`
	Visible   bool   `json:"visible"`
	Prominent bool   `json:"prominent"`
	ReadOnly  bool   `json:"readOnly"`
	Required  bool   `json:"required"`
	Unique    bool   `json:"unique"`
	Help      string `json:"help,omitempty"`
	Default   string `json:"default,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	MaxLength int    `json:"maxLength,omitempty"`
	System    bool   `json:"system,omitempty"`

	EnumOptions []Option `json:"enumOptions,omitempty"`
	EnumCatalog string   `json:"enumCatalog,omitempty"`

	// to-one
	ForeignKeyClass           string `json:"foreignKeyClass,omitempty"`
	ForeignKeyDisplayProperty string `json:"foreignKeyDisplayProperty,omitempty"`
	OnDelete                  string `json:"onDelete,omitempty"`

	// collections
	CollectionCeilingEntity string    `json:"collectionCeilingEntity,omitempty"`
	AddMethod               AddMethod `json:"addMethod,omitempty"`
	ManyToField             string    `json:"manyToField,omitempty"`
	SortProperty            string    `json:"sortProperty,omitempty"`

	// adorned target
	JoinEntityClass  string   `json:"joinEntityClass,omitempty"`
	LinkedProperty   string   `json:"linkedProperty,omitempty"`
	TargetProperty   string   `json:"targetProperty,omitempty"`
	MaintainedFields []string `json:"maintainedFields,omitempty"`

	// map
	ValueClass  string   `json:"valueClass,omitempty"`
	KeyProperty string   `json:"keyProperty,omitempty"`
	Keys        []Option `json:"keys,omitempty"`
}

func (f *FieldMetadata) IsCollection() bool { return f.Kind != KindBasic }

// ApplicableTo reports whether the field belongs to className or one of its ancestors.
func (f *FieldMetadata) ApplicableTo(r *Registry, className string) bool {
	if f.System || f.OwningClass == "" {
		return true
	}
	return r.IsA(className, f.OwningClass)
}

type Property struct {
	Name     string         `json:"name"`
	Metadata *FieldMetadata `json:"metadata"`
}

// ClassTree is the polymorphic hierarchy rooted at a class.
type ClassTree struct {
	FullyQualifiedClassname string       `json:"fullyQualifiedClassname"`
	FriendlyName            string       `json:"friendlyName"`
	Children                []*ClassTree `json:"children,omitempty"`
}

func (t *ClassTree) HasChildren() bool { return t != nil && len(t.Children) > 0 }

// Collapse returns the tree in pre-order.
func (t *ClassTree) Collapse() []*ClassTree {
	if t == nil {
		return nil
	}
	out := []*ClassTree{t}
	for _, c := range t.Children {
		out = append(out, c.Collapse()...)
	}
	return out
}

func (t *ClassTree) Find(className string) *ClassTree {
	for _, n := range t.Collapse() {
		if n.FullyQualifiedClassname == className {
			return n
		}
	}
	return nil
}

type TabMetadata struct {
	Name   string   `json:"name"`
	Order  int      `json:"order"`
	Groups []string `json:"groups"`
}

// ClassMetadata is the structural description of a persistable class.
type ClassMetadata struct {
	CeilingType         string         `json:"ceilingType"`
	FriendlyName        string         `json:"friendlyName"`
	Properties          []*Property    `json:"properties"`
	PolymorphicEntities *ClassTree     `json:"polymorphicEntities"`
	Tabs                []*TabMetadata `json:"tabs"`
	Auditable           bool           `json:"auditable"`
	NoDuplicate         bool           `json:"noDuplicate"`
	ReadOnly            bool           `json:"readOnly"`
}

func (c *ClassMetadata) PMap() map[string]*Property {
	m := make(map[string]*Property, len(c.Properties))
	for _, p := range c.Properties {
		m[p.Name] = p
	}
	return m
}

func (c *ClassMetadata) Property(name string) (*Property, bool) {
	for _, p := range c.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// IsReadOnly reports whether the class as a whole rejects edits.
func (c *ClassMetadata) IsReadOnly() bool { return c.ReadOnly }

// AllBasicFieldsReadOnly reports whether no non-system basic field of the
// class accepts input.
func (c *ClassMetadata) AllBasicFieldsReadOnly() bool {
	for _, p := range c.Properties {
		f := p.Metadata
		if f.Kind == KindBasic && !f.System && !f.ReadOnly {
			return false
		}
	}
	return true
}

// TabByName matches case-insensitively; an empty name returns the first tab.
func (c *ClassMetadata) TabByName(name string) (*TabMetadata, bool) {
	if len(c.Tabs) == 0 {
		return nil, false
	}
	if name == "" {
		return c.Tabs[0], true
	}
	for _, t := range c.Tabs {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return nil, false
}

// ProminentFields returns visible basic fields flagged prominent, ordered.
func (c *ClassMetadata) ProminentFields() []*FieldMetadata {
	var out []*FieldMetadata
	for _, p := range c.Properties {
		md := p.Metadata
		if md.Kind == KindBasic && md.Prominent && md.Visible {
			out = append(out, md)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// CollectionsInTab returns collection fields placed on tab.
func (c *ClassMetadata) CollectionsInTab(tab string) []*FieldMetadata {
	var out []*FieldMetadata
	for _, p := range c.Properties {
		if p.Metadata.IsCollection() && strings.EqualFold(p.Metadata.Tab, tab) {
			out = append(out, p.Metadata)
		}
	}
	return out
}
