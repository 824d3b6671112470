package persistence

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"openadmin/internal/metadata"
)

var (
	ErrNotFound              = errors.New("record not found")
	ErrUnsupportedCollection = errors.New("unsupported collection type")
	ErrVersionConflict       = errors.New("version conflict")
	ErrNoDuplicate           = errors.New("class does not allow duplication")
)

// Property is one string-valued property of an Entity.
type Property struct {
	Name         string `json:"name"`
	Value        string `json:"value"`
	DisplayValue string `json:"displayValue,omitempty"`
	IsDirty      bool   `json:"isDirty,omitempty"`
}

// Entity is a single record as seen by the admin layer.
type Entity struct {
	Type                     []string            `json:"type"`
	Properties               []*Property         `json:"properties"`
	ValidationFailure        bool                `json:"validationFailure,omitempty"`
	PropertyValidationErrors map[string][]string `json:"propertyValidationErrors,omitempty"`
	GlobalValidationErrors   []string            `json:"globalValidationErrors,omitempty"`
	PreAdd                   bool                `json:"preAdd,omitempty"`
}

func (e *Entity) PMap() map[string]*Property {
	m := make(map[string]*Property, len(e.Properties))
	for _, p := range e.Properties {
		m[p.Name] = p
	}
	return m
}

func (e *Entity) FindProperty(name string) *Property {
	for _, p := range e.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Value returns the property value or "".
func (e *Entity) Value(name string) string {
	if p := e.FindProperty(name); p != nil {
		return p.Value
	}
	return ""
}

func (e *Entity) ID() string { return e.Value(metadata.IDProperty) }

// ClassName is the concrete type of the record.
func (e *Entity) ClassName() string {
	if len(e.Type) == 0 {
		return ""
	}
	return e.Type[0]
}

func (e *Entity) SetProperty(name, value string) *Property {
	if p := e.FindProperty(name); p != nil {
		p.Value = value
		return p
	}
	p := &Property{Name: name, Value: value}
	e.Properties = append(e.Properties, p)
	return p
}

func (e *Entity) AddValidationError(field, code string) {
	e.ValidationFailure = true
	if e.PropertyValidationErrors == nil {
		e.PropertyValidationErrors = map[string][]string{}
	}
	e.PropertyValidationErrors[field] = append(e.PropertyValidationErrors[field], code)
}

func (e *Entity) AddGlobalValidationError(code string) {
	e.ValidationFailure = true
	e.GlobalValidationErrors = append(e.GlobalValidationErrors, code)
}

// DirtyProperties lists properties changed by the last write.
func (e *Entity) DirtyProperties() []string {
	var out []string
	for _, p := range e.Properties {
		if p.IsDirty {
			out = append(out, p.Name)
		}
	}
	return out
}

// DynamicResultSet is a page of records together with their metadata.
type DynamicResultSet struct {
	ClassMetadata         *metadata.ClassMetadata          `json:"classMetadata,omitempty"`
	Records               []*Entity                        `json:"records"`
	TotalRecords          int                              `json:"totalRecords"`
	StartIndex            int                              `json:"startIndex"`
	PageSize              int                              `json:"pageSize"`
	FirstID               string                           `json:"firstId,omitempty"`
	LastID                string                           `json:"lastId,omitempty"`
	UpperCount            int                              `json:"upperCount"`
	LowerCount            int                              `json:"lowerCount"`
	UnselectedTabMetadata map[string]*metadata.TabMetadata `json:"unselectedTabMetadata,omitempty"`
}

// First returns the first record or nil.
func (d *DynamicResultSet) First() *Entity {
	if d == nil || len(d.Records) == 0 {
		return nil
	}
	return d.Records[0]
}

type PersistenceResponse struct {
	Entity           *Entity           `json:"entity,omitempty"`
	DynamicResultSet *DynamicResultSet `json:"dynamicResultSet,omitempty"`
	AdditionalData   map[string]any    `json:"additionalData,omitempty"`
}

// Submission carries posted values for an add or update.
// An empty value clears the property.
type Submission struct {
	EntityType    string            `json:"entityType"`
	CeilingEntity string            `json:"ceilingEntity"`
	ID            string            `json:"id,omitempty"`
	ParentID      string            `json:"parentId,omitempty"`
	Values        map[string]string `json:"values"`
}

func (s *Submission) Get(name string) (string, bool) {
	if s == nil || s.Values == nil {
		return "", false
	}
	v, ok := s.Values[name]
	return v, ok
}

// ValidationError carries an entity that failed validation through an error return.
type ValidationError struct {
	Entity *Entity
}

func (e *ValidationError) Error() string {
	var codes []string
	for field, errs := range e.Entity.PropertyValidationErrors {
		for _, c := range errs {
			codes = append(codes, field+": "+c)
		}
	}
	codes = append(codes, e.Entity.GlobalValidationErrors...)
	sort.Strings(codes)
	return "validation failed: " + strings.Join(codes, ", ")
}

// RecordError reports a record missing from a class.
func RecordError(className, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, className, id)
}
