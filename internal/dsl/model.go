package dsl

import "strings"

// Entity describes one entity declared in the DSL.
type Entity struct {
	Module      string
	Name        string
	Extends     string            // parent entity name, empty for roots
	Options     map[string]string // @label, @auditable, @noduplicate, @readonly
	Fields      []Field
	Constraints Constraints
}

type Constraints struct {
	Unique [][]string
}

// Field describes one field of an entity.
type Field struct {
	Name      string
	Type      string            // string, text, int, float, money, bool, date, datetime, enum, ref, collection, adorned, map
	Enum      []string          // inline enum values
	RefTarget string            // ref/collection/adorned/map target entity
	Options   map[string]string // required, unique, default, label, group, tab, ...
}

const (
	TypeCollection = "collection"
	TypeAdorned    = "adorned"
	TypeMap        = "map"
	TypeRef        = "ref"
	TypeEnum       = "enum"
)

// FQN returns "module.Name".
func (e *Entity) FQN() string { return e.Module + "." + e.Name }

func (e *Entity) Option(name string) (string, bool) {
	if e.Options == nil {
		return "", false
	}
	v, ok := e.Options[strings.ToLower(name)]
	return v, ok
}

func (e *Entity) Flag(name string) bool {
	v, ok := e.Option(name)
	return ok && !strings.EqualFold(v, "false")
}

// Virtual reports whether the field has no storage column of its own.
func (f Field) Virtual() bool {
	switch f.Type {
	case TypeCollection, TypeAdorned, TypeMap:
		return true
	}
	return false
}

func (f Field) Option(name string) string {
	if f.Options == nil {
		return ""
	}
	return f.Options[strings.ToLower(name)]
}

func (f Field) Flag(name string) bool {
	if f.Options == nil {
		return false
	}
	v, ok := f.Options[strings.ToLower(name)]
	return ok && !strings.EqualFold(v, "false")
}

// ListOption splits a comma separated option value.
func (f Field) ListOption(name string) []string {
	raw := f.Option(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
