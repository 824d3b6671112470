package api

import (
	"fmt"
	"slices"
	"strings"

	"openadmin/internal/metadata"
	"openadmin/internal/reference"
)

// LintIssue is one inconsistency between the class model and the sections.
type LintIssue struct {
	Class   string `json:"class,omitempty"`
	Field   string `json:"field,omitempty"`
	Section string `json:"section,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Lint checks the class model and the section registry for contradictions
// that the loaders accept but the console cannot serve.
func Lint(src MetadataSource, sections []reference.Section) []LintIssue {
	var issues []LintIssue
	classes := src.ClassNames()
	known := func(name string) bool { return slices.Contains(classes, name) }

	for _, className := range classes {
		cmd, err := src.ClassMetadata(className)
		if err != nil {
			issues = append(issues, LintIssue{Class: className, Code: "class_unreadable", Message: err.Error()})
			continue
		}
		for _, p := range cmd.Properties {
			issues = append(issues, lintField(className, p.Metadata, known, src)...)
		}
	}

	seen := map[string]bool{}
	for _, s := range sections {
		if seen[s.Key] {
			issues = append(issues, LintIssue{Section: s.Key, Code: "section_duplicate", Message: "section key is used more than once"})
		}
		seen[s.Key] = true
		if !known(s.ClassName) {
			issues = append(issues, LintIssue{
				Section: s.Key,
				Class:   s.ClassName,
				Code:    "section_class_unknown",
				Message: fmt.Sprintf("section administers unknown class %q", s.ClassName),
			})
		}
	}
	return issues
}

func lintField(className string, f *metadata.FieldMetadata, known func(string) bool, src MetadataSource) []LintIssue {
	var issues []LintIssue
	add := func(code, format string, args ...any) {
		issues = append(issues, LintIssue{Class: className, Field: f.Name, Code: code, Message: fmt.Sprintf(format, args...)})
	}
	// inherited fields are checked on their owning class
	if f.OwningClass != "" && f.OwningClass != className {
		return nil
	}

	switch f.Kind {
	case metadata.KindBasic:
		if f.FieldType != metadata.FieldTypeForeignKey {
			break
		}
		switch od := strings.ToLower(strings.TrimSpace(f.OnDelete)); od {
		case "", "restrict", "set_null", "cascade":
			if f.Required && od == "set_null" {
				add("required_conflicts_on_delete", "required reference cannot use on_delete=set_null")
			}
		default:
			add("on_delete_unknown", "unknown on_delete policy %q (allowed: restrict|set_null|cascade)", od)
		}
		if !known(f.ForeignKeyClass) {
			add("ref_target_unknown", "reference to unknown class %q", f.ForeignKeyClass)
		}
	case metadata.KindBasicCollection:
		if !known(f.CollectionCeilingEntity) {
			add("collection_target_unknown", "collection of unknown class %q", f.CollectionCeilingEntity)
			break
		}
		if f.SortProperty != "" && !hasProperty(src, f.CollectionCeilingEntity, f.SortProperty) {
			add("sort_property_unknown", "%s has no property %q", f.CollectionCeilingEntity, f.SortProperty)
		}
	case metadata.KindAdornedTarget:
		if !known(f.JoinEntityClass) {
			add("join_class_unknown", "adorned collection joins through unknown class %q", f.JoinEntityClass)
			break
		}
		for _, m := range f.MaintainedFields {
			if !hasProperty(src, f.JoinEntityClass, m) {
				add("maintained_field_unknown", "%s has no property %q", f.JoinEntityClass, m)
			}
		}
		if f.SortProperty != "" && !hasProperty(src, f.JoinEntityClass, f.SortProperty) {
			add("sort_property_unknown", "%s has no property %q", f.JoinEntityClass, f.SortProperty)
		}
	case metadata.KindMap:
		if !known(f.ValueClass) {
			add("map_value_unknown", "map of unknown class %q", f.ValueClass)
			break
		}
		if !hasProperty(src, f.ValueClass, f.KeyProperty) {
			add("map_key_unknown", "%s has no key property %q", f.ValueClass, f.KeyProperty)
		}
	}
	return issues
}

func hasProperty(src MetadataSource, className, name string) bool {
	cmd, err := src.ClassMetadata(className)
	if err != nil {
		return false
	}
	_, ok := cmd.Property(name)
	return ok
}
