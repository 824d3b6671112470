package metadata

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"openadmin/internal/dsl"
	"openadmin/internal/reference"
)

var (
	ErrUnknownClass = errors.New("unknown class")
	ErrUnknownField = errors.New("unknown field")
)

// Registry holds class metadata derived from the DSL.
type Registry struct {
	entities map[string]*dsl.Entity
	enums    map[string]reference.EnumDirectory
	children map[string][]string
	classes  map[string]*ClassMetadata
}

// NewRegistry resolves references and builds metadata for every entity.
func NewRegistry(entities map[string]*dsl.Entity, enums map[string]reference.EnumDirectory) (*Registry, error) {
	r := &Registry{
		entities: entities,
		enums:    enums,
		children: map[string][]string{},
		classes:  map[string]*ClassMetadata{},
	}
	if r.enums == nil {
		r.enums = map[string]reference.EnumDirectory{}
	}
	for _, fqn := range r.ClassNames() {
		e := entities[fqn]
		if e.Extends == "" {
			continue
		}
		parent, err := r.qualify(e, e.Extends)
		if err != nil {
			return nil, fmt.Errorf("extends: %w", err)
		}
		e.Extends = parent
		r.children[parent] = append(r.children[parent], fqn)
	}
	for _, fqn := range r.ClassNames() {
		md, err := r.build(fqn)
		if err != nil {
			return nil, err
		}
		r.classes[fqn] = md
	}
	return r, nil
}

func (r *Registry) ClassNames() []string {
	out := make([]string, 0, len(r.entities))
	for k := range r.entities {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Entity(className string) (*dsl.Entity, bool) {
	e, ok := r.entities[className]
	return e, ok
}

func (r *Registry) Enum(name string) (reference.EnumDirectory, bool) {
	d, ok := r.enums[name]
	return d, ok
}

// ClassMetadata returns metadata for className covering its whole hierarchy.
func (r *Registry) ClassMetadata(className string) (*ClassMetadata, error) {
	md, ok := r.classes[className]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, className)
	}
	return md, nil
}

// Resolve maps a user supplied name ("module.Name", "name") to an FQN.
// Without a module the name must be unique across modules.
func (r *Registry) Resolve(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if _, ok := r.entities[raw]; ok {
		return raw, true
	}
	module, name := "", raw
	if i := strings.LastIndexByte(raw, '.'); i > 0 {
		module, name = raw[:i], raw[i+1:]
	}
	var found string
	for fqn, e := range r.entities {
		if !strings.EqualFold(e.Name, name) {
			continue
		}
		if module != "" {
			if strings.EqualFold(e.Module, module) {
				return fqn, true
			}
			continue
		}
		if found != "" {
			return "", false
		}
		found = fqn
	}
	return found, found != ""
}

// Ancestors returns className followed by its parents up to the root.
func (r *Registry) Ancestors(className string) []string {
	var out []string
	for cur := className; cur != ""; {
		e, ok := r.entities[cur]
		if !ok {
			break
		}
		out = append(out, cur)
		cur = e.Extends
	}
	return out
}

// Root returns the top of className's hierarchy.
func (r *Registry) Root(className string) string {
	anc := r.Ancestors(className)
	if len(anc) == 0 {
		return className
	}
	return anc[len(anc)-1]
}

// Descendants returns className and every subclass in pre-order.
func (r *Registry) Descendants(className string) []string {
	out := []string{className}
	for _, c := range r.children[className] {
		out = append(out, r.Descendants(c)...)
	}
	return out
}

// IsA reports whether className is ancestor or one of its subclasses.
func (r *Registry) IsA(className, ancestor string) bool {
	for _, a := range r.Ancestors(className) {
		if a == ancestor {
			return true
		}
	}
	return false
}

func (r *Registry) friendlyName(className string) string {
	if e, ok := r.entities[className]; ok {
		if l, ok := e.Option("label"); ok && l != "" {
			return l
		}
		return e.Name
	}
	return className
}

func (r *Registry) tree(className string) *ClassTree {
	t := &ClassTree{FullyQualifiedClassname: className, FriendlyName: r.friendlyName(className)}
	for _, c := range r.children[className] {
		t.Children = append(t.Children, r.tree(c))
	}
	return t
}

func (r *Registry) qualify(owner *dsl.Entity, target string) (string, error) {
	if !strings.Contains(target, ".") {
		target = owner.Module + "." + target
	}
	fqn, ok := r.Resolve(target)
	if !ok {
		return "", fmt.Errorf("%s: %w %s", owner.FQN(), ErrUnknownClass, target)
	}
	return fqn, nil
}

// StoredFields returns the column fields of a class hierarchy rooted at rootClass.
func (r *Registry) StoredFields(rootClass string) []*FieldMetadata {
	md, ok := r.classes[rootClass]
	if !ok {
		return nil
	}
	var out []*FieldMetadata
	for _, p := range md.Properties {
		if p.Metadata.Kind == KindBasic && p.Name != IDProperty {
			out = append(out, p.Metadata)
		}
	}
	return out
}

// UniqueSets returns composite unique constraints declared across the hierarchy.
func (r *Registry) UniqueSets(rootClass string) [][]string {
	var out [][]string
	for _, c := range r.Descendants(rootClass) {
		if e, ok := r.entities[c]; ok {
			out = append(out, e.Constraints.Unique...)
		}
	}
	return out
}

func (r *Registry) build(className string) (*ClassMetadata, error) {
	e := r.entities[className]
	md := &ClassMetadata{
		CeilingType:         className,
		FriendlyName:        r.friendlyName(className),
		PolymorphicEntities: r.tree(className),
		Auditable:           e.Flag("auditable"),
		NoDuplicate:         e.Flag("noduplicate"),
		ReadOnly:            e.Flag("readonly"),
	}
	md.Properties = append(md.Properties, &Property{Name: IDProperty, Metadata: &FieldMetadata{
		Name:         IDProperty,
		FriendlyName: "ID",
		FieldType:    FieldTypeID,
		Group:        DefaultGroup,
		Tab:          DefaultTab,
		ReadOnly:     true,
		System:       true,
	}})

	// ancestors first, then the class, then subclasses
	anc := r.Ancestors(className)
	var chain []string
	for i := len(anc) - 1; i > 0; i-- {
		chain = append(chain, anc[i])
	}
	chain = append(chain, r.Descendants(className)...)

	seen := map[string]bool{IDProperty: true}
	for _, owner := range chain {
		oe := r.entities[owner]
		if oe.Flag("auditable") {
			md.Auditable = true
		}
		for _, f := range oe.Fields {
			if seen[f.Name] {
				return nil, fmt.Errorf("%s: field %q redeclared", owner, f.Name)
			}
			seen[f.Name] = true
			fmd, err := r.fieldMetadata(oe, f)
			if err != nil {
				return nil, err
			}
			md.Properties = append(md.Properties, &Property{Name: f.Name, Metadata: fmd})
		}
	}
	if md.Auditable {
		for _, a := range auditFields() {
			md.Properties = append(md.Properties, &Property{Name: a.Name, Metadata: a})
		}
	}
	md.Tabs = buildTabs(md.Properties)
	return md, nil
}

func auditFields() []*FieldMetadata {
	mk := func(name, label string, ft FieldType, order int) *FieldMetadata {
		return &FieldMetadata{
			Name: name, FriendlyName: label, FieldType: ft,
			Group: AuditGroup, Tab: DefaultTab, Order: order,
			Visible: true, ReadOnly: true, System: true,
		}
	}
	return []*FieldMetadata{
		mk(AuditDateCreated, "Date Created", FieldTypeDateTime, 1000),
		mk(AuditCreatedBy, "Created By", FieldTypeString, 2000),
		mk(AuditDateUpdated, "Date Updated", FieldTypeDateTime, 3000),
		mk(AuditUpdatedBy, "Updated By", FieldTypeString, 4000),
	}
}

func (r *Registry) fieldMetadata(owner *dsl.Entity, f dsl.Field) (*FieldMetadata, error) {
	md := &FieldMetadata{
		Name:         f.Name,
		FriendlyName: f.Option("label"),
		OwningClass:  owner.FQN(),
		Group:        f.Option("group"),
		Tab:          f.Option("tab"),
		Visible:      !f.Flag("hidden"),
		Prominent:    f.Flag("prominent"),
		ReadOnly:     f.Flag("readonly") || owner.Flag("readonly"),
		Required:     f.Flag("required"),
		Unique:       f.Flag("unique"),
		Help:         f.Option("help"),
		Default:      f.Option("default"),
		Pattern:      f.Option("pattern"),
		OnDelete:     strings.ToLower(f.Option("on_delete")),
	}
	if md.FriendlyName == "" {
		md.FriendlyName = f.Name
	}
	if md.Group == "" {
		md.Group = DefaultGroup
	}
	if md.Tab == "" {
		md.Tab = DefaultTab
	}
	if n, err := strconv.Atoi(f.Option("order")); err == nil {
		md.Order = n
	}
	if n, err := strconv.Atoi(f.Option("maxlength")); err == nil {
		md.MaxLength = n
	}

	switch f.Type {
	case "string":
		md.FieldType = FieldTypeString
	case "text":
		md.FieldType = FieldTypeText
	case "int":
		md.FieldType = FieldTypeInteger
	case "float":
		md.FieldType = FieldTypeDecimal
	case "money":
		md.FieldType = FieldTypeMoney
	case "bool":
		md.FieldType = FieldTypeBoolean
	case "date":
		md.FieldType = FieldTypeDate
	case "datetime":
		md.FieldType = FieldTypeDateTime
	case dsl.TypeEnum:
		md.FieldType = FieldTypeEnumeration
		for _, v := range f.Enum {
			md.EnumOptions = append(md.EnumOptions, Option{Code: v, Label: v})
		}
		if cat := f.Option("enum"); cat != "" {
			dir, ok := r.enums[cat]
			if !ok {
				return nil, fmt.Errorf("%s.%s: unknown enum catalog %q", owner.FQN(), f.Name, cat)
			}
			md.EnumCatalog = cat
			for _, it := range dir.Items {
				md.EnumOptions = append(md.EnumOptions, Option{Code: it.Code, Label: it.Name})
			}
		}
	case dsl.TypeRef:
		target, err := r.qualify(owner, f.RefTarget)
		if err != nil {
			return nil, err
		}
		md.FieldType = FieldTypeForeignKey
		md.ForeignKeyClass = target
		md.ForeignKeyDisplayProperty = f.Option("display")
		if md.ForeignKeyDisplayProperty == "" {
			md.ForeignKeyDisplayProperty = "name"
		}
	case dsl.TypeCollection:
		target, err := r.qualify(owner, f.RefTarget)
		if err != nil {
			return nil, err
		}
		md.Kind = KindBasicCollection
		md.FieldType = FieldTypeCollection
		md.CollectionCeilingEntity = target
		md.ManyToField = f.Option("via")
		md.SortProperty = f.Option("sort")
		md.AddMethod = AddMethod(strings.ToLower(f.Option("add")))
		switch md.AddMethod {
		case "":
			md.AddMethod = AddPersist
		case AddPersist, AddLookup, AddSelectizeLookup, AddPersistEmpty:
		default:
			return nil, fmt.Errorf("%s.%s: unknown add method %q", owner.FQN(), f.Name, md.AddMethod)
		}
		if err := r.requireRef(target, md.ManyToField); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", owner.FQN(), f.Name, err)
		}
	case dsl.TypeAdorned:
		target, err := r.qualify(owner, f.RefTarget)
		if err != nil {
			return nil, err
		}
		join, err := r.qualify(owner, f.Option("join"))
		if err != nil {
			return nil, err
		}
		md.Kind = KindAdornedTarget
		md.FieldType = FieldTypeCollection
		md.CollectionCeilingEntity = target
		md.JoinEntityClass = join
		md.LinkedProperty = f.Option("linked")
		md.TargetProperty = f.Option("target")
		md.SortProperty = f.Option("sort")
		md.MaintainedFields = f.ListOption("maintained")
		for _, p := range []string{md.LinkedProperty, md.TargetProperty} {
			if err := r.requireRef(join, p); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", owner.FQN(), f.Name, err)
			}
		}
	case dsl.TypeMap:
		target, err := r.qualify(owner, f.RefTarget)
		if err != nil {
			return nil, err
		}
		md.Kind = KindMap
		md.FieldType = FieldTypeCollection
		md.CollectionCeilingEntity = target
		md.ValueClass = target
		md.ManyToField = f.Option("via")
		md.KeyProperty = f.Option("key")
		if md.KeyProperty == "" {
			md.KeyProperty = MapKeyProperty
		}
		for _, kv := range f.ListOption("keys") {
			code, label, _ := strings.Cut(kv, ":")
			if label == "" {
				label = code
			}
			md.Keys = append(md.Keys, Option{Code: strings.TrimSpace(code), Label: strings.TrimSpace(label)})
		}
		if err := r.requireRef(target, md.ManyToField); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", owner.FQN(), f.Name, err)
		}
	}
	return md, nil
}

func (r *Registry) requireRef(className, field string) error {
	e, ok := r.entities[className]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClass, className)
	}
	for _, anc := range r.Ancestors(className) {
		for _, f := range r.entities[anc].Fields {
			if f.Name == field && f.Type == dsl.TypeRef {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s has no ref field %q", ErrUnknownField, e.FQN(), field)
}

func buildTabs(props []*Property) []*TabMetadata {
	var tabs []*TabMetadata
	index := map[string]*TabMetadata{}
	for _, p := range props {
		md := p.Metadata
		if !md.Visible && !md.IsCollection() {
			continue
		}
		t, ok := index[strings.ToLower(md.Tab)]
		if !ok {
			t = &TabMetadata{Name: md.Tab, Order: (len(tabs) + 1) * 100}
			if strings.EqualFold(md.Tab, DefaultTab) {
				t.Order = 0
			}
			index[strings.ToLower(md.Tab)] = t
			tabs = append(tabs, t)
		}
		md.TabOrder = t.Order
		if !md.IsCollection() && !containsFold(t.Groups, md.Group) {
			t.Groups = append(t.Groups, md.Group)
		}
	}
	sort.SliceStable(tabs, func(i, j int) bool { return tabs[i].Order < tabs[j].Order })
	return tabs
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
