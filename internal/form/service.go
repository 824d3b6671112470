package form

import (
	"fmt"

	"openadmin/internal/logger"
	"openadmin/internal/metadata"
	"openadmin/internal/persistence"
	"openadmin/internal/reference"
)

// SectionLookup finds the admin section that administers a class.
type SectionLookup interface {
	ByClassName(className string) (reference.Section, bool)
}

// Service turns class metadata and records into list grids and entity forms.
type Service struct {
	registry *metadata.Registry
	sections SectionLookup
	lggr     logger.Logger
}

func NewService(registry *metadata.Registry, sections SectionLookup, lggr logger.Logger) *Service {
	return &Service{registry: registry, sections: sections, lggr: lggr.Named("form")}
}

// field builds an empty form field from metadata.
func (s *Service) field(fmd *metadata.FieldMetadata) *Field {
	f := &Field{
		Name:         fmd.Name,
		FriendlyName: fmd.FriendlyName,
		FieldType:    string(fmd.FieldType),
		Group:        fmd.Group,
		Tab:          fmd.Tab,
		TabOrder:     fmd.TabOrder,
		Order:        fmd.Order,
		Visible:      fmd.Visible,
		ReadOnly:     fmd.ReadOnly,
		Required:     fmd.Required,
		Prominent:    fmd.Prominent,
		Help:         fmd.Help,
		MaxLength:    fmd.MaxLength,
		Options:      fmd.EnumOptions,
		OwningClass:  fmd.OwningClass,
	}
	if fmd.FieldType == metadata.FieldTypeForeignKey {
		f.ForeignKeyClass = fmd.ForeignKeyClass
		if s.sections != nil {
			if sec, ok := s.sections.ByClassName(fmd.ForeignKeyClass); ok {
				f.ForeignKeySection = sec.Key
			}
		}
	}
	return f
}

// headerFields picks the grid columns of a class: prominent fields, or the
// first visible basic field when none is prominent.
func (s *Service) headerFields(cmd *metadata.ClassMetadata, exclude ...string) []*Field {
	skip := map[string]bool{}
	for _, e := range exclude {
		if e != "" {
			skip[e] = true
		}
	}
	var out []*Field
	for _, fmd := range cmd.ProminentFields() {
		if !skip[fmd.Name] {
			out = append(out, s.field(fmd))
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, p := range cmd.Properties {
		fmd := p.Metadata
		if fmd.Kind == metadata.KindBasic && fmd.Visible && !fmd.System && !skip[fmd.Name] {
			return []*Field{s.field(fmd)}
		}
	}
	return nil
}

func (s *Service) gridRecord(ent *persistence.Entity, headers []*Field, index int) *ListGridRecord {
	rec := &ListGridRecord{
		ID:        ent.ID(),
		AltID:     ent.Value(metadata.AlternateIDProp),
		ClassName: ent.ClassName(),
		Index:     index,
	}
	for _, h := range headers {
		cell := *h
		cell.Errors = nil
		if p := ent.FindProperty(h.Name); p != nil {
			cell.Value = p.Value
			cell.DisplayValue = p.DisplayValue
			cell.Dirty = p.IsDirty
			rec.Dirty = rec.Dirty || p.IsDirty
		}
		rec.Fields = append(rec.Fields, &cell)
	}
	return rec
}

func (s *Service) fillGrid(lg *ListGrid, drs *persistence.DynamicResultSet) {
	if drs == nil {
		return
	}
	lg.TotalRecords = drs.TotalRecords
	lg.StartIndex = drs.StartIndex
	lg.PageSize = drs.PageSize
	lg.FirstID = drs.FirstID
	lg.LastID = drs.LastID
	lg.UpperCount = drs.UpperCount
	lg.LowerCount = drs.LowerCount
	for i, ent := range drs.Records {
		lg.Records = append(lg.Records, s.gridRecord(ent, lg.HeaderFields, drs.StartIndex+i))
	}
}

// BuildMainListGrid builds the listing grid of a section.
func (s *Service) BuildMainListGrid(drs *persistence.DynamicResultSet, cmd *metadata.ClassMetadata, sectionKey string, crumbs []persistence.SectionCrumb) *ListGrid {
	lg := &ListGrid{
		ClassName:        cmd.CeilingType,
		FriendlyName:     cmd.FriendlyName,
		Type:             GridMain,
		SelectType:       SelectSingle,
		SectionKey:       sectionKey,
		Path:             "/" + sectionKey,
		SectionCrumbs:    persistence.FormatSectionCrumbs(crumbs),
		HeaderFields:     s.headerFields(cmd),
		CanFilterAndSort: true,
	}
	s.fillGrid(lg, drs)
	return lg
}

// BuildCollectionListGrid builds the grid of one collection field of the
// record containingID.
func (s *Service) BuildCollectionListGrid(containingID string, drs *persistence.DynamicResultSet, prop *metadata.Property,
	sectionKey string, crumbs []persistence.SectionCrumb) (*ListGrid, error) {
	if prop == nil || prop.Metadata == nil || !prop.Metadata.IsCollection() {
		return nil, fmt.Errorf("%w: not a collection", persistence.ErrUnsupportedCollection)
	}
	fmd := prop.Metadata
	var cmd *metadata.ClassMetadata
	if drs != nil {
		cmd = drs.ClassMetadata
	}
	if cmd == nil {
		class := fmd.CollectionCeilingEntity
		if fmd.Kind == metadata.KindMap {
			class = fmd.ValueClass
		}
		var err error
		if cmd, err = s.registry.ClassMetadata(class); err != nil {
			return nil, err
		}
	}

	lg := &ListGrid{
		ClassName:          cmd.CeilingType,
		FriendlyName:       fmd.FriendlyName,
		SectionKey:         sectionKey,
		Path:               "/" + sectionKey + "/" + containingID + "/" + fmd.Name,
		SubCollectionField: fmd.Name,
		ContainingEntityID: containingID,
		SectionCrumbs:      persistence.FormatSectionCrumbs(crumbs),
		SelectType:         SelectSingle,
		ToolbarActions:     []*ListGridAction{GridActionAdd},
		RowActions:         []*ListGridAction{GridActionRemove},
	}

	switch fmd.Kind {
	case metadata.KindBasicCollection:
		lg.Type = GridBasic
		lg.HeaderFields = s.headerFields(cmd, fmd.ManyToField, fmd.SortProperty)
		if fmd.AddMethod == metadata.AddSelectizeLookup {
			lg.SelectType = SelectSelectize
		}
		if fmd.AddMethod == metadata.AddPersist || fmd.AddMethod == metadata.AddPersistEmpty {
			lg.RowActions = []*ListGridAction{GridActionUpdate, GridActionRemove}
		}
		lg.Sortable = fmd.SortProperty != ""
	case metadata.KindAdornedTarget:
		lg.Type = GridAdorned
		lg.HeaderFields = s.headerFields(cmd)
		jmd, err := s.registry.ClassMetadata(fmd.JoinEntityClass)
		if err != nil {
			return nil, err
		}
		for _, m := range fmd.MaintainedFields {
			if p, ok := jmd.Property(m); ok {
				lg.HeaderFields = append(lg.HeaderFields, s.field(p.Metadata))
			}
		}
		if len(fmd.MaintainedFields) > 0 {
			lg.Type = GridAdornedWithForm
			lg.RowActions = []*ListGridAction{GridActionUpdate, GridActionRemove}
		}
		lg.Sortable = fmd.SortProperty != ""
	case metadata.KindMap:
		lg.Type = GridMap
		lg.HeaderFields = append([]*Field{s.keyField(fmd, cmd)}, s.headerFields(cmd, fmd.ManyToField, fmd.KeyProperty)...)
		lg.RowActions = []*ListGridAction{GridActionUpdate, GridActionRemove}
	}
	if lg.Sortable {
		lg.RowActions = append(lg.RowActions, GridActionReorder)
	}
	s.fillGrid(lg, drs)
	if fmd.ReadOnly {
		lg.SetReadOnly()
	}
	return lg, nil
}

// keyField is the key column or input of a map collection.
func (s *Service) keyField(fmd *metadata.FieldMetadata, vmd *metadata.ClassMetadata) *Field {
	f := &Field{
		Name:         metadata.MapKeyProperty,
		FriendlyName: "Key",
		FieldType:    string(metadata.FieldTypeString),
		Group:        metadata.DefaultGroup,
		Tab:          metadata.DefaultTab,
		Order:        -1,
		Visible:      true,
		Required:     true,
		Prominent:    true,
	}
	if vmd != nil {
		if p, ok := vmd.Property(fmd.KeyProperty); ok {
			f.FriendlyName = p.Metadata.FriendlyName
		}
	}
	if len(fmd.Keys) > 0 {
		f.FieldType = string(metadata.FieldTypeEnumeration)
		f.Options = fmd.Keys
	}
	return f
}

// CreateEntityForm builds the form of cmd for sectionKey. A nil ent gives an
// add form; otherwise the form is filled from ent and subRecords.
func (s *Service) CreateEntityForm(cmd *metadata.ClassMetadata, sectionKey string, ent *persistence.Entity,
	subRecords map[string]*persistence.DynamicResultSet, crumbs []persistence.SectionCrumb) (*EntityForm, error) {
	ef := NewEntityForm(cmd.CeilingType)
	ef.SectionKey = sectionKey
	ef.MainEntityName = cmd.FriendlyName
	if ent == nil {
		s.PopulateEntityForm(cmd, ef, crumbs)
		ef.AddAction(ActionSave)
		return ef, nil
	}
	if err := s.PopulateEntityFormWithRecords(cmd, ent, subRecords, ef, crumbs); err != nil {
		return nil, err
	}
	ef.AddAction(ActionSave)
	ef.AddAction(ActionDelete)
	if !cmd.NoDuplicate {
		if emd, err := s.registry.ClassMetadata(ent.ClassName()); err == nil && !emd.NoDuplicate {
			ef.AddAction(ActionDuplicate)
		}
	}
	if cmd.IsReadOnly() {
		ef.SetReadOnly()
		ef.RemoveAllActions()
	}
	return ef, nil
}

// PopulateEntityForm adds a field for every basic property of cmd. Hidden
// properties and the id become hidden fields.
func (s *Service) PopulateEntityForm(cmd *metadata.ClassMetadata, ef *EntityForm, crumbs []persistence.SectionCrumb) {
	ef.SectionCrumbs = persistence.FormatSectionCrumbs(crumbs)
	for _, p := range cmd.Properties {
		fmd := p.Metadata
		if fmd.Kind != metadata.KindBasic {
			continue
		}
		f := s.field(fmd)
		if cmd.IsReadOnly() {
			f.ReadOnly = true
		}
		if !fmd.Visible || fmd.Name == metadata.IDProperty {
			ef.AddHiddenField(f)
			continue
		}
		ef.AddField(f)
	}
}

// PopulateEntityFormWithRecords fills ef from ent and adds a grid for every
// collection found in subRecords. Collections without records get an
// unselected tab that is loaded on demand.
func (s *Service) PopulateEntityFormWithRecords(cmd *metadata.ClassMetadata, ent *persistence.Entity,
	subRecords map[string]*persistence.DynamicResultSet, ef *EntityForm, crumbs []persistence.SectionCrumb) error {
	s.PopulateEntityForm(cmd, ef, crumbs)
	s.PopulateEntityFormFieldValues(cmd, ent, ef)
	for _, p := range cmd.Properties {
		fmd := p.Metadata
		if !fmd.IsCollection() || !fmd.ApplicableTo(s.registry, ent.ClassName()) {
			continue
		}
		drs, ok := subRecords[fmd.Name]
		if !ok {
			s.lggr.Debugw("collection not loaded", "class", cmd.CeilingType, "field", fmd.Name)
			t := ef.tab(fmd.Tab, fmd.TabOrder)
			if len(t.Groups) == 0 && len(t.ListGrids) == 0 {
				t.Unselected = true
			}
			continue
		}
		lg, err := s.BuildCollectionListGrid(ent.ID(), drs, p, ef.SectionKey, crumbs)
		if err != nil {
			return err
		}
		t := ef.tab(fmd.Tab, fmd.TabOrder)
		t.Unselected = false
		ef.AddListGrid(lg, t.Title, t.Order)

		if fmd.Kind == metadata.KindBasicCollection && fmd.AddMethod == metadata.AddLookup {
			info, err := s.BuildSelectizeCollectionInfo(ent.ID(), drs, p, ef.SectionKey, crumbs)
			if err != nil {
				return err
			}
			if ef.Selectize == nil {
				ef.Selectize = map[string]map[string]any{}
			}
			ef.Selectize[fmd.Name] = info
		}
	}
	s.RemoveNonApplicableFields(cmd, ef, ent.ClassName())
	return nil
}

// PopulateEntityFormFieldValues copies the values of ent's basic properties
// into ef and takes over its id and concrete type.
func (s *Service) PopulateEntityFormFieldValues(cmd *metadata.ClassMetadata, ent *persistence.Entity, ef *EntityForm) {
	if ent.ClassName() != "" {
		ef.EntityType = ent.ClassName()
	}
	ef.ID = ent.ID()
	for _, p := range cmd.Properties {
		if p.Metadata.Kind != metadata.KindBasic {
			continue
		}
		prop := ent.FindProperty(p.Name)
		f := ef.FindField(p.Name)
		if prop == nil || f == nil {
			continue
		}
		f.Value = prop.Value
		f.DisplayValue = prop.DisplayValue
		f.Dirty = prop.IsDirty
	}
}

// PopulateEntityFormFields copies every property of ent that ef has a field
// for. populateType and populateID also take over the type and id.
func (s *Service) PopulateEntityFormFields(ef *EntityForm, ent *persistence.Entity, populateType, populateID bool) {
	for _, p := range ent.Properties {
		if f := ef.FindField(p.Name); f != nil {
			f.Value = p.Value
			f.DisplayValue = p.DisplayValue
			f.Dirty = p.IsDirty
		}
	}
	if populateType && ent.ClassName() != "" {
		ef.EntityType = ent.ClassName()
	}
	if populateID {
		ef.ID = ent.ID()
	}
}

// PopulateAdornedEntityFormFields copies the join fields of an adorned item
// and records the target and join row ids.
func (s *Service) PopulateAdornedEntityFormFields(ef *EntityForm, ent *persistence.Entity, al *persistence.AdornedTargetList) {
	names := append([]string{}, al.MaintainedFields...)
	if al.SortField != "" {
		names = append(names, al.SortField)
	}
	for _, name := range names {
		if f := ef.FindField(name); f != nil {
			f.Value = ent.Value(name)
		}
	}
	if f := ef.FindField(metadata.AdornedTargetProp); f != nil {
		f.Value = ent.ID()
	}
	if f := ef.FindField(metadata.AlternateIDProp); f != nil {
		f.Value = ent.Value(metadata.AlternateIDProp)
	}
}

// PopulateMapEntityFormFields fills the key and remembers it as the prior key
// so a rename can find the original entry.
func (s *Service) PopulateMapEntityFormFields(ef *EntityForm, ent *persistence.Entity) {
	key := ent.FindProperty(metadata.MapKeyProperty)
	if key == nil {
		return
	}
	if f := ef.FindField(metadata.MapKeyProperty); f != nil {
		f.Value = key.Value
		f.DisplayValue = key.DisplayValue
	}
	if f := ef.FindField(FieldPriorKey); f != nil {
		f.Value = key.Value
	}
}

// RemoveNonApplicableFields drops fields and grids declared by classes that
// entityType does not inherit from.
func (s *Service) RemoveNonApplicableFields(cmd *metadata.ClassMetadata, ef *EntityForm, entityType string) {
	if entityType == "" {
		return
	}
	for _, p := range cmd.Properties {
		if p.Metadata.ApplicableTo(s.registry, entityType) {
			continue
		}
		if p.Metadata.IsCollection() {
			ef.RemoveListGrid(p.Name)
			continue
		}
		ef.RemoveField(p.Name)
	}
	ef.EntityType = entityType
}

// BuildAdornedListForm builds the form editing the join fields of an adorned
// collection item.
func (s *Service) BuildAdornedListForm(fmd *metadata.FieldMetadata, al *persistence.AdornedTargetList, parentID string,
	readOnly bool, crumbs []persistence.SectionCrumb) (*EntityForm, error) {
	jmd, err := s.registry.ClassMetadata(al.JoinEntityClass)
	if err != nil {
		return nil, err
	}
	ef := NewEntityForm(al.JoinEntityClass)
	ef.MainEntityName = fmd.FriendlyName
	ef.ParentID = parentID
	ef.SectionCrumbs = persistence.FormatSectionCrumbs(crumbs)
	ef.AddHiddenField(&Field{Name: metadata.AdornedTargetProp, FieldType: string(metadata.FieldTypeID)})
	ef.AddHiddenField(&Field{Name: metadata.AlternateIDProp, FieldType: string(metadata.FieldTypeID)})
	for _, name := range al.MaintainedFields {
		p, ok := jmd.Property(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", metadata.ErrUnknownField, al.JoinEntityClass, name)
		}
		f := s.field(p.Metadata)
		f.Visible = true
		f.Tab, f.TabOrder = metadata.DefaultTab, 0
		ef.AddField(f)
	}
	if al.SortField != "" {
		if p, ok := jmd.Property(al.SortField); ok {
			ef.AddHiddenField(s.field(p.Metadata))
		}
	}
	ef.AddAction(ActionSave)
	if readOnly {
		ef.SetReadOnly()
		ef.RemoveAllActions()
	}
	return ef, nil
}

// BuildMapForm builds the form of a map entry: the key, the value class's
// visible fields and the prior key.
func (s *Service) BuildMapForm(fmd *metadata.FieldMetadata, ms *persistence.MapStructure, vmd *metadata.ClassMetadata, parentID string) (*EntityForm, error) {
	if vmd == nil {
		var err error
		if vmd, err = s.registry.ClassMetadata(ms.ValueClass); err != nil {
			return nil, err
		}
	}
	ef := NewEntityForm(ms.ValueClass)
	ef.MainEntityName = fmd.FriendlyName
	ef.ParentID = parentID
	ef.AddField(s.keyField(fmd, vmd))
	for _, p := range vmd.Properties {
		vf := p.Metadata
		if vf.Kind != metadata.KindBasic || vf.System || !vf.Visible || p.Name == ms.ManyToField || p.Name == ms.KeyProperty {
			continue
		}
		f := s.field(vf)
		f.Tab, f.TabOrder = metadata.DefaultTab, 0
		ef.AddField(f)
	}
	ef.AddHiddenField(&Field{Name: metadata.IDProperty, FieldType: string(metadata.FieldTypeID)})
	ef.AddHiddenField(&Field{Name: FieldPriorKey, FieldType: string(metadata.FieldTypeString)})
	ef.AddAction(ActionSave)
	return ef, nil
}

// SelectizeOption is one entry of a selectize drop-down.
type SelectizeOption struct {
	ID     string            `json:"id"`
	Label  string            `json:"label"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (s *Service) selectizeOption(ent *persistence.Entity, headers []*Field) SelectizeOption {
	opt := SelectizeOption{ID: ent.ID(), Fields: map[string]string{}}
	for _, h := range headers {
		p := ent.FindProperty(h.Name)
		if p == nil {
			continue
		}
		v := p.Value
		if p.DisplayValue != "" {
			v = p.DisplayValue
		}
		opt.Fields[h.Name] = v
		if opt.Label == "" {
			opt.Label = v
		}
	}
	if opt.Label == "" {
		opt.Label = opt.ID
	}
	return opt
}

// ConstructSelectizeOptionMap renders a page of records as selectize options.
func (s *Service) ConstructSelectizeOptionMap(drs *persistence.DynamicResultSet, cmd *metadata.ClassMetadata) map[string]any {
	headers := s.headerFields(cmd)
	options := make([]SelectizeOption, 0, len(drs.Records))
	for _, ent := range drs.Records {
		options = append(options, s.selectizeOption(ent, headers))
	}
	return map[string]any{"options": options}
}

// BuildSelectizeCollectionInfo describes a selectize collection widget: its
// current members and the endpoints it talks to.
func (s *Service) BuildSelectizeCollectionInfo(containingID string, drs *persistence.DynamicResultSet, prop *metadata.Property,
	sectionKey string, crumbs []persistence.SectionCrumb) (map[string]any, error) {
	if prop == nil || prop.Metadata == nil || !prop.Metadata.IsCollection() {
		return nil, fmt.Errorf("%w: not a collection", persistence.ErrUnsupportedCollection)
	}
	fmd := prop.Metadata
	cmd := drs.ClassMetadata
	if cmd == nil {
		var err error
		if cmd, err = s.registry.ClassMetadata(fmd.CollectionCeilingEntity); err != nil {
			return nil, err
		}
	}
	headers := s.headerFields(cmd, fmd.ManyToField)
	selected := make([]SelectizeOption, 0, len(drs.Records))
	for _, ent := range drs.Records {
		selected = append(selected, s.selectizeOption(ent, headers))
	}
	base := "/" + sectionKey + "/" + containingID + "/" + fmd.Name
	info := map[string]any{
		"field":           fmd.Name,
		"friendlyName":    fmd.FriendlyName,
		"selectizeUrl":    base + "/selectize",
		"selectizeAddUrl": base + "/selectize-add",
		"removeUrl":       base,
		"selectedOptions": selected,
		"readOnly":        fmd.ReadOnly,
	}
	if c := persistence.FormatSectionCrumbs(crumbs); c != "" {
		info["sectionCrumbs"] = c
	}
	return info, nil
}
