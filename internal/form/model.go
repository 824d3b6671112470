package form

import (
	"sort"
	"strings"

	"openadmin/internal/metadata"
)

// ListGridType tells templates which collection editor a grid belongs to.
type ListGridType string

const (
	GridMain            ListGridType = "main"
	GridToOne           ListGridType = "toOne"
	GridBasic           ListGridType = "basic"
	GridAdorned         ListGridType = "adorned"
	GridAdornedWithForm ListGridType = "adorned_with_form"
	GridMap             ListGridType = "map"
)

type SelectType string

const (
	SelectNone      SelectType = "none"
	SelectSingle    SelectType = "single_select"
	SelectMulti     SelectType = "multi_select"
	SelectSelectize SelectType = "selectize"
)

const (
	HiddenGroup = "__hidden"

	FieldEntityType = "entityType"
	FieldPriorKey   = "priorKey"
)

// Field is one input of an entity form or one cell of a list grid row.
type Field struct {
	Name         string            `json:"name"`
	FriendlyName string            `json:"friendlyName"`
	FieldType    string            `json:"fieldType"`
	Value        string            `json:"value"`
	DisplayValue string            `json:"displayValue,omitempty"`
	Group        string            `json:"group,omitempty"`
	Tab          string            `json:"tab,omitempty"`
	TabOrder     int               `json:"tabOrder"`
	Order        int               `json:"order"`
	Visible      bool              `json:"visible"`
	ReadOnly     bool              `json:"readOnly,omitempty"`
	Required     bool              `json:"required,omitempty"`
	Prominent    bool              `json:"prominent,omitempty"`
	Dirty        bool              `json:"dirty,omitempty"`
	Help         string            `json:"help,omitempty"`
	MaxLength    int               `json:"maxLength,omitempty"`
	Options      []metadata.Option `json:"options,omitempty"`
	OwningClass  string            `json:"owningClass,omitempty"`

	// to-one fields link to the section that administers the target
	ForeignKeyClass   string `json:"foreignKeyClass,omitempty"`
	ForeignKeySection string `json:"foreignKeySection,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

func (f *Field) HasErrors() bool { return len(f.Errors) > 0 }

type FieldGroup struct {
	Title  string   `json:"title"`
	Order  int      `json:"order"`
	Fields []*Field `json:"fields"`
}

// VisibleFields returns fields a template should draw.
func (g *FieldGroup) VisibleFields() []*Field {
	var out []*Field
	for _, f := range g.Fields {
		if f.Visible {
			out = append(out, f)
		}
	}
	return out
}

type Tab struct {
	Title     string        `json:"title"`
	Order     int           `json:"order"`
	Groups    []*FieldGroup `json:"groups"`
	ListGrids []*ListGrid   `json:"listGrids,omitempty"`
	// Unselected tabs are rendered as links and loaded on demand.
	Unselected bool `json:"unselected,omitempty"`
}

func (t *Tab) HasVisibleContent() bool {
	if len(t.ListGrids) > 0 {
		return true
	}
	for _, g := range t.Groups {
		if len(g.VisibleFields()) > 0 {
			return true
		}
	}
	return false
}

// EntityFormAction is a button on an entity form or a section's main toolbar.
type EntityFormAction struct {
	ID          string `json:"id"`
	DisplayText string `json:"displayText"` // message code
	ButtonClass string `json:"buttonClass,omitempty"`
	URLPostfix  string `json:"urlPostfix,omitempty"`
	IconClass   string `json:"iconClass,omitempty"`
}

var (
	ActionAdd       = &EntityFormAction{ID: "ADD", DisplayText: "action.add", ButtonClass: "add-main-entity", URLPostfix: "/add"}
	ActionSave      = &EntityFormAction{ID: "SAVE", DisplayText: "action.save", ButtonClass: "submit-button"}
	ActionDelete    = &EntityFormAction{ID: "DELETE", DisplayText: "action.delete", ButtonClass: "delete-button", URLPostfix: "/delete"}
	ActionDuplicate = &EntityFormAction{ID: "DUPLICATE", DisplayText: "action.duplicate", ButtonClass: "duplicate-button", URLPostfix: "/duplicate"}
)

type ListGridAction struct {
	ID          string `json:"id"`
	DisplayText string `json:"displayText"`
	ButtonClass string `json:"buttonClass,omitempty"`
	URLPostfix  string `json:"urlPostfix,omitempty"`
	// ForRow actions need a selected record.
	ForRow bool `json:"forRow,omitempty"`
}

var (
	GridActionAdd     = &ListGridAction{ID: "ADD", DisplayText: "action.add", ButtonClass: "sub-list-grid-add", URLPostfix: "/add"}
	GridActionUpdate  = &ListGridAction{ID: "UPDATE", DisplayText: "action.save", ButtonClass: "sub-list-grid-update", ForRow: true}
	GridActionRemove  = &ListGridAction{ID: "REMOVE", DisplayText: "action.delete", ButtonClass: "sub-list-grid-remove", URLPostfix: "/delete", ForRow: true}
	GridActionReorder = &ListGridAction{ID: "REORDER", DisplayText: "action.reorder", ButtonClass: "sub-list-grid-reorder", URLPostfix: "/sequence", ForRow: true}
)

type ListGridRecord struct {
	ID        string   `json:"id"`
	AltID     string   `json:"altId,omitempty"`
	ClassName string   `json:"className,omitempty"`
	Index     int      `json:"index"`
	Fields    []*Field `json:"fields"`
	Hidden    []*Field `json:"hiddenFields,omitempty"`
	Dirty     bool     `json:"dirty,omitempty"`
}

// Field returns the record's cell named name.
func (r *ListGridRecord) Field(name string) *Field {
	for _, f := range r.Fields {
		if f.Name == name {
			return f
		}
	}
	for _, f := range r.Hidden {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ListGrid is a table of records: a section's main list or one collection.
type ListGrid struct {
	ClassName    string       `json:"className"`
	FriendlyName string       `json:"friendlyName"`
	Type         ListGridType `json:"listGridType"`
	SelectType   SelectType   `json:"selectType"`
	SectionKey   string       `json:"sectionKey"`
	// Path is the collection URL relative to the console root.
	Path               string `json:"path"`
	SubCollectionField string `json:"subCollectionFieldName,omitempty"`
	ContainingEntityID string `json:"containingEntityId,omitempty"`
	SectionCrumbs      string `json:"sectionCrumbs,omitempty"`

	HeaderFields   []*Field          `json:"headerFields"`
	Records        []*ListGridRecord `json:"records"`
	ToolbarActions []*ListGridAction `json:"toolbarActions,omitempty"`
	RowActions     []*ListGridAction `json:"rowActions,omitempty"`

	TotalRecords int    `json:"totalRecords"`
	StartIndex   int    `json:"startIndex"`
	PageSize     int    `json:"pageSize"`
	FirstID      string `json:"firstId,omitempty"`
	LastID       string `json:"lastId,omitempty"`
	UpperCount   int    `json:"upperCount"`
	LowerCount   int    `json:"lowerCount"`

	Sortable         bool `json:"sortable,omitempty"`
	CanFilterAndSort bool `json:"canFilterAndSort"`
	ReadOnly         bool `json:"readOnly,omitempty"`
}

// RecordByID finds a row by id or alternate id.
func (g *ListGrid) RecordByID(id string) *ListGridRecord {
	for _, r := range g.Records {
		if r.ID == id || (r.AltID != "" && r.AltID == id) {
			return r
		}
	}
	return nil
}

func (g *ListGrid) HasAction(id string) bool {
	for _, a := range g.ToolbarActions {
		if a.ID == id {
			return true
		}
	}
	return false
}

// SetReadOnly drops every action from the grid.
func (g *ListGrid) SetReadOnly() {
	g.ReadOnly = true
	g.ToolbarActions = nil
	g.RowActions = nil
	g.Sortable = false
}

// EntityForm is the view model of an add, edit or view screen.
type EntityForm struct {
	ID                     string `json:"id,omitempty"`
	EntityType             string `json:"entityType"`
	CeilingEntityClassname string `json:"ceilingEntityClassname"`
	MainEntityName         string `json:"mainEntityName,omitempty"`
	SectionKey             string `json:"sectionKey,omitempty"`
	ParentID               string `json:"parentId,omitempty"`
	SectionCrumbs          string `json:"sectionCrumbs,omitempty"`

	Tabs    []*Tab              `json:"tabs"`
	Actions []*EntityFormAction `json:"actions,omitempty"`

	// Selectize describes the lookup collections edited through a selectize
	// widget, keyed by field name.
	Selectize map[string]map[string]any `json:"selectize,omitempty"`

	ReadOnly     bool                `json:"readOnly,omitempty"`
	FieldErrors  map[string][]string `json:"fieldErrors,omitempty"`
	GlobalErrors []string            `json:"globalErrors,omitempty"`
}

func NewEntityForm(ceiling string) *EntityForm {
	return &EntityForm{CeilingEntityClassname: ceiling, EntityType: ceiling}
}

// FindField returns the field named name in any tab.
func (ef *EntityForm) FindField(name string) *Field {
	for _, t := range ef.Tabs {
		for _, g := range t.Groups {
			for _, f := range g.Fields {
				if f.Name == name {
					return f
				}
			}
		}
	}
	return nil
}

// Fields indexes every field by name.
func (ef *EntityForm) Fields() map[string]*Field {
	out := map[string]*Field{}
	for _, t := range ef.Tabs {
		for _, g := range t.Groups {
			for _, f := range g.Fields {
				out[f.Name] = f
			}
		}
	}
	return out
}

// Value returns the value of field name or "".
func (ef *EntityForm) Value(name string) string {
	if f := ef.FindField(name); f != nil {
		return f.Value
	}
	return ""
}

func (ef *EntityForm) FindTab(title string) *Tab {
	for _, t := range ef.Tabs {
		if strings.EqualFold(t.Title, title) {
			return t
		}
	}
	return nil
}

func (ef *EntityForm) tab(title string, order int) *Tab {
	if title == "" {
		title = metadata.DefaultTab
	}
	if t := ef.FindTab(title); t != nil {
		return t
	}
	t := &Tab{Title: title, Order: order}
	ef.Tabs = append(ef.Tabs, t)
	sort.SliceStable(ef.Tabs, func(i, j int) bool { return ef.Tabs[i].Order < ef.Tabs[j].Order })
	return t
}

// FindGroup returns the first group titled name.
func (ef *EntityForm) FindGroup(name string) *FieldGroup {
	for _, t := range ef.Tabs {
		for _, g := range t.Groups {
			if strings.EqualFold(g.Title, name) {
				return g
			}
		}
	}
	return nil
}

// AddField places f in its tab and group, replacing a field with the same name.
func (ef *EntityForm) AddField(f *Field) {
	ef.RemoveField(f.Name)
	t := ef.tab(f.Tab, f.TabOrder)
	group := f.Group
	if group == "" {
		group = metadata.DefaultGroup
	}
	var g *FieldGroup
	for _, cand := range t.Groups {
		if strings.EqualFold(cand.Title, group) {
			g = cand
		}
	}
	if g == nil {
		g = &FieldGroup{Title: group, Order: len(t.Groups) * 100}
		if group == metadata.AuditGroup || group == HiddenGroup {
			g.Order = 1 << 20
		}
		t.Groups = append(t.Groups, g)
		sort.SliceStable(t.Groups, func(i, j int) bool { return t.Groups[i].Order < t.Groups[j].Order })
	}
	g.Fields = append(g.Fields, f)
	sort.SliceStable(g.Fields, func(i, j int) bool { return g.Fields[i].Order < g.Fields[j].Order })
}

// AddHiddenField adds an invisible field carried through form posts.
func (ef *EntityForm) AddHiddenField(f *Field) {
	f.Visible = false
	f.Group = HiddenGroup
	if f.Tab == "" {
		f.Tab = metadata.DefaultTab
	}
	ef.AddField(f)
}

// AddListGrid places a collection grid on tab.
func (ef *EntityForm) AddListGrid(lg *ListGrid, tab string, tabOrder int) {
	t := ef.tab(tab, tabOrder)
	for i, cur := range t.ListGrids {
		if cur.SubCollectionField == lg.SubCollectionField {
			t.ListGrids[i] = lg
			return
		}
	}
	t.ListGrids = append(t.ListGrids, lg)
}

// FindListGrid returns the grid of collection field name.
func (ef *EntityForm) FindListGrid(name string) *ListGrid {
	for _, t := range ef.Tabs {
		for _, lg := range t.ListGrids {
			if lg.SubCollectionField == name {
				return lg
			}
		}
	}
	return nil
}

// ListGrids returns every collection grid of the form.
func (ef *EntityForm) ListGrids() []*ListGrid {
	var out []*ListGrid
	for _, t := range ef.Tabs {
		out = append(out, t.ListGrids...)
	}
	return out
}

// RemoveField deletes the field named name and returns it. Empty groups and
// tabs are dropped.
func (ef *EntityForm) RemoveField(name string) *Field {
	var removed *Field
	for _, t := range ef.Tabs {
		for _, g := range t.Groups {
			for i, f := range g.Fields {
				if f.Name == name {
					removed = f
					g.Fields = append(g.Fields[:i], g.Fields[i+1:]...)
					break
				}
			}
		}
	}
	if removed != nil {
		ef.prune()
	}
	return removed
}

// RemoveListGrid deletes the grid of collection field name.
func (ef *EntityForm) RemoveListGrid(name string) {
	for _, t := range ef.Tabs {
		for i, lg := range t.ListGrids {
			if lg.SubCollectionField == name {
				t.ListGrids = append(t.ListGrids[:i], t.ListGrids[i+1:]...)
				break
			}
		}
	}
	ef.prune()
}

func (ef *EntityForm) prune() {
	tabs := ef.Tabs[:0]
	for _, t := range ef.Tabs {
		groups := t.Groups[:0]
		for _, g := range t.Groups {
			if len(g.Fields) > 0 {
				groups = append(groups, g)
			}
		}
		t.Groups = groups
		if len(t.Groups) > 0 || len(t.ListGrids) > 0 || t.Unselected {
			tabs = append(tabs, t)
		}
	}
	ef.Tabs = tabs
}

// AddAction appends a, ignoring an action with the same id.
func (ef *EntityForm) AddAction(a *EntityFormAction) {
	for _, cur := range ef.Actions {
		if cur.ID == a.ID {
			return
		}
	}
	ef.Actions = append(ef.Actions, a)
}

func (ef *EntityForm) RemoveAction(a *EntityFormAction) {
	for i, cur := range ef.Actions {
		if cur.ID == a.ID {
			ef.Actions = append(ef.Actions[:i], ef.Actions[i+1:]...)
			return
		}
	}
}

func (ef *EntityForm) RemoveAllActions() { ef.Actions = nil }

func (ef *EntityForm) HasAction(id string) bool {
	for _, a := range ef.Actions {
		if a.ID == id {
			return true
		}
	}
	return false
}

// SetReadOnly locks every field and grid of the form.
func (ef *EntityForm) SetReadOnly() {
	ef.ReadOnly = true
	for _, info := range ef.Selectize {
		info["readOnly"] = true
	}
	for _, t := range ef.Tabs {
		for _, g := range t.Groups {
			for _, f := range g.Fields {
				f.ReadOnly = true
			}
		}
		for _, lg := range t.ListGrids {
			lg.SetReadOnly()
		}
	}
}

// HasVisibleFields reports whether anything other than hidden fields remains.
func (ef *EntityForm) HasVisibleFields() bool {
	for _, t := range ef.Tabs {
		for _, g := range t.Groups {
			if len(g.VisibleFields()) > 0 {
				return true
			}
		}
	}
	return false
}

// SetErrors attaches field and global error codes. Errors for fields the form
// does not show become global.
func (ef *EntityForm) SetErrors(fieldErrors map[string][]string, global []string) {
	ef.FieldErrors = map[string][]string{}
	ef.GlobalErrors = append([]string(nil), global...)
	for _, f := range ef.Fields() {
		f.Errors = nil
	}
	names := make([]string, 0, len(fieldErrors))
	for name := range fieldErrors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		codes := fieldErrors[name]
		if len(codes) == 0 {
			continue
		}
		ef.FieldErrors[name] = append([]string(nil), codes...)
		if f := ef.FindField(name); f != nil {
			f.Errors = append(f.Errors, codes...)
			continue
		}
		for _, c := range codes {
			ef.GlobalErrors = append(ef.GlobalErrors, name+": "+c)
		}
	}
}

func (ef *EntityForm) HasErrors() bool {
	return len(ef.FieldErrors) > 0 || len(ef.GlobalErrors) > 0
}
