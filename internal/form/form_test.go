package form

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openadmin/internal/dsl"
	"openadmin/internal/logger"
	"openadmin/internal/metadata"
	"openadmin/internal/persistence"
	"openadmin/internal/reference"
)

type fixture struct {
	reg   *metadata.Registry
	svc   *persistence.Service
	forms *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ents, err := dsl.LoadAllEntities("../../dsl")
	require.NoError(t, err)
	enums, err := reference.LoadEnumCatalog("../../reference/enums")
	require.NoError(t, err)
	reg, err := metadata.NewRegistry(ents, enums)
	require.NoError(t, err)
	sections, err := reference.LoadSections("../../reference/sections.yaml")
	require.NoError(t, err)
	lggr := logger.Test(t)
	return &fixture{
		reg:   reg,
		svc:   persistence.NewService(reg, persistence.NewMemoryStore(), lggr),
		forms: NewService(reg, sections, lggr),
	}
}

func (f *fixture) add(t *testing.T, class string, values map[string]string) string {
	t.Helper()
	resp, err := f.svc.AddEntity(context.Background(), &persistence.Submission{CeilingEntity: class, EntityType: class, Values: values}, nil, nil)
	require.NoError(t, err)
	require.False(t, resp.Entity.ValidationFailure, "%v %v", resp.Entity.PropertyValidationErrors, resp.Entity.GlobalValidationErrors)
	return resp.Entity.ID()
}

func (f *fixture) record(t *testing.T, class, id string) (*metadata.ClassMetadata, *persistence.Entity) {
	t.Helper()
	resp, err := f.svc.Record(context.Background(), persistence.NewRequest(class), id)
	require.NoError(t, err)
	return resp.DynamicResultSet.ClassMetadata, resp.Entity
}

func (f *fixture) addItem(t *testing.T, class, parentID, field string, sub *persistence.Submission) *persistence.Entity {
	t.Helper()
	cmd, parent := f.record(t, class, parentID)
	prop, ok := cmd.Property(field)
	require.True(t, ok)
	resp, err := f.svc.AddSubCollectionEntity(context.Background(), sub, cmd, prop, parent, nil)
	require.NoError(t, err)
	require.False(t, resp.Entity.ValidationFailure, "%v %v", resp.Entity.PropertyValidationErrors, resp.Entity.GlobalValidationErrors)
	return resp.Entity
}

// seedLamp stores a product with one record in each of its collections.
func (f *fixture) seedLamp(t *testing.T) (productID, otherID string) {
	t.Helper()
	catID := f.add(t, "catalog.Category", map[string]string{"name": "Lamps"})
	productID = f.add(t, "catalog.Product", map[string]string{"name": "Lamp", "price": "12.50", "category": catID})
	otherID = f.add(t, "catalog.Product", map[string]string{"name": "Bulb"})

	f.addItem(t, "catalog.Product", productID, "skus", &persistence.Submission{EntityType: "catalog.Sku", Values: map[string]string{"name": "LAMP-S"}})
	f.addItem(t, "catalog.Product", productID, "skus", &persistence.Submission{EntityType: "catalog.Sku", Values: map[string]string{"name": "LAMP-L"}})
	f.addItem(t, "catalog.Product", productID, "related", &persistence.Submission{Values: map[string]string{metadata.AdornedTargetProp: otherID, "promotion": "Buy both"}})
	f.addItem(t, "catalog.Product", productID, "attributes", &persistence.Submission{Values: map[string]string{"key": "color", "value": "red"}})
	return productID, otherID
}

func fieldNames(fields []*Field) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.Name)
	}
	return out
}

func actionIDs[T interface{ *EntityFormAction | *ListGridAction }](actions []T) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		switch v := any(a).(type) {
		case *EntityFormAction:
			out = append(out, v.ID)
		case *ListGridAction:
			out = append(out, v.ID)
		}
	}
	return out
}

func TestEntityFormOperations(t *testing.T) {
	ef := NewEntityForm("catalog.Product")
	ef.AddField(&Field{Name: "name", Group: "General", Tab: "General", Visible: true, Order: 10})
	ef.AddField(&Field{Name: "price", Group: "Pricing", Tab: "General", Visible: true, Order: 10})
	ef.AddField(&Field{Name: "description", Tab: "Description", TabOrder: 100, Visible: true})
	ef.AddHiddenField(&Field{Name: "id", Value: "42"})

	require.NotNil(t, ef.FindField("price"))
	assert.Equal(t, "42", ef.Value("id"))
	assert.False(t, ef.FindField("id").Visible)
	assert.Len(t, ef.Fields(), 4)
	require.NotNil(t, ef.FindGroup("pricing"))
	if diff := cmp.Diff([]string{"General", "Description"}, []string{ef.Tabs[0].Title, ef.Tabs[1].Title}); diff != "" {
		t.Errorf("tabs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"General", "Pricing", HiddenGroup}, []string{ef.Tabs[0].Groups[0].Title, ef.Tabs[0].Groups[1].Title, ef.Tabs[0].Groups[2].Title}); diff != "" {
		t.Errorf("groups (-want +got):\n%s", diff)
	}

	removed := ef.RemoveField("description")
	require.NotNil(t, removed)
	assert.Nil(t, ef.FindTab("Description"), "empty tab is pruned")
	assert.Nil(t, ef.RemoveField("nope"))

	ef.AddAction(ActionSave)
	ef.AddAction(ActionDelete)
	ef.AddAction(ActionSave)
	assert.Equal(t, []string{"SAVE", "DELETE"}, actionIDs(ef.Actions))
	ef.RemoveAction(ActionDelete)
	assert.Equal(t, []string{"SAVE"}, actionIDs(ef.Actions))
	ef.RemoveAllActions()
	assert.Empty(t, ef.Actions)

	ef.SetErrors(map[string][]string{"name": {"required"}, "ghost": {"type_mismatch"}}, []string{"version_conflict"})
	assert.Equal(t, []string{"required"}, ef.FindField("name").Errors)
	assert.Equal(t, []string{"version_conflict", "ghost: type_mismatch"}, ef.GlobalErrors)
	assert.True(t, ef.HasErrors())

	lg := &ListGrid{SubCollectionField: "skus", ToolbarActions: []*ListGridAction{GridActionAdd}, Sortable: true}
	ef.AddListGrid(lg, "Skus", 200)
	ef.SetReadOnly()
	assert.True(t, ef.FindField("name").ReadOnly)
	assert.Empty(t, ef.FindListGrid("skus").ToolbarActions)
	assert.False(t, ef.FindListGrid("skus").Sortable)

	assert.True(t, ef.HasVisibleFields())
	ef.RemoveField("name")
	ef.RemoveField("price")
	assert.False(t, ef.HasVisibleFields(), "only hidden fields left")
}

func TestBuildMainListGrid(t *testing.T) {
	f := newFixture(t)
	f.seedLamp(t)

	resp, err := f.svc.Records(context.Background(), persistence.NewRequest("catalog.Product").
		WithFilterAndSortCriteria([]persistence.FilterAndSortCriteria{{PropertyID: "name", SortDirection: persistence.SortAscending}}))
	require.NoError(t, err)
	drs := resp.DynamicResultSet

	lg := f.forms.BuildMainListGrid(drs, drs.ClassMetadata, "product", []persistence.SectionCrumb{{SectionIdentifier: "category", SectionID: "1"}})
	assert.Equal(t, GridMain, lg.Type)
	assert.Equal(t, "/product", lg.Path)
	assert.Equal(t, "category--1", lg.SectionCrumbs)
	assert.Equal(t, 2, lg.TotalRecords)
	if diff := cmp.Diff([]string{"name", "status"}, fieldNames(lg.HeaderFields)); diff != "" {
		t.Errorf("headers (-want +got):\n%s", diff)
	}
	require.Len(t, lg.Records, 2)
	assert.Equal(t, "Bulb", lg.Records[0].Field("name").Value)
	assert.Equal(t, "ACTIVE", lg.Records[1].Field("status").DisplayValue)
	assert.Equal(t, 1, lg.Records[1].Index)
}

func TestCreateEntityForm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID, otherID := f.seedLamp(t)
	cmd, ent := f.record(t, "catalog.Product", productID)

	subs, err := f.svc.RecordsForAllSubCollections(ctx, cmd, ent, nil)
	require.NoError(t, err)
	ef, err := f.forms.CreateEntityForm(cmd, "product", ent, subs, nil)
	require.NoError(t, err)

	var tabs []string
	for _, tab := range ef.Tabs {
		tabs = append(tabs, tab.Title)
	}
	if diff := cmp.Diff([]string{"General", "Description", "Skus", "Related", "Attributes"}, tabs); diff != "" {
		t.Errorf("tabs (-want +got):\n%s", diff)
	}
	assert.Equal(t, productID, ef.ID)
	assert.Equal(t, "catalog.Product", ef.EntityType)
	assert.Equal(t, []string{"SAVE", "DELETE", "DUPLICATE"}, actionIDs(ef.Actions))

	cat := ef.FindField("category")
	require.NotNil(t, cat)
	assert.Equal(t, "Lamps", cat.DisplayValue)
	assert.Equal(t, "category", cat.ForeignKeySection)
	assert.Equal(t, "12.50", ef.Value("price"))
	assert.Nil(t, ef.FindField("downloadUrl"), "subclass field removed for a plain product")
	assert.NotNil(t, ef.FindGroup(metadata.AuditGroup))

	skus := ef.FindListGrid("skus")
	require.NotNil(t, skus)
	assert.Equal(t, GridBasic, skus.Type)
	assert.Equal(t, "/product/"+productID+"/skus", skus.Path)
	assert.Equal(t, []string{"name"}, fieldNames(skus.HeaderFields))
	assert.Equal(t, []string{"UPDATE", "REMOVE", "REORDER"}, actionIDs(skus.RowActions))
	assert.Len(t, skus.Records, 2)

	tags := ef.FindListGrid("tags")
	require.NotNil(t, tags)
	assert.Equal(t, []string{"REMOVE"}, actionIDs(tags.RowActions))
	require.Contains(t, ef.Selectize, "tags")
	assert.Equal(t, "/product/"+productID+"/tags/selectize-add", ef.Selectize["tags"]["selectizeAddUrl"])
	assert.NotContains(t, ef.Selectize, "skus")
	assert.False(t, tags.Sortable)

	related := ef.FindListGrid("related")
	require.NotNil(t, related)
	assert.Equal(t, GridAdornedWithForm, related.Type)
	assert.Equal(t, []string{"name", "status", "promotion"}, fieldNames(related.HeaderFields))
	require.Len(t, related.Records, 1)
	assert.Equal(t, otherID, related.Records[0].ID)
	assert.NotEmpty(t, related.Records[0].AltID)
	assert.Equal(t, "Buy both", related.Records[0].Field("promotion").Value)

	attrs := ef.FindListGrid("attributes")
	require.NotNil(t, attrs)
	assert.Equal(t, GridMap, attrs.Type)
	assert.Equal(t, []string{"key", "value"}, fieldNames(attrs.HeaderFields))
	assert.Len(t, attrs.HeaderFields[0].Options, 3)
	assert.Equal(t, "Color", attrs.Records[0].Field("key").DisplayValue)
}

func TestCreateEntityFormDefersUnloadedTabs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID, _ := f.seedLamp(t)
	cmd, ent := f.record(t, "catalog.Product", productID)

	subs, err := f.svc.RecordsForSelectedTab(ctx, cmd, ent, nil, "Skus")
	require.NoError(t, err)
	ef, err := f.forms.CreateEntityForm(cmd, "product", ent, subs, nil)
	require.NoError(t, err)

	assert.NotNil(t, ef.FindListGrid("skus"))
	assert.Nil(t, ef.FindListGrid("related"))
	require.NotNil(t, ef.FindTab("Related"))
	assert.True(t, ef.FindTab("Related").Unselected)
	assert.False(t, ef.FindTab("Skus").Unselected)
}

func TestAddFormForSubclass(t *testing.T) {
	f := newFixture(t)
	cmd, err := f.reg.ClassMetadata("catalog.Product")
	require.NoError(t, err)

	ef, err := f.forms.CreateEntityForm(cmd, "product", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"SAVE"}, actionIDs(ef.Actions))
	assert.Empty(t, ef.ListGrids())
	require.NotNil(t, ef.FindField("downloadUrl"))

	f.forms.RemoveNonApplicableFields(cmd, ef, "catalog.DigitalProduct")
	assert.NotNil(t, ef.FindField("downloadUrl"))
	assert.Equal(t, "catalog.DigitalProduct", ef.EntityType)

	f.forms.RemoveNonApplicableFields(cmd, ef, "catalog.Product")
	assert.Nil(t, ef.FindField("downloadUrl"))
}

func TestNoDuplicateClassHasNoDuplicateAction(t *testing.T) {
	f := newFixture(t)
	id := f.add(t, "catalog.Tag", map[string]string{"label": "sale"})
	cmd, ent := f.record(t, "catalog.Tag", id)
	ef, err := f.forms.CreateEntityForm(cmd, "tag", ent, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"SAVE", "DELETE"}, actionIDs(ef.Actions))
	assert.False(t, ef.FindField("product").Visible)
}

func TestAdornedAndMapForms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID, otherID := f.seedLamp(t)
	cmd, parent := f.record(t, "catalog.Product", productID)

	relatedProp, _ := cmd.Property("related")
	ppr := persistence.FromMetadata(relatedProp.Metadata, nil)
	ef, err := f.forms.BuildAdornedListForm(relatedProp.Metadata, ppr.AdornedList, productID, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "catalog.RelatedProduct", ef.CeilingEntityClassname)
	require.NotNil(t, ef.FindField("promotion"))
	assert.True(t, ef.FindField("promotion").Visible)
	assert.False(t, ef.FindField(metadata.AdornedTargetProp).Visible)

	item, err := f.svc.AdvancedCollectionRecord(ctx, cmd, parent, relatedProp, otherID, nil, "", nil)
	require.NoError(t, err)
	f.forms.PopulateEntityFormFields(ef, item.Entity, false, false)
	f.forms.PopulateAdornedEntityFormFields(ef, item.Entity, ppr.AdornedList)
	assert.Equal(t, "Buy both", ef.Value("promotion"))
	assert.Equal(t, otherID, ef.Value(metadata.AdornedTargetProp))
	assert.Equal(t, item.Entity.Value(metadata.AlternateIDProp), ef.Value(metadata.AlternateIDProp))
	assert.Empty(t, ef.ID, "id not populated")

	view, err := f.forms.BuildAdornedListForm(relatedProp.Metadata, ppr.AdornedList, productID, true, nil)
	require.NoError(t, err)
	assert.True(t, view.FindField("promotion").ReadOnly)
	assert.Empty(t, view.Actions)

	attrProp, _ := cmd.Property("attributes")
	mppr := persistence.FromMetadata(attrProp.Metadata, nil)
	mf, err := f.forms.BuildMapForm(attrProp.Metadata, mppr.MapStructure, nil, productID)
	require.NoError(t, err)
	key := mf.FindField("key")
	require.NotNil(t, key)
	assert.Equal(t, string(metadata.FieldTypeEnumeration), key.FieldType)
	assert.NotNil(t, mf.FindField("value"))
	assert.Nil(t, mf.FindField("product"))
	assert.Nil(t, mf.FindField("name"), "key property is edited through the key field")

	subs, err := f.svc.RecordsForCollection(ctx, cmd, parent, attrProp, nil, nil, nil, "", nil)
	require.NoError(t, err)
	entry := subs.DynamicResultSet.First()
	require.NotNil(t, entry)
	f.forms.PopulateEntityFormFields(mf, entry, true, true)
	f.forms.PopulateMapEntityFormFields(mf, entry)
	assert.Equal(t, "color", mf.Value("key"))
	assert.Equal(t, "color", mf.Value(FieldPriorKey))
	assert.Equal(t, "red", mf.Value("value"))
	assert.Equal(t, entry.ID(), mf.ID)
}

func TestSelectize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "catalog.Category", map[string]string{"name": "Chairs"})
	f.add(t, "catalog.Category", map[string]string{"name": "Tables"})

	resp, err := f.svc.Records(ctx, persistence.NewRequest("catalog.Category").
		WithFilterAndSortCriteria([]persistence.FilterAndSortCriteria{{PropertyID: "name", SortDirection: persistence.SortAscending}}))
	require.NoError(t, err)
	opts := f.forms.ConstructSelectizeOptionMap(resp.DynamicResultSet, resp.DynamicResultSet.ClassMetadata)
	got, ok := opts["options"].([]SelectizeOption)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "Chairs", got[0].Label)
	assert.Equal(t, "Tables", got[1].Fields["name"])

	productID := f.add(t, "catalog.Product", map[string]string{"name": "Stool"})
	f.addItem(t, "catalog.Product", productID, "skus", &persistence.Submission{EntityType: "catalog.Sku", Values: map[string]string{"name": "STOOL-1"}})
	cmd, parent := f.record(t, "catalog.Product", productID)
	prop, _ := cmd.Property("skus")
	skus, err := f.svc.RecordsForCollection(ctx, cmd, parent, prop, nil, nil, nil, "", nil)
	require.NoError(t, err)

	info, err := f.forms.BuildSelectizeCollectionInfo(productID, skus.DynamicResultSet, prop, "product", nil)
	require.NoError(t, err)
	assert.Equal(t, "/product/"+productID+"/skus/selectize", info["selectizeUrl"])
	selected := info["selectedOptions"].([]SelectizeOption)
	require.Len(t, selected, 1)
	assert.Equal(t, "STOOL-1", selected[0].Label)

	nameProp, _ := cmd.Property("name")
	_, err = f.forms.BuildSelectizeCollectionInfo(productID, skus.DynamicResultSet, nameProp, "product", nil)
	require.ErrorIs(t, err, persistence.ErrUnsupportedCollection)
}

func TestValidator(t *testing.T) {
	f := newFixture(t)
	cmd, err := f.reg.ClassMetadata("catalog.Product")
	require.NoError(t, err)
	ef, err := f.forms.CreateEntityForm(cmd, "product", nil, nil, nil)
	require.NoError(t, err)

	resp, err := f.svc.AddEntity(context.Background(), &persistence.Submission{CeilingEntity: "catalog.Product", Values: map[string]string{"price": "abc"}}, nil, nil)
	require.NoError(t, err)

	res := NewValidator().Validate(ef, resp.Entity)
	require.True(t, res.HasErrors())
	if diff := cmp.Diff([]string{"name", "price"}, res.FieldNames()); diff != "" {
		t.Errorf("fields (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{persistence.ErrRequired}, ef.FindField("name").Errors)
	assert.Equal(t, []string{persistence.ErrTypeMismatch}, ef.FindField("price").Errors)

	clean := NewValidator().Validate(ef, &persistence.Entity{})
	assert.False(t, clean.HasErrors())

	bare := &persistence.Entity{}
	bare.AddGlobalValidationError(persistence.ErrDeleteReferenced)
	assert.Equal(t, []string{persistence.ErrDeleteReferenced}, NewValidator().Validate(nil, bare).GlobalErrors)
}
