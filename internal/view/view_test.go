package view

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"openadmin/internal/form"
	"openadmin/internal/i18n"
	"openadmin/internal/logger"
)

func testBundle(t *testing.T) *i18n.Bundle {
	t.Helper()
	b, err := i18n.LoadBundle("../../messages", "en")
	require.NoError(t, err)
	return b
}

func productForm() *form.EntityForm {
	ef := form.NewEntityForm("Product")
	ef.ID = "p1"
	ef.SectionKey = "product"
	ef.AddField(&form.Field{Name: "name", FriendlyName: "Name", FieldType: "string", Value: "Lamp", Visible: true, Required: true})
	ef.AddField(&form.Field{Name: "description", FriendlyName: "Description", FieldType: "html_basic", Value: "bright", Visible: true, Tab: "Description", TabOrder: 2,
		Help: `<b>Shown</b> on the storefront<script>alert(1)</script>`})
	ef.AddHiddenField(&form.Field{Name: "version", Value: "3"})
	ef.AddListGrid(&form.ListGrid{
		ClassName:          "Sku",
		FriendlyName:       "Skus",
		Type:               form.GridBasic,
		Path:               "/product/p1/skus",
		SubCollectionField: "skus",
		HeaderFields:       []*form.Field{{Name: "code", FriendlyName: "Code"}},
		Records: []*form.ListGridRecord{
			{ID: "s1", Fields: []*form.Field{{Name: "code", Value: "LAMP-1"}}},
		},
		ToolbarActions: []*form.ListGridAction{form.GridActionAdd},
		RowActions:     []*form.ListGridAction{form.GridActionRemove},
		TotalRecords:   1,
	}, "Skus", 3)
	ef.AddAction(form.ActionSave)
	ef.AddAction(form.ActionDelete)
	ef.SetErrors(map[string][]string{"name": {"required"}}, []string{"version_conflict"})
	return ef
}

func TestRenderEditPage(t *testing.T) {
	r, err := NewTemplateRenderer("", testBundle(t), logger.Test(t))
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", r.ContentType())

	model := Model{
		"viewType":           "entityEdit",
		"contextPath":        "/admin",
		"sectionKey":         "product",
		"sectionName":        "Products",
		"entityFriendlyName": "Lamp",
		"formAction":         "/product/p1",
		"currentTabName":     "General",
		"headerFlash":        "save.successful",
		"sections":           []map[string]string{{"key": "product", "name": "Products"}, {"key": "tag", "name": "Tags"}},
		"entityForm":         productForm(),
	}
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, "modules/defaultContainer", model))
	out := buf.String()

	assert.Contains(t, out, `<a href="/admin/product" class="active">Products</a>`)
	assert.Contains(t, out, "Successfully saved")
	assert.Contains(t, out, "Edit Lamp")
	assert.Contains(t, out, `action="/admin/product/p1"`)
	assert.Contains(t, out, `name="fields[name].value" value="Lamp"`)
	assert.Contains(t, out, `<input type="hidden" name="fields[version].value" value="3">`)
	assert.Contains(t, out, "This field is required")
	assert.Contains(t, out, "The record was changed by someone else")
	assert.Contains(t, out, `data-url="/admin/product/p1/delete"`)
	assert.Contains(t, out, `<p class="help">Shown on the storefront</p>`)
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "1 records")
}

func TestRenderStandaloneListGrid(t *testing.T) {
	r, err := NewTemplateRenderer("", testBundle(t), logger.Test(t))
	require.NoError(t, err)

	empty := &form.ListGrid{ClassName: "Tag", Type: form.GridBasic, Path: "/product/p1/tags",
		HeaderFields: []*form.Field{{Name: "name", FriendlyName: "Name"}}}
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, "views/standaloneListGrid", Model{"contextPath": "/admin", "listGrid": empty}))
	assert.Contains(t, buf.String(), "No records found")
	assert.Contains(t, buf.String(), `data-path="/admin/product/p1/tags"`)
}

func TestRenderFrenchModal(t *testing.T) {
	r, err := NewTemplateRenderer("", testBundle(t), logger.Test(t))
	require.NoError(t, err)

	model := Model{
		"viewType":           "modal/entityAdd",
		"modalHeaderType":    "addEntity",
		"entityFriendlyName": "Produit",
		"contextPath":        "/admin",
		"formAction":         "/product/add",
		"locale":             language.French,
		"entityForm":         form.NewEntityForm("Product"),
	}
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, "modules/modalContainer", model))
	assert.Contains(t, buf.String(), "Ajouter Produit")
	assert.Contains(t, buf.String(), `<input type="hidden" name="entityType" value="Product">`)
}

func TestOverrideDirShadowsEmbedded(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "views"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "views", "standaloneListGrid.html"),
		[]byte(`custom {{ listGrid.friendlyName }}`), 0o644))

	r, err := NewTemplateRenderer(dir, testBundle(t), logger.Test(t))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, "views/standaloneListGrid", Model{"listGrid": &form.ListGrid{FriendlyName: "Tags"}}))
	assert.Equal(t, "custom Tags", buf.String())

	_, err = NewTemplateRenderer(filepath.Join(dir, "missing"), nil, logger.Nop())
	assert.Error(t, err)
}

func TestMissingTemplate(t *testing.T) {
	r, err := NewTemplateRenderer("", nil, logger.Nop())
	require.NoError(t, err)
	err = r.Render(&bytes.Buffer{}, "views/nothing", Model{})
	assert.ErrorContains(t, err, "views/nothing.html")
}

func TestJSONRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := JSONRenderer{}
	assert.Equal(t, "application/json; charset=utf-8", r.ContentType())
	require.NoError(t, r.Render(&buf, "views/entityEdit", Model{"entityForm": productForm()}))

	var got struct {
		View  string `json:"view"`
		Model struct {
			EntityForm struct {
				ID           string   `json:"id"`
				GlobalErrors []string `json:"globalErrors"`
			} `json:"entityForm"`
		} `json:"model"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "views/entityEdit", got.View)
	assert.Equal(t, "p1", got.Model.EntityForm.ID)
	assert.Equal(t, []string{"version_conflict"}, got.Model.EntityForm.GlobalErrors)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"<script>alert(1)</script>ok", "ok"},
		{"  <i>x</i>  ", "x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in), tt.in)
	}
}

func TestModelString(t *testing.T) {
	m := Model{}
	m.Set("viewType", "entityList").Set("count", 3)
	assert.Equal(t, "entityList", m.String("viewType"))
	assert.Equal(t, "", m.String("count"))
	assert.Equal(t, "", m.String("missing"))
}
