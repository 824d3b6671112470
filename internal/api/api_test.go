package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"openadmin/internal/dsl"
	"openadmin/internal/form"
	"openadmin/internal/i18n"
	"openadmin/internal/logger"
	"openadmin/internal/metadata"
	"openadmin/internal/persistence"
	"openadmin/internal/reference"
	"openadmin/internal/security"
)

func init() { gin.SetMode(gin.TestMode) }

type fixture struct {
	reg      *metadata.Registry
	svc      *persistence.Service
	sections *reference.SectionRegistry
	router   *gin.Engine
}

// newFixture wires the controller over the shipped catalog. Options may
// replace collaborators before the controller is built.
func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()
	ents, err := dsl.LoadAllEntities("../../dsl")
	require.NoError(t, err)
	enums, err := reference.LoadEnumCatalog("../../reference/enums")
	require.NoError(t, err)
	reg, err := metadata.NewRegistry(ents, enums)
	require.NoError(t, err)
	sections, err := reference.LoadSections("../../reference/sections.yaml")
	require.NoError(t, err)
	policy, err := security.LoadPolicy("../../config/security.yaml")
	require.NoError(t, err)
	users, err := security.NewUserDirectory(policy.Users)
	require.NoError(t, err)
	bundle, err := i18n.LoadBundle("../../messages", "en")
	require.NoError(t, err)

	lggr := logger.Test(t)
	svc := persistence.NewService(reg, persistence.NewMemoryStore(), lggr)
	deps := Deps{
		Service:    svc,
		Security:   security.NewRemoteSecurityService(policy, reg, lggr),
		RowLevel:   security.NewRowLevelSecurityService(policy, reg, lggr),
		Duplicator: persistence.NewDuplicator(svc),
		Sections:   sections,
		Forms:      form.NewService(reg, sections, lggr),
		Validator:  form.NewValidator(),
		Users:      users,
		Messages:   bundle,
		Metadata:   reg,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	ctl, err := NewController(deps, Options{ContextPath: "/admin", UserHeader: "X-Admin-User"}, lggr)
	require.NoError(t, err)

	return &fixture{reg: reg, svc: svc, sections: sections, router: NewRouter(ctl, lggr)}
}

func (f *fixture) add(t *testing.T, class string, values map[string]string) string {
	t.Helper()
	resp, err := f.svc.AddEntity(context.Background(), &persistence.Submission{CeilingEntity: class, EntityType: class, Values: values}, nil, nil)
	require.NoError(t, err)
	require.False(t, resp.Entity.ValidationFailure, "%v %v", resp.Entity.PropertyValidationErrors, resp.Entity.GlobalValidationErrors)
	return resp.Entity.ID()
}

func (f *fixture) addItem(t *testing.T, class, parentID, field string, sub *persistence.Submission) *persistence.Entity {
	t.Helper()
	ctx := context.Background()
	resp, err := f.svc.Record(ctx, persistence.NewRequest(class), parentID)
	require.NoError(t, err)
	cmd := resp.DynamicResultSet.ClassMetadata
	prop, ok := cmd.Property(field)
	require.True(t, ok)
	added, err := f.svc.AddSubCollectionEntity(ctx, sub, cmd, prop, resp.Entity, nil)
	require.NoError(t, err)
	require.False(t, added.Entity.ValidationFailure, "%v %v", added.Entity.PropertyValidationErrors, added.Entity.GlobalValidationErrors)
	return added.Entity
}

// catalog is the seeded sample data.
type catalog struct {
	categoryID string
	lampID     string
	bulbID     string
	skuIDs     []string
	tagID      string
	colorID    string
}

func (f *fixture) seed(t *testing.T) catalog {
	t.Helper()
	var cat catalog
	cat.categoryID = f.add(t, "catalog.Category", map[string]string{"name": "Lamps"})
	cat.lampID = f.add(t, "catalog.Product", map[string]string{"name": "Lamp", "code": "LAMP-1", "price": "12.50", "category": cat.categoryID})
	cat.bulbID = f.add(t, "catalog.Product", map[string]string{"name": "Bulb", "code": "BULB-1"})
	for _, name := range []string{"LAMP-S", "LAMP-L"} {
		sku := f.addItem(t, "catalog.Product", cat.lampID, "skus", &persistence.Submission{EntityType: "catalog.Sku", Values: map[string]string{"name": name}})
		cat.skuIDs = append(cat.skuIDs, sku.ID())
	}
	cat.tagID = f.add(t, "catalog.Tag", map[string]string{"label": "indoor"})
	f.addItem(t, "catalog.Product", cat.lampID, "related", &persistence.Submission{Values: map[string]string{metadata.AdornedTargetProp: cat.bulbID, "promotion": "Buy both"}})
	cat.colorID = f.addItem(t, "catalog.Product", cat.lampID, "attributes", &persistence.Submission{Values: map[string]string{"key": "color", "value": "red"}}).ID()
	return cat
}

type request struct {
	method string
	path   string
	user   string
	json   any
	form   url.Values
	ajax   bool
}

func (f *fixture) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	return f.serve(t, r, "application/json")
}

// doHTML sends r the way a browser does.
func (f *fixture) doHTML(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	return f.serve(t, r, "")
}

func (f *fixture) serve(t *testing.T, r request, accept string) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	contentType := ""
	switch {
	case r.json != nil:
		b, err := json.Marshal(r.json)
		require.NoError(t, err)
		body, contentType = bytes.NewReader(b), "application/json"
	case r.form != nil:
		body, contentType = strings.NewReader(r.form.Encode()), "application/x-www-form-urlencoded"
	}
	method := r.method
	if method == "" {
		method = http.MethodGet
	}
	req := httptest.NewRequest(method, r.path, body)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if r.user != "" {
		req.Header.Set("X-Admin-User", r.user)
	}
	if r.ajax {
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// page is a rendered view as JSON clients see it.
type page struct {
	View  string `json:"view"`
	Model struct {
		ViewType           string                   `json:"viewType"`
		ModalHeaderType    string                   `json:"modalHeaderType"`
		HeaderFlash        string                   `json:"headerFlash"`
		HeaderFlashAlert   bool                     `json:"headerFlashAlert"`
		SectionCrumbs      string                   `json:"sectionCrumbs"`
		CurrentFolderID    string                   `json:"currentFolderId"`
		CurrentTabName     string                   `json:"currentTabName"`
		ActualEntityID     string                   `json:"actualEntityId"`
		FormAction         string                   `json:"formAction"`
		ListGrid           *form.ListGrid           `json:"listGrid"`
		EntityForm         *form.EntityForm         `json:"entityForm"`
		MainActions        []*form.EntityFormAction `json:"mainActions"`
		EntityTypes        []*metadata.ClassTree    `json:"entityTypes"`
		CollectionProperty *metadata.FieldMetadata  `json:"collectionProperty"`
		Errors             []FieldError             `json:"errors"`
	} `json:"model"`
}

func decodePage(t *testing.T, w *httptest.ResponseRecorder) page {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var p page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p), w.Body.String())
	return p
}

type envelope struct {
	Errors      []FieldError `json:"errors"`
	Dirty       []string     `json:"dirty"`
	HeaderFlash string       `json:"headerFlash"`
	Redirect    string       `json:"ajaxRedirect"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), w.Body.String())
	return e
}

func hasAction(actions []*form.EntityFormAction, id string) bool {
	for _, a := range actions {
		if a.ID == id {
			return true
		}
	}
	return false
}

func recordIDs(lg *form.ListGrid) []string {
	out := make([]string, 0, len(lg.Records))
	for _, r := range lg.Records {
		out = append(out, r.ID)
	}
	return out
}

func cell(t *testing.T, lg *form.ListGrid, id, field string) string {
	t.Helper()
	r := lg.RecordByID(id)
	require.NotNil(t, r, "record %s", id)
	f := r.Field(field)
	require.NotNil(t, f, "field %s", field)
	return f.Value
}

func jsonDecode(w *httptest.ResponseRecorder, v any) error {
	return json.Unmarshal(w.Body.Bytes(), v)
}
