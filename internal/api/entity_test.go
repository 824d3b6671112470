package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openadmin/internal/form"
	"openadmin/internal/persistence"
)

func TestViewEntityList(t *testing.T) {
	f := newFixture(t)
	cat := f.seed(t)

	t.Run("admin sees records and the add action", func(t *testing.T) {
		p := decodePage(t, f.do(t, request{path: "/admin/product", user: "admin"}))
		assert.Equal(t, defaultContainerView, p.View)
		assert.Equal(t, "entityList", p.Model.ViewType)
		require.NotNil(t, p.Model.ListGrid)
		assert.ElementsMatch(t, []string{cat.lampID, cat.bulbID}, recordIDs(p.Model.ListGrid))
		assert.True(t, hasAction(p.Model.MainActions, "ADD"))
		assert.Len(t, p.Model.EntityTypes, 2)
	})

	t.Run("viewer cannot add", func(t *testing.T) {
		p := decodePage(t, f.do(t, request{path: "/admin/product", user: "viewer"}))
		assert.False(t, hasAction(p.Model.MainActions, "ADD"))
	})

	t.Run("filter by name", func(t *testing.T) {
		p := decodePage(t, f.do(t, request{path: "/admin/product?name=Lamp", user: "admin"}))
		assert.Equal(t, []string{cat.lampID}, recordIDs(p.Model.ListGrid))
	})

	t.Run("flash is sanitized", func(t *testing.T) {
		p := decodePage(t, f.do(t, request{path: "/admin/product?headerFlash=" + url.QueryEscape("<b>saved</b>"), user: "admin"}))
		assert.Equal(t, "saved", p.Model.HeaderFlash)
	})
}

func TestAccessErrors(t *testing.T) {
	f := newFixture(t)
	cat := f.seed(t)

	tests := []struct {
		name   string
		req    request
		status int
		code   string
	}{
		{"no user", request{path: "/admin/product"}, http.StatusForbidden, CodeOperationNotAllowed},
		{"unknown user", request{path: "/admin/product", user: "nobody"}, http.StatusForbidden, CodeOperationNotAllowed},
		{"unknown section", request{path: "/admin/widgets", user: "admin"}, http.StatusNotFound, CodeNotFound},
		{"unknown record", request{path: "/admin/product/missing", user: "admin"}, http.StatusNotFound, CodeNotFound},
		{"class without grant", request{path: "/admin/category/" + cat.categoryID, user: "viewer", method: http.MethodPost, json: map[string]any{"fields": map[string]string{"name": "x"}}}, http.StatusForbidden, CodeOperationNotAllowed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, tc.req)
			require.Equal(t, tc.status, w.Code, w.Body.String())
			e := decodeEnvelope(t, w)
			require.Len(t, e.Errors, 1)
			assert.Equal(t, tc.code, e.Errors[0].Code)
			assert.NotEmpty(t, e.Errors[0].Message)
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, request{path: "/admin/product", user: "admin"})
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestViewAddEntityForm(t *testing.T) {
	f := newFixture(t)

	t.Run("polymorphic class asks for a type", func(t *testing.T) {
		p := decodePage(t, f.do(t, request{path: "/admin/product/add", user: "admin"}))
		assert.Equal(t, modalContainerView, p.View)
		assert.Equal(t, "modal/entityTypeSelection", p.Model.ViewType)
		assert.Equal(t, headerSelectType, p.Model.ModalHeaderType)
		assert.Len(t, p.Model.EntityTypes, 2)
	})

	t.Run("chosen subclass gets its fields", func(t *testing.T) {
		p := decodePage(t, f.do(t, request{path: "/admin/product/add?entityType=catalog.DigitalProduct", user: "admin"}))
		assert.Equal(t, "modal/entityAdd", p.Model.ViewType)
		require.NotNil(t, p.Model.EntityForm)
		assert.NotNil(t, p.Model.EntityForm.FindField("downloadUrl"))
		assert.Equal(t, "/product/add", p.Model.FormAction)
	})

	t.Run("base class drops subclass fields", func(t *testing.T) {
		p := decodePage(t, f.do(t, request{path: "/admin/product/add?entityType=catalog.Product", user: "admin"}))
		assert.Nil(t, p.Model.EntityForm.FindField("downloadUrl"))
	})

	t.Run("unknown type", func(t *testing.T) {
		w := f.do(t, request{path: "/admin/product/add?entityType=catalog.Sku", user: "admin"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("viewer may not add", func(t *testing.T) {
		w := f.do(t, request{path: "/admin/product/add?entityType=catalog.Product", user: "viewer"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestAddEntity(t *testing.T) {
	f := newFixture(t)

	t.Run("valid form redirects to the new record", func(t *testing.T) {
		w := f.do(t, request{method: http.MethodPost, path: "/admin/product/add", user: "editor", json: map[string]any{
			"entityType": "catalog.Product",
			"fields":     map[string]string{"name": "Desk", "code": "DESK-1", "price": "99.00"},
		}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		e := decodeEnvelope(t, w)
		assert.Regexp(t, `^/admin/product/.+`, e.Redirect)
		assert.Equal(t, e.Redirect, w.Header().Get(ajaxRedirectHeader))

		p := decodePage(t, f.do(t, request{path: e.Redirect, user: "editor"}))
		assert.Equal(t, "Desk", p.Model.EntityForm.FindField("name").Value)
	})

	t.Run("form posts work too", func(t *testing.T) {
		form := url.Values{"entityType": {"catalog.Product"}, "fields[name]": {"Chair"}}
		w := f.do(t, request{method: http.MethodPost, path: "/admin/product/add", user: "admin", form: form})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.NotEmpty(t, decodeEnvelope(t, w).Redirect)
	})

	t.Run("invalid form is shown again with errors", func(t *testing.T) {
		w := f.do(t, request{method: http.MethodPost, path: "/admin/product/add", user: "admin", json: map[string]any{
			"entityType": "catalog.Product",
			"fields":     map[string]string{"code": "not valid"},
		}})
		p := decodePage(t, w)
		assert.Equal(t, "modal/entityAdd", p.Model.ViewType)
		require.NotNil(t, p.Model.EntityForm)
		assert.Contains(t, p.Model.EntityForm.FieldErrors, "name")
		assert.Contains(t, p.Model.EntityForm.FieldErrors, "code")
		assert.Equal(t, "not valid", p.Model.EntityForm.FindField("code").Value)
	})
}

func TestViewEntityForm(t *testing.T) {
	f := newFixture(t)
	cat := f.seed(t)

	t.Run("edit page", func(t *testing.T) {
		p := decodePage(t, f.do(t, request{path: "/admin/product/" + cat.lampID, user: "editor"}))
		assert.Equal(t, "entityEdit", p.Model.ViewType)
		ef := p.Model.EntityForm
		require.NotNil(t, ef)
		assert.Equal(t, cat.lampID, ef.ID)
		assert.Equal(t, "Lamp", ef.FindField("name").Value)
		assert.True(t, ef.HasAction("SAVE"))
		assert.True(t, ef.HasAction("DELETE"))
		assert.False(t, ef.ReadOnly)
	})

	t.Run("viewer gets a read-only form", func(t *testing.T) {
		p := decodePage(t, f.do(t, request{path: "/admin/product/" + cat.lampID, user: "viewer"}))
		ef := p.Model.EntityForm
		assert.True(t, ef.ReadOnly)
		assert.False(t, ef.HasAction("SAVE"))
		assert.False(t, ef.HasAction("DELETE"))
	})

	t.Run("script requests get the view modal", func(t *testing.T) {
		p := decodePage(t, f.do(t, request{path: "/admin/product/" + cat.lampID, user: "admin", ajax: true}))
		assert.Equal(t, modalContainerView, p.View)
		assert.Equal(t, "modal/entityView", p.Model.ViewType)
		assert.Empty(t, p.Model.EntityForm.Actions)
	})

	t.Run("collection tab is loaded on request", func(t *testing.T) {
		p := decodePage(t, f.do(t, request{path: "/admin/product/" + cat.lampID + "?tab=Skus", user: "admin"}))
		lg := p.Model.EntityForm.FindListGrid("skus")
		require.NotNil(t, lg)
		assert.ElementsMatch(t, cat.skuIDs, recordIDs(lg))
	})

	t.Run("lookup collections carry selectize endpoints", func(t *testing.T) {
		for user, readOnly := range map[string]bool{"editor": false, "viewer": true} {
			p := decodePage(t, f.do(t, request{path: "/admin/product/" + cat.lampID + "?tab=Skus", user: user}))
			info := p.Model.EntityForm.Selectize["tags"]
			require.NotNil(t, info, user)
			assert.Equal(t, "/product/"+cat.lampID+"/tags/selectize", info["selectizeUrl"], user)
			assert.Equal(t, readOnly, info["readOnly"], user)
		}
	})

	t.Run("single tab", func(t *testing.T) {
		w := f.do(t, request{method: http.MethodPost, path: "/admin/product/" + cat.lampID + "/1/Skus", user: "admin"})
		p := decodePage(t, w)
		assert.Equal(t, "views/entityEditTab", p.View)
		assert.Equal(t, "Skus", p.Model.CurrentTabName)
	})
}

func TestSaveEntity(t *testing.T) {
	f := newFixture(t)
	cat := f.seed(t)
	path := "/admin/product/" + cat.lampID

	t.Run("json save reports dirty fields", func(t *testing.T) {
		w := f.do(t, request{method: http.MethodPost, path: path, user: "editor", json: map[string]any{
			"fields": map[string]string{"name": "Desk Lamp"},
		}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		e := decodeEnvelope(t, w)
		assert.Empty(t, e.Errors)
		assert.Contains(t, e.Dirty, "name")
	})

	t.Run("json save reports field errors", func(t *testing.T) {
		w := f.do(t, request{method: http.MethodPost, path: path, user: "editor", json: map[string]any{
			"fields": map[string]string{"code": "lower case"},
		}})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		e := decodeEnvelope(t, w)
		require.NotEmpty(t, e.Errors)
		assert.Equal(t, "code", e.Errors[0].Field)
		assert.Equal(t, errorTypeField, e.Errors[0].ErrorType)
		assert.Empty(t, e.Dirty)
	})

	t.Run("html save redirects with a flash", func(t *testing.T) {
		req := request{method: http.MethodPost, path: path, user: "editor", form: url.Values{"fields[price]": {"15.00"}}}
		w := f.doHTML(t, req)
		require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
		assert.Equal(t, path+"?headerFlash=save.successful", w.Header().Get("Location"))
	})

	t.Run("viewer may not save", func(t *testing.T) {
		w := f.do(t, request{method: http.MethodPost, path: path, user: "viewer", json: map[string]any{"fields": map[string]string{"name": "x"}}})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestArchivedProductIsFrozen(t *testing.T) {
	f := newFixture(t)
	id := f.add(t, "catalog.Product", map[string]string{"name": "Old Lamp", "status": "ARCHIVED"})
	path := "/admin/product/" + id

	p := decodePage(t, f.do(t, request{path: path, user: "editor"}))
	assert.True(t, p.Model.EntityForm.ReadOnly)
	assert.False(t, p.Model.EntityForm.HasAction("DELETE"))

	w := f.do(t, request{method: http.MethodPost, path: path, user: "editor", json: map[string]any{"fields": map[string]string{"name": "x"}}})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = f.do(t, request{method: http.MethodPost, path: path + "/delete", user: "editor", ajax: true})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// admins hold a super role
	w = f.do(t, request{method: http.MethodPost, path: path, user: "admin", json: map[string]any{"fields": map[string]string{"name": "Older Lamp"}}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, decodeEnvelope(t, w).Errors)
}

func TestRemoveEntity(t *testing.T) {
	f := newFixture(t)
	cat := f.seed(t)

	stoolID := f.add(t, "catalog.Product", map[string]string{"name": "Stool"})

	w := f.do(t, request{method: http.MethodPost, path: "/admin/product/" + stoolID + "/delete", user: "editor", ajax: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "/admin/product?headerFlash=delete.successful", decodeEnvelope(t, w).Redirect)

	w = f.do(t, request{path: "/admin/product/" + stoolID, user: "editor"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, request{method: http.MethodPost, path: "/admin/product/" + cat.lampID + "/delete", user: "viewer", ajax: true})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDuplicateEntity(t *testing.T) {
	f := newFixture(t)
	cat := f.seed(t)

	stoolID := f.add(t, "catalog.Product", map[string]string{"name": "Stool", "price": "20.00"})

	w := f.do(t, request{method: http.MethodPost, path: "/admin/product/" + stoolID + "/duplicate", user: "admin"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	e := decodeEnvelope(t, w)
	require.NotEmpty(t, e.Redirect)
	assert.NotEqual(t, "/admin/product/"+stoolID, e.Redirect)

	p := decodePage(t, f.do(t, request{path: e.Redirect, user: "admin"}))
	assert.Equal(t, "20.00", p.Model.EntityForm.FindField("price").Value)

	w = f.do(t, request{method: http.MethodPost, path: "/admin/tag/" + cat.tagID + "/duplicate", user: "admin"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	e = decodeEnvelope(t, w)
	require.Len(t, e.Errors, 1)
	assert.Equal(t, CodeValidationFailure, e.Errors[0].Code)
	assert.Empty(t, e.Redirect)
}

func TestSelectizeEntityList(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	w := f.do(t, request{path: "/admin/product/selectize?name=Bulb", user: "admin"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Options []form.SelectizeOption `json:"options"`
	}
	require.NoError(t, jsonDecode(w, &out))
	require.Len(t, out.Options, 1)
	assert.Equal(t, "Bulb", out.Options[0].Label)
}

func TestAddActionNeedsAnEditableField(t *testing.T) {
	f := newFixture(t)

	p := decodePage(t, f.do(t, request{path: "/admin/pricechange", user: "admin"}))
	assert.Equal(t, "entityList", p.Model.ViewType)
	assert.False(t, hasAction(p.Model.MainActions, form.ActionAdd.ID))

	p = decodePage(t, f.do(t, request{path: "/admin/product", user: "admin"}))
	assert.True(t, hasAction(p.Model.MainActions, form.ActionAdd.ID))
}

func TestEntityFailures(t *testing.T) {
	f := newFixture(t)
	cat := f.seed(t)
	lamp := "/admin/product/" + cat.lampID

	tests := []struct {
		name  string
		html  bool
		req   request
		check func(t *testing.T, w *httptest.ResponseRecorder)
	}{
		{
			name: "html save re-renders with an alert",
			html: true,
			req:  request{method: http.MethodPost, path: lamp, user: "editor", form: url.Values{"fields[code]": {"lower case"}}},
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				p := decodePage(t, w)
				assert.Equal(t, "entityEdit", p.Model.ViewType)
				assert.Equal(t, "save.unsuccessful", p.Model.HeaderFlash)
				assert.True(t, p.Model.HeaderFlashAlert)
				require.NotNil(t, p.Model.EntityForm)
				assert.NotNil(t, p.Model.EntityForm.FindField("code"))
			},
		},
		{
			name: "referenced record is kept",
			req:  request{method: http.MethodPost, path: "/admin/product/" + cat.bulbID + "/delete", user: "editor", ajax: true},
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusOK, w.Code, w.Body.String())
				e := decodeEnvelope(t, w)
				assert.Equal(t, "delete.unsuccessful", e.HeaderFlash)
				require.NotEmpty(t, e.Errors)
				assert.Equal(t, persistence.ErrDeleteReferenced, e.Errors[0].Code)
				assert.Empty(t, e.Redirect)
			},
		},
		{
			name: "copy that fails validation",
			// the suffixed code no longer matches its pattern
			req: request{method: http.MethodPost, path: lamp + "/duplicate", user: "admin"},
			check: func(t *testing.T, w *httptest.ResponseRecorder) {
				require.Equal(t, http.StatusOK, w.Code, w.Body.String())
				e := decodeEnvelope(t, w)
				require.Len(t, e.Errors, 1)
				assert.Equal(t, CodeDuplicationFailure, e.Errors[0].Code)
				assert.Equal(t, errorTypeGlobal, e.Errors[0].ErrorType)
				assert.Empty(t, e.Redirect)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.html {
				tc.check(t, f.doHTML(t, tc.req))
				return
			}
			tc.check(t, f.do(t, tc.req))
		})
	}

	w := f.do(t, request{path: "/admin/product/" + cat.bulbID, user: "editor"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEntityFormModelAttributes(t *testing.T) {
	f := newFixture(t)
	cat := f.seed(t)
	lamp := "/admin/product/" + cat.lampID

	tests := []struct {
		name   string
		path   string
		crumbs string
		folder string
	}{
		{name: "defaults", path: lamp, crumbs: "product--" + cat.lampID, folder: "unassigned"},
		{name: "nested", path: lamp + "?sectionCrumbs=category--" + cat.categoryID + "&currentFolderId=f-1",
			crumbs: "category--" + cat.categoryID + ",product--" + cat.lampID, folder: "f-1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := decodePage(t, f.do(t, request{path: tc.path, user: "editor"}))
			assert.Equal(t, tc.crumbs, p.Model.SectionCrumbs)
			assert.Equal(t, tc.folder, p.Model.CurrentFolderID)
		})
	}
}

// recordingService remembers the list requests it served.
type recordingService struct {
	AdminEntityService
	requests []*persistence.PersistencePackageRequest
}

func (s *recordingService) Records(ctx context.Context, ppr *persistence.PersistencePackageRequest) (*persistence.PersistenceResponse, error) {
	s.requests = append(s.requests, ppr)
	return s.AdminEntityService.Records(ctx, ppr)
}

func TestSelectizeRequestsAreMarked(t *testing.T) {
	rec := &recordingService{}
	f := newFixture(t, func(d *Deps) {
		rec.AdminEntityService = d.Service
		d.Service = rec
	})
	f.seed(t)

	w := f.do(t, request{path: "/admin/product/selectize?criteria=inStock", user: "admin"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, rec.requests, 1)
	assert.Equal(t, []string{persistence.CriteriaSelectize, "inStock"}, rec.requests[0].CustomCriteria)
	require.NotNil(t, rec.requests[0].MaxIndex)

	rec.requests = nil
	decodePage(t, f.do(t, request{path: "/admin/product", user: "admin"}))
	require.Len(t, rec.requests, 1)
	assert.NotContains(t, rec.requests[0].CustomCriteria, persistence.CriteriaSelectize)
}
