package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"openadmin/internal/form"
	"openadmin/internal/metadata"
	"openadmin/internal/persistence"
	"openadmin/internal/reference"
	"openadmin/internal/security"
	"openadmin/internal/view"
)

// collectionCtx is the parent record and collection field a collection
// request works on.
type collectionCtx struct {
	sec    reference.Section
	crumbs []persistence.SectionCrumb
	cmd    *metadata.ClassMetadata
	parent *persistence.Entity
	prop   *metadata.Property
}

func (cc *collectionCtx) fmd() *metadata.FieldMetadata { return cc.prop.Metadata }

// path is the collection URL relative to the context path.
func (cc *collectionCtx) path() string {
	return cc.sec.URL() + "/" + cc.parent.ID() + "/" + cc.prop.Name
}

// collection resolves the parent record and collection field of the request.
// Writes additionally need update rights on the parent class.
func (ctl *Controller) collection(c *gin.Context, write bool) (*collectionCtx, error) {
	sec, err := ctl.section(c)
	if err != nil {
		return nil, err
	}
	id := c.Param("id")
	crumbs := ctl.sectionCrumbs(c, sec.Key, id)
	ppr := ctl.sectionRequest(sec, crumbs)
	parent, err := ctl.record(c, ppr, id)
	if err != nil {
		return nil, err
	}
	cmd, err := ctl.classMetadata(c, ppr)
	if err != nil {
		return nil, err
	}
	prop, err := collectionProperty(cmd, c.Param("field"))
	if err != nil {
		return nil, err
	}
	if err := ctl.check(c, collectionClassName(prop.Metadata), security.OpFetch); err != nil {
		return nil, err
	}
	if write {
		if err := ctl.check(c, parent.ClassName(), security.OpUpdate); err != nil {
			return nil, err
		}
	}
	return &collectionCtx{sec: sec, crumbs: crumbs, cmd: cmd, parent: parent, prop: prop}, nil
}

// collectionClassName is the class listed by a collection grid.
func collectionClassName(fmd *metadata.FieldMetadata) string {
	if fmd.Kind == metadata.KindMap {
		return fmd.ValueClass
	}
	return fmd.CollectionCeilingEntity
}

// collectionClass is the metadata of the records a collection lists.
func (ctl *Controller) collectionClass(c *gin.Context, cc *collectionCtx) (*metadata.ClassMetadata, error) {
	return ctl.classMetadata(c, persistence.FromMetadata(cc.fmd(), cc.crumbs))
}

// collectionGrid fetches a page of the collection and builds its grid.
func (ctl *Controller) collectionGrid(c *gin.Context, cc *collectionCtx, lp listParams) (*form.ListGrid, error) {
	resp, err := ctl.Service.RecordsForCollection(c.Request.Context(), cc.cmd, cc.parent, cc.prop,
		lp.Criteria, lp.Start, lp.Max, "", cc.crumbs)
	if err != nil {
		return nil, err
	}
	return ctl.Forms.BuildCollectionListGrid(cc.parent.ID(), resp.DynamicResultSet, cc.prop, cc.sec.Key, cc.crumbs)
}

// renderGrid answers with the standalone grid of the collection.
func (ctl *Controller) renderGrid(c *gin.Context, cc *collectionCtx, extra view.Model) {
	lg, err := ctl.collectionGrid(c, cc, listParams{})
	if err != nil {
		ctl.fail(c, err)
		return
	}
	model := ctl.model(c, cc.sec)
	model["listGrid"] = lg
	model["collectionProperty"] = cc.fmd()
	model["currentUrl"] = ctl.opts.ContextPath + cc.path()
	for k, v := range extra {
		model[k] = v
	}
	ctl.render(c, http.StatusOK, standaloneGridView, model)
}

// toOneField finds a to-one field of the section's class.
func (ctl *Controller) toOneField(c *gin.Context, sec reference.Section, name string) (*metadata.FieldMetadata, error) {
	cmd, err := ctl.classMetadata(c, ctl.sectionRequest(sec, nil))
	if err != nil {
		return nil, err
	}
	p, ok := cmd.Property(name)
	if !ok || p.Metadata.FieldType != metadata.FieldTypeForeignKey {
		return nil, fmt.Errorf("%w: %s.%s", ErrFieldNotFound, cmd.CeilingType, name)
	}
	return p.Metadata, nil
}

// getCollectionValueDetails maps the ids of a to-one field's targets to their
// display values. Unknown ids map to themselves.
func (ctl *Controller) getCollectionValueDetails(c *gin.Context) {
	sec, err := ctl.section(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	fmd, err := ctl.toOneField(c, sec, c.Param("id"))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	if err := ctl.check(c, fmd.ForeignKeyClass, security.OpFetch); err != nil {
		ctl.fail(c, err)
		return
	}

	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		c.JSON(http.StatusOK, out)
		return
	}
	for _, id := range ids {
		out[id] = id
	}
	start, last := 0, len(ids)-1
	ppr := persistence.NewRequest(fmd.ForeignKeyClass).
		WithFilterAndSortCriteria([]persistence.FilterAndSortCriteria{{PropertyID: metadata.IDProperty, FilterValues: ids}}).
		WithStartIndex(&start).
		WithMaxIndex(&last)
	resp, err := ctl.Service.Records(c.Request.Context(), ppr)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	display := fmd.ForeignKeyDisplayProperty
	for _, ent := range resp.DynamicResultSet.Records {
		if v := ent.Value(display); display != "" && v != "" {
			out[ent.ID()] = v
		}
	}
	c.JSON(http.StatusOK, out)
}

// viewCollectionItemDetails shows the target of a to-one field read-only,
// using the section that administers the target class.
func (ctl *Controller) viewCollectionItemDetails(c *gin.Context) {
	sec, err := ctl.section(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	fmd, err := ctl.toOneField(c, sec, c.Param("id"))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	target, ok := ctl.Sections.ByClassName(fmd.ForeignKeyClass)
	if !ok {
		ctl.fail(c, fmt.Errorf("%w: for class %s", ErrSectionNotFound, fmd.ForeignKeyClass))
		return
	}
	targetID := c.Param("field")
	crumbs := ctl.sectionCrumbs(c, sec.Key, "")
	tcmd, err := ctl.classMetadata(c, ctl.sectionRequest(target, crumbs))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	tabName := currentTabName("", tcmd)
	_, _, ef, err := ctl.editForm(c, target, targetID, tabName, crumbs)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	ef.SetReadOnly()
	ef.RemoveAllActions()
	ctl.addAuditableDisplayFields(ef)

	model := ctl.model(c, target)
	model["entityForm"] = ef
	model["entityFriendlyName"] = tcmd.FriendlyName
	model["currentTabName"] = tabName
	model["viewType"] = "modal/entityView"
	model["modalHeaderType"] = headerViewEntity
	model["currentUrl"] = c.Request.URL.RequestURI()
	ctl.render(c, http.StatusOK, modalContainerView, model)
}

// getCollectionFieldRecords renders one page of a collection as a grid.
func (ctl *Controller) getCollectionFieldRecords(c *gin.Context) {
	cc, err := ctl.collection(c, false)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	ccmd, err := ctl.collectionClass(c, cc)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	lg, err := ctl.collectionGrid(c, cc, parseListParams(c.Request.URL.Query(), ccmd))
	if err != nil {
		ctl.fail(c, err)
		return
	}
	model := ctl.model(c, cc.sec)
	model["listGrid"] = lg
	model["collectionProperty"] = cc.fmd()
	model["currentUrl"] = c.Request.URL.RequestURI()
	ctl.render(c, http.StatusOK, standaloneGridView, model)
}

// buildAddCollectionItemModel fills model with the add modal of the
// collection: a form for persisted children, a picker for lookups, a picker
// plus join form for adorned collections and a key/value form for maps.
func (ctl *Controller) buildAddCollectionItemModel(c *gin.Context, cc *collectionCtx, model view.Model, entityType string) error {
	fmd := cc.fmd()
	id := cc.parent.ID()
	ppr := persistence.FromMetadata(fmd, cc.crumbs).
		WithCustomCriteria(persistence.CriteriaOwningClassPrefix + cc.cmd.CeilingType).
		WithAddOperationInspect(true)

	model["currentUrl"] = c.Request.URL.RequestURI()
	model["currentUri"] = ctl.relativePath(c)
	model["modalHeaderType"] = headerAddCollectionItem
	model["collectionProperty"] = fmd
	model["formAction"] = cc.path() + "/add"

	switch fmd.Kind {
	case metadata.KindBasicCollection:
		ccmd, err := ctl.classMetadata(c, ppr)
		if err != nil {
			return err
		}
		if fmd.AddMethod == metadata.AddPersist || fmd.AddMethod == metadata.AddPersistEmpty {
			entityType = determineEntityType(entityType, ccmd)
			if entityType == "" {
				model["entityTypes"] = ccmd.PolymorphicEntities.Collapse()
				model["viewType"] = "modal/entityTypeSelection"
				model["modalHeaderType"] = headerSelectType
				return nil
			}
			if ccmd.PolymorphicEntities.Find(entityType) == nil {
				return fmt.Errorf("%w: %s", metadata.ErrUnknownClass, entityType)
			}
			ef, err := ctl.Forms.CreateEntityForm(ccmd, cc.sec.Key, nil, nil, cc.crumbs)
			if err != nil {
				return err
			}
			ef.CeilingEntityClassname = ccmd.CeilingType
			ef.ParentID = id
			ef.RemoveField(fmd.ManyToField)
			ctl.Forms.RemoveNonApplicableFields(ccmd, ef, entityType)
			model["entityForm"] = ef
			model["viewType"] = "modal/simpleAddEntity"
			return nil
		}
		lp := parseListParams(c.Request.URL.Query(), ccmd)
		lp.apply(ppr.WithCustomCriteria(lp.Custom...))
		resp, err := ctl.Service.Records(c.Request.Context(), ppr)
		if err != nil {
			return err
		}
		lg, err := ctl.Forms.BuildCollectionListGrid("", resp.DynamicResultSet, cc.prop, cc.sec.Key, cc.crumbs)
		if err != nil {
			return err
		}
		lg.Path = cc.path()
		lg.SelectType = form.SelectSingle
		lg.ToolbarActions = nil
		lg.RowActions = nil
		lg.Sortable = false
		model["listGrid"] = lg
		model["viewType"] = "modal/simpleSelectEntity"
		return nil

	case metadata.KindAdornedTarget:
		tppr := persistence.NewRequest(fmd.CollectionCeilingEntity).
			WithSectionCrumbs(cc.crumbs).
			WithCustomCriteria(persistence.CriteriaOwningClassPrefix + cc.cmd.CeilingType)
		tcmd, err := ctl.classMetadata(c, tppr)
		if err != nil {
			return err
		}
		lp := parseListParams(c.Request.URL.Query(), tcmd)
		lp.apply(tppr.WithCustomCriteria(lp.Custom...))
		resp, err := ctl.Service.Records(c.Request.Context(), tppr)
		if err != nil {
			return err
		}
		ef, err := ctl.Forms.BuildAdornedListForm(fmd, ppr.AdornedList, id, false, cc.crumbs)
		if err != nil {
			return err
		}
		lg := ctl.Forms.BuildMainListGrid(resp.DynamicResultSet, tcmd, cc.sec.Key, cc.crumbs)
		lg.Type = form.GridAdorned
		if ef.HasVisibleFields() {
			lg.Type = form.GridAdornedWithForm
		}
		lg.Path = cc.path()
		lg.SubCollectionField = fmd.Name
		lg.ContainingEntityID = id
		lg.Sortable = false
		lg.CanFilterAndSort = true
		model["listGrid"] = lg
		model["entityForm"] = ef
		model["viewType"] = "modal/adornedSelectEntity"
		return nil

	case metadata.KindMap:
		vcmd, err := ctl.classMetadata(c, ppr)
		if err != nil {
			return err
		}
		ms := ppr.MapStructure
		ms.ParentID = id
		ef, err := ctl.Forms.BuildMapForm(fmd, ms, vcmd, id)
		if err != nil {
			return err
		}
		model["entityForm"] = ef
		model["viewType"] = "modal/mapAddEntity"
		ctl.Extension.ModifyAddCollectionModel(c, model, cc.sec.Key, id, fmd)
		return nil
	}
	return persistence.ErrUnsupportedCollection
}

// showAddCollectionItem renders the add modal of a collection.
func (ctl *Controller) showAddCollectionItem(c *gin.Context) {
	cc, err := ctl.collection(c, false)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	model := ctl.model(c, cc.sec)
	if err := ctl.buildAddCollectionItemModel(c, cc, model, c.Query("entityType")); err != nil {
		ctl.fail(c, err)
		return
	}
	ctl.render(c, http.StatusOK, modalContainerView, model)
}

// addCollectionItemVerify lets the extension fill the join fields of an
// adorned item before it is added.
func (ctl *Controller) addCollectionItemVerify(c *gin.Context) {
	cc, err := ctl.collection(c, true)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	if cc.fmd().Kind != metadata.KindAdornedTarget {
		ctl.fail(c, fmt.Errorf("%w: %s is not an adorned collection", errBadRequest, cc.prop.Name))
		return
	}
	out := map[string]any{}
	ctl.Extension.AutoPopulateAdorned(cc.fmd(), cc.cmd.CeilingType, cc.parent.ID(), c.Param("item"), out)
	c.JSON(http.StatusOK, out)
}

// getSelectizeCollectionOptions answers a selectize lookup for a collection.
func (ctl *Controller) getSelectizeCollectionOptions(c *gin.Context) {
	cc, err := ctl.collection(c, false)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	fmd := cc.fmd()
	if fmd.Kind == metadata.KindMap {
		ctl.fail(c, fmt.Errorf("%w: %s is a map", errBadRequest, fmd.Name))
		return
	}
	ppr := persistence.NewRequest(fmd.CollectionCeilingEntity).
		WithSectionCrumbs(cc.crumbs).
		WithCustomCriteria(persistence.CriteriaSelectize, persistence.CriteriaOwningClassPrefix+cc.cmd.CeilingType)
	ccmd, err := ctl.classMetadata(c, ppr)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	lp := parseListParams(c.Request.URL.Query(), ccmd)
	lp.apply(ppr.WithCustomCriteria(lp.Custom...))
	ctl.limitSelectize(ppr)
	resp, err := ctl.Service.Records(c.Request.Context(), ppr)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ctl.Forms.ConstructSelectizeOptionMap(resp.DynamicResultSet, ccmd))
}

// itemID is the id of the record a posted collection form refers to.
func itemID(c *gin.Context, in *entityFormInput) string {
	if v := in.Fields[metadata.IDProperty]; v != "" {
		return v
	}
	if v := in.Fields[metadata.AdornedTargetProp]; v != "" {
		return v
	}
	return param(c, "id")
}

// addSelectizeCollectionItem links a record picked in a selectize widget.
func (ctl *Controller) addSelectizeCollectionItem(c *gin.Context) {
	cc, err := ctl.collection(c, true)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	in, err := bindEntityForm(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	sub := in.submission(collectionClassName(cc.fmd()), itemID(c, in), cc.parent.ID())
	resp, err := ctl.Service.AddSubCollectionEntity(c.Request.Context(), sub, cc.cmd, cc.prop, cc.parent, cc.crumbs)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	if resp.Entity.ValidationFailure {
		c.JSON(http.StatusOK, gin.H{"error": ctl.msg(c, firstError(resp.Entity))})
		return
	}
	alt := resp.Entity.Value(metadata.AlternateIDProp)
	if alt == "" {
		alt = resp.Entity.ID()
	}
	c.JSON(http.StatusOK, gin.H{"alternateId": alt})
}

// addCollectionItem adds an item to a collection. Invalid input re-renders
// the add modal.
func (ctl *Controller) addCollectionItem(c *gin.Context) {
	cc, err := ctl.collection(c, true)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	in, err := bindEntityForm(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	fmd := cc.fmd()
	ceiling := collectionClassName(fmd)
	if fmd.Kind == metadata.KindBasicCollection && (fmd.AddMethod == metadata.AddPersist || fmd.AddMethod == metadata.AddPersistEmpty) {
		class := ceiling
		if in.EntityType != "" {
			class = decodeParam(in.EntityType)
		}
		if err := ctl.check(c, class, security.OpAdd); err != nil {
			ctl.fail(c, err)
			return
		}
		u, _ := ctl.Security.CurrentUser(c.Request.Context())
		if !ctl.RowLevel.CanAdd(c.Request.Context(), u, class) {
			ctl.fail(c, &security.ServiceError{Kind: security.KindOperationNotAllowed, ClassName: class, Operation: security.OpAdd})
			return
		}
	}

	id := ""
	if fmd.Kind != metadata.KindBasicCollection || (fmd.AddMethod != metadata.AddPersist && fmd.AddMethod != metadata.AddPersistEmpty) {
		id = itemID(c, in)
	}
	sub := in.submission(ceiling, id, cc.parent.ID())
	resp, err := ctl.Service.AddSubCollectionEntity(c.Request.Context(), sub, cc.cmd, cc.prop, cc.parent, cc.crumbs)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	if res := ctl.Validator.Validate(nil, resp.Entity); res.HasErrors() {
		model := ctl.model(c, cc.sec)
		if err := ctl.buildAddCollectionItemModel(c, cc, model, in.EntityType); err != nil {
			ctl.fail(c, err)
			return
		}
		if ef, ok := model["entityForm"].(*form.EntityForm); ok {
			ctl.Forms.PopulateEntityFormFields(ef, resp.Entity, false, false)
			ctl.Validator.Validate(ef, resp.Entity)
		}
		model["errors"] = ctl.validationErrors(c, res)
		ctl.render(c, http.StatusOK, modalContainerView, model)
		return
	}
	ctl.lggr.Debugw("collection item added", "section", cc.sec.Key, "parent", cc.parent.ID(), "field", fmd.Name, "id", resp.Entity.ID())
	ctl.renderGrid(c, cc, view.Model{"actualEntityId": resp.Entity.ID()})
}

// addEmptyCollectionItem creates a blank child of a parent that is still
// being filled in, skipping required checks.
func (ctl *Controller) addEmptyCollectionItem(c *gin.Context) {
	cc, err := ctl.collection(c, true)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	fmd := cc.fmd()
	if fmd.Kind != metadata.KindBasicCollection || (fmd.AddMethod != metadata.AddPersist && fmd.AddMethod != metadata.AddPersistEmpty) {
		ctl.fail(c, fmt.Errorf("%w: %s does not persist its items", errBadRequest, fmd.Name))
		return
	}
	in, err := bindEntityForm(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	parent := ctl.Service.MarkPreAdd(cc.parent)
	sub := in.submission(fmd.CollectionCeilingEntity, "", parent.ID())
	resp, err := ctl.Service.AddSubCollectionEntity(c.Request.Context(), sub, cc.cmd, cc.prop, parent, cc.crumbs)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	if resp.Entity.ValidationFailure {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": ctl.msg(c, firstError(resp.Entity))})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "complete", "id": resp.Entity.ID()})
}

// itemView says how showViewUpdateCollection renders an item.
type itemView struct {
	itemID     string
	altID      string
	readOnly   bool
	headerType string
	// saved carries a failed write whose values and errors go on the form.
	saved *persistence.Entity
	// tabName selects a single tab fragment instead of the modal.
	tabName string
}

// showViewUpdateCollection renders the edit or view modal of a collection item.
func (ctl *Controller) showViewUpdateCollection(c *gin.Context, cc *collectionCtx, iv itemView) {
	ctx := c.Request.Context()
	fmd := cc.fmd()
	parentID := cc.parent.ID()

	resp, err := ctl.Service.AdvancedCollectionRecord(ctx, cc.cmd, cc.parent, cc.prop, iv.itemID, cc.crumbs, iv.altID, nil)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	ent := resp.Entity

	model := ctl.model(c, cc.sec)
	itemPath := cc.path() + "/" + iv.itemID
	if iv.altID != "" {
		itemPath += "/" + iv.altID
	}
	var ef *form.EntityForm

	switch fmd.Kind {
	case metadata.KindBasicCollection:
		ccmd, err := ctl.collectionClass(c, cc)
		if err != nil {
			ctl.fail(c, err)
			return
		}
		tabName := currentTabName(iv.tabName, ccmd)
		subRecords, err := ctl.Service.RecordsForSelectedTab(ctx, ccmd, ent, cc.crumbs, tabName)
		if err != nil {
			ctl.fail(c, err)
			return
		}
		if ef, err = ctl.Forms.CreateEntityForm(ccmd, cc.sec.Key, ent, subRecords, cc.crumbs); err != nil {
			ctl.fail(c, err)
			return
		}
		ef.ParentID = parentID
		ef.RemoveAction(form.ActionDelete)
		ef.RemoveAction(form.ActionDuplicate)
		ctl.addAuditableDisplayFields(ef)
		if fmd.AddMethod == metadata.AddLookup || fmd.AddMethod == metadata.AddSelectizeLookup {
			iv.readOnly = true
		}
		model["currentTabName"] = tabName
		model["viewType"] = "modal/simpleEditEntity"

	case metadata.KindAdornedTarget:
		al := persistence.FromMetadata(fmd, cc.crumbs).AdornedList
		if ef, err = ctl.Forms.BuildAdornedListForm(fmd, al, parentID, iv.readOnly, cc.crumbs); err != nil {
			ctl.fail(c, err)
			return
		}
		ef.RemoveAction(form.ActionAdd)
		if !iv.readOnly {
			ef.AddAction(form.ActionSave)
		}
		ctl.Forms.PopulateEntityFormFields(ef, ent, false, false)
		ctl.Forms.PopulateAdornedEntityFormFields(ef, ent, al)

		auto := map[string]any{}
		ctl.Extension.AutoPopulateAdorned(fmd, cc.cmd.CeilingType, parentID, iv.itemID, auto)
		editable := false
		for _, f := range ef.Fields() {
			if _, filled := auto[f.Name]; filled {
				f.Value = fmt.Sprint(auto[f.Name])
				f.ReadOnly = true
				continue
			}
			if f.Visible && !f.ReadOnly {
				editable = true
			}
		}
		if !editable {
			ef.RemoveAction(form.ActionSave)
		}
		model["viewType"] = "modal/adornedEditEntity"

	case metadata.KindMap:
		vcmd, err := ctl.collectionClass(c, cc)
		if err != nil {
			ctl.fail(c, err)
			return
		}
		ms := persistence.FromMetadata(fmd, cc.crumbs).MapStructure
		ms.ParentID = parentID
		if ef, err = ctl.Forms.BuildMapForm(fmd, ms, vcmd, parentID); err != nil {
			ctl.fail(c, err)
			return
		}
		ctl.Forms.PopulateEntityFormFields(ef, ent, true, true)
		ctl.Forms.PopulateMapEntityFormFields(ef, ent)
		model["viewType"] = "modal/mapEditEntity"

	default:
		ctl.fail(c, persistence.ErrUnsupportedCollection)
		return
	}

	if iv.saved != nil {
		prior := ef.Value(form.FieldPriorKey)
		ctl.Forms.PopulateEntityFormFields(ef, iv.saved, false, false)
		if f := ef.FindField(form.FieldPriorKey); f != nil {
			f.Value = prior
		}
		ctl.Validator.Validate(ef, iv.saved)
	}
	if iv.readOnly || fmd.ReadOnly {
		ef.SetReadOnly()
		ef.RemoveAllActions()
	}

	model["entityForm"] = ef
	model["formAction"] = itemPath
	model["currentUrl"] = c.Request.URL.RequestURI()
	model["modalHeaderType"] = iv.headerType
	model["collectionProperty"] = fmd
	if iv.tabName != "" {
		model["viewType"] = "views/entityEditTab"
		ctl.render(c, http.StatusOK, "views/entityEditTab", model)
		return
	}
	ctl.render(c, http.StatusOK, modalContainerView, model)
}

// showUpdateCollectionItem renders the edit modal of a collection item.
func (ctl *Controller) showUpdateCollectionItem(c *gin.Context) {
	cc, err := ctl.collection(c, false)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	ctl.showViewUpdateCollection(c, cc, itemView{
		itemID:     c.Param("item"),
		altID:      c.Param("alt"),
		headerType: headerUpdateCollectionItem,
	})
}

// showViewCollectionItem renders a collection item read-only.
func (ctl *Controller) showViewCollectionItem(c *gin.Context) {
	cc, err := ctl.collection(c, false)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	ctl.showViewUpdateCollection(c, cc, itemView{
		itemID:     c.Param("item"),
		altID:      c.Param("alt"),
		readOnly:   true,
		headerType: headerViewCollectionItem,
	})
}

// viewCollectionItemTab renders one tab of a collection item's form. The
// ".../view/{tab}/{tabName}" form is read-only; otherwise the numeric tab
// index sits where the alternate id would.
func (ctl *Controller) viewCollectionItemTab(c *gin.Context) {
	readOnly := c.Param("tab") != ""
	tab := c.Param("alt")
	if readOnly {
		tab = c.Param("tab")
	}
	if !isNumeric(tab) {
		ctl.fail(c, fmt.Errorf("%w: %s", ErrFieldNotFound, c.Request.URL.Path))
		return
	}
	cc, err := ctl.collection(c, false)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	header := headerUpdateCollectionItem
	if readOnly {
		header = headerViewCollectionItem
	}
	ctl.showViewUpdateCollection(c, cc, itemView{
		itemID:     c.Param("item"),
		readOnly:   readOnly,
		headerType: header,
		tabName:    c.Param("tabName"),
	})
}

// collectionItemPost routes POST /{section}/{id}/{x}/{y}: a numeric x is an
// entity tab request, anything else a collection item update.
func (ctl *Controller) collectionItemPost(c *gin.Context) {
	if isNumeric(c.Param("field")) {
		ctl.viewEntityTab(c, c.Param("item"))
		return
	}
	ctl.updateCollectionItem(c)
}

// updateCollectionItem stores an edited collection item. Invalid input
// re-renders the edit modal.
func (ctl *Controller) updateCollectionItem(c *gin.Context) {
	cc, err := ctl.collection(c, true)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	in, err := bindEntityForm(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	item, alt := c.Param("item"), c.Param("alt")
	sub := in.submission(collectionClassName(cc.fmd()), item, cc.parent.ID())
	resp, err := ctl.Service.UpdateSubCollectionEntity(c.Request.Context(), sub, cc.cmd, cc.prop, cc.parent, item, alt, cc.crumbs)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	if res := ctl.Validator.Validate(nil, resp.Entity); res.HasErrors() {
		ctl.showViewUpdateCollection(c, cc, itemView{
			itemID:     item,
			altID:      alt,
			headerType: headerUpdateCollectionItem,
			saved:      resp.Entity,
		})
		return
	}
	ctl.renderGrid(c, cc, nil)
}

// updateCollectionItemSequence moves an item to the 0-indexed newSequence
// position of its collection.
func (ctl *Controller) updateCollectionItemSequence(c *gin.Context) {
	cc, err := ctl.collection(c, true)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	fmd := cc.fmd()
	if fmd.SortProperty == "" || fmd.Kind == metadata.KindMap {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": ctl.msg(c, CodeSequenceUnsupported)})
		return
	}
	position, err := strconv.Atoi(param(c, "newSequence"))
	if err != nil || position < 0 {
		ctl.fail(c, fmt.Errorf("%w: newSequence %q", errBadRequest, param(c, "newSequence")))
		return
	}
	item, alt := c.Param("item"), c.Param("alt")
	ctx := c.Request.Context()

	if fmd.Kind == metadata.KindBasicCollection {
		cur, err := ctl.Service.AdvancedCollectionRecord(ctx, cc.cmd, cc.parent, cc.prop, item, cc.crumbs, alt, nil)
		if err != nil {
			ctl.fail(c, err)
			return
		}
		u, _ := ctl.Security.CurrentUser(ctx)
		if !ctl.RowLevel.CanUpdate(ctx, u, cur.Entity) {
			ctl.fail(c, &security.ServiceError{Kind: security.KindOperationNotAllowed, ClassName: cur.Entity.ClassName(), Operation: security.OpUpdate})
			return
		}
	}

	resp, err := ctl.Service.UpdateCollectionSequence(ctx, cc.cmd, cc.prop, cc.parent, item, alt, position)
	if errors.Is(err, persistence.ErrUnsupportedCollection) {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": ctl.msg(c, CodeSequenceUnsupported)})
		return
	}
	if err != nil {
		ctl.fail(c, err)
		return
	}
	var order any = resp.Entity.Value(fmd.SortProperty)
	if n, err := strconv.Atoi(resp.Entity.Value(fmd.SortProperty)); err == nil {
		order = n
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "field": fmd.Name, "newDisplayOrder": order})
}

// removeCollectionItem takes an item out of a collection. Map entries may be
// addressed by their key.
func (ctl *Controller) removeCollectionItem(c *gin.Context) {
	cc, err := ctl.collection(c, true)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	resp, err := ctl.Service.RemoveSubCollectionEntity(c.Request.Context(), cc.cmd, cc.prop, cc.parent,
		c.Param("item"), c.Param("alt"), param(c, "key"), cc.crumbs)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	if resp.Entity != nil && resp.Entity.ValidationFailure {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": ctl.msg(c, firstError(resp.Entity))})
		return
	}
	ctl.renderGrid(c, cc, nil)
}
