package api

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"openadmin/internal/form"
	"openadmin/internal/metadata"
	"openadmin/internal/persistence"
	"openadmin/internal/reference"
	"openadmin/internal/security"
	"openadmin/internal/view"
)

// model starts a view model with the attributes every page needs.
func (ctl *Controller) model(c *gin.Context, sec reference.Section) view.Model {
	m := view.Model{}
	ctl.setModelAttributes(c, m, sec)
	if flash := view.Sanitize(c.Query("headerFlash")); flash != "" {
		m["headerFlash"] = flash
	}
	return m
}

// viewEntityList renders the listing page of a section.
func (ctl *Controller) viewEntityList(c *gin.Context) {
	sec, err := ctl.section(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	if err := ctl.check(c, sec.ClassName, security.OpFetch); err != nil {
		ctl.fail(c, err)
		return
	}
	crumbs := ctl.sectionCrumbs(c, sec.Key, "")
	ppr := ctl.sectionRequest(sec, crumbs)
	cmd, err := ctl.classMetadata(c, ppr)
	if err != nil {
		ctl.fail(c, err)
		return
	}

	lp := parseListParams(c.Request.URL.Query(), cmd)
	lp.apply(ppr.WithCustomCriteria(lp.Custom...))
	resp, err := ctl.Service.Records(c.Request.Context(), ppr)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	lg := ctl.Forms.BuildMainListGrid(resp.DynamicResultSet, cmd, sec.Key, crumbs)
	lg.SelectType = form.SelectNone

	var actions []*form.EntityFormAction
	if ctl.isAddActionAllowed(c, ppr, cmd) {
		actions = append(actions, form.ActionAdd)
	}
	actions = ctl.Extension.AddMainActions(sec.ClassName, actions)
	actions = ctl.Extension.ModifyMainActions(cmd, actions)

	model := ctl.model(c, sec)
	if len(lg.HeaderFields) > 0 {
		field := lg.HeaderFields[0].Name
		model["mainSearchField"] = field
		model["mainSearchTerm"] = view.Sanitize(c.Query(field))
	}
	model["viewType"] = "entityList"
	model["listGrid"] = lg
	model["mainActions"] = actions
	model["isFilter"] = lp.hasFilter()
	model["currentUri"] = ctl.relativePath(c)
	model["entityTypes"] = cmd.PolymorphicEntities.Collapse()
	model["entityFriendlyName"] = cmd.FriendlyName
	model["currentUrl"] = c.Request.URL.RequestURI()
	model["sectionCrumbs"] = persistence.FormatSectionCrumbs(crumbs)
	ctl.render(c, http.StatusOK, defaultContainerView, model)
}

// viewEntityListSelectize answers a selectize lookup over a section.
func (ctl *Controller) viewEntityListSelectize(c *gin.Context) {
	sec, err := ctl.section(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	if err := ctl.check(c, sec.ClassName, security.OpFetch); err != nil {
		ctl.fail(c, err)
		return
	}
	ppr := ctl.sectionRequest(sec, ctl.sectionCrumbs(c, sec.Key, "")).
		WithCustomCriteria(persistence.CriteriaSelectize)
	cmd, err := ctl.classMetadata(c, ppr)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	lp := parseListParams(c.Request.URL.Query(), cmd)
	lp.apply(ppr.WithCustomCriteria(lp.Custom...))
	ctl.limitSelectize(ppr)

	resp, err := ctl.Service.Records(c.Request.Context(), ppr)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ctl.Forms.ConstructSelectizeOptionMap(resp.DynamicResultSet, cmd))
}

// limitSelectize caps a selectize fetch that asked for no page.
func (ctl *Controller) limitSelectize(ppr *persistence.PersistencePackageRequest) {
	if ppr.MaxIndex != nil {
		return
	}
	start := 0
	if ppr.StartIndex != nil {
		start = *ppr.StartIndex
	}
	last := start + ctl.opts.SelectizeMaxResults - 1
	ppr.WithStartIndex(&start).WithMaxIndex(&last)
}

// viewAddEntityForm renders the add modal, or the type picker when the
// section's class has subclasses and none was chosen.
func (ctl *Controller) viewAddEntityForm(c *gin.Context) {
	sec, err := ctl.section(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	if err := ctl.check(c, sec.ClassName, security.OpAdd); err != nil {
		ctl.fail(c, err)
		return
	}
	crumbs := ctl.sectionCrumbs(c, sec.Key, "")
	ppr := ctl.sectionRequest(sec, crumbs).WithAddOperationInspect(true)
	cmd, err := ctl.classMetadata(c, ppr)
	if err != nil {
		ctl.fail(c, err)
		return
	}

	model := ctl.model(c, sec)
	model["entityFriendlyName"] = cmd.FriendlyName
	model["currentUri"] = ctl.relativePath(c)

	entityType := determineEntityType(c.Query("entityType"), cmd)
	if entityType == "" {
		model["entityTypes"] = cmd.PolymorphicEntities.Collapse()
		model["viewType"] = "modal/entityTypeSelection"
		model["modalHeaderType"] = headerSelectType
		ctl.render(c, http.StatusOK, modalContainerView, model)
		return
	}
	if cmd.PolymorphicEntities.Find(entityType) == nil {
		ctl.fail(c, fmt.Errorf("%w: %s", metadata.ErrUnknownClass, entityType))
		return
	}

	ef, err := ctl.Forms.CreateEntityForm(cmd, sec.Key, nil, nil, crumbs)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	ctl.Forms.RemoveNonApplicableFields(cmd, ef, entityType)
	ctl.Extension.ModifyAddEntityForm(ef, c.Params)

	ctl.addModel(model, sec, ef)
	ctl.render(c, http.StatusOK, modalContainerView, model)
}

func (ctl *Controller) addModel(model view.Model, sec reference.Section, ef *form.EntityForm) {
	model["entityForm"] = ef
	model["viewType"] = "modal/entityAdd"
	model["modalHeaderType"] = headerAddEntity
	model["formAction"] = sec.URL() + "/add"
}

// addEntity stores a new record. Invalid input re-renders the add modal.
func (ctl *Controller) addEntity(c *gin.Context) {
	sec, err := ctl.section(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	in, err := bindEntityForm(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	if err := ctl.check(c, sec.ClassName, security.OpAdd); err != nil {
		ctl.fail(c, err)
		return
	}
	crumbs := persistence.ParseSectionCrumbs(in.SectionCrumbs)
	ppr := ctl.sectionRequest(sec, crumbs)
	cmd, err := ctl.classMetadata(c, ppr)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	entityType := determineEntityType(in.EntityType, cmd)
	if entityType == "" {
		entityType = cmd.CeilingType
	}
	u, _ := ctl.Security.CurrentUser(c.Request.Context())
	if !ctl.RowLevel.CanAdd(c.Request.Context(), u, entityType) {
		ctl.fail(c, &security.ServiceError{Kind: security.KindOperationNotAllowed, ClassName: entityType, Operation: security.OpAdd})
		return
	}

	sub := in.submission(sec.ClassName, "", "")
	sub.EntityType = entityType
	resp, err := ctl.Service.AddEntity(c.Request.Context(), sub, sec.Criteria, crumbs)
	if err != nil {
		ctl.fail(c, err)
		return
	}

	ef, err := ctl.Forms.CreateEntityForm(cmd, sec.Key, nil, nil, crumbs)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	ctl.Forms.RemoveNonApplicableFields(cmd, ef, entityType)
	if res := ctl.Validator.Validate(ef, resp.Entity); res.HasErrors() {
		ctl.Forms.PopulateEntityFormFields(ef, resp.Entity, false, false)
		ctl.Extension.ModifyAddEntityForm(ef, c.Params)
		model := ctl.model(c, sec)
		model["entityFriendlyName"] = cmd.FriendlyName
		model["currentUri"] = ctl.relativePath(c)
		ctl.addModel(model, sec, ef)
		ctl.render(c, http.StatusOK, modalContainerView, model)
		return
	}
	ctl.lggr.Infow("entity added", "section", sec.Key, "class", entityType, "id", resp.Entity.ID())
	ctl.ajaxRedirect(c, sec.URL()+"/"+resp.Entity.ID())
}

// duplicateEntity copies a record and sends the client to the copy.
func (ctl *Controller) duplicateEntity(c *gin.Context) {
	sec, err := ctl.section(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	id := c.Param("id")
	crumbs := ctl.sectionCrumbs(c, sec.Key, id)
	if _, err := ctl.record(c, ctl.sectionRequest(sec, crumbs), id); err != nil {
		ctl.fail(c, err)
		return
	}
	if err := ctl.check(c, sec.ClassName, security.OpAdd); err != nil {
		ctl.fail(c, err)
		return
	}
	if ctl.Duplicator == nil || !ctl.Duplicator.Validate(c.Request.Context(), sec.ClassName, id) {
		c.JSON(http.StatusOK, gin.H{"errors": []FieldError{
			ferr(errorTypeGlobal, CodeValidationFailure, "", ctl.msg(c, CodeValidationFailure)),
		}})
		return
	}
	newID, err := ctl.Duplicator.Copy(c.Request.Context(), sec.ClassName, id)
	if err != nil {
		ctl.lggr.Errorw("duplication failed", "section", sec.Key, "id", id, "err", err)
		c.JSON(http.StatusOK, gin.H{"errors": []FieldError{
			ferr(errorTypeGlobal, CodeDuplicationFailure, "", ctl.msg(c, CodeDuplicationFailure)),
		}})
		return
	}
	ctl.ajaxRedirect(c, sec.URL()+"/"+newID)
}

// editForm loads a record and builds its edit form for tabName. The form is
// read-only when the user may not update the record.
func (ctl *Controller) editForm(c *gin.Context, sec reference.Section, id, tabName string, crumbs []persistence.SectionCrumb) (*metadata.ClassMetadata, *persistence.Entity, *form.EntityForm, error) {
	ppr := ctl.sectionRequest(sec, crumbs)
	ent, err := ctl.record(c, ppr, id)
	if err != nil {
		return nil, nil, nil, err
	}
	cmd, err := ctl.classMetadata(c, ppr)
	if err != nil {
		return nil, nil, nil, err
	}
	subRecords, err := ctl.Service.RecordsForSelectedTab(c.Request.Context(), cmd, ent, crumbs, tabName)
	if err != nil {
		return nil, nil, nil, err
	}
	ef, err := ctl.Forms.CreateEntityForm(cmd, sec.Key, ent, subRecords, crumbs)
	if err != nil {
		return nil, nil, nil, err
	}
	ctl.modifyEntityForm(c, ent, ef)
	ctl.applyRowLevel(c, ent, ef)
	return cmd, ent, ef, nil
}

// applyRowLevel strips what the current user may not do to ent.
func (ctl *Controller) applyRowLevel(c *gin.Context, ent *persistence.Entity, ef *form.EntityForm) {
	ctx := c.Request.Context()
	u, _ := ctl.Security.CurrentUser(ctx)
	if ctl.check(c, ent.ClassName(), security.OpUpdate) != nil || !ctl.RowLevel.CanUpdate(ctx, u, ent) {
		ef.SetReadOnly()
		ef.RemoveAction(form.ActionSave)
		ef.RemoveAction(form.ActionDuplicate)
	}
	if ctl.check(c, ent.ClassName(), security.OpRemove) != nil || !ctl.RowLevel.CanRemove(ctx, u, ent) {
		ef.RemoveAction(form.ActionDelete)
	}
}

// viewEntityForm renders the edit page of a record, or a read-only modal for
// script requests.
func (ctl *Controller) viewEntityForm(c *gin.Context) {
	sec, err := ctl.section(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	id := c.Param("id")
	crumbs := ctl.sectionCrumbs(c, sec.Key, id)
	ppr := ctl.sectionRequest(sec, crumbs)
	cmd, err := ctl.classMetadata(c, ppr)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	tabName := currentTabName(c.Query("tab"), cmd)
	cmd, _, ef, err := ctl.editForm(c, sec, id, tabName, crumbs)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	ctl.addAuditableDisplayFields(ef)

	model := ctl.model(c, sec)
	model["entityForm"] = ef
	model["entityFriendlyName"] = cmd.FriendlyName
	model["currentTabName"] = tabName
	model["currentFolderId"] = currentFolderID(c)
	model["formAction"] = sec.URL() + "/" + id
	model["currentUrl"] = c.Request.URL.RequestURI()
	model["sectionCrumbs"] = persistence.FormatSectionCrumbs(crumbs)

	if isAjax(c) {
		ef.SetReadOnly()
		ef.RemoveAllActions()
		model["viewType"] = "modal/entityView"
		model["modalHeaderType"] = headerViewEntity
		ctl.render(c, http.StatusOK, modalContainerView, model)
		return
	}
	model["viewType"] = "entityEdit"
	model["useAjaxUpdate"] = true
	ctl.render(c, http.StatusOK, defaultContainerView, model)
}

// viewEntityTab renders one tab of the edit form.
func (ctl *Controller) viewEntityTab(c *gin.Context, tabName string) {
	sec, err := ctl.section(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	id := c.Param("id")
	crumbs := ctl.sectionCrumbs(c, sec.Key, id)
	cmd, _, ef, err := ctl.editForm(c, sec, id, tabName, crumbs)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	if _, ok := cmd.TabByName(tabName); !ok && ef.FindTab(tabName) == nil {
		ctl.fail(c, fmt.Errorf("%w: tab %s", ErrFieldNotFound, tabName))
		return
	}
	ctl.addAuditableDisplayFields(ef)

	model := ctl.model(c, sec)
	model["entityForm"] = ef
	model["entityFriendlyName"] = cmd.FriendlyName
	model["currentTabName"] = tabName
	model["formAction"] = sec.URL() + "/" + id
	model["sectionCrumbs"] = persistence.FormatSectionCrumbs(crumbs)
	model["viewType"] = "views/entityEditTab"
	ctl.render(c, http.StatusOK, "views/entityEditTab", model)
}

// saveEntityDispatch answers JSON clients with an errors envelope and
// browsers with a redirect or the re-rendered form.
func (ctl *Controller) saveEntityDispatch(c *gin.Context) {
	if wantsJSON(c) {
		ctl.saveEntityJSON(c)
		return
	}
	ctl.saveEntity(c)
}

// saveResult is the outcome of an update before it is rendered.
type saveResult struct {
	sec    reference.Section
	cmd    *metadata.ClassMetadata
	crumbs []persistence.SectionCrumb
	saved  *persistence.Entity
	result *form.Result
}

// update applies a posted form to the record in the path.
func (ctl *Controller) update(c *gin.Context) (*saveResult, error) {
	sec, err := ctl.section(c)
	if err != nil {
		return nil, err
	}
	in, err := bindEntityForm(c)
	if err != nil {
		return nil, err
	}
	id := c.Param("id")
	crumbs := persistence.ParseSectionCrumbs(in.SectionCrumbs)
	ppr := ctl.sectionRequest(sec, crumbs)
	current, err := ctl.record(c, ppr, id)
	if err != nil {
		return nil, err
	}
	if err := ctl.check(c, current.ClassName(), security.OpUpdate); err != nil {
		return nil, err
	}
	u, _ := ctl.Security.CurrentUser(c.Request.Context())
	if !ctl.RowLevel.CanUpdate(c.Request.Context(), u, current) {
		return nil, &security.ServiceError{Kind: security.KindOperationNotAllowed, ClassName: current.ClassName(), Operation: security.OpUpdate}
	}
	cmd, err := ctl.classMetadata(c, ppr)
	if err != nil {
		return nil, err
	}

	sub := in.submission(sec.ClassName, id, "")
	sub.EntityType = current.ClassName()
	resp, err := ctl.Service.UpdateEntity(c.Request.Context(), sub, sec.Criteria, crumbs)
	if err != nil {
		return nil, err
	}
	return &saveResult{
		sec:    sec,
		cmd:    cmd,
		crumbs: crumbs,
		saved:  resp.Entity,
		result: ctl.Validator.Validate(nil, resp.Entity),
	}, nil
}

// saveEntity stores a posted edit form.
func (ctl *Controller) saveEntity(c *gin.Context) {
	sr, err := ctl.update(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	id := c.Param("id")
	if !sr.result.HasErrors() {
		ctl.redirect(c, sr.sec.URL()+"/"+id+"?headerFlash=save.successful")
		return
	}

	ppr := ctl.sectionRequest(sr.sec, sr.crumbs)
	current, err := ctl.record(c, ppr, id)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	subRecords, err := ctl.Service.RecordsForAllSubCollections(c.Request.Context(), sr.cmd, current, sr.crumbs)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	ef, err := ctl.Forms.CreateEntityForm(sr.cmd, sr.sec.Key, current, subRecords, sr.crumbs)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	ctl.Forms.PopulateEntityFormFields(ef, sr.saved, false, false)
	ctl.Validator.Validate(ef, sr.saved)
	ctl.modifyEntityForm(c, current, ef)
	ctl.addAuditableDisplayFields(ef)

	model := ctl.model(c, sr.sec)
	model["entityForm"] = ef
	model["entityFriendlyName"] = sr.cmd.FriendlyName
	model["currentTabName"] = currentTabName(c.Query("tab"), sr.cmd)
	model["formAction"] = sr.sec.URL() + "/" + id
	model["sectionCrumbs"] = persistence.FormatSectionCrumbs(sr.crumbs)
	model["headerFlash"] = "save.unsuccessful"
	model["headerFlashAlert"] = true
	model["viewType"] = "entityEdit"
	model["useAjaxUpdate"] = true
	ctl.render(c, http.StatusOK, defaultContainerView, model)
}

// saveEntityJSON stores a posted form and answers {errors, dirty}.
func (ctl *Controller) saveEntityJSON(c *gin.Context) {
	sr, err := ctl.update(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	hasErrors := sr.result.HasErrors()
	if body, ok := ctl.Extension.OverrideSaveEntityJSON(hasErrors, sr.sec.Key, c.Param("id")); ok {
		c.JSON(http.StatusOK, body)
		return
	}
	errs := ctl.validationErrors(c, sr.result)
	dirty := []string{}
	if !hasErrors {
		dirty = buildDirtyList(sr.saved)
	}
	c.JSON(http.StatusOK, gin.H{"errors": errs, "dirty": dirty})
}

// buildDirtyList names the properties the last write changed.
func buildDirtyList(ent *persistence.Entity) []string {
	out := []string{}
	if ent == nil {
		return out
	}
	return append(out, ent.DirtyProperties()...)
}

// removeEntity deletes a record.
func (ctl *Controller) removeEntity(c *gin.Context) {
	sec, err := ctl.section(c)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	id := c.Param("id")
	crumbs := ctl.sectionCrumbs(c, sec.Key, id)
	current, err := ctl.record(c, ctl.sectionRequest(sec, crumbs), id)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	if err := ctl.check(c, current.ClassName(), security.OpRemove); err != nil {
		ctl.fail(c, err)
		return
	}
	u, _ := ctl.Security.CurrentUser(c.Request.Context())
	if !ctl.RowLevel.CanRemove(c.Request.Context(), u, current) {
		ctl.fail(c, &security.ServiceError{Kind: security.KindOperationNotAllowed, ClassName: current.ClassName(), Operation: security.OpRemove})
		return
	}

	sub := &persistence.Submission{EntityType: current.ClassName(), CeilingEntity: sec.ClassName, ID: id}
	resp, err := ctl.Service.RemoveEntity(c.Request.Context(), sub, sec.Criteria, crumbs)
	if err != nil {
		ctl.fail(c, err)
		return
	}
	if res := ctl.Validator.Validate(nil, resp.Entity); res.HasErrors() {
		c.JSON(http.StatusOK, gin.H{
			"errors":      ctl.validationErrors(c, res),
			"headerFlash": "delete.unsuccessful",
		})
		return
	}
	ctl.lggr.Infow("entity removed", "section", sec.Key, "id", id)
	target := sec.URL() + "?" + url.Values{"headerFlash": {"delete.successful"}}.Encode()
	if isAjax(c) {
		ctl.ajaxRedirect(c, target)
		return
	}
	ctl.redirect(c, target)
}
