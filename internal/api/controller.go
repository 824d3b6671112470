package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"

	"openadmin/internal/form"
	"openadmin/internal/logger"
	"openadmin/internal/metadata"
	"openadmin/internal/persistence"
	"openadmin/internal/reference"
	"openadmin/internal/security"
	"openadmin/internal/view"
)

const (
	defaultContainerView = "modules/defaultContainer"
	modalContainerView   = "modules/modalContainer"
	standaloneGridView   = "views/standaloneListGrid"

	ajaxRedirectHeader = "X-Ajax-Redirect"
	unassignedFolder   = "unassigned"
)

// Modal header types understood by the modal container.
const (
	headerAddEntity            = "addEntity"
	headerViewEntity           = "viewEntity"
	headerSelectType           = "selectType"
	headerAddCollectionItem    = "addCollectionItem"
	headerUpdateCollectionItem = "updateCollectionItem"
	headerViewCollectionItem   = "viewCollectionItem"
)

// Deps are the collaborators of the controller.
type Deps struct {
	Service    AdminEntityService
	Security   SecurityService
	RowLevel   RowLevelSecurity
	Duplicator Duplicator
	Sections   SectionLookup
	Forms      FormBuilder
	Validator  FormValidator
	Users      UserDirectory
	Messages   Localizer
	Metadata   MetadataSource
	// HTML renders views for browsers; JSON clients get view.JSONRenderer.
	HTML      view.Renderer
	Extension Extension
}

type Options struct {
	ContextPath         string
	UserHeader          string
	DefaultUser         string
	SelectizeMaxResults int
}

// Controller serves the admin console for every registered section.
type Controller struct {
	Deps
	json view.Renderer
	opts Options
	lggr logger.Logger
}

func NewController(d Deps, opts Options, lggr logger.Logger) (*Controller, error) {
	switch {
	case d.Service == nil:
		return nil, errors.New("api: entity service is required")
	case d.Security == nil || d.RowLevel == nil:
		return nil, errors.New("api: security services are required")
	case d.Sections == nil:
		return nil, errors.New("api: section lookup is required")
	case d.Forms == nil || d.Validator == nil:
		return nil, errors.New("api: form builder and validator are required")
	}
	if d.HTML == nil {
		d.HTML = view.JSONRenderer{}
	}
	if d.Extension == nil {
		d.Extension = BaseExtension{}
	}
	opts.ContextPath = "/" + strings.Trim(opts.ContextPath, "/")
	if opts.ContextPath == "/" {
		opts.ContextPath = ""
	}
	if opts.SelectizeMaxResults <= 0 {
		opts.SelectizeMaxResults = 50
	}
	return &Controller{Deps: d, json: view.JSONRenderer{}, opts: opts, lggr: lggr.Named("api")}, nil
}

// section resolves the section of the request and its ceiling class.
func (ctl *Controller) section(c *gin.Context) (reference.Section, error) {
	key := c.Param("section")
	sec, ok := ctl.Sections.BySectionKey(key)
	if !ok {
		return reference.Section{}, fmt.Errorf("%w: %s", ErrSectionNotFound, key)
	}
	return sec, nil
}

// sectionRequest is the request for a section's ceiling class.
func (ctl *Controller) sectionRequest(sec reference.Section, crumbs []persistence.SectionCrumb) *persistence.PersistencePackageRequest {
	return persistence.NewRequest(sec.ClassName).
		WithCustomCriteria(sec.Criteria...).
		WithSectionCrumbs(crumbs)
}

func (ctl *Controller) classMetadata(c *gin.Context, ppr *persistence.PersistencePackageRequest) (*metadata.ClassMetadata, error) {
	resp, err := ctl.Service.ClassMetadata(c.Request.Context(), ppr)
	if err != nil {
		return nil, err
	}
	return resp.DynamicResultSet.ClassMetadata, nil
}

// record loads one record of the section after a fetch check.
func (ctl *Controller) record(c *gin.Context, ppr *persistence.PersistencePackageRequest, id string) (*persistence.Entity, error) {
	if err := ctl.check(c, ppr.CeilingEntityClassname, security.OpFetch); err != nil {
		return nil, err
	}
	resp, err := ctl.Service.Record(c.Request.Context(), ppr, id)
	if err != nil {
		return nil, err
	}
	if resp.Entity == nil {
		return nil, persistence.RecordError(ppr.CeilingEntityClassname, id)
	}
	return resp.Entity, nil
}

func (ctl *Controller) check(c *gin.Context, className string, op security.Operation) error {
	return ctl.Security.SecurityCheck(c.Request.Context(), className, op)
}

// collectionProperty finds a collection field of cmd.
func collectionProperty(cmd *metadata.ClassMetadata, field string) (*metadata.Property, error) {
	p, ok := cmd.Property(field)
	if !ok || !p.Metadata.IsCollection() {
		return nil, fmt.Errorf("%w: %s.%s", ErrFieldNotFound, cmd.CeilingType, field)
	}
	return p, nil
}

// sectionCrumbs parses the sectionCrumbs parameter. When id is set the
// current section is appended unless it already ends the trail.
func (ctl *Controller) sectionCrumbs(c *gin.Context, sectionKey, id string) []persistence.SectionCrumb {
	crumbs := persistence.ParseSectionCrumbs(param(c, "sectionCrumbs"))
	if id == "" {
		return crumbs
	}
	if n := len(crumbs); n > 0 && crumbs[n-1].SectionIdentifier == sectionKey && crumbs[n-1].SectionID == id {
		return crumbs
	}
	return append(crumbs, persistence.SectionCrumb{SectionIdentifier: sectionKey, SectionID: id})
}

// isAddActionAllowed reports whether the current user may add records of cmd.
func (ctl *Controller) isAddActionAllowed(c *gin.Context, ppr *persistence.PersistencePackageRequest, cmd *metadata.ClassMetadata) bool {
	if err := ctl.check(c, ppr.CeilingEntityClassname, security.OpAdd); err != nil {
		var se *security.ServiceError
		if errors.As(err, &se) {
			return false
		}
		ctl.lggr.Warnw("add check failed", "class", ppr.CeilingEntityClassname, "err", err)
		return false
	}
	u, _ := ctl.Security.CurrentUser(c.Request.Context())
	if cmd.IsReadOnly() || cmd.AllBasicFieldsReadOnly() {
		return false
	}
	return ctl.RowLevel.CanAdd(c.Request.Context(), u, cmd.CeilingType)
}

// determineEntityType picks the concrete class to add. An empty result means
// the user has to choose from the polymorphic tree first.
func determineEntityType(entityType string, cmd *metadata.ClassMetadata) string {
	if strings.TrimSpace(entityType) == "" {
		if !cmd.PolymorphicEntities.HasChildren() {
			return cmd.CeilingType
		}
		return ""
	}
	return decodeParam(entityType)
}

// currentTabName is the tabName path parameter, else the class's first tab.
func currentTabName(tabName string, cmd *metadata.ClassMetadata) string {
	if tabName != "" {
		return tabName
	}
	if t, ok := cmd.TabByName(""); ok {
		return t.Name
	}
	return metadata.DefaultTab
}

func currentFolderID(c *gin.Context) string {
	if v, ok := c.GetQuery("currentFolderId"); ok {
		return v
	}
	return unassignedFolder
}

// addAuditableDisplayFields shows the names of the users in the audit
// fields instead of their ids.
func (ctl *Controller) addAuditableDisplayFields(ef *form.EntityForm) {
	for _, name := range []string{metadata.AuditCreatedBy, metadata.AuditUpdatedBy} {
		f := ef.FindField(name)
		if f == nil || f.Value == "" {
			continue
		}
		display := &form.Field{
			Name:         f.Name + "Display",
			FriendlyName: f.FriendlyName,
			FieldType:    string(metadata.FieldTypeString),
			Group:        metadata.AuditGroup,
			Tab:          f.Tab,
			TabOrder:     f.TabOrder,
			Order:        f.Order,
			Visible:      true,
			ReadOnly:     true,
			OwningClass:  f.OwningClass,
		}
		if ctl.Users != nil {
			if u, ok := ctl.Users.ByID(f.Value); ok {
				display.Value = u.Name
			}
		}
		if ef.FindGroup(metadata.AuditGroup) != nil {
			ef.AddField(display)
			f.Visible = false
		}
	}
}

// modifyEntityForm runs the add or edit form hook depending on whether ent
// is still being created.
func (ctl *Controller) modifyEntityForm(c *gin.Context, ent *persistence.Entity, ef *form.EntityForm) {
	if isAdd, handled := ctl.Extension.IsAddRequest(ent); handled && isAdd {
		ctl.Extension.ModifyAddEntityForm(ef, c.Params)
		return
	}
	ctl.Extension.ModifyEntityForm(ef, c.Params)
}

// setModelAttributes adds what every page needs.
func (ctl *Controller) setModelAttributes(c *gin.Context, model view.Model, sec reference.Section) {
	model["sectionKey"] = sec.Key
	model["sectionName"] = sec.Name
	model["contextPath"] = ctl.opts.ContextPath
	model["locale"] = ctl.locale(c)
	if u, ok := ctl.Security.CurrentUser(c.Request.Context()); ok {
		model["currentUser"] = u
	}
	nav := make([]map[string]string, 0)
	for _, s := range ctl.Sections.All() {
		nav = append(nav, map[string]string{"key": s.Key, "name": s.Name})
	}
	model["sections"] = nav
	if _, ok := model["currentUrl"]; !ok {
		model["currentUrl"] = c.Request.URL.Path
	}
}

// render writes a view with the renderer the client asked for.
func (ctl *Controller) render(c *gin.Context, status int, name string, model view.Model) {
	r := ctl.HTML
	if wantsJSON(c) {
		r = ctl.json
	}
	var buf bytes.Buffer
	if err := r.Render(&buf, name, model); err != nil {
		ctl.fail(c, fmt.Errorf("render %s: %w", name, err))
		return
	}
	c.Data(status, r.ContentType(), buf.Bytes())
}

// ajaxRedirect tells the console script to navigate to path.
func (ctl *Controller) ajaxRedirect(c *gin.Context, path string) {
	url := ctl.opts.ContextPath + path
	c.Header(ajaxRedirectHeader, url)
	c.JSON(http.StatusOK, gin.H{"ajaxRedirect": url})
}

func (ctl *Controller) redirect(c *gin.Context, path string) {
	c.Redirect(http.StatusSeeOther, ctl.opts.ContextPath+path)
}

func (ctl *Controller) locale(c *gin.Context) language.Tag {
	if t, ok := c.Get(localeKey); ok {
		if tag, ok := t.(language.Tag); ok {
			return tag
		}
	}
	return language.Und
}

// msg localizes a message code for the request.
func (ctl *Controller) msg(c *gin.Context, code string, args ...any) string {
	if ctl.Messages == nil {
		return code
	}
	return ctl.Messages.Message(ctl.locale(c), code, args...)
}

// relativePath strips the context path from the request path.
func (ctl *Controller) relativePath(c *gin.Context) string {
	return strings.TrimPrefix(c.Request.URL.Path, ctl.opts.ContextPath)
}
