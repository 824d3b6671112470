package api

import (
	"github.com/gin-gonic/gin"

	"openadmin/internal/form"
	"openadmin/internal/metadata"
	"openadmin/internal/persistence"
	"openadmin/internal/view"
)

// Extension customises the controller per deployment. Embed BaseExtension
// and override only the hooks you need.
type Extension interface {
	// AddMainActions appends actions to a section's list toolbar.
	AddMainActions(sectionClass string, actions []*form.EntityFormAction) []*form.EntityFormAction
	ModifyMainActions(cmd *metadata.ClassMetadata, actions []*form.EntityFormAction) []*form.EntityFormAction

	// IsAddRequest reports whether an existing record is still being created,
	// so its form gets the add-form treatment. handled=false falls back to false.
	IsAddRequest(ent *persistence.Entity) (isAdd, handled bool)
	ModifyAddEntityForm(ef *form.EntityForm, params gin.Params)
	ModifyEntityForm(ef *form.EntityForm, params gin.Params)

	// OverrideSaveEntityJSON replaces the save response body when handled.
	OverrideSaveEntityJSON(hasErrors bool, sectionKey, id string) (body any, handled bool)

	// ModifyAddCollectionModel may take over the add modal of a map collection.
	ModifyAddCollectionModel(c *gin.Context, model view.Model, sectionKey, id string, fmd *metadata.FieldMetadata) (handled bool)

	// AutoPopulateAdorned fills maintained fields of a new adorned item into out.
	// Setting out["autoSubmit"] skips the maintained field form.
	AutoPopulateAdorned(fmd *metadata.FieldMetadata, mainClass, parentID, itemID string, out map[string]any)
}

// BaseExtension is an Extension that changes nothing.
type BaseExtension struct{}

var _ Extension = BaseExtension{}

func (BaseExtension) AddMainActions(_ string, actions []*form.EntityFormAction) []*form.EntityFormAction {
	return actions
}

func (BaseExtension) ModifyMainActions(_ *metadata.ClassMetadata, actions []*form.EntityFormAction) []*form.EntityFormAction {
	return actions
}

func (BaseExtension) IsAddRequest(*persistence.Entity) (bool, bool) { return false, false }

func (BaseExtension) ModifyAddEntityForm(*form.EntityForm, gin.Params) {}

func (BaseExtension) ModifyEntityForm(*form.EntityForm, gin.Params) {}

func (BaseExtension) OverrideSaveEntityJSON(bool, string, string) (any, bool) { return nil, false }

func (BaseExtension) ModifyAddCollectionModel(*gin.Context, view.Model, string, string, *metadata.FieldMetadata) bool {
	return false
}

func (BaseExtension) AutoPopulateAdorned(*metadata.FieldMetadata, string, string, string, map[string]any) {}
