package api

import (
	"context"

	"golang.org/x/text/language"

	"openadmin/internal/form"
	"openadmin/internal/metadata"
	"openadmin/internal/persistence"
	"openadmin/internal/reference"
	"openadmin/internal/security"
)

// AdminEntityService fetches metadata and records and applies writes.
type AdminEntityService interface {
	ClassMetadata(ctx context.Context, ppr *persistence.PersistencePackageRequest) (*persistence.PersistenceResponse, error)
	Records(ctx context.Context, ppr *persistence.PersistencePackageRequest) (*persistence.PersistenceResponse, error)
	Record(ctx context.Context, ppr *persistence.PersistencePackageRequest, id string) (*persistence.PersistenceResponse, error)

	AddEntity(ctx context.Context, sub *persistence.Submission, customCriteria []string, crumbs []persistence.SectionCrumb) (*persistence.PersistenceResponse, error)
	UpdateEntity(ctx context.Context, sub *persistence.Submission, customCriteria []string, crumbs []persistence.SectionCrumb) (*persistence.PersistenceResponse, error)
	RemoveEntity(ctx context.Context, sub *persistence.Submission, customCriteria []string, crumbs []persistence.SectionCrumb) (*persistence.PersistenceResponse, error)

	RecordsForCollection(ctx context.Context, cmd *metadata.ClassMetadata, containing *persistence.Entity, collectionProp *metadata.Property,
		criteria []persistence.FilterAndSortCriteria, start, max *int, idOverride string, crumbs []persistence.SectionCrumb) (*persistence.PersistenceResponse, error)
	RecordsForSelectedTab(ctx context.Context, cmd *metadata.ClassMetadata, containing *persistence.Entity, crumbs []persistence.SectionCrumb, tabName string) (map[string]*persistence.DynamicResultSet, error)
	RecordsForAllSubCollections(ctx context.Context, cmd *metadata.ClassMetadata, containing *persistence.Entity, crumbs []persistence.SectionCrumb) (map[string]*persistence.DynamicResultSet, error)
	AdvancedCollectionRecord(ctx context.Context, cmd *metadata.ClassMetadata, parent *persistence.Entity, collectionProp *metadata.Property,
		itemID string, crumbs []persistence.SectionCrumb, alternateID string, customCriteria []string) (*persistence.PersistenceResponse, error)

	AddSubCollectionEntity(ctx context.Context, sub *persistence.Submission, cmd *metadata.ClassMetadata, collectionProp *metadata.Property,
		parent *persistence.Entity, crumbs []persistence.SectionCrumb) (*persistence.PersistenceResponse, error)
	UpdateSubCollectionEntity(ctx context.Context, sub *persistence.Submission, cmd *metadata.ClassMetadata, collectionProp *metadata.Property,
		parent *persistence.Entity, itemID, alternateID string, crumbs []persistence.SectionCrumb) (*persistence.PersistenceResponse, error)
	UpdateCollectionSequence(ctx context.Context, cmd *metadata.ClassMetadata, collectionProp *metadata.Property,
		parent *persistence.Entity, itemID, alternateID string, position int) (*persistence.PersistenceResponse, error)
	RemoveSubCollectionEntity(ctx context.Context, cmd *metadata.ClassMetadata, collectionProp *metadata.Property,
		parent *persistence.Entity, itemID, alternateID, priorKey string, crumbs []persistence.SectionCrumb) (*persistence.PersistenceResponse, error)

	MarkPreAdd(parent *persistence.Entity) *persistence.Entity
}

// SecurityService performs class level permission checks.
type SecurityService interface {
	SecurityCheck(ctx context.Context, className string, op security.Operation) error
	CurrentUser(ctx context.Context) (*security.AdminUser, bool)
}

// RowLevelSecurity decides per record.
type RowLevelSecurity interface {
	CanAdd(ctx context.Context, u *security.AdminUser, className string) bool
	CanUpdate(ctx context.Context, u *security.AdminUser, ent *persistence.Entity) bool
	CanRemove(ctx context.Context, u *security.AdminUser, ent *persistence.Entity) bool
}

// Duplicator copies records.
type Duplicator interface {
	Validate(ctx context.Context, className, id string) bool
	Copy(ctx context.Context, className, id string) (string, error)
}

// SectionLookup resolves URL section keys.
type SectionLookup interface {
	BySectionKey(key string) (reference.Section, bool)
	ByClassName(className string) (reference.Section, bool)
	All() []reference.Section
}

// UserDirectory resolves admin users by login and id.
type UserDirectory interface {
	ByLogin(login string) (*security.AdminUser, bool)
	ByID(id string) (*security.AdminUser, bool)
}

// Localizer negotiates the request locale and formats messages.
type Localizer interface {
	Match(acceptLanguage string) language.Tag
	Message(tag language.Tag, code string, args ...any) string
}

// FormBuilder builds list grids and entity forms.
type FormBuilder interface {
	BuildMainListGrid(drs *persistence.DynamicResultSet, cmd *metadata.ClassMetadata, sectionKey string, crumbs []persistence.SectionCrumb) *form.ListGrid
	BuildCollectionListGrid(containingID string, drs *persistence.DynamicResultSet, prop *metadata.Property,
		sectionKey string, crumbs []persistence.SectionCrumb) (*form.ListGrid, error)
	CreateEntityForm(cmd *metadata.ClassMetadata, sectionKey string, ent *persistence.Entity,
		subRecords map[string]*persistence.DynamicResultSet, crumbs []persistence.SectionCrumb) (*form.EntityForm, error)
	PopulateEntityFormWithRecords(cmd *metadata.ClassMetadata, ent *persistence.Entity,
		subRecords map[string]*persistence.DynamicResultSet, ef *form.EntityForm, crumbs []persistence.SectionCrumb) error
	PopulateEntityFormFields(ef *form.EntityForm, ent *persistence.Entity, populateType, populateID bool)
	PopulateAdornedEntityFormFields(ef *form.EntityForm, ent *persistence.Entity, al *persistence.AdornedTargetList)
	PopulateMapEntityFormFields(ef *form.EntityForm, ent *persistence.Entity)
	RemoveNonApplicableFields(cmd *metadata.ClassMetadata, ef *form.EntityForm, entityType string)
	BuildAdornedListForm(fmd *metadata.FieldMetadata, al *persistence.AdornedTargetList, parentID string,
		readOnly bool, crumbs []persistence.SectionCrumb) (*form.EntityForm, error)
	BuildMapForm(fmd *metadata.FieldMetadata, ms *persistence.MapStructure, vmd *metadata.ClassMetadata, parentID string) (*form.EntityForm, error)
	ConstructSelectizeOptionMap(drs *persistence.DynamicResultSet, cmd *metadata.ClassMetadata) map[string]any
	BuildSelectizeCollectionInfo(containingID string, drs *persistence.DynamicResultSet, prop *metadata.Property,
		sectionKey string, crumbs []persistence.SectionCrumb) (map[string]any, error)
}

// FormValidator maps persistence validation failures onto a form.
type FormValidator interface {
	Validate(ef *form.EntityForm, ent *persistence.Entity) *form.Result
}

// MetadataSource backs the metadata endpoints.
type MetadataSource interface {
	ClassNames() []string
	ClassMetadata(className string) (*metadata.ClassMetadata, error)
	Enum(name string) (reference.EnumDirectory, bool)
}
