package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"openadmin/internal/logger"
	"openadmin/internal/metadata"
)

const defaultPageSize = 50

type actorKey struct{}

// WithActor stores the id of the admin user performing writes.
func WithActor(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, actorKey{}, id)
}

func ActorFrom(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}

// Service is the admin entity service: metadata lookups, record fetches and
// writes for top level entities and their collections.
type Service struct {
	registry *metadata.Registry
	store    RecordStore
	ids      *IDGenerator
	lggr     logger.Logger
	now      func() time.Time
	pageSize int
}

type Option func(*Service)

func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(registry *metadata.Registry, store RecordStore, lggr logger.Logger, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		store:    store,
		ids:      NewIDGenerator(),
		lggr:     lggr.Named("persistence"),
		now:      time.Now,
		pageSize: defaultPageSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Registry() *metadata.Registry { return s.registry }

// ClassMetadata returns the metadata of the request's ceiling class.
func (s *Service) ClassMetadata(_ context.Context, ppr *PersistencePackageRequest) (*PersistenceResponse, error) {
	class := ppr.CeilingEntityClassname
	if ppr.Type == RequestAdorned && ppr.AdornedList != nil && ppr.AdornedList.TargetEntityClass != "" {
		class = ppr.AdornedList.TargetEntityClass
	}
	if ppr.Type == RequestMap && ppr.MapStructure != nil {
		class = ppr.MapStructure.ValueClass
	}
	md, err := s.registry.ClassMetadata(class)
	if err != nil {
		return nil, err
	}
	return &PersistenceResponse{DynamicResultSet: &DynamicResultSet{ClassMetadata: md}}, nil
}

// Records fetches a page of records described by ppr.
func (s *Service) Records(ctx context.Context, ppr *PersistencePackageRequest) (*PersistenceResponse, error) {
	switch ppr.Type {
	case RequestAdorned:
		return s.adornedRecords(ctx, ppr)
	case RequestMap:
		return s.mapRecords(ctx, ppr)
	}

	class := ppr.CeilingEntityClassname
	md, err := s.registry.ClassMetadata(class)
	if err != nil {
		return nil, err
	}
	q := buildQuery(s.registry.Root(class), s.typesFor(class), ppr.FilterAndSortCriteria)
	if fk := ppr.ForeignKey; fk != nil && fk.CurrentValue != "" {
		q.Filters = append(q.Filters, Filter{Field: fk.ManyToField, Values: []string{fk.CurrentValue}})
		if len(q.Sort) == 0 && fk.SortField != "" {
			q.Sort = []SortKey{{Field: fk.SortField}}
		}
	}
	drs, err := s.fetchPage(ctx, q, ppr, func(rec *Record) (*Entity, error) { return s.toEntity(ctx, rec) })
	if err != nil {
		return nil, err
	}
	drs.ClassMetadata = md
	return &PersistenceResponse{DynamicResultSet: drs}, nil
}

// typesFor restricts a query to class and its subclasses when class is not a root.
func (s *Service) typesFor(class string) []string {
	if s.registry.Root(class) == class {
		return nil
	}
	return s.registry.Descendants(class)
}

// fetchPage applies index or cursor paging to q.
func (s *Service) fetchPage(ctx context.Context, q Query, ppr *PersistencePackageRequest, conv func(*Record) (*Entity, error)) (*DynamicResultSet, error) {
	start, limit := 0, s.pageSize
	if ppr.PageSize > 0 {
		limit = ppr.PageSize
	}
	if ppr.StartIndex != nil {
		start = *ppr.StartIndex
	}
	if ppr.MaxIndex != nil && *ppr.MaxIndex >= start {
		limit = *ppr.MaxIndex - start + 1
	}

	var (
		recs  []*Record
		total int
		err   error
	)
	if ppr.FirstID != "" || ppr.LastID != "" {
		all, n, lerr := s.store.List(ctx, q)
		if lerr != nil {
			return nil, lerr
		}
		total = n
		start = cursorStart(all, ppr, limit)
		recs = page(all, start, limit)
	} else {
		q.Offset, q.Limit = start, limit
		recs, total, err = s.store.List(ctx, q)
		if err != nil {
			return nil, err
		}
	}

	drs := &DynamicResultSet{TotalRecords: total, StartIndex: start, PageSize: limit}
	for _, rec := range recs {
		ent, err := conv(rec)
		if err != nil {
			return nil, err
		}
		drs.Records = append(drs.Records, ent)
	}
	if len(recs) > 0 {
		drs.FirstID = recs[0].ID
		drs.LastID = recs[len(recs)-1].ID
	}
	drs.LowerCount = start + 1
	drs.UpperCount = start + len(recs)
	if len(recs) == 0 {
		drs.LowerCount = 0
	}
	return drs, nil
}

// cursorStart positions a page right after LastID or right before FirstID.
func cursorStart(all []*Record, ppr *PersistencePackageRequest, limit int) int {
	for i, r := range all {
		if ppr.LastID != "" && r.ID == ppr.LastID {
			return i + 1
		}
		if ppr.FirstID != "" && r.ID == ppr.FirstID {
			if i-limit < 0 {
				return 0
			}
			return i - limit
		}
	}
	return 0
}

// Record fetches a single record of the ceiling class.
func (s *Service) Record(ctx context.Context, ppr *PersistencePackageRequest, id string) (*PersistenceResponse, error) {
	class := ppr.CeilingEntityClassname
	md, err := s.registry.ClassMetadata(class)
	if err != nil {
		return nil, err
	}
	rec, err := s.load(ctx, class, id)
	if err != nil {
		return nil, err
	}
	ent, err := s.toEntity(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &PersistenceResponse{
		Entity:           ent,
		DynamicResultSet: &DynamicResultSet{ClassMetadata: md, Records: []*Entity{ent}, TotalRecords: 1},
	}, nil
}

func (s *Service) load(ctx context.Context, class, id string) (*Record, error) {
	rec, err := s.store.Get(ctx, s.registry.Root(class), id)
	if err != nil {
		return nil, err
	}
	if !s.registry.IsA(rec.Type, class) {
		return nil, RecordError(class, id)
	}
	return rec, nil
}

// AddEntity validates and inserts a new top level record.
// Validation failures are reported on the returned entity.
func (s *Service) AddEntity(ctx context.Context, sub *Submission, _ []string, _ []SectionCrumb) (*PersistenceResponse, error) {
	class, err := s.concreteClass(sub)
	if err != nil {
		return nil, err
	}
	return s.insert(ctx, class, sub.Values, false, nil)
}

func (s *Service) concreteClass(sub *Submission) (string, error) {
	ceiling := sub.CeilingEntity
	class := sub.EntityType
	if class == "" {
		class = ceiling
	}
	if _, err := s.registry.ClassMetadata(class); err != nil {
		return "", err
	}
	if ceiling != "" && !s.registry.IsA(class, ceiling) {
		return "", fmt.Errorf("%w: %s is not a %s", metadata.ErrUnknownClass, class, ceiling)
	}
	return class, nil
}

func (s *Service) insert(ctx context.Context, class string, values map[string]string, skipRequired bool, allow map[string]bool) (*PersistenceResponse, error) {
	md, err := s.registry.ClassMetadata(class)
	if err != nil {
		return nil, err
	}
	ent := &Entity{Type: []string{class}}
	data := s.validate(ctx, md, validateOpts{className: class, values: values, skipRequired: skipRequired, allowFields: allow}, ent)
	if ent.ValidationFailure {
		echoValues(ent, values)
		return &PersistenceResponse{Entity: ent}, nil
	}
	rec := &Record{ID: s.ids.NewID(), Type: class, Data: data}
	if md.Auditable {
		now := s.now().UTC().Format(time.RFC3339)
		rec.Data[metadata.AuditDateCreated] = now
		rec.Data[metadata.AuditCreatedBy] = nilIfEmpty(ActorFrom(ctx))
		rec.Data[metadata.AuditDateUpdated] = now
		rec.Data[metadata.AuditUpdatedBy] = nilIfEmpty(ActorFrom(ctx))
	}
	if err := s.store.Insert(ctx, s.registry.Root(class), rec); err != nil {
		return nil, fmt.Errorf("insert %s: %w", class, err)
	}
	out, err := s.toEntity(ctx, rec)
	if err != nil {
		return nil, err
	}
	for name := range values {
		if p := out.FindProperty(name); p != nil {
			p.IsDirty = true
		}
	}
	return &PersistenceResponse{Entity: out}, nil
}

// UpdateEntity validates and stores changes to an existing record.
func (s *Service) UpdateEntity(ctx context.Context, sub *Submission, _ []string, _ []SectionCrumb) (*PersistenceResponse, error) {
	class := sub.CeilingEntity
	if class == "" {
		class = sub.EntityType
	}
	rec, err := s.load(ctx, class, sub.ID)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, rec, sub.Values, nil)
}

func (s *Service) update(ctx context.Context, rec *Record, values map[string]string, allow map[string]bool) (*PersistenceResponse, error) {
	md, err := s.registry.ClassMetadata(rec.Type)
	if err != nil {
		return nil, err
	}
	ent := &Entity{Type: []string{rec.Type}}
	data := s.validate(ctx, md, validateOpts{className: rec.Type, values: values, current: rec, allowFields: allow}, ent)
	if ent.ValidationFailure {
		ent.SetProperty(metadata.IDProperty, rec.ID)
		echoValues(ent, values)
		return &PersistenceResponse{Entity: ent}, nil
	}

	var dirty []string
	for k, v := range data {
		if toString(rec.Data[k]) != toString(v) {
			dirty = append(dirty, k)
		}
	}
	next := rec.Clone()
	next.Data = data
	if md.Auditable && len(dirty) > 0 {
		next.Data[metadata.AuditDateUpdated] = s.now().UTC().Format(time.RFC3339)
		next.Data[metadata.AuditUpdatedBy] = nilIfEmpty(ActorFrom(ctx))
	}
	if len(dirty) > 0 {
		if err := s.store.Update(ctx, s.registry.Root(rec.Type), next); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				ent.SetProperty(metadata.IDProperty, rec.ID)
				ent.AddGlobalValidationError(ErrStaleVersion)
				return &PersistenceResponse{Entity: ent}, nil
			}
			return nil, fmt.Errorf("update %s %s: %w", rec.Type, rec.ID, err)
		}
	}
	out, err := s.toEntity(ctx, next)
	if err != nil {
		return nil, err
	}
	for _, name := range dirty {
		if p := out.FindProperty(name); p != nil {
			p.IsDirty = true
		}
	}
	return &PersistenceResponse{Entity: out}, nil
}

// RemoveEntity deletes a record together with the collection rows it owns.
// Incoming references block the delete unless declared on_delete=set_null.
func (s *Service) RemoveEntity(ctx context.Context, sub *Submission, _ []string, _ []SectionCrumb) (*PersistenceResponse, error) {
	class := sub.CeilingEntity
	if class == "" {
		class = sub.EntityType
	}
	rec, err := s.load(ctx, class, sub.ID)
	if err != nil {
		return nil, err
	}
	return s.remove(ctx, rec)
}

func (s *Service) remove(ctx context.Context, rec *Record) (*PersistenceResponse, error) {
	ent := &Entity{Type: []string{rec.Type}}
	ent.SetProperty(metadata.IDProperty, rec.ID)

	links, err := s.ownedLinks(rec.Type)
	if err != nil {
		return nil, err
	}
	refs, err := s.incomingRefs(ctx, rec, links)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if ref.field.OnDelete != "set_null" {
			ent.AddGlobalValidationError(ErrDeleteReferenced)
			return &PersistenceResponse{Entity: ent}, nil
		}
	}
	for _, l := range links {
		if err := s.deleteWhere(ctx, l.class, l.field, rec.ID); err != nil {
			return nil, err
		}
	}
	for _, ref := range refs {
		next := ref.rec.Clone()
		next.Data[ref.field.Name] = nil
		if err := s.store.Update(ctx, s.registry.Root(ref.rec.Type), next); err != nil {
			return nil, fmt.Errorf("clear %s.%s: %w", ref.rec.Type, ref.field.Name, err)
		}
	}
	if err := s.store.Delete(ctx, s.registry.Root(rec.Type), rec.ID); err != nil {
		return nil, err
	}
	return &PersistenceResponse{Entity: ent}, nil
}

// ownedLink is a class whose rows are deleted along with the record they point at.
type ownedLink struct {
	class string
	field string
}

func (l ownedLink) covers(reg *metadata.Registry, class, field string) bool {
	return l.field == field && reg.IsA(class, l.class)
}

// ownedLinks lists join rows, map values and persisted children of className,
// plus join rows of other classes' adorned collections that target it.
func (s *Service) ownedLinks(className string) ([]ownedLink, error) {
	md, err := s.registry.ClassMetadata(className)
	if err != nil {
		return nil, err
	}
	var out []ownedLink
	for _, p := range md.Properties {
		fmd := p.Metadata
		if !fmd.ApplicableTo(s.registry, className) {
			continue
		}
		switch {
		case fmd.Kind == metadata.KindAdornedTarget:
			out = append(out, ownedLink{fmd.JoinEntityClass, fmd.LinkedProperty})
		case fmd.Kind == metadata.KindMap:
			out = append(out, ownedLink{fmd.ValueClass, fmd.ManyToField})
		case fmd.Kind == metadata.KindBasicCollection && isPersistAdd(fmd.AddMethod):
			out = append(out, ownedLink{fmd.CollectionCeilingEntity, fmd.ManyToField})
		}
	}
	for _, class := range s.registry.ClassNames() {
		cmd, err := s.registry.ClassMetadata(class)
		if err != nil {
			return nil, err
		}
		for _, p := range cmd.Properties {
			fmd := p.Metadata
			if fmd.Kind == metadata.KindAdornedTarget && fmd.OwningClass == class && s.registry.IsA(className, fmd.CollectionCeilingEntity) {
				out = append(out, ownedLink{fmd.JoinEntityClass, fmd.TargetProperty})
			}
		}
	}
	return out, nil
}

func isPersistAdd(m metadata.AddMethod) bool {
	return m == metadata.AddPersist || m == metadata.AddPersistEmpty
}

type incomingRef struct {
	rec   *Record
	field *metadata.FieldMetadata
}

// incomingRefs finds live records pointing at rec through a ref field,
// ignoring rows that are deleted together with rec.
func (s *Service) incomingRefs(ctx context.Context, rec *Record, links []ownedLink) ([]incomingRef, error) {
	var out []incomingRef
	for _, class := range s.registry.ClassNames() {
		if s.registry.Root(class) != class {
			continue
		}
		for _, fmd := range s.registry.StoredFields(class) {
			if fmd.FieldType != metadata.FieldTypeForeignKey || !s.registry.IsA(rec.Type, fmd.ForeignKeyClass) {
				continue
			}
			recs, _, err := s.store.List(ctx, Query{Root: class, Filters: []Filter{{Field: fmd.Name, Values: []string{rec.ID}}}})
			if err != nil {
				return nil, err
			}
		next:
			for _, r := range recs {
				if r.ID == rec.ID {
					continue
				}
				for _, l := range links {
					if l.covers(s.registry, r.Type, fmd.Name) {
						continue next
					}
				}
				out = append(out, incomingRef{rec: r, field: fmd})
			}
		}
	}
	return out, nil
}

func (s *Service) deleteWhere(ctx context.Context, class, field, value string) error {
	recs, _, err := s.store.List(ctx, Query{
		Root:    s.registry.Root(class),
		Types:   s.typesFor(class),
		Filters: []Filter{{Field: field, Values: []string{value}}},
	})
	if err != nil {
		return err
	}
	for _, r := range recs {
		links, err := s.ownedLinks(r.Type)
		if err != nil {
			return err
		}
		for _, l := range links {
			if err := s.deleteWhere(ctx, l.class, l.field, r.ID); err != nil {
				return err
			}
		}
		if err := s.store.Delete(ctx, s.registry.Root(r.Type), r.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// toEntity renders a record as string-valued properties.
func (s *Service) toEntity(ctx context.Context, rec *Record) (*Entity, error) {
	md, err := s.registry.ClassMetadata(rec.Type)
	if err != nil {
		return nil, err
	}
	ent := &Entity{Type: []string{rec.Type}}
	ent.SetProperty(metadata.IDProperty, rec.ID)
	for _, p := range md.Properties {
		fmd := p.Metadata
		if fmd.Kind != metadata.KindBasic || p.Name == metadata.IDProperty || !fmd.ApplicableTo(s.registry, rec.Type) {
			continue
		}
		prop := ent.SetProperty(p.Name, formatValue(fmd, rec.Data[p.Name]))
		switch fmd.FieldType {
		case metadata.FieldTypeForeignKey:
			if prop.Value != "" {
				prop.DisplayValue = s.displayValue(ctx, fmd.ForeignKeyClass, prop.Value, fmd.ForeignKeyDisplayProperty)
			}
		case metadata.FieldTypeEnumeration:
			for _, o := range fmd.EnumOptions {
				if o.Code == prop.Value {
					prop.DisplayValue = o.Label
				}
			}
		}
	}
	return ent, nil
}

// displayValue returns the display property of a referenced record, falling
// back to its id.
func (s *Service) displayValue(ctx context.Context, class, id, displayProp string) string {
	rec, err := s.store.Get(ctx, s.registry.Root(class), id)
	if err != nil {
		return id
	}
	if v := toString(rec.Data[displayProp]); v != "" {
		return v
	}
	return id
}

func echoValues(ent *Entity, values map[string]string) {
	for k, v := range values {
		if ent.FindProperty(k) == nil {
			ent.SetProperty(k, v)
		}
	}
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
