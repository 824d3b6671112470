package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"openadmin/internal/metadata"
)

func (s *Service) adornedRecords(ctx context.Context, ppr *PersistencePackageRequest) (*PersistenceResponse, error) {
	al := ppr.AdornedList
	if al == nil {
		return nil, fmt.Errorf("%w: adorned request without target list", ErrUnsupportedCollection)
	}
	tmd, err := s.registry.ClassMetadata(al.TargetEntityClass)
	if err != nil {
		return nil, err
	}
	jmd, err := s.registry.ClassMetadata(al.JoinEntityClass)
	if err != nil {
		return nil, err
	}

	var criteria []FilterAndSortCriteria
	for _, c := range ppr.FilterAndSortCriteria {
		if _, ok := jmd.Property(c.PropertyID); ok {
			criteria = append(criteria, c)
		}
	}
	q := buildQuery(s.registry.Root(al.JoinEntityClass), s.typesFor(al.JoinEntityClass), criteria)
	q.Filters = append(q.Filters, Filter{Field: al.LinkedObjectPath, Values: []string{al.LinkedID}})
	if len(q.Sort) == 0 && al.SortField != "" {
		q.Sort = []SortKey{{Field: al.SortField, Desc: !al.SortAscending}}
	}

	drs, err := s.fetchPage(ctx, q, ppr, func(row *Record) (*Entity, error) {
		return s.adornedEntity(ctx, jmd, al, row)
	})
	if err != nil {
		return nil, err
	}
	drs.ClassMetadata = tmd
	return &PersistenceResponse{DynamicResultSet: drs}, nil
}

// adornedEntity merges a join row into its target: the target's properties,
// the maintained join fields and the join row id as the alternate id.
func (s *Service) adornedEntity(ctx context.Context, jmd *metadata.ClassMetadata, al *AdornedTargetList, row *Record) (*Entity, error) {
	targetID := toString(row.Data[al.TargetObjectPath])
	target, err := s.load(ctx, al.TargetEntityClass, targetID)
	if err != nil {
		return nil, fmt.Errorf("join %s %s: %w", al.JoinEntityClass, row.ID, err)
	}
	ent, err := s.toEntity(ctx, target)
	if err != nil {
		return nil, err
	}
	fields := append([]string{}, al.MaintainedFields...)
	if al.SortField != "" {
		fields = append(fields, al.SortField)
	}
	for _, name := range fields {
		p, ok := jmd.Property(name)
		if !ok {
			continue
		}
		ent.SetProperty(name, formatValue(p.Metadata, row.Data[name]))
	}
	ent.SetProperty(metadata.AlternateIDProp, row.ID)
	return ent, nil
}

func (s *Service) mapRecords(ctx context.Context, ppr *PersistencePackageRequest) (*PersistenceResponse, error) {
	ms := ppr.MapStructure
	if ms == nil {
		return nil, fmt.Errorf("%w: map request without structure", ErrUnsupportedCollection)
	}
	vmd, err := s.registry.ClassMetadata(ms.ValueClass)
	if err != nil {
		return nil, err
	}
	q := buildQuery(s.registry.Root(ms.ValueClass), s.typesFor(ms.ValueClass), ppr.FilterAndSortCriteria)
	q.Filters = append(q.Filters, Filter{Field: ms.ManyToField, Values: []string{ms.ParentID}})
	if len(q.Sort) == 0 {
		q.Sort = []SortKey{{Field: ms.KeyProperty}}
	}
	drs, err := s.fetchPage(ctx, q, ppr, func(rec *Record) (*Entity, error) {
		return s.mapEntity(ctx, ms.KeyProperty, ms.Keys, rec)
	})
	if err != nil {
		return nil, err
	}
	drs.ClassMetadata = vmd
	return &PersistenceResponse{DynamicResultSet: drs}, nil
}

func (s *Service) mapEntity(ctx context.Context, keyProp string, keys []metadata.Option, rec *Record) (*Entity, error) {
	ent, err := s.toEntity(ctx, rec)
	if err != nil {
		return nil, err
	}
	key := toString(rec.Data[keyProp])
	p := ent.SetProperty(metadata.MapKeyProperty, key)
	p.DisplayValue = key
	for _, k := range keys {
		if k.Code == key {
			p.DisplayValue = k.Label
		}
	}
	return ent, nil
}

// collectionField resolves a collection property on cmd.
func collectionField(cmd *metadata.ClassMetadata, prop *metadata.Property) (*metadata.FieldMetadata, error) {
	if prop == nil || prop.Metadata == nil {
		return nil, fmt.Errorf("%w: missing property on %s", metadata.ErrUnknownField, cmd.CeilingType)
	}
	if !prop.Metadata.IsCollection() {
		return nil, fmt.Errorf("%w: %s.%s is not a collection", ErrUnsupportedCollection, cmd.CeilingType, prop.Name)
	}
	return prop.Metadata, nil
}

// collectionRequest scopes the request for fmd to parentID.
func collectionRequest(fmd *metadata.FieldMetadata, parentID string, crumbs []SectionCrumb) *PersistencePackageRequest {
	ppr := FromMetadata(fmd, crumbs)
	switch fmd.Kind {
	case metadata.KindBasicCollection:
		ppr.ForeignKey.CurrentValue = parentID
	case metadata.KindAdornedTarget:
		ppr.AdornedList.LinkedID = parentID
	case metadata.KindMap:
		ppr.MapStructure.ParentID = parentID
	}
	return ppr
}

// RecordsForCollection fetches one page of a collection property of containing.
// idOverride replaces the containing entity id when set.
func (s *Service) RecordsForCollection(ctx context.Context, cmd *metadata.ClassMetadata, containing *Entity, collectionProp *metadata.Property,
	criteria []FilterAndSortCriteria, start, max *int, idOverride string, crumbs []SectionCrumb) (*PersistenceResponse, error) {
	fmd, err := collectionField(cmd, collectionProp)
	if err != nil {
		return nil, err
	}
	parentID := idOverride
	if parentID == "" && containing != nil {
		parentID = containing.ID()
	}
	ppr := collectionRequest(fmd, parentID, crumbs).
		WithFilterAndSortCriteria(criteria).
		WithStartIndex(start).
		WithMaxIndex(max)
	if start == nil && max == nil {
		ppr.PageSize = s.pageSize
	}
	return s.Records(ctx, ppr)
}

// RecordsForSelectedTab fetches every collection placed on tabName, keyed by property name.
func (s *Service) RecordsForSelectedTab(ctx context.Context, cmd *metadata.ClassMetadata, containing *Entity, crumbs []SectionCrumb, tabName string) (map[string]*DynamicResultSet, error) {
	out := map[string]*DynamicResultSet{}
	for _, fmd := range cmd.CollectionsInTab(tabName) {
		if err := s.collectInto(ctx, out, cmd, containing, fmd, crumbs); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RecordsForAllSubCollections fetches every collection of containing.
func (s *Service) RecordsForAllSubCollections(ctx context.Context, cmd *metadata.ClassMetadata, containing *Entity, crumbs []SectionCrumb) (map[string]*DynamicResultSet, error) {
	out := map[string]*DynamicResultSet{}
	for _, p := range cmd.Properties {
		if !p.Metadata.IsCollection() {
			continue
		}
		if err := s.collectInto(ctx, out, cmd, containing, p.Metadata, crumbs); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Service) collectInto(ctx context.Context, out map[string]*DynamicResultSet, cmd *metadata.ClassMetadata, containing *Entity, fmd *metadata.FieldMetadata, crumbs []SectionCrumb) error {
	if containing != nil && !fmd.ApplicableTo(s.registry, containing.ClassName()) {
		return nil
	}
	resp, err := s.RecordsForCollection(ctx, cmd, containing, &metadata.Property{Name: fmd.Name, Metadata: fmd}, nil, nil, nil, "", crumbs)
	if err != nil {
		return fmt.Errorf("collection %s: %w", fmd.Name, err)
	}
	out[fmd.Name] = resp.DynamicResultSet
	return nil
}

// AdvancedCollectionRecord fetches a single collection item for editing.
// Adorned items are addressed by the join row id (alternateID) or by target id.
func (s *Service) AdvancedCollectionRecord(ctx context.Context, cmd *metadata.ClassMetadata, parent *Entity, collectionProp *metadata.Property,
	itemID string, crumbs []SectionCrumb, alternateID string, _ []string) (*PersistenceResponse, error) {
	fmd, err := collectionField(cmd, collectionProp)
	if err != nil {
		return nil, err
	}
	switch fmd.Kind {
	case metadata.KindBasicCollection:
		rec, err := s.child(ctx, fmd.CollectionCeilingEntity, fmd.ManyToField, parent.ID(), itemID, fmd.AddMethod)
		if err != nil {
			return nil, err
		}
		return s.single(ctx, rec, nil)
	case metadata.KindAdornedTarget:
		return s.adornedItem(ctx, fmd, parent.ID(), itemID, alternateID)
	case metadata.KindMap:
		rec, err := s.child(ctx, fmd.ValueClass, fmd.ManyToField, parent.ID(), itemID, "")
		if err != nil {
			return nil, err
		}
		return s.single(ctx, rec, fmd)
	}
	return nil, ErrUnsupportedCollection
}

func (s *Service) adornedItem(ctx context.Context, fmd *metadata.FieldMetadata, parentID, targetID, alternateID string) (*PersistenceResponse, error) {
	row, err := s.joinRow(ctx, fmd, parentID, targetID, alternateID)
	if err != nil {
		return nil, err
	}
	jmd, err := s.registry.ClassMetadata(fmd.JoinEntityClass)
	if err != nil {
		return nil, err
	}
	ent, err := s.adornedEntity(ctx, jmd, collectionRequest(fmd, parentID, nil).AdornedList, row)
	if err != nil {
		return nil, err
	}
	return &PersistenceResponse{Entity: ent, DynamicResultSet: &DynamicResultSet{ClassMetadata: jmd, Records: []*Entity{ent}, TotalRecords: 1}}, nil
}

func (s *Service) single(ctx context.Context, rec *Record, mapField *metadata.FieldMetadata) (*PersistenceResponse, error) {
	md, err := s.registry.ClassMetadata(rec.Type)
	if err != nil {
		return nil, err
	}
	var ent *Entity
	if mapField != nil {
		ent, err = s.mapEntity(ctx, mapField.KeyProperty, mapField.Keys, rec)
	} else {
		ent, err = s.toEntity(ctx, rec)
	}
	if err != nil {
		return nil, err
	}
	return &PersistenceResponse{Entity: ent, DynamicResultSet: &DynamicResultSet{ClassMetadata: md, Records: []*Entity{ent}, TotalRecords: 1}}, nil
}

// child loads a collection member and checks it belongs to parentID.
// Lookup collections may hold any record of the class.
func (s *Service) child(ctx context.Context, class, fkField, parentID, id string, add metadata.AddMethod) (*Record, error) {
	rec, err := s.load(ctx, class, id)
	if err != nil {
		return nil, err
	}
	if add == metadata.AddLookup || add == metadata.AddSelectizeLookup {
		return rec, nil
	}
	if toString(rec.Data[fkField]) != parentID {
		return nil, RecordError(class, id)
	}
	return rec, nil
}

func (s *Service) joinRow(ctx context.Context, fmd *metadata.FieldMetadata, parentID, targetID, alternateID string) (*Record, error) {
	if alternateID != "" {
		row, err := s.load(ctx, fmd.JoinEntityClass, alternateID)
		if err != nil {
			return nil, err
		}
		if toString(row.Data[fmd.LinkedProperty]) != parentID {
			return nil, RecordError(fmd.JoinEntityClass, alternateID)
		}
		return row, nil
	}
	recs, _, err := s.store.List(ctx, Query{
		Root:  s.registry.Root(fmd.JoinEntityClass),
		Types: s.typesFor(fmd.JoinEntityClass),
		Filters: []Filter{
			{Field: fmd.LinkedProperty, Values: []string{parentID}},
			{Field: fmd.TargetProperty, Values: []string{targetID}},
		},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, RecordError(fmd.JoinEntityClass, targetID)
	}
	return recs[0], nil
}

// MarkPreAdd flags parent as not yet saved; items added to its collections
// skip required checks until the parent is submitted.
func (s *Service) MarkPreAdd(parent *Entity) *Entity {
	parent.PreAdd = true
	return parent
}

// AddSubCollectionEntity adds an item to a collection of parent according to
// the collection kind and add method.
func (s *Service) AddSubCollectionEntity(ctx context.Context, sub *Submission, cmd *metadata.ClassMetadata, collectionProp *metadata.Property,
	parent *Entity, _ []SectionCrumb) (*PersistenceResponse, error) {
	fmd, err := collectionField(cmd, collectionProp)
	if err != nil {
		return nil, err
	}
	if parent == nil || parent.ID() == "" {
		return nil, fmt.Errorf("add to %s: %w", fmd.Name, ErrNotFound)
	}
	values := copyValues(sub.Values)
	switch fmd.Kind {
	case metadata.KindBasicCollection:
		return s.addBasic(ctx, sub, fmd, parent, values)
	case metadata.KindAdornedTarget:
		return s.addAdorned(ctx, sub, fmd, parent, values)
	case metadata.KindMap:
		return s.addMapValue(ctx, fmd, parent, values)
	}
	return nil, ErrUnsupportedCollection
}

func (s *Service) addBasic(ctx context.Context, sub *Submission, fmd *metadata.FieldMetadata, parent *Entity, values map[string]string) (*PersistenceResponse, error) {
	if (fmd.AddMethod == metadata.AddLookup || fmd.AddMethod == metadata.AddSelectizeLookup) && sub.ID != "" {
		rec, err := s.load(ctx, fmd.CollectionCeilingEntity, sub.ID)
		if err != nil {
			return nil, err
		}
		if toString(rec.Data[fmd.ManyToField]) == parent.ID() {
			ent := &Entity{Type: []string{rec.Type}}
			ent.SetProperty(metadata.IDProperty, rec.ID)
			ent.AddGlobalValidationError(ErrDuplicateLink)
			return &PersistenceResponse{Entity: ent}, nil
		}
		return s.update(ctx, rec, map[string]string{fmd.ManyToField: parent.ID()}, nil)
	}

	class := fmd.CollectionCeilingEntity
	if sub.EntityType != "" && s.registry.IsA(sub.EntityType, class) {
		class = sub.EntityType
	}
	values[fmd.ManyToField] = parent.ID()
	if fmd.SortProperty != "" && values[fmd.SortProperty] == "" {
		next, err := s.nextSequence(ctx, class, fmd.ManyToField, parent.ID(), fmd.SortProperty)
		if err != nil {
			return nil, err
		}
		values[fmd.SortProperty] = strconv.FormatInt(next, 10)
	}
	skip := parent.PreAdd || (fmd.AddMethod == metadata.AddPersistEmpty && len(sub.Values) == 0)
	return s.insert(ctx, class, values, skip, nil)
}

func (s *Service) addAdorned(ctx context.Context, sub *Submission, fmd *metadata.FieldMetadata, parent *Entity, values map[string]string) (*PersistenceResponse, error) {
	targetID := values[metadata.AdornedTargetProp]
	if targetID == "" {
		targetID = sub.ID
	}
	delete(values, metadata.AdornedTargetProp)
	if !s.refExists(ctx, fmd.CollectionCeilingEntity, targetID) {
		return nil, RecordError(fmd.CollectionCeilingEntity, targetID)
	}
	if _, err := s.joinRow(ctx, fmd, parent.ID(), targetID, ""); err == nil {
		ent := &Entity{Type: []string{fmd.JoinEntityClass}}
		ent.AddGlobalValidationError(ErrDuplicateLink)
		return &PersistenceResponse{Entity: ent}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	row := map[string]string{
		fmd.LinkedProperty: parent.ID(),
		fmd.TargetProperty: targetID,
	}
	for _, m := range fmd.MaintainedFields {
		if v, ok := values[m]; ok {
			row[m] = v
		}
	}
	if fmd.SortProperty != "" {
		next, err := s.nextSequence(ctx, fmd.JoinEntityClass, fmd.LinkedProperty, parent.ID(), fmd.SortProperty)
		if err != nil {
			return nil, err
		}
		row[fmd.SortProperty] = strconv.FormatInt(next, 10)
	}
	resp, err := s.insert(ctx, fmd.JoinEntityClass, row, false, nil)
	if err != nil || resp.Entity.ValidationFailure {
		return resp, err
	}
	return s.adornedItem(ctx, fmd, parent.ID(), targetID, resp.Entity.ID())
}

func (s *Service) addMapValue(ctx context.Context, fmd *metadata.FieldMetadata, parent *Entity, values map[string]string) (*PersistenceResponse, error) {
	key, ok := values[metadata.MapKeyProperty]
	if !ok {
		key = values[fmd.KeyProperty]
	}
	delete(values, metadata.MapKeyProperty)
	ent := &Entity{Type: []string{fmd.ValueClass}}
	if code := s.checkMapKey(ctx, fmd, parent.ID(), key, ""); code != "" {
		ent.AddValidationError(metadata.MapKeyProperty, code)
		echoValues(ent, values)
		return &PersistenceResponse{Entity: ent}, nil
	}
	values[fmd.KeyProperty] = key
	values[fmd.ManyToField] = parent.ID()
	resp, err := s.insert(ctx, fmd.ValueClass, values, false, nil)
	if err != nil || resp.Entity.ValidationFailure {
		return resp, err
	}
	resp.Entity.SetProperty(metadata.MapKeyProperty, key)
	return resp, nil
}

// checkMapKey validates a key for a map entry, ignoring the entry selfID.
func (s *Service) checkMapKey(ctx context.Context, fmd *metadata.FieldMetadata, parentID, key, selfID string) string {
	if key == "" {
		return ErrRequired
	}
	if len(fmd.Keys) > 0 {
		allowed := false
		for _, k := range fmd.Keys {
			if k.Code == key {
				allowed = true
			}
		}
		if !allowed {
			return ErrMapKeyInvalid
		}
	}
	recs, _, err := s.store.List(ctx, Query{
		Root: s.registry.Root(fmd.ValueClass),
		Filters: []Filter{
			{Field: fmd.ManyToField, Values: []string{parentID}},
			{Field: fmd.KeyProperty, Values: []string{key}},
		},
	})
	if err != nil {
		s.lggr.Warnw("map key check failed", "field", fmd.Name, "err", err)
		return ""
	}
	for _, r := range recs {
		if r.ID != selfID {
			return ErrMapKeyDuplicate
		}
	}
	return ""
}

// UpdateSubCollectionEntity stores changes to a collection item. A changed
// sort value moves the item and renumbers its siblings.
func (s *Service) UpdateSubCollectionEntity(ctx context.Context, sub *Submission, cmd *metadata.ClassMetadata, collectionProp *metadata.Property,
	parent *Entity, itemID, alternateID string, crumbs []SectionCrumb) (*PersistenceResponse, error) {
	fmd, err := collectionField(cmd, collectionProp)
	if err != nil {
		return nil, err
	}
	values := copyValues(sub.Values)
	switch fmd.Kind {
	case metadata.KindBasicCollection:
		rec, err := s.child(ctx, fmd.CollectionCeilingEntity, fmd.ManyToField, parent.ID(), itemID, fmd.AddMethod)
		if err != nil {
			return nil, err
		}
		if !isPersistAdd(fmd.AddMethod) {
			delete(values, fmd.ManyToField)
		} else {
			values[fmd.ManyToField] = parent.ID()
		}
		seq, moved := s.sequenceChange(fmd.SortProperty, values, rec)
		if moved {
			delete(values, fmd.SortProperty)
		}
		resp, err := s.update(ctx, rec, values, nil)
		if err != nil || resp.Entity.ValidationFailure || !moved {
			return resp, err
		}
		return s.UpdateCollectionSequence(ctx, cmd, collectionProp, parent, itemID, "", seq-1)
	case metadata.KindAdornedTarget:
		row, err := s.joinRow(ctx, fmd, parent.ID(), itemID, alternateID)
		if err != nil {
			return nil, err
		}
		allowed := map[string]string{}
		for _, m := range fmd.MaintainedFields {
			if v, ok := values[m]; ok {
				allowed[m] = v
			}
		}
		seq, moved := s.sequenceChange(fmd.SortProperty, values, row)
		resp, err := s.update(ctx, row, allowed, nil)
		if err != nil || resp.Entity.ValidationFailure {
			return resp, err
		}
		if moved {
			return s.UpdateCollectionSequence(ctx, cmd, collectionProp, parent, itemID, row.ID, seq-1)
		}
		return s.adornedItem(ctx, fmd, parent.ID(), itemID, row.ID)
	case metadata.KindMap:
		rec, err := s.child(ctx, fmd.ValueClass, fmd.ManyToField, parent.ID(), itemID, "")
		if err != nil {
			return nil, err
		}
		if key, ok := values[metadata.MapKeyProperty]; ok {
			delete(values, metadata.MapKeyProperty)
			if key != toString(rec.Data[fmd.KeyProperty]) {
				if code := s.checkMapKey(ctx, fmd, parent.ID(), key, rec.ID); code != "" {
					ent := &Entity{Type: []string{rec.Type}}
					ent.SetProperty(metadata.IDProperty, rec.ID)
					ent.AddValidationError(metadata.MapKeyProperty, code)
					return &PersistenceResponse{Entity: ent}, nil
				}
			}
			values[fmd.KeyProperty] = key
		}
		delete(values, fmd.ManyToField)
		resp, err := s.update(ctx, rec, values, nil)
		if err != nil || resp.Entity.ValidationFailure {
			return resp, err
		}
		resp.Entity.SetProperty(metadata.MapKeyProperty, values[fmd.KeyProperty])
		return resp, nil
	}
	return nil, ErrUnsupportedCollection
}

// sequenceChange reports the submitted sort value when it differs from rec.
func (s *Service) sequenceChange(sortProp string, values map[string]string, rec *Record) (int, bool) {
	if sortProp == "" {
		return 0, false
	}
	raw, ok := values[sortProp]
	if !ok || raw == toString(rec.Data[sortProp]) {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// UpdateCollectionSequence moves an item to position (0-indexed) within its
// collection. The item's sort value becomes position+1 and siblings are renumbered.
func (s *Service) UpdateCollectionSequence(ctx context.Context, cmd *metadata.ClassMetadata, collectionProp *metadata.Property,
	parent *Entity, itemID, alternateID string, position int) (*PersistenceResponse, error) {
	fmd, err := collectionField(cmd, collectionProp)
	if err != nil {
		return nil, err
	}
	if fmd.SortProperty == "" || fmd.Kind == metadata.KindMap {
		return nil, fmt.Errorf("%w: %s is not sortable", ErrUnsupportedCollection, fmd.Name)
	}

	var class, fkField, movedID string
	switch fmd.Kind {
	case metadata.KindBasicCollection:
		rec, err := s.child(ctx, fmd.CollectionCeilingEntity, fmd.ManyToField, parent.ID(), itemID, "")
		if err != nil {
			return nil, err
		}
		class, fkField, movedID = fmd.CollectionCeilingEntity, fmd.ManyToField, rec.ID
	case metadata.KindAdornedTarget:
		row, err := s.joinRow(ctx, fmd, parent.ID(), itemID, alternateID)
		if err != nil {
			return nil, err
		}
		class, fkField, movedID = fmd.JoinEntityClass, fmd.LinkedProperty, row.ID
	}

	siblings, _, err := s.store.List(ctx, Query{
		Root:    s.registry.Root(class),
		Types:   s.typesFor(class),
		Filters: []Filter{{Field: fkField, Values: []string{parent.ID()}}},
		Sort:    []SortKey{{Field: fmd.SortProperty}},
	})
	if err != nil {
		return nil, err
	}
	var moved *Record
	ordered := make([]*Record, 0, len(siblings))
	for _, r := range siblings {
		if r.ID == movedID {
			moved = r
			continue
		}
		ordered = append(ordered, r)
	}
	if moved == nil {
		return nil, RecordError(class, movedID)
	}
	if position < 0 {
		position = 0
	}
	if position > len(ordered) {
		position = len(ordered)
	}
	ordered = append(ordered[:position], append([]*Record{moved}, ordered[position:]...)...)

	for i, r := range ordered {
		want := int64(i + 1)
		if cur, ok := r.Data[fmd.SortProperty].(int64); ok && cur == want {
			continue
		}
		next := r.Clone()
		next.Data[fmd.SortProperty] = want
		if err := s.store.Update(ctx, s.registry.Root(class), next); err != nil {
			return nil, fmt.Errorf("resequence %s: %w", fmd.Name, err)
		}
	}
	s.lggr.Debugw("collection resequenced", "field", fmd.Name, "item", movedID, "position", position+1)

	if fmd.Kind == metadata.KindAdornedTarget {
		return s.adornedItem(ctx, fmd, parent.ID(), itemID, movedID)
	}
	rec, err := s.load(ctx, class, movedID)
	if err != nil {
		return nil, err
	}
	return s.single(ctx, rec, nil)
}

// RemoveSubCollectionEntity removes an item from a collection: persisted
// children are deleted, lookup members unlinked, join rows and map values dropped.
// Map entries may be addressed by priorKey when itemID is empty.
func (s *Service) RemoveSubCollectionEntity(ctx context.Context, cmd *metadata.ClassMetadata, collectionProp *metadata.Property,
	parent *Entity, itemID, alternateID, priorKey string, _ []SectionCrumb) (*PersistenceResponse, error) {
	fmd, err := collectionField(cmd, collectionProp)
	if err != nil {
		return nil, err
	}
	switch fmd.Kind {
	case metadata.KindBasicCollection:
		rec, err := s.child(ctx, fmd.CollectionCeilingEntity, fmd.ManyToField, parent.ID(), itemID, "")
		if err != nil {
			return nil, err
		}
		if isPersistAdd(fmd.AddMethod) {
			return s.remove(ctx, rec)
		}
		return s.update(ctx, rec, map[string]string{fmd.ManyToField: ""}, nil)
	case metadata.KindAdornedTarget:
		row, err := s.joinRow(ctx, fmd, parent.ID(), itemID, alternateID)
		if err != nil {
			return nil, err
		}
		return s.remove(ctx, row)
	case metadata.KindMap:
		var rec *Record
		if itemID != "" {
			rec, err = s.child(ctx, fmd.ValueClass, fmd.ManyToField, parent.ID(), itemID, "")
		} else {
			rec, err = s.mapValueByKey(ctx, fmd, parent.ID(), priorKey)
		}
		if err != nil {
			return nil, err
		}
		return s.remove(ctx, rec)
	}
	return nil, ErrUnsupportedCollection
}

func (s *Service) mapValueByKey(ctx context.Context, fmd *metadata.FieldMetadata, parentID, key string) (*Record, error) {
	recs, _, err := s.store.List(ctx, Query{
		Root: s.registry.Root(fmd.ValueClass),
		Filters: []Filter{
			{Field: fmd.ManyToField, Values: []string{parentID}},
			{Field: fmd.KeyProperty, Values: []string{key}},
		},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, RecordError(fmd.ValueClass, key)
	}
	return recs[0], nil
}

// nextSequence returns max(sortField)+1 over the rows pointing at parentID.
func (s *Service) nextSequence(ctx context.Context, class, fkField, parentID, sortField string) (int64, error) {
	recs, _, err := s.store.List(ctx, Query{
		Root:    s.registry.Root(class),
		Filters: []Filter{{Field: fkField, Values: []string{parentID}}},
	})
	if err != nil {
		return 0, err
	}
	var seqs []int64
	for _, r := range recs {
		if f, ok := asFloat(r.Data[sortField]); ok {
			seqs = append(seqs, int64(f))
		}
	}
	if len(seqs) == 0 {
		return 1, nil
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] > seqs[j] })
	return seqs[0] + 1, nil
}

func copyValues(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
