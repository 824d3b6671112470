package persistence

import (
	"context"
	"errors"
	"fmt"

	"openadmin/internal/metadata"
)

const copySuffix = " (Copy)"

// Duplicator copies a record together with the collection rows it owns.
type Duplicator struct {
	svc *Service
}

func NewDuplicator(svc *Service) *Duplicator {
	return &Duplicator{svc: svc}
}

// Validate reports whether id exists in className and the class may be copied.
func (d *Duplicator) Validate(ctx context.Context, className, id string) bool {
	md, err := d.svc.registry.ClassMetadata(className)
	if err != nil || md.NoDuplicate {
		return false
	}
	rec, err := d.svc.load(ctx, className, id)
	if err != nil {
		return false
	}
	cmd, err := d.svc.registry.ClassMetadata(rec.Type)
	return err == nil && !cmd.NoDuplicate
}

// Copy stores a copy of the record and returns its id. Unique string values
// get a " (Copy)" suffix; other unique values are cleared.
func (d *Duplicator) Copy(ctx context.Context, className, id string) (string, error) {
	if !d.Validate(ctx, className, id) {
		return "", fmt.Errorf("%w: %s %s", ErrNoDuplicate, className, id)
	}
	src, err := d.svc.load(ctx, className, id)
	if err != nil {
		return "", err
	}
	newID, err := d.copyRecord(ctx, src, nil)
	if err != nil {
		return "", err
	}
	d.svc.lggr.Infow("record duplicated", "class", src.Type, "from", id, "to", newID)
	return newID, nil
}

// copyRecord inserts a copy of src with overrides applied, then copies its
// owned rows onto the new id.
func (d *Duplicator) copyRecord(ctx context.Context, src *Record, overrides map[string]string) (string, error) {
	reg := d.svc.registry
	md, err := reg.ClassMetadata(src.Type)
	if err != nil {
		return "", err
	}
	values := map[string]string{}
	for _, p := range md.Properties {
		fmd := p.Metadata
		if fmd.Kind != metadata.KindBasic || fmd.System || !fmd.ApplicableTo(reg, src.Type) {
			continue
		}
		values[p.Name] = formatValue(fmd, src.Data[p.Name])
	}
	uniqueCopies(reg, md, values)
	for k, v := range overrides {
		values[k] = v
	}

	resp, err := d.svc.insert(ctx, src.Type, values, true, nil)
	if err != nil {
		return "", err
	}
	if resp.Entity.ValidationFailure {
		return "", &ValidationError{Entity: resp.Entity}
	}
	newID := resp.Entity.ID()

	links, err := d.svc.ownedLinks(src.Type)
	if err != nil {
		return "", err
	}
	for _, l := range links {
		if !d.ownedBy(md, l) {
			continue
		}
		rows, _, err := d.svc.store.List(ctx, Query{
			Root:    reg.Root(l.class),
			Types:   d.svc.typesFor(l.class),
			Filters: []Filter{{Field: l.field, Values: []string{src.ID}}},
		})
		if err != nil {
			return "", err
		}
		for _, row := range rows {
			if _, err := d.copyRecord(ctx, row, map[string]string{l.field: newID}); err != nil {
				return "", fmt.Errorf("copy %s %s: %w", row.Type, row.ID, err)
			}
		}
	}
	return newID, nil
}

// ownedBy excludes join rows where the record is only the target.
func (d *Duplicator) ownedBy(md *metadata.ClassMetadata, l ownedLink) bool {
	for _, p := range md.Properties {
		fmd := p.Metadata
		switch fmd.Kind {
		case metadata.KindAdornedTarget:
			if fmd.JoinEntityClass == l.class && fmd.LinkedProperty == l.field {
				return true
			}
		case metadata.KindMap, metadata.KindBasicCollection:
			if fmd.ManyToField == l.field && d.svc.registry.IsA(l.class, fmd.CollectionCeilingEntity) {
				return true
			}
		}
	}
	return false
}

// uniqueCopies rewrites values so the copy does not collide on unique fields.
func uniqueCopies(reg *metadata.Registry, md *metadata.ClassMetadata, values map[string]string) {
	suffix := func(name string) {
		p, ok := md.Property(name)
		if !ok || values[name] == "" {
			return
		}
		ft := p.Metadata.FieldType
		if (ft == metadata.FieldTypeString || ft == metadata.FieldTypeText) && p.Metadata.Pattern == "" {
			values[name] += copySuffix
			return
		}
		values[name] = ""
	}
	for _, p := range md.Properties {
		if p.Metadata.Unique {
			suffix(p.Name)
		}
	}
	for _, set := range reg.UniqueSets(reg.Root(md.CeilingType)) {
		done := false
		for _, f := range set {
			if p, ok := md.Property(f); ok && p.Metadata.Unique {
				done = true
			}
		}
		if done {
			continue
		}
		for _, f := range set {
			p, ok := md.Property(f)
			if ok && (p.Metadata.FieldType == metadata.FieldTypeString || p.Metadata.FieldType == metadata.FieldTypeText) {
				suffix(f)
				break
			}
		}
	}
}

// IsNoDuplicate reports whether err means the class refuses copies.
func IsNoDuplicate(err error) bool { return errors.Is(err, ErrNoDuplicate) }
