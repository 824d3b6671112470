package persistence

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"openadmin/internal/metadata"
)

// Validation error codes. They double as message keys.
const (
	ErrRequired         = "required"
	ErrTypeMismatch     = "type_mismatch"
	ErrEnumInvalid      = "enum_invalid"
	ErrUniqueViolation  = "unique_violation"
	ErrRefNotFound      = "ref_not_found"
	ErrReadOnly         = "readonly_field"
	ErrPatternMismatch  = "pattern_mismatch"
	ErrMaxLength        = "max_length"
	ErrStaleVersion     = "version_conflict"
	ErrDeleteReferenced = "delete.referenced"
	ErrDuplicateLink    = "duplicate_link"
	ErrMapKeyInvalid    = "map_key_invalid"
	ErrMapKeyDuplicate  = "map_key_duplicate"
)

var (
	dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

	errMustBeInteger = errors.New("must be integer")
	errMustBeNumber  = errors.New("must be number")
	errMustBeBoolean = errors.New("must be boolean")
	errBadDate       = errors.New("must be YYYY-MM-DD")
)

type validateOpts struct {
	className    string
	values       map[string]string
	current      *Record // nil on create
	skipRequired bool
	allowFields  map[string]bool // system-owned fields the caller may set
}

// validate normalises submitted values against class metadata and records
// failures on ent. It returns the merged data for storage.
func (s *Service) validate(ctx context.Context, md *metadata.ClassMetadata, o validateOpts, ent *Entity) map[string]any {
	data := map[string]any{}
	if o.current != nil {
		for k, v := range o.current.Data {
			data[k] = v
		}
	}

	for _, p := range md.Properties {
		fmd := p.Metadata
		if fmd.Kind != metadata.KindBasic || !fmd.ApplicableTo(s.registry, o.className) {
			continue
		}
		raw, present := o.values[p.Name]
		if !present {
			continue
		}
		if fmd.System && !o.allowFields[p.Name] {
			continue
		}
		raw = strings.TrimSpace(raw)
		if fmd.ReadOnly && !o.allowFields[p.Name] {
			if o.current != nil && raw != toString(o.current.Data[p.Name]) {
				ent.AddValidationError(p.Name, ErrReadOnly)
			}
			continue
		}
		if raw == "" {
			data[p.Name] = nil
			continue
		}
		v, code := s.coerce(ctx, fmd, raw)
		if code != "" {
			ent.AddValidationError(p.Name, code)
			continue
		}
		data[p.Name] = v
	}

	if o.current == nil {
		applyDefaults(s.registry, md, o.className, data)
	}

	if !o.skipRequired {
		for _, p := range md.Properties {
			fmd := p.Metadata
			if fmd.Kind != metadata.KindBasic || !fmd.Required || !fmd.ApplicableTo(s.registry, o.className) {
				continue
			}
			if isNull(data[p.Name], true) && len(ent.PropertyValidationErrors[p.Name]) == 0 {
				ent.AddValidationError(p.Name, ErrRequired)
			}
		}
	}

	if !ent.ValidationFailure {
		s.checkUnique(ctx, md, o, data, ent)
	}
	return data
}

func (s *Service) coerce(ctx context.Context, fmd *metadata.FieldMetadata, raw string) (any, string) {
	switch fmd.FieldType {
	case metadata.FieldTypeString, metadata.FieldTypeText:
		if fmd.MaxLength > 0 && len([]rune(raw)) > fmd.MaxLength {
			return nil, ErrMaxLength
		}
		if fmd.Pattern != "" {
			re, err := regexp.Compile(fmd.Pattern)
			if err == nil && !re.MatchString(raw) {
				return nil, ErrPatternMismatch
			}
		}
		return raw, ""
	case metadata.FieldTypeInteger:
		n, err := toIntStrict(raw)
		if err != nil {
			return nil, ErrTypeMismatch
		}
		return n, ""
	case metadata.FieldTypeDecimal:
		f, err := toFloatStrict(raw)
		if err != nil {
			return nil, ErrTypeMismatch
		}
		return f, ""
	case metadata.FieldTypeMoney:
		f, err := toFloatStrict(raw)
		if err != nil {
			return nil, ErrTypeMismatch
		}
		return math.Round(f*100) / 100, ""
	case metadata.FieldTypeBoolean:
		b, err := toBoolStrict(raw)
		if err != nil {
			return nil, ErrTypeMismatch
		}
		return b, ""
	case metadata.FieldTypeDate:
		if err := checkDate(raw); err != nil {
			return nil, ErrTypeMismatch
		}
		return raw, ""
	case metadata.FieldTypeDateTime:
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, ErrTypeMismatch
		}
		return t.UTC().Format(time.RFC3339), ""
	case metadata.FieldTypeEnumeration:
		for _, o := range fmd.EnumOptions {
			if o.Code == raw {
				return raw, ""
			}
		}
		return nil, ErrEnumInvalid
	case metadata.FieldTypeForeignKey:
		if !s.refExists(ctx, fmd.ForeignKeyClass, raw) {
			return nil, ErrRefNotFound
		}
		return raw, ""
	}
	return raw, ""
}

func (s *Service) refExists(ctx context.Context, className, id string) bool {
	rec, err := s.store.Get(ctx, s.registry.Root(className), id)
	return err == nil && s.registry.IsA(rec.Type, className)
}

func (s *Service) checkUnique(ctx context.Context, md *metadata.ClassMetadata, o validateOpts, data map[string]any, ent *Entity) {
	root := s.registry.Root(o.className)
	exclude := ""
	if o.current != nil {
		exclude = o.current.ID
	}
	for _, p := range md.Properties {
		fmd := p.Metadata
		if !fmd.Unique || fmd.Kind != metadata.KindBasic || isNull(data[p.Name], true) {
			continue
		}
		if s.violatesUnique(ctx, root, []string{p.Name}, []string{toString(data[p.Name])}, exclude) {
			ent.AddValidationError(p.Name, ErrUniqueViolation)
		}
	}
	for _, set := range s.registry.UniqueSets(root) {
		values := make([]string, len(set))
		complete := true
		for i, f := range set {
			if isNull(data[f], true) {
				complete = false
				break
			}
			values[i] = toString(data[f])
		}
		if complete && s.violatesUnique(ctx, root, set, values, exclude) {
			ent.AddValidationError(set[0], ErrUniqueViolation)
		}
	}
}

func (s *Service) violatesUnique(ctx context.Context, root string, fields, values []string, excludeID string) bool {
	q := Query{Root: root}
	for i, f := range fields {
		q.Filters = append(q.Filters, Filter{Field: f, Values: []string{values[i]}})
	}
	recs, _, err := s.store.List(ctx, q)
	if err != nil {
		s.lggr.Warnw("unique check failed", "root", root, "fields", fields, "err", err)
		return false
	}
	for _, r := range recs {
		if r.ID != excludeID {
			return true
		}
	}
	return false
}

// applyDefaults fills default= values for absent fields on create.
func applyDefaults(reg *metadata.Registry, md *metadata.ClassMetadata, className string, data map[string]any) {
	for _, p := range md.Properties {
		fmd := p.Metadata
		if fmd.Default == "" || fmd.Kind != metadata.KindBasic || !fmd.ApplicableTo(reg, className) {
			continue
		}
		if !isNull(data[p.Name], true) {
			continue
		}
		switch fmd.FieldType {
		case metadata.FieldTypeInteger:
			if n, err := toIntStrict(fmd.Default); err == nil {
				data[p.Name] = n
			}
		case metadata.FieldTypeDecimal, metadata.FieldTypeMoney:
			if f, err := toFloatStrict(fmd.Default); err == nil {
				data[p.Name] = f
			}
		case metadata.FieldTypeBoolean:
			if b, err := toBoolStrict(fmd.Default); err == nil {
				data[p.Name] = b
			}
		default:
			data[p.Name] = fmd.Default
		}
	}
}

func checkDate(s string) error {
	if !dateRe.MatchString(s) {
		return errBadDate
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return errBadDate
	}
	return nil
}

func toIntStrict(s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errMustBeInteger
	}
	return n, nil
}

func toFloatStrict(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errMustBeNumber
	}
	return f, nil
}

func toBoolStrict(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	}
	return false, errMustBeBoolean
}

// formatValue renders a stored value the way forms display it.
func formatValue(fmd *metadata.FieldMetadata, v any) string {
	if v == nil {
		return ""
	}
	switch fmd.FieldType {
	case metadata.FieldTypeMoney:
		if f, ok := asFloat(v); ok {
			return strconv.FormatFloat(f, 'f', 2, 64)
		}
	case metadata.FieldTypeDateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339)
		}
	case metadata.FieldTypeDate:
		if t, ok := v.(time.Time); ok {
			return t.Format("2006-01-02")
		}
	}
	return toString(v)
}
