package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"openadmin/internal/logger"
	"openadmin/internal/metadata"
	"openadmin/internal/persistence"
)

// Store is a persistence.RecordStore backed by one table per root class.
// Deletes are soft: rows keep their data with deleted = true.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	registry *metadata.Registry
	lggr     logger.Logger
	now      func() time.Time
}

var _ persistence.RecordStore = (*Store)(nil)

func NewStore(db *sql.DB, d Dialect, reg *metadata.Registry, lggr logger.Logger) *Store {
	return &Store{
		db:       db,
		dialect:  d,
		registry: reg,
		lggr:     lggr.Named("sqlstore"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Migrate generates and applies the DDL for every root class.
func (s *Store) Migrate(ctx context.Context) error {
	ddl, err := GenerateDDL(s.registry, s.dialect)
	if err != nil {
		return err
	}
	return ApplyDDL(ctx, s.db, ddl, s.lggr)
}

type tableInfo struct {
	name   string
	fields []*metadata.FieldMetadata
	byName map[string]*metadata.FieldMetadata
}

func (s *Store) table(root string) (*tableInfo, error) {
	if _, err := s.registry.ClassMetadata(root); err != nil {
		return nil, err
	}
	t := &tableInfo{name: s.dialect.table(root), byName: map[string]*metadata.FieldMetadata{}}
	for _, f := range s.registry.StoredFields(root) {
		t.fields = append(t.fields, f)
		t.byName[f.Name] = f
	}
	return t, nil
}

func (t *tableInfo) selectList() string {
	cols := []string{"id", "entity_type", "version", "created_at", "updated_at"}
	for _, f := range t.fields {
		cols = append(cols, column(f.Name))
	}
	for i, c := range cols {
		cols[i] = sqlIdent(c)
	}
	return strings.Join(cols, ", ")
}

// args collects positional arguments and renders placeholders.
type args struct {
	d    Dialect
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	return a.d.placeholder(len(a.vals))
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Insert(ctx context.Context, root string, rec *persistence.Record) error {
	t, err := s.table(root)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	a := &args{d: s.dialect}
	var deleted bool
	err = tx.QueryRowContext(ctx, fmt.Sprintf("select %s from %s where %s = %s",
		sqlIdent("deleted"), t.name, sqlIdent("id"), a.add(rec.ID)), a.vals...).Scan(&deleted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	case !deleted:
		return persistence.ErrVersionConflict
	default:
		// a soft-deleted row with the same id is replaced
		a = &args{d: s.dialect}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("delete from %s where %s = %s",
			t.name, sqlIdent("id"), a.add(rec.ID)), a.vals...); err != nil {
			return err
		}
	}

	now := s.now()
	a = &args{d: s.dialect}
	cols := []string{sqlIdent("id"), sqlIdent("entity_type"), sqlIdent("version"), sqlIdent("created_at"), sqlIdent("updated_at"), sqlIdent("deleted")}
	ph := []string{a.add(rec.ID), a.add(rec.Type), a.add(int64(1)), a.add(s.dialect.timeValue(now)), a.add(s.dialect.timeValue(now)), "false"}
	for _, f := range t.fields {
		cols = append(cols, sqlIdent(column(f.Name)))
		ph = append(ph, a.add(bindValue(f, rec.Data[f.Name])))
	}
	q := fmt.Sprintf("insert into %s (%s) values (%s)", t.name, strings.Join(cols, ", "), strings.Join(ph, ", "))
	if _, err := tx.ExecContext(ctx, q, a.vals...); err != nil {
		return fmt.Errorf("insert %s %s: %w", root, rec.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	rec.Version = 1
	rec.CreatedAt, rec.UpdatedAt = now, now
	return nil
}

func (s *Store) Update(ctx context.Context, root string, rec *persistence.Record) error {
	t, err := s.table(root)
	if err != nil {
		return err
	}
	now := s.now()
	a := &args{d: s.dialect}
	sets := []string{
		sqlIdent("entity_type") + " = " + a.add(rec.Type),
		sqlIdent("version") + " = " + sqlIdent("version") + " + 1",
		sqlIdent("updated_at") + " = " + a.add(s.dialect.timeValue(now)),
	}
	for _, f := range t.fields {
		sets = append(sets, sqlIdent(column(f.Name))+" = "+a.add(bindValue(f, rec.Data[f.Name])))
	}
	q := fmt.Sprintf("update %s set %s where %s = %s and %s = %s and not %s returning %s",
		t.name, strings.Join(sets, ", "),
		sqlIdent("id"), a.add(rec.ID),
		sqlIdent("version"), a.add(rec.Version),
		sqlIdent("deleted"), sqlIdent("created_at"))

	var created any
	err = s.db.QueryRowContext(ctx, q, a.vals...).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		exists, xerr := s.exists(ctx, s.db, t, rec.ID)
		if xerr != nil {
			return xerr
		}
		if !exists {
			return persistence.RecordError(root, rec.ID)
		}
		return persistence.ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("update %s %s: %w", root, rec.ID, err)
	}
	rec.Version++
	rec.CreatedAt = timeOf(created)
	rec.UpdatedAt = now
	return nil
}

func (s *Store) exists(ctx context.Context, q queryer, t *tableInfo, id string) (bool, error) {
	a := &args{d: s.dialect}
	var one int
	err := q.QueryRowContext(ctx, fmt.Sprintf("select 1 from %s where %s = %s and not %s",
		t.name, sqlIdent("id"), a.add(id), sqlIdent("deleted")), a.vals...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Get(ctx context.Context, root, id string) (*persistence.Record, error) {
	t, err := s.table(root)
	if err != nil {
		return nil, err
	}
	a := &args{d: s.dialect}
	q := fmt.Sprintf("select %s from %s where %s = %s and not %s",
		t.selectList(), t.name, sqlIdent("id"), a.add(id), sqlIdent("deleted"))
	rows, err := s.db.QueryContext(ctx, q, a.vals...)
	if err != nil {
		return nil, err
	}
	recs, err := scanRecords(rows, t)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, persistence.RecordError(root, id)
	}
	return recs[0], nil
}

func (s *Store) Delete(ctx context.Context, root, id string) error {
	t, err := s.table(root)
	if err != nil {
		return err
	}
	a := &args{d: s.dialect}
	q := fmt.Sprintf("update %s set %s = true, %s = %s + 1, %s = %s where %s = %s and not %s",
		t.name, sqlIdent("deleted"), sqlIdent("version"), sqlIdent("version"),
		sqlIdent("updated_at"), a.add(s.dialect.timeValue(s.now())),
		sqlIdent("id"), a.add(id), sqlIdent("deleted"))
	res, err := s.db.ExecContext(ctx, q, a.vals...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return persistence.RecordError(root, id)
	}
	return nil
}

func (s *Store) List(ctx context.Context, q persistence.Query) ([]*persistence.Record, int, error) {
	t, err := s.table(q.Root)
	if err != nil {
		return nil, 0, err
	}
	a := &args{d: s.dialect}
	where := s.where(t, q, a)

	var total int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("select count(*) from %s where %s", t.name, where), a.vals...).Scan(&total); err != nil {
		return nil, 0, err
	}

	stmt := fmt.Sprintf("select %s from %s where %s order by %s", t.selectList(), t.name, where, orderBy(t, q))
	switch {
	case q.Limit > 0:
		stmt += " limit " + strconv.Itoa(q.Limit)
	case q.Offset > 0 && s.dialect == SQLite:
		stmt += " limit -1"
	}
	if q.Offset > 0 {
		stmt += " offset " + strconv.Itoa(q.Offset)
	}
	rows, err := s.db.QueryContext(ctx, stmt, a.vals...)
	if err != nil {
		return nil, 0, err
	}
	recs, err := scanRecords(rows, t)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

func (s *Store) Count(ctx context.Context, q persistence.Query) (int, error) {
	t, err := s.table(q.Root)
	if err != nil {
		return 0, err
	}
	a := &args{d: s.dialect}
	var n int
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("select count(*) from %s where %s", t.name, s.where(t, q, a)), a.vals...).Scan(&n)
	return n, err
}

// where renders the filter of q against live rows.
func (s *Store) where(t *tableInfo, q persistence.Query, a *args) string {
	conds := []string{"not " + sqlIdent("deleted")}
	if len(q.Types) > 0 {
		ph := make([]string, len(q.Types))
		for i, typ := range q.Types {
			ph[i] = a.add(typ)
		}
		conds = append(conds, fmt.Sprintf("%s in (%s)", sqlIdent("entity_type"), strings.Join(ph, ", ")))
	}
	for _, f := range q.Filters {
		conds = append(conds, filterCond(t, f, a))
	}
	return strings.Join(conds, " and ")
}

func filterCond(t *tableInfo, f persistence.Filter, a *args) string {
	col, fmd, ok := t.columnOf(f.Field)
	if f.Like {
		if len(f.Values) == 0 || !ok {
			return "1 = 0"
		}
		pattern := "%" + likeEscaper.Replace(strings.ToLower(f.Values[0])) + "%"
		return fmt.Sprintf(`lower(cast(%s as text)) like %s escape '\'`, col, a.add(pattern))
	}
	var ph []string
	null := false
	for _, v := range f.Values {
		if v == "" {
			null = true
			continue
		}
		if !ok {
			continue
		}
		if arg, good := filterValue(fmd, v); good {
			ph = append(ph, a.add(arg))
		}
	}
	var parts []string
	if len(ph) > 0 {
		parts = append(parts, fmt.Sprintf("%s in (%s)", col, strings.Join(ph, ", ")))
	}
	if null {
		if !ok {
			return "1 = 1"
		}
		parts = append(parts, col+" is null")
	}
	if len(parts) == 0 {
		return "1 = 0"
	}
	return "(" + strings.Join(parts, " or ") + ")"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// columnOf resolves a property name to its quoted column. A nil field means
// a system column.
func (t *tableInfo) columnOf(field string) (string, *metadata.FieldMetadata, bool) {
	switch field {
	case metadata.IDProperty:
		return sqlIdent("id"), nil, true
	case "version":
		return sqlIdent("version"), &metadata.FieldMetadata{FieldType: metadata.FieldTypeInteger}, true
	}
	f, ok := t.byName[field]
	if !ok {
		return "", nil, false
	}
	return sqlIdent(column(f.Name)), f, true
}

func orderBy(t *tableInfo, q persistence.Query) string {
	nulls := "1"
	if q.Nulls == "first" {
		nulls = "0"
	}
	var keys []string
	for _, k := range q.Sort {
		col, _, ok := t.columnOf(k.Field)
		if !ok || k.Field == "" {
			continue
		}
		dir := "asc"
		if k.Desc {
			dir = "desc"
		}
		keys = append(keys,
			fmt.Sprintf("case when %s is null then %s else 1 - %s end", col, nulls, nulls),
			col+" "+dir)
	}
	keys = append(keys, sqlIdent("id")+" asc")
	return strings.Join(keys, ", ")
}

func scanRecords(rows *sql.Rows, t *tableInfo) ([]*persistence.Record, error) {
	defer rows.Close()
	var out []*persistence.Record
	for rows.Next() {
		var (
			rec              persistence.Record
			created, updated any
		)
		vals := make([]any, len(t.fields))
		dest := []any{&rec.ID, &rec.Type, &rec.Version, &created, &updated}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		rec.CreatedAt, rec.UpdatedAt = timeOf(created), timeOf(updated)
		rec.Data = make(map[string]any, len(t.fields))
		for i, f := range t.fields {
			if v := readValue(f, vals[i]); v != nil {
				rec.Data[f.Name] = v
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// bindValue converts a record value to a driver argument. Empty strings are stored as NULL.
func bindValue(f *metadata.FieldMetadata, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		if x == "" {
			return nil
		}
	case int:
		return int64(x)
	}
	return v
}

func filterValue(f *metadata.FieldMetadata, s string) (any, bool) {
	if f == nil {
		return s, true
	}
	switch f.FieldType {
	case metadata.FieldTypeInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	case metadata.FieldTypeDecimal, metadata.FieldTypeMoney:
		n, err := strconv.ParseFloat(s, 64)
		return n, err == nil
	case metadata.FieldTypeBoolean:
		b, err := strconv.ParseBool(s)
		return b, err == nil
	}
	return s, true
}

// readValue normalises what the driver returns to the types the service stores.
func readValue(f *metadata.FieldMetadata, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}
	switch f.FieldType {
	case metadata.FieldTypeInteger:
		switch x := v.(type) {
		case int64:
			return x
		case float64:
			return int64(x)
		case string:
			if n, err := strconv.ParseInt(x, 10, 64); err == nil {
				return n
			}
		}
	case metadata.FieldTypeDecimal, metadata.FieldTypeMoney:
		switch x := v.(type) {
		case float64:
			return x
		case int64:
			return float64(x)
		case string:
			if n, err := strconv.ParseFloat(x, 64); err == nil {
				return n
			}
		}
	case metadata.FieldTypeBoolean:
		switch x := v.(type) {
		case bool:
			return x
		case int64:
			return x != 0
		case string:
			if b, err := strconv.ParseBool(x); err == nil {
				return b
			}
		}
	case metadata.FieldTypeDate:
		if t, ok := v.(time.Time); ok {
			return t.Format("2006-01-02")
		}
	case metadata.FieldTypeDateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return v
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"}

func timeOf(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case []byte:
		return timeOf(string(x))
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
