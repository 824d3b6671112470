package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"openadmin/internal/logger"
	"openadmin/internal/metadata"
)

type OnDeletePolicy string

const (
	OnDeleteRestrict OnDeletePolicy = "RESTRICT"
	OnDeleteSetNull  OnDeletePolicy = "SET NULL"
)

func onDeletePolicy(f *metadata.FieldMetadata) OnDeletePolicy {
	if strings.EqualFold(f.OnDelete, "set_null") {
		return OnDeleteSetNull
	}
	return OnDeleteRestrict
}

type fkStmt struct {
	table    string
	name     string
	col      string
	refTable string
	onDelete OnDeletePolicy
}

// GenerateDDL returns idempotent DDL keyed so that sorting the keys gives a
// valid apply order: schemas, then tables with their indexes, then foreign keys.
// Each root class gets one table holding every class of its hierarchy.
func GenerateDDL(reg *metadata.Registry, d Dialect) (map[string]string, error) {
	out := map[string]string{}
	var fks []fkStmt
	schemas := map[string]bool{}

	for _, className := range reg.ClassNames() {
		if reg.Root(className) != className {
			continue
		}
		mod, ent := splitClass(className)
		if d == Postgres && !schemas[mod] {
			schemas[mod] = true
			out["000_schema_"+safeSchema(mod)] = fmt.Sprintf("create schema if not exists %s;\n", sqlIdent(safeSchema(mod)))
		}
		tbl := d.table(className)
		idxPrefix := safeSchema(mod) + "_" + safeTable(ent)

		var sb strings.Builder
		fmt.Fprintf(&sb, "create table if not exists %s (\n", tbl)
		fmt.Fprintf(&sb, "  %s text primary key,\n", sqlIdent("id"))
		fmt.Fprintf(&sb, "  %s text not null,\n", sqlIdent("entity_type"))
		fmt.Fprintf(&sb, "  %s bigint not null default 1,\n", sqlIdent("version"))
		fmt.Fprintf(&sb, "  %s %s not null,\n", sqlIdent("created_at"), d.timestampType())
		fmt.Fprintf(&sb, "  %s %s not null,\n", sqlIdent("updated_at"), d.timestampType())
		fmt.Fprintf(&sb, "  %s boolean not null default false", sqlIdent("deleted"))
		for _, f := range reg.StoredFields(className) {
			fmt.Fprintf(&sb, ",\n  %s %s", sqlIdent(column(f.Name)), d.mapType(f))
		}
		sb.WriteString("\n);\n")

		// unique indexes only cover live rows
		for _, f := range reg.StoredFields(className) {
			if !f.Unique {
				continue
			}
			fmt.Fprintf(&sb, "create unique index if not exists %s on %s (%s) where not %s;\n",
				sqlIdent(idxPrefix+"_"+column(f.Name)+"_uniq"), tbl, sqlIdent(column(f.Name)), sqlIdent("deleted"))
		}
		for _, set := range reg.UniqueSets(className) {
			cols := make([]string, 0, len(set))
			names := make([]string, 0, len(set))
			for _, f := range set {
				cols = append(cols, sqlIdent(column(f)))
				names = append(names, column(f))
			}
			fmt.Fprintf(&sb, "create unique index if not exists %s on %s (%s) where not %s;\n",
				sqlIdent(idxPrefix+"_"+strings.Join(names, "_")+"_uniq"), tbl, strings.Join(cols, ", "), sqlIdent("deleted"))
		}
		out["100_"+idxPrefix] = sb.String()

		if d != Postgres {
			continue
		}
		for _, f := range reg.StoredFields(className) {
			if f.FieldType != metadata.FieldTypeForeignKey || f.ForeignKeyClass == "" {
				continue
			}
			fks = append(fks, fkStmt{
				table:    tbl,
				name:     idxPrefix + "_" + column(f.Name) + "_fk",
				col:      column(f.Name),
				refTable: d.table(reg.Root(f.ForeignKeyClass)),
				onDelete: onDeletePolicy(f),
			})
		}
	}

	if len(fks) > 0 {
		var sb strings.Builder
		for _, fk := range fks {
			fmt.Fprintf(&sb, "alter table %s add constraint %s foreign key (%s) references %s(%s) on delete %s;\n",
				fk.table, sqlIdent(fk.name), sqlIdent(fk.col), fk.refTable, sqlIdent("id"), fk.onDelete)
		}
		out["200_foreign_keys"] = sb.String()
	}
	return out, nil
}

// ApplyDDL executes the statements in key order. Objects that already exist
// are skipped, so applying twice is harmless.
func ApplyDDL(ctx context.Context, db *sql.DB, ddl map[string]string, lggr logger.Logger) error {
	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	for _, k := range keys {
		for _, stmt := range strings.Split(ddl[k], ";\n") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "42710" {
					lggr.Debugw("DDL skipped, already exists", "key", k, "constraint", pgErr.ConstraintName)
					continue
				}
				e := strings.ToLower(err.Error())
				if strings.Contains(e, "already exists") || strings.Contains(e, "duplicate") {
					lggr.Debugw("DDL skipped, already exists", "key", k, "err", err)
					continue
				}
				return fmt.Errorf("DDL apply failed (%s): %w", k, err)
			}
		}
		lggr.Debugw("DDL applied", "key", k)
	}
	return nil
}
