package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"openadmin/internal/metadata"
)

// Dialect selects SQL flavour and driver.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect maps a configured driver name to a dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported store driver %q", driver)
}

func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// table returns the quoted table name for a root class "module.Entity".
func (d Dialect) table(className string) string {
	mod, ent := splitClass(className)
	if d == Postgres {
		return sqlIdent(safeSchema(mod)) + "." + sqlIdent(safeTable(ent))
	}
	return sqlIdent(safeSchema(mod) + "_" + safeTable(ent))
}

func (d Dialect) timestampType() string {
	if d == Postgres {
		return "timestamp with time zone"
	}
	return "text"
}

// timeValue prepares a timestamp argument. SQLite keeps RFC3339 text.
func (d Dialect) timeValue(t time.Time) any {
	if d == Postgres {
		return t.UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// mapType picks the column type for a field. Dates stay ISO text so both
// dialects sort and compare them the same way.
func (d Dialect) mapType(f *metadata.FieldMetadata) string {
	switch f.FieldType {
	case metadata.FieldTypeInteger:
		if d == SQLite {
			return "integer"
		}
		return "bigint"
	case metadata.FieldTypeDecimal:
		if d == SQLite {
			return "real"
		}
		return "double precision"
	case metadata.FieldTypeMoney:
		if d == SQLite {
			return "numeric"
		}
		return "numeric(18,2)"
	case metadata.FieldTypeBoolean:
		return "boolean"
	}
	return "text"
}

func splitClass(className string) (mod, ent string) {
	i := strings.LastIndex(className, ".")
	if i < 0 {
		return "public", className
	}
	return className[:i], className[i+1:]
}

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

func isReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// naive pluralisation, enough for products, categories, skus
func plural(s string) string {
	s = strings.ToLower(s)
	switch {
	case strings.HasSuffix(s, "s"):
		return s
	case strings.HasSuffix(s, "y") && len(s) > 1 && !strings.ContainsRune("aeiou", rune(s[len(s)-2])):
		return s[:len(s)-1] + "ies"
	}
	return s + "s"
}

func safeSchema(module string) string { return strings.ToLower(module) }

func safeTable(entity string) string {
	t := plural(entity)
	if isReserved(t) {
		t = "e_" + t
	}
	return t
}

func sqlIdent(s string) string { return `"` + strings.ToLower(s) + `"` }

var systemColumns = map[string]struct{}{
	"id": {}, "entity_type": {}, "version": {}, "created_at": {}, "updated_at": {}, "deleted": {},
}

// column maps a property name to its column, e.g. auditable.createdBy -> auditable_createdby.
func column(field string) string {
	c := strings.ToLower(strings.ReplaceAll(field, ".", "_"))
	if _, ok := systemColumns[c]; ok {
		c = "f_" + c
	}
	return c
}
