package tabledao

import (
	"fmt"
	"strings"

	"github.com/cdcops/dms-replicator/internal/models"
)

// ColumnDef pairs a column name with its postgres type. Order matters:
// created tables mirror the source Parquet column order.
type ColumnDef struct {
	Name     string
	DataType string
}

// findColumnsQuery lists a table's columns with their types, in the order
// they were declared.
func findColumnsQuery() string {
	return `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1
		AND table_name = $2
		ORDER BY ordinal_position`
}

// findPrimaryKeyQuery lists the primary key columns of a table, in index
// order. $1 is the regclass-qualified name {schema}.{table}.
func findPrimaryKeyQuery() string {
	return `
		SELECT a.attname
		FROM   pg_index i
		JOIN   pg_attribute a ON a.attrelid = i.indrelid
		AND a.attnum = ANY(i.indkey)
		WHERE  i.indrelid = $1::regclass
		AND    i.indisprimary`
}

func createSchemaQuery(schema string) string {
	return fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)
}

// createTableQuery builds the CREATE TABLE statement for a replicated table.
// The DMS helper columns come first, then the source columns in order, then
// the primary key constraint. primaryKey may be a comma-joined composite.
func createTableQuery(schema, table string, columns []ColumnDef, primaryKey string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s.%s (", schema, table)
	fmt.Fprintf(&sb, "%s varchar,", models.OpColumn)
	fmt.Fprintf(&sb, "%s varchar,", models.TimestampColumn)
	for _, col := range columns {
		fmt.Fprintf(&sb, "%s %s,", col.Name, col.DataType)
	}
	fmt.Fprintf(&sb, "PRIMARY KEY (%s))", primaryKey)
	return sb.String()
}

// insertQuery builds a positional-parameter INSERT for one row shape.
func insertQuery(schema, table string, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES (%s)",
		schema, table,
		strings.Join(columns, ","),
		strings.Join(placeholders, ","))
}

// upsertQuery builds INSERT .. ON CONFLICT DO UPDATE keyed on the primary
// key columns. Every non-key column is refreshed from EXCLUDED.
func upsertQuery(schema, table string, columns []string, primaryKeys []string) string {
	isKey := make(map[string]bool, len(primaryKeys))
	for _, pk := range primaryKeys {
		isKey[pk] = true
	}

	var updates []string
	for _, col := range columns {
		if isKey[col] {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	base := insertQuery(schema, table, columns)
	if len(updates) == 0 {
		return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING", base, strings.Join(primaryKeys, ","))
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		base, strings.Join(primaryKeys, ","), strings.Join(updates, ", "))
}

// deleteQuery builds a row delete keyed on the primary key columns.
func deleteQuery(schema, table string, primaryKeys []string) string {
	placeholders := make([]string, len(primaryKeys))
	for i := range primaryKeys {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("DELETE FROM %s.%s WHERE (%s)=(%s)",
		schema, table,
		strings.Join(primaryKeys, ","),
		strings.Join(placeholders, ","))
}

func dropDmsColumnsQuery(schema, table string) string {
	return fmt.Sprintf("ALTER TABLE %s.%s DROP COLUMN IF EXISTS %s, DROP COLUMN IF EXISTS %s",
		schema, table, models.OpColumn, models.TimestampColumn)
}

func countRowsQuery(schema, table string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", schema, table)
}
