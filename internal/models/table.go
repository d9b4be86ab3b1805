package models

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Column names DMS appends to every exported row. They are created on the
// target table up front and dropped once a table is fully loaded.
const (
	OpColumn        = "Op"
	TimestampColumn = "_dms_ingestion_timestamp"
)

// Op values carried in the DMS Op column.
const (
	OpInsert = "I"
	OpUpdate = "U"
	OpDelete = "D"
)

// TableMode controls how much of the DMS export is applied.
type TableMode string

const (
	// FullLoadOnly applies LOAD files and drops the DMS helper columns
	// afterwards. CDC files are ignored.
	FullLoadOnly TableMode = "full-load-only"

	// FullLoadAndCDC applies LOAD files first, then CDC files in order.
	FullLoadAndCDC TableMode = "full-load-and-cdc"
)

// ParseTableMode validates a mode string from flags or config.
func ParseTableMode(s string) (TableMode, error) {
	switch TableMode(s) {
	case FullLoadOnly, FullLoadAndCDC:
		return TableMode(s), nil
	case "":
		return FullLoadAndCDC, nil
	default:
		return "", fmt.Errorf("unknown table mode %q, expected %q or %q", s, FullLoadOnly, FullLoadAndCDC)
	}
}

// FileKind distinguishes DMS full-load files from CDC files.
type FileKind string

const (
	KindLoad FileKind = "LOAD"
	KindCDC  FileKind = "CDC"
)

// KindOfKey classifies an S3 key. DMS names full-load files LOAD00000001.parquet
// and timestamps CDC files, so a LOAD substring in the filename is the marker.
func KindOfKey(key string) FileKind {
	if strings.Contains(path.Base(key), "LOAD") {
		return KindLoad
	}
	return KindCDC
}

// TableSpec addresses one replicated table.
type TableSpec struct {
	Database string // source database name as it appears in the S3 layout
	Schema   string // source schema, also the target schema
	Table    string
	Mode     TableMode

	// PrimaryKey is only consulted when the target table has to be created
	// from the first LOAD file; existing tables are introspected instead.
	PrimaryKey []string
}

// PrefixPath returns the S3 prefix DMS writes this table under, without a
// trailing slash: {prefix}/{database}/{schema}/{table}.
func (t TableSpec) PrefixPath(prefix string) string {
	return fmt.Sprintf("%s/%s/%s/%s", prefix, t.Database, t.Schema, t.Table)
}

// Qualified returns the schema-qualified target table name.
func (t TableSpec) Qualified() string {
	return fmt.Sprintf("%s.%s", t.Schema, t.Table)
}

// LoadPayload selects which Parquet files a run applies. Exactly one of the
// two forms is used: date-aware discovery or a single absolute key.
type LoadPayload struct {
	Bucket    string
	Prefix    string
	Spec      TableSpec
	StartDate time.Time
	StopDate  time.Time // zero means "until now"

	// AbsolutePath bypasses discovery and applies exactly this key.
	AbsolutePath string
}

// S3Object is one discovered DMS file.
type S3Object struct {
	Key          string
	LastModified time.Time
}

// RowBatch holds the decoded contents of one Parquet file. Column order is
// significant: created tables mirror it, and rows index into it positionally.
type RowBatch struct {
	Key         string
	Kind        FileKind
	Columns     []string
	ColumnTypes map[string]string // column name -> postgres type
	Rows        [][]any
}

// ColumnIndex returns the position of a column, or -1 when absent.
func (b *RowBatch) ColumnIndex(name string) int {
	for i, c := range b.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// DataColumns returns the column names without the DMS helper columns.
func (b *RowBatch) DataColumns() []string {
	out := make([]string, 0, len(b.Columns))
	for _, c := range b.Columns {
		if c == OpColumn || c == TimestampColumn {
			continue
		}
		out = append(out, c)
	}
	return out
}
