// Package tabledao provides data access operations for replicated target
// tables in Postgres: schema/table creation, full-load inserts, CDC
// upserts/deletes, and the DMS helper-column cleanup.
package tabledao

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	apperrors "github.com/cdcops/dms-replicator/internal/errors"
	"github.com/cdcops/dms-replicator/internal/models"
)

// TableOperator is the interface the replicator and validator program
// against. The DAO is the production implementation; tests substitute mocks.
type TableOperator interface {
	// GetTableColumns returns the target table's columns in declaration order.
	GetTableColumns(ctx context.Context, schema, table string) ([]ColumnDef, error)

	// GetPrimaryKey returns the primary key column names in index order.
	GetPrimaryKey(ctx context.Context, schema, table string) ([]string, error)

	// CreateSchema creates the target schema if it does not exist.
	CreateSchema(ctx context.Context, schema string) error

	// CreateTable creates the target table if it does not exist, with the DMS
	// helper columns prepended and the given primary key.
	CreateTable(ctx context.Context, schema, table string, columns []ColumnDef, primaryKeys []string) error

	// InsertBatch bulk-inserts all rows of a LOAD file.
	InsertBatch(ctx context.Context, schema, table string, batch *models.RowBatch) error

	// UpsertBatch applies a CDC file in order: I/U rows upsert, D rows delete.
	UpsertBatch(ctx context.Context, schema, table string, primaryKeys []string, batch *models.RowBatch) error

	// DropDmsColumns removes the Op and ingestion timestamp columns.
	DropDmsColumns(ctx context.Context, schema, table string) error

	// CountRows returns the target table's current row count.
	CountRows(ctx context.Context, schema, table string) (int64, error)

	// Close releases the underlying connection pool.
	Close()
}

// DAO implements TableOperator over a pgx connection pool.
type DAO struct {
	pool *pgxpool.Pool
}

var _ TableOperator = (*DAO)(nil)

// New creates a new DAO instance.
func New(pool *pgxpool.Pool) *DAO {
	return &DAO{pool: pool}
}

func (d *DAO) GetTableColumns(ctx context.Context, schema, table string) ([]ColumnDef, error) {
	rows, err := d.pool.Query(ctx, findColumnsQuery(), schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var columns []ColumnDef
	for rows.Next() {
		var col ColumnDef
		if err := rows.Scan(&col.Name, &col.DataType); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate column rows: %w", err)
	}

	return columns, nil
}

func (d *DAO) GetPrimaryKey(ctx context.Context, schema, table string) ([]string, error) {
	regclass := fmt.Sprintf("%s.%s", schema, table)

	rows, err := d.pool.Query(ctx, findPrimaryKeyQuery(), regclass)
	if err != nil {
		// 42P01: the regclass cast fails when the table does not exist yet
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrPrimaryKeyNotFound, regclass)
		}
		return nil, fmt.Errorf("failed to query primary key for %s: %w", regclass, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan primary key row: %w", err)
		}
		keys = append(keys, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate primary key rows: %w", err)
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrPrimaryKeyNotFound, regclass)
	}
	return keys, nil
}

func (d *DAO) CreateSchema(ctx context.Context, schema string) error {
	if _, err := d.pool.Exec(ctx, createSchemaQuery(schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	return nil
}

func (d *DAO) CreateTable(ctx context.Context, schema, table string, columns []ColumnDef, primaryKeys []string) error {
	pk := joinColumns(primaryKeys)
	if _, err := d.pool.Exec(ctx, createTableQuery(schema, table, columns, pk)); err != nil {
		return fmt.Errorf("failed to create table %s.%s: %w", schema, table, err)
	}
	return nil
}

// InsertBatch uses COPY for LOAD files. DMS full-load rows have no Op value,
// so the helper columns ride along as-is.
func (d *DAO) InsertBatch(ctx context.Context, schema, table string, batch *models.RowBatch) error {
	if len(batch.Rows) == 0 {
		return nil
	}

	// Tables are created with unquoted identifiers, so postgres folds the
	// names to lowercase. COPY quotes its column list and has to match.
	columns := make([]string, len(batch.Columns))
	for i, c := range batch.Columns {
		columns[i] = strings.ToLower(c)
	}

	identifier := pgx.Identifier{schema, table}
	copied, err := d.pool.CopyFrom(ctx, identifier, columns, pgx.CopyFromRows(batch.Rows))
	if err != nil {
		return fmt.Errorf("failed to copy %d rows into %s.%s: %w", len(batch.Rows), schema, table, err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("table", fmt.Sprintf("%s.%s", schema, table)).
		Int64("rows", copied).
		Str("key", batch.Key).
		Msg("Inserted LOAD batch")
	return nil
}

// cdcStatement is one queued CDC operation: the SQL to run and its
// positional arguments.
type cdcStatement struct {
	sql  string
	args []any
}

// buildCDCStatements translates a CDC batch into the statements to execute,
// one per row, preserving file order. I/U rows become upserts carrying the
// full row; D rows become deletes keyed on the primary key columns.
func buildCDCStatements(schema, table string, primaryKeys []string, batch *models.RowBatch) ([]cdcStatement, int, int, error) {
	opIdx := batch.ColumnIndex(models.OpColumn)
	if opIdx < 0 {
		return nil, 0, 0, fmt.Errorf("%w: CDC file %s has no %s column", apperrors.ErrColumnCountMismatch, batch.Key, models.OpColumn)
	}

	keyIdx := make([]int, len(primaryKeys))
	for i, pk := range primaryKeys {
		idx := batch.ColumnIndex(pk)
		if idx < 0 {
			return nil, 0, 0, fmt.Errorf("primary key column %s missing from CDC file %s", pk, batch.Key)
		}
		keyIdx[i] = idx
	}

	upsert := upsertQuery(schema, table, batch.Columns, primaryKeys)
	del := deleteQuery(schema, table, primaryKeys)

	var (
		statements = make([]cdcStatement, 0, len(batch.Rows))
		upserts    int
		deletes    int
	)
	for _, row := range batch.Rows {
		if len(row) != len(batch.Columns) {
			return nil, 0, 0, fmt.Errorf("%w: file %s", apperrors.ErrColumnCountMismatch, batch.Key)
		}

		op, _ := row[opIdx].(string)
		if op == models.OpDelete {
			keyValues := make([]any, len(keyIdx))
			for i, idx := range keyIdx {
				keyValues[i] = row[idx]
			}
			statements = append(statements, cdcStatement{sql: del, args: keyValues})
			deletes++
			continue
		}

		statements = append(statements, cdcStatement{sql: upsert, args: row})
		upserts++
	}
	return statements, upserts, deletes, nil
}

// UpsertBatch applies CDC rows in file order. Upserts and deletes are queued
// on one pgx batch, which executes statements in queue order inside an
// implicit transaction.
func (d *DAO) UpsertBatch(ctx context.Context, schema, table string, primaryKeys []string, batch *models.RowBatch) error {
	if len(batch.Rows) == 0 {
		return nil
	}

	statements, upserts, deletes, err := buildCDCStatements(schema, table, primaryKeys, batch)
	if err != nil {
		return err
	}

	var pgxBatch pgx.Batch
	for _, stmt := range statements {
		pgxBatch.Queue(stmt.sql, stmt.args...)
	}

	results := d.pool.SendBatch(ctx, &pgxBatch)
	defer results.Close()
	for i := 0; i < pgxBatch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to apply CDC row %d of %s: %w", i, batch.Key, err)
		}
	}

	zerolog.Ctx(ctx).Debug().
		Str("table", fmt.Sprintf("%s.%s", schema, table)).
		Int("upserts", upserts).
		Int("deletes", deletes).
		Str("key", batch.Key).
		Msg("Applied CDC batch")
	return nil
}

func (d *DAO) DropDmsColumns(ctx context.Context, schema, table string) error {
	if _, err := d.pool.Exec(ctx, dropDmsColumnsQuery(schema, table)); err != nil {
		return fmt.Errorf("failed to drop DMS columns from %s.%s: %w", schema, table, err)
	}
	return nil
}

func (d *DAO) CountRows(ctx context.Context, schema, table string) (int64, error) {
	var count int64
	if err := d.pool.QueryRow(ctx, countRowsQuery(schema, table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s.%s: %w", schema, table, err)
	}
	return count, nil
}

func (d *DAO) Close() {
	d.pool.Close()
}

func joinColumns(columns []string) string {
	out := ""
	for i, c := range columns {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}
