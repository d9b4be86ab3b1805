package tabledao

import (
	"context"

	"github.com/cdcops/dms-replicator/internal/models"
)

// MockTableOperator is a function-field test double for TableOperator.
// Unset fields make the corresponding call a no-op success.
type MockTableOperator struct {
	GetTableColumnsFunc func(ctx context.Context, schema, table string) ([]ColumnDef, error)
	GetPrimaryKeyFunc   func(ctx context.Context, schema, table string) ([]string, error)
	CreateSchemaFunc    func(ctx context.Context, schema string) error
	CreateTableFunc     func(ctx context.Context, schema, table string, columns []ColumnDef, primaryKeys []string) error
	InsertBatchFunc     func(ctx context.Context, schema, table string, batch *models.RowBatch) error
	UpsertBatchFunc     func(ctx context.Context, schema, table string, primaryKeys []string, batch *models.RowBatch) error
	DropDmsColumnsFunc  func(ctx context.Context, schema, table string) error
	CountRowsFunc       func(ctx context.Context, schema, table string) (int64, error)

	// Calls records the method names invoked, in order.
	Calls []string
}

var _ TableOperator = (*MockTableOperator)(nil)

func (m *MockTableOperator) GetTableColumns(ctx context.Context, schema, table string) ([]ColumnDef, error) {
	m.Calls = append(m.Calls, "GetTableColumns")
	if m.GetTableColumnsFunc != nil {
		return m.GetTableColumnsFunc(ctx, schema, table)
	}
	return nil, nil
}

func (m *MockTableOperator) GetPrimaryKey(ctx context.Context, schema, table string) ([]string, error) {
	m.Calls = append(m.Calls, "GetPrimaryKey")
	if m.GetPrimaryKeyFunc != nil {
		return m.GetPrimaryKeyFunc(ctx, schema, table)
	}
	return []string{"id"}, nil
}

func (m *MockTableOperator) CreateSchema(ctx context.Context, schema string) error {
	m.Calls = append(m.Calls, "CreateSchema")
	if m.CreateSchemaFunc != nil {
		return m.CreateSchemaFunc(ctx, schema)
	}
	return nil
}

func (m *MockTableOperator) CreateTable(ctx context.Context, schema, table string, columns []ColumnDef, primaryKeys []string) error {
	m.Calls = append(m.Calls, "CreateTable")
	if m.CreateTableFunc != nil {
		return m.CreateTableFunc(ctx, schema, table, columns, primaryKeys)
	}
	return nil
}

func (m *MockTableOperator) InsertBatch(ctx context.Context, schema, table string, batch *models.RowBatch) error {
	m.Calls = append(m.Calls, "InsertBatch")
	if m.InsertBatchFunc != nil {
		return m.InsertBatchFunc(ctx, schema, table, batch)
	}
	return nil
}

func (m *MockTableOperator) UpsertBatch(ctx context.Context, schema, table string, primaryKeys []string, batch *models.RowBatch) error {
	m.Calls = append(m.Calls, "UpsertBatch")
	if m.UpsertBatchFunc != nil {
		return m.UpsertBatchFunc(ctx, schema, table, primaryKeys, batch)
	}
	return nil
}

func (m *MockTableOperator) DropDmsColumns(ctx context.Context, schema, table string) error {
	m.Calls = append(m.Calls, "DropDmsColumns")
	if m.DropDmsColumnsFunc != nil {
		return m.DropDmsColumnsFunc(ctx, schema, table)
	}
	return nil
}

func (m *MockTableOperator) CountRows(ctx context.Context, schema, table string) (int64, error) {
	m.Calls = append(m.Calls, "CountRows")
	if m.CountRowsFunc != nil {
		return m.CountRowsFunc(ctx, schema, table)
	}
	return 0, nil
}

func (m *MockTableOperator) Close() {
	m.Calls = append(m.Calls, "Close")
}
