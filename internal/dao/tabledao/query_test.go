package tabledao

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateSchemaQuery(t *testing.T) {
	assert.Equal(t, "CREATE SCHEMA IF NOT EXISTS staging", createSchemaQuery("staging"))
}

func TestCreateTableQuery(t *testing.T) {
	columns := []ColumnDef{
		{Name: "column1", DataType: "varchar"},
		{Name: "column2", DataType: "int"},
	}

	query := createTableQuery("schema", "table", columns, "primary_key,primary_key2")
	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS schema.table (Op varchar,_dms_ingestion_timestamp varchar,column1 varchar,column2 int,PRIMARY KEY (primary_key,primary_key2))",
		query)
}

func TestInsertQuery(t *testing.T) {
	query := insertQuery("public", "users", []string{"id", "name", "email"})
	assert.Equal(t, "INSERT INTO public.users (id,name,email) VALUES ($1,$2,$3)", query)
}

func TestUpsertQuery(t *testing.T) {
	t.Run("SingleKey", func(t *testing.T) {
		query := upsertQuery("public", "users", []string{"id", "name"}, []string{"id"})
		assert.Equal(t,
			"INSERT INTO public.users (id,name) VALUES ($1,$2) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name",
			query)
	})

	t.Run("CompositeKey", func(t *testing.T) {
		query := upsertQuery("public", "orders", []string{"id", "region", "total"}, []string{"id", "region"})
		assert.Equal(t,
			"INSERT INTO public.orders (id,region,total) VALUES ($1,$2,$3) ON CONFLICT (id,region) DO UPDATE SET total = EXCLUDED.total",
			query)
	})

	t.Run("AllColumnsAreKeys", func(t *testing.T) {
		query := upsertQuery("public", "members", []string{"id"}, []string{"id"})
		assert.Equal(t,
			"INSERT INTO public.members (id) VALUES ($1) ON CONFLICT (id) DO NOTHING",
			query)
	})
}

func TestDeleteQuery(t *testing.T) {
	query := deleteQuery("schema", "table", []string{"primary_key", "primary_key2"})
	assert.Equal(t, "DELETE FROM schema.table WHERE (primary_key,primary_key2)=($1,$2)", query)
}

func TestDropDmsColumnsQuery(t *testing.T) {
	query := dropDmsColumnsQuery("schema", "table")
	assert.Equal(t,
		"ALTER TABLE schema.table DROP COLUMN IF EXISTS Op, DROP COLUMN IF EXISTS _dms_ingestion_timestamp",
		query)
}
