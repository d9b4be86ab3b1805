// Package parquet decodes DMS Parquet files into row batches, mapping the
// Parquet schema to postgres column types along the way.
package parquet

import (
	"bytes"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/cdcops/dms-replicator/internal/models"
)

// ReadRows decodes a whole Parquet file into a RowBatch. Column order
// follows the file's schema, which is the order DMS exported them in.
func ReadRows(key string, data []byte) (*models.RowBatch, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file %s: %w", key, err)
	}

	schema := file.Schema()
	fields := schema.Fields()

	batch := &models.RowBatch{
		Key:         key,
		Kind:        models.KindOfKey(key),
		Columns:     make([]string, len(fields)),
		ColumnTypes: make(map[string]string, len(fields)),
	}
	for i, field := range fields {
		batch.Columns[i] = field.Name()
		batch.ColumnTypes[field.Name()] = postgresType(field)
	}

	buffer := make([]parquet.Row, 256)
	for _, group := range file.RowGroups() {
		rows := group.Rows()
		for {
			n, err := rows.ReadRows(buffer)
			for _, row := range buffer[:n] {
				decoded, convErr := convertRow(row, len(fields))
				if convErr != nil {
					rows.Close()
					return nil, fmt.Errorf("failed to decode row in %s: %w", key, convErr)
				}
				batch.Rows = append(batch.Rows, decoded)
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to read rows from %s: %w", key, err)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("failed to close row reader for %s: %w", key, err)
		}
	}

	return batch, nil
}

// convertRow turns the leaf values of a flat row into Go values, positioned
// by leaf column index.
func convertRow(row parquet.Row, width int) ([]any, error) {
	out := make([]any, width)
	for _, value := range row {
		col := int(value.Column())
		if col < 0 || col >= width {
			return nil, fmt.Errorf("value column %d out of range (%d columns)", col, width)
		}
		out[col] = convertValue(value)
	}
	return out, nil
}

func convertValue(value parquet.Value) any {
	if value.IsNull() {
		return nil
	}
	switch value.Kind() {
	case parquet.Boolean:
		return value.Boolean()
	case parquet.Int32:
		return value.Int32()
	case parquet.Int64:
		return value.Int64()
	case parquet.Float:
		return value.Float()
	case parquet.Double:
		return value.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(value.ByteArray())
	default:
		return value.String()
	}
}

// postgresType maps a Parquet field to the postgres column type used when
// the target table is created from the file schema. Unknown types degrade
// to text, which postgres can always hold.
func postgresType(field parquet.Field) string {
	if lt := field.Type().LogicalType(); lt != nil {
		switch {
		case lt.UTF8 != nil:
			return "text"
		case lt.Date != nil:
			return "date"
		case lt.Timestamp != nil:
			return "timestamp"
		case lt.Decimal != nil:
			return fmt.Sprintf("numeric(%d,%d)", lt.Decimal.Precision, lt.Decimal.Scale)
		}
	}

	switch field.Type().Kind() {
	case parquet.Boolean:
		return "boolean"
	case parquet.Int32:
		return "integer"
	case parquet.Int64:
		return "bigint"
	case parquet.Float:
		return "real"
	case parquet.Double:
		return "double precision"
	default:
		return "text"
	}
}
