package main

import (
	"errors"
	"testing"

	apperrors "github.com/cdcops/dms-replicator/internal/errors"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		name         string
		prefix       string
		key          string
		wantDatabase string
		wantSchema   string
		wantTable    string
		wantFile     string
		wantErr      error
	}{
		{
			name:         "load file under prefix",
			prefix:       "data",
			key:          "data/appdb/public/users/2024/03/01/LOAD00000001.parquet",
			wantDatabase: "appdb",
			wantSchema:   "public",
			wantTable:    "users",
			wantFile:     "LOAD00000001.parquet",
		},
		{
			name:         "cdc file under prefix",
			prefix:       "data",
			key:          "data/appdb/sales/orders/2024/03/02/20240302-101500000.parquet",
			wantDatabase: "appdb",
			wantSchema:   "sales",
			wantTable:    "orders",
			wantFile:     "20240302-101500000.parquet",
		},
		{
			name:         "multi-segment prefix",
			prefix:       "dms/exports",
			key:          "dms/exports/appdb/public/users/2024/03/01/LOAD00000001.parquet",
			wantDatabase: "appdb",
			wantSchema:   "public",
			wantTable:    "users",
			wantFile:     "LOAD00000001.parquet",
		},
		{
			name:         "no prefix configured",
			prefix:       "",
			key:          "appdb/public/users/2024/03/01/LOAD00000001.parquet",
			wantDatabase: "appdb",
			wantSchema:   "public",
			wantTable:    "users",
			wantFile:     "LOAD00000001.parquet",
		},
		{
			name:    "key outside prefix",
			prefix:  "data",
			key:     "other/appdb/public/users/2024/03/01/LOAD00000001.parquet",
			wantErr: apperrors.ErrInvalidS3KeyFormat,
		},
		{
			name:    "too few segments",
			prefix:  "data",
			key:     "data/appdb/public/users/LOAD00000001.parquet",
			wantErr: apperrors.ErrInvalidS3KeyFormat,
		},
		{
			name:    "too many segments",
			prefix:  "data",
			key:     "data/appdb/public/users/extra/2024/03/01/LOAD00000001.parquet",
			wantErr: apperrors.ErrInvalidS3KeyFormat,
		},
		{
			name:    "non-numeric date segment",
			prefix:  "data",
			key:     "data/appdb/public/users/2024/march/01/LOAD00000001.parquet",
			wantErr: apperrors.ErrInvalidDateFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseKey(tt.prefix, tt.key)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("parseKey(%q, %q) error = %v, want %v", tt.prefix, tt.key, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseKey(%q, %q) unexpected error: %v", tt.prefix, tt.key, err)
			}
			if got.Database != tt.wantDatabase {
				t.Errorf("Database = %q, want %q", got.Database, tt.wantDatabase)
			}
			if got.Schema != tt.wantSchema {
				t.Errorf("Schema = %q, want %q", got.Schema, tt.wantSchema)
			}
			if got.Table != tt.wantTable {
				t.Errorf("Table = %q, want %q", got.Table, tt.wantTable)
			}
			if got.File != tt.wantFile {
				t.Errorf("File = %q, want %q", got.File, tt.wantFile)
			}
		})
	}
}

func TestParsedKeyQualified(t *testing.T) {
	p := parsedKey{Database: "appdb", Schema: "public", Table: "users"}
	if got := p.Qualified(); got != "public.users" {
		t.Errorf("Qualified() = %q, want %q", got, "public.users")
	}
}
