// Package config loads run settings from the environment and table
// selections from a YAML file.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "github.com/cdcops/dms-replicator/internal/errors"
	"github.com/cdcops/dms-replicator/internal/models"
)

// Settings are the environment-level defaults CLI flags fall back to.
type Settings struct {
	Env               string
	Bucket            string
	Prefix            string
	Database          string
	TargetDatabaseURL string
	Workers           int
}

// Load reads settings from the environment.
func Load() (*Settings, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("ENV", "dev")
	v.SetDefault("REPLICATOR_WORKERS", 4)

	// Env
	v.AutomaticEnv()

	return &Settings{
		Env:               v.GetString("ENV"),
		Bucket:            v.GetString("S3_BUCKET_NAME"),
		Prefix:            v.GetString("S3_PREFIX"),
		Database:          v.GetString("SOURCE_DATABASE"),
		TargetDatabaseURL: v.GetString("TARGET_DATABASE_URL"),
		Workers:           v.GetInt("REPLICATOR_WORKERS"),
	}, nil
}

// TableEntry is one table selection in the tables file.
type TableEntry struct {
	Database   string   `yaml:"database"`
	Schema     string   `yaml:"schema"`
	Table      string   `yaml:"table"`
	Mode       string   `yaml:"mode"`
	PrimaryKey []string `yaml:"primary_key"`
}

// TablesFile is the YAML document listing tables to replicate.
type TablesFile struct {
	Tables []TableEntry `yaml:"tables"`
}

// LoadTables parses a tables file into table specs. Entries without a
// database fall back to defaultDatabase.
func LoadTables(path, defaultDatabase string) ([]models.TableSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tables file %s: %w", path, err)
	}
	return ParseTables(data, defaultDatabase)
}

// ParseTables parses tables file content.
func ParseTables(data []byte, defaultDatabase string) ([]models.TableSpec, error) {
	var file TablesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tables file: %w", err)
	}
	if len(file.Tables) == 0 {
		return nil, apperrors.ErrNoTablesConfigured
	}

	specs := make([]models.TableSpec, 0, len(file.Tables))
	for i, entry := range file.Tables {
		if entry.Schema == "" || entry.Table == "" {
			return nil, fmt.Errorf("tables[%d]: schema and table are required", i)
		}

		database := entry.Database
		if database == "" {
			database = defaultDatabase
		}
		if database == "" {
			return nil, fmt.Errorf("tables[%d]: database is required (no default configured)", i)
		}

		mode, err := models.ParseTableMode(entry.Mode)
		if err != nil {
			return nil, fmt.Errorf("tables[%d]: %w", i, err)
		}

		specs = append(specs, models.TableSpec{
			Database:   database,
			Schema:     entry.Schema,
			Table:      entry.Table,
			Mode:       mode,
			PrimaryKey: entry.PrimaryKey,
		})
	}
	return specs, nil
}
