package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/cdcops/dms-replicator/internal/config"
	"github.com/cdcops/dms-replicator/internal/models"
)

// addressingFlags are shared by every command that selects tables and files.
func addressingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Environment (dev, stg, or prd) - determines which DynamoDB tables to use",
			EnvVars: []string{"ENV"},
			Value:   "dev",
		},
		&cli.StringFlag{
			Name:    "bucket",
			Aliases: []string{"b"},
			Usage:   "S3 bucket DMS exports into",
			EnvVars: []string{"S3_BUCKET_NAME"},
		},
		&cli.StringFlag{
			Name:    "prefix",
			Aliases: []string{"p"},
			Usage:   "Key prefix ahead of {database}/{schema}/{table}",
			EnvVars: []string{"S3_PREFIX"},
		},
		&cli.StringFlag{
			Name:    "database",
			Aliases: []string{"d"},
			Usage:   "Source database name as it appears in the S3 layout",
			EnvVars: []string{"SOURCE_DATABASE"},
		},
		&cli.StringSliceFlag{
			Name:    "table",
			Aliases: []string{"t"},
			Usage:   "Table to replicate as {schema}.{table} (can be specified multiple times)",
		},
		&cli.StringFlag{
			Name:  "tables-file",
			Usage: "YAML file listing tables to replicate (alternative to --table)",
		},
		&cli.StringSliceFlag{
			Name:  "primary-key",
			Usage: "Primary key column(s), used only when creating the target table (single --table only)",
		},
		&cli.StringFlag{
			Name:  "mode",
			Usage: "Table mode: full-load-and-cdc or full-load-only",
		},
		&cli.TimestampFlag{
			Name:   "start-date",
			Usage:  "Only apply CDC files modified after this date (YYYY-MM-DD)",
			Layout: "2006-01-02",
		},
		&cli.TimestampFlag{
			Name:   "stop-date",
			Usage:  "Only apply CDC files modified before this date (YYYY-MM-DD)",
			Layout: "2006-01-02",
		},
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"w"},
			Usage:   "Max tables replicated concurrently",
			EnvVars: []string{"REPLICATOR_WORKERS"},
			Value:   4,
		},
	}
}

// tableSpecs resolves the table selection from --tables-file or --table
// flags, falling back to configured settings for the database name.
func tableSpecs(c *cli.Context, settings *config.Settings) ([]models.TableSpec, error) {
	database := c.String("database")
	if database == "" {
		database = settings.Database
	}

	if path := c.String("tables-file"); path != "" {
		if len(c.StringSlice("table")) > 0 {
			return nil, fmt.Errorf("--table and --tables-file are mutually exclusive")
		}
		return config.LoadTables(path, database)
	}

	tables := c.StringSlice("table")
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables selected, use --table or --tables-file")
	}
	if len(c.StringSlice("primary-key")) > 0 && len(tables) > 1 {
		return nil, fmt.Errorf("--primary-key requires a single --table")
	}

	mode, err := models.ParseTableMode(c.String("mode"))
	if err != nil {
		return nil, err
	}

	specs := make([]models.TableSpec, 0, len(tables))
	for _, qualified := range tables {
		parts := strings.SplitN(qualified, ".", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid table %q, expected {schema}.{table}", qualified)
		}
		if database == "" {
			return nil, fmt.Errorf("--database is required")
		}
		specs = append(specs, models.TableSpec{
			Database:   database,
			Schema:     parts[0],
			Table:      parts[1],
			Mode:       mode,
			PrimaryKey: c.StringSlice("primary-key"),
		})
	}
	return specs, nil
}

// bucketOf resolves the bucket from the flag or configured settings.
func bucketOf(c *cli.Context, settings *config.Settings) string {
	if bucket := c.String("bucket"); bucket != "" {
		return bucket
	}
	return settings.Bucket
}

// prefixOf resolves the prefix from the flag or configured settings.
func prefixOf(c *cli.Context, settings *config.Settings) string {
	if prefix := c.String("prefix"); prefix != "" {
		return prefix
	}
	return settings.Prefix
}

func timestampOf(c *cli.Context, name string) time.Time {
	if ts := c.Timestamp(name); ts != nil {
		return ts.UTC()
	}
	return time.Time{}
}
