package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/cdcops/dms-replicator/internal/config"
	"github.com/cdcops/dms-replicator/internal/di"
	"github.com/cdcops/dms-replicator/internal/replicator"
)

// ReplicateCommand returns the replicate command
func ReplicateCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "replicate",
		Usage: "Apply DMS Parquet exports to the target Postgres database",
		Description: `Discovers the Parquet files DMS exported for each selected table and
applies them to the target database.

LOAD files (full load) are applied first as plain inserts. CDC files are
then applied in order: the Op column decides between upsert and delete.
Tables that do not exist yet are created from the first file's schema,
including the DMS helper columns; full-load-only tables have the helper
columns dropped once loading finishes.

Each table takes a DynamoDB lock for the duration of the run, and a
checkpoint records the last applied file so the next run resumes where
this one stopped.

Examples:
  # Replicate one table, resuming from its checkpoint
  dms-replicator replicate --env dev --bucket exports --prefix data \
      --database appdb --table public.users

  # First-time load with table creation
  dms-replicator replicate --env dev --bucket exports --prefix data \
      --database appdb --table public.users --primary-key id

  # Replicate everything listed in a tables file
  dms-replicator replicate --env dev --bucket exports --tables-file tables.yaml

  # Show which files would be applied without touching the database
  dms-replicator replicate --env dev --bucket exports --database appdb \
      --table public.users --dry-run

  # Apply a single known file
  dms-replicator replicate --env dev --bucket exports --database appdb \
      --table public.users --s3-path data/appdb/public/users/2024/03/01/LOAD00000001.parquet`,
		Flags: append(addressingFlags(),
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "List the files that would be applied without writing anything",
			},
			&cli.StringFlag{
				Name:  "s3-path",
				Usage: "Apply exactly this S3 key, skipping discovery (single --table only)",
			},
		),
		Action: func(c *cli.Context) error {
			return replicateAction(c, logger)
		},
	}
}

func replicateAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context
	env := c.String("env")

	settings, err := config.Load()
	if err != nil {
		return err
	}

	specs, err := tableSpecs(c, settings)
	if err != nil {
		return err
	}

	container, err := di.New(env,
		di.WithProviders(
			di.ProvidePgxPool,
			di.ProvideTableDAO,
			di.ProvideLockDAO,
			di.ProvideCheckpointDAO,
			di.ProvideReplicator,
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}

	rep := di.MustGet[*replicator.Replicator](container)

	report, err := rep.Run(ctx, replicator.RunInput{
		Bucket:       bucketOf(c, settings),
		Prefix:       prefixOf(c, settings),
		Tables:       specs,
		StartDate:    timestampOf(c, "start-date"),
		StopDate:     timestampOf(c, "stop-date"),
		Workers:      c.Int("workers"),
		DryRun:       c.Bool("dry-run"),
		AbsolutePath: c.String("s3-path"),
	})
	if err != nil {
		return err
	}

	if c.Bool("dry-run") {
		for _, result := range report.Tables {
			fmt.Printf("%s: %d file(s)\n", result.Spec.Qualified(), result.Files)
			for _, key := range result.Keys {
				fmt.Printf("  %s\n", key)
			}
		}
		return nil
	}

	for _, result := range report.Tables {
		created := ""
		if result.Created {
			created = " (created)"
		}
		fmt.Printf("✓ %s%s: %d rows from %d file(s) [%d load, %d cdc, %d skipped]\n",
			result.Spec.Qualified(), created, result.Rows, result.Files,
			result.LoadFiles, result.CDCFiles, result.SkippedFiles)
	}
	logger.Info().Str("run_id", report.RunID).Msg("Replication finished")
	return nil
}
