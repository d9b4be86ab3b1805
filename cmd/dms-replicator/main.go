package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/cdcops/dms-replicator/cmd/dms-replicator/commands"
	"github.com/cdcops/dms-replicator/internal/di"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "dms-replicator",
		Usage: "Replicate AWS DMS S3 exports into Postgres",
		Description: `Applies the Parquet files AWS DMS writes to S3 against a target
Postgres database.

This tool provides commands for:
  - Replicating full-load and CDC files into target tables
  - Validating that target tables match the exported file set
  - Inspecting per-table replication state (files, checkpoint, lock)`,
		Commands: []*cli.Command{
			commands.ReplicateCommand(&logger),
			commands.ValidateCommand(&logger),
			commands.InspectCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
