package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/cdcops/dms-replicator/internal/config"
	"github.com/cdcops/dms-replicator/internal/dao/checkpointdao"
	"github.com/cdcops/dms-replicator/internal/dao/lockdao"
	"github.com/cdcops/dms-replicator/internal/dao/tabledao"
	"github.com/cdcops/dms-replicator/internal/di"
	"github.com/cdcops/dms-replicator/internal/models"
	"github.com/cdcops/dms-replicator/internal/services"
)

// InspectCommand returns the inspect command
func InspectCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Show discovered files, checkpoint, and lock state per table",
		Description: `Reads the replication state for each selected table without writing
anything: the Parquet files discovery would apply, the stored checkpoint
(last applied key and position), whether a run currently holds the
table's lock, and the target table's columns when the database is
reachable.

Examples:
  # Inspect one table
  dms-replicator inspect --env dev --bucket exports --prefix data \
      --database appdb --table public.users

  # Inspect all configured tables
  dms-replicator inspect --env dev --bucket exports --tables-file tables.yaml

  # No table selection: list every checkpoint recorded for the environment
  dms-replicator inspect --env dev`,
		Flags: append(addressingFlags(),
			&cli.BoolFlag{
				Name:  "files",
				Usage: "List every discovered file, not just the count",
			},
		),
		Action: func(c *cli.Context) error {
			return inspectAction(c, logger)
		},
	}
}

func inspectAction(c *cli.Context, logger *zerolog.Logger) error {
	ctx := c.Context
	env := c.String("env")

	settings, err := config.Load()
	if err != nil {
		return err
	}

	container, err := di.New(env,
		di.WithProviders(
			di.ProvideLockDAO,
			di.ProvideCheckpointDAO,
			di.ProvidePgxPool,
			di.ProvideTableDAO,
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}

	scanner := di.MustGet[services.S3Scanner](container)
	lockDAO := di.MustGet[*lockdao.DAO](container)
	checkpointDAO := di.MustGet[*checkpointdao.DAO](container)

	// Column listing is best effort: inspect still works when the target
	// database is not reachable from here.
	var operator tabledao.TableOperator
	if err := container.Invoke(func(op tabledao.TableOperator) { operator = op }); err != nil {
		logger.Debug().Err(err).Msg("Target database unavailable, skipping column listing")
	}

	// Without a table selection, fall back to listing every checkpoint the
	// environment has recorded.
	specs, err := tableSpecs(c, settings)
	if err != nil {
		if len(c.StringSlice("table")) > 0 || c.String("tables-file") != "" {
			return err
		}
		records, err := checkpointDAO.Query(ctx, env)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Printf("No checkpoints recorded for %s\n", env)
			return nil
		}
		for _, record := range records {
			pending := ""
			if record.Pending {
				pending = " (pending files)"
			}
			fmt.Printf("%s: %s at %s%s\n",
				record.SK, record.LastKey, record.LastModifiedTime().Format("2006-01-02 15:04:05"), pending)
		}
		return nil
	}

	bucket := bucketOf(c, settings)
	for _, spec := range specs {
		fmt.Printf("%s\n", spec.Qualified())

		checkpoint, err := checkpointDAO.Find(ctx, checkpointdao.NewID(env, spec.Qualified()))
		if err != nil {
			return err
		}
		startDate := timestampOf(c, "start-date")
		switch {
		case checkpoint == nil:
			fmt.Println("  checkpoint: none")
		default:
			pending := ""
			if checkpoint.Pending {
				pending = " (pending files)"
			}
			fmt.Printf("  checkpoint: %s at %s%s\n",
				checkpoint.LastKey, checkpoint.LastModifiedTime().Format("2006-01-02 15:04:05"), pending)
			if startDate.IsZero() {
				startDate = checkpoint.LastModifiedTime()
			}
		}

		lock, err := lockDAO.Find(ctx, lockdao.NewID(env, spec.Qualified()))
		if err != nil {
			return err
		}
		if lock == nil {
			fmt.Println("  lock: free")
		} else {
			fmt.Printf("  lock: held by run %s\n", lock.RunID)
		}

		files, err := scanner.ListParquetFiles(ctx, models.LoadPayload{
			Bucket:    bucket,
			Prefix:    prefixOf(c, settings),
			Spec:      spec,
			StartDate: startDate,
			StopDate:  timestampOf(c, "stop-date"),
		})
		if err != nil {
			return err
		}
		fmt.Printf("  files: %d\n", len(files))
		if c.Bool("files") {
			for _, f := range files {
				fmt.Printf("    %s (%s)\n", f.Key, f.LastModified.Format("2006-01-02 15:04:05"))
			}
		}

		if operator != nil {
			columns, err := operator.GetTableColumns(ctx, spec.Schema, spec.Table)
			if err != nil {
				return err
			}
			if len(columns) == 0 {
				fmt.Println("  target: table does not exist")
			} else {
				fmt.Printf("  target: %d column(s)\n", len(columns))
				for _, col := range columns {
					fmt.Printf("    %s %s\n", col.Name, col.DataType)
				}
			}
		}
	}

	logger.Debug().Int("tables", len(specs)).Msg("Inspect finished")
	return nil
}
