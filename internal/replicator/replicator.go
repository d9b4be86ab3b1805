// Package replicator drives the per-table pipeline: lock, discover, decode,
// apply, checkpoint, unlock. Tables run concurrently; files within a table
// run strictly in order.
package replicator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"

	"github.com/cdcops/dms-replicator/internal/dao/checkpointdao"
	"github.com/cdcops/dms-replicator/internal/dao/lockdao"
	"github.com/cdcops/dms-replicator/internal/dao/tabledao"
	apperrors "github.com/cdcops/dms-replicator/internal/errors"
	"github.com/cdcops/dms-replicator/internal/models"
	"github.com/cdcops/dms-replicator/internal/services"
)

// LockStore is the slice of lockdao.DAO the replicator needs.
type LockStore interface {
	Acquire(ctx context.Context, input lockdao.AcquireInput) (*lockdao.Record, bool, error)
	Release(ctx context.Context, input lockdao.ReleaseInput) error
}

// CheckpointStore is the slice of checkpointdao.DAO the replicator needs.
type CheckpointStore interface {
	Put(ctx context.Context, input checkpointdao.PutInput) (*checkpointdao.Record, error)
	Find(ctx context.Context, id checkpointdao.ID) (*checkpointdao.Record, error)
}

// Decoder turns a fetched Parquet object into a row batch.
type Decoder func(key string, data []byte) (*models.RowBatch, error)

// RunInput describes one replication run.
type RunInput struct {
	Bucket    string
	Prefix    string
	Tables    []models.TableSpec
	StartDate time.Time // zero means resume from checkpoint
	StopDate  time.Time // zero means until now
	Workers   int
	DryRun    bool

	// AbsolutePath applies a single key; only valid with exactly one table.
	AbsolutePath string
}

// TableResult summarizes one table's pipeline.
type TableResult struct {
	Spec         models.TableSpec
	Files        int
	LoadFiles    int
	CDCFiles     int
	SkippedFiles int
	Rows         int
	Created      bool // target table was created during this run
	Keys         []string
}

// Report summarizes a whole run.
type Report struct {
	RunID  string
	Tables []TableResult
}

// Replicator wires the S3 scanner, the Postgres operator, and the DynamoDB
// lock/checkpoint stores into table pipelines.
type Replicator struct {
	env         string
	scanner     services.S3Scanner
	tables      tabledao.TableOperator
	locks       LockStore
	checkpoints CheckpointStore
	decode      Decoder
}

// New creates a new Replicator instance.
func New(env string, scanner services.S3Scanner, tables tabledao.TableOperator, locks LockStore, checkpoints CheckpointStore, decode Decoder) *Replicator {
	return &Replicator{
		env:         env,
		scanner:     scanner,
		tables:      tables,
		locks:       locks,
		checkpoints: checkpoints,
		decode:      decode,
	}
}

// Run replicates all configured tables. A failing table cancels the rest of
// the run; completed tables keep their checkpoints.
func (r *Replicator) Run(ctx context.Context, input RunInput) (*Report, error) {
	if input.Bucket == "" {
		return nil, apperrors.ErrBucketRequired
	}
	if len(input.Tables) == 0 {
		return nil, apperrors.ErrNoTablesConfigured
	}
	if input.AbsolutePath != "" && len(input.Tables) != 1 {
		return nil, fmt.Errorf("absolute path requires exactly one table, got %d", len(input.Tables))
	}

	workers := input.Workers
	if workers < 1 {
		workers = 4
	}

	runID := ksuid.New().String()
	logger := zerolog.Ctx(ctx).With().Str("run_id", runID).Logger()
	ctx = logger.WithContext(ctx)

	report := &Report{
		RunID:  runID,
		Tables: make([]TableResult, len(input.Tables)),
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for i, spec := range input.Tables {
		group.Go(func() error {
			result, err := r.runTable(groupCtx, runID, input, spec)
			if err != nil {
				return fmt.Errorf("table %s: %w", spec.Qualified(), err)
			}
			mu.Lock()
			report.Tables[i] = *result
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return report, err
	}

	logger.Info().Int("tables", len(input.Tables)).Msg("Replication run complete")
	return report, nil
}

func (r *Replicator) runTable(ctx context.Context, runID string, input RunInput, spec models.TableSpec) (*TableResult, error) {
	logger := zerolog.Ctx(ctx).With().Str("table", spec.Qualified()).Logger()
	ctx = logger.WithContext(ctx)

	result := &TableResult{Spec: spec}

	_, acquired, err := r.locks.Acquire(ctx, lockdao.AcquireInput{
		Env:            r.env,
		QualifiedTable: spec.Qualified(),
		RunID:          runID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrLockHeld, spec.Qualified())
	}
	defer func() {
		releaseErr := r.locks.Release(ctx, lockdao.ReleaseInput{
			ID:    lockdao.NewID(r.env, spec.Qualified()),
			RunID: runID,
		})
		if releaseErr != nil {
			logger.Warn().Err(releaseErr).Msg("Failed to release lock")
		}
	}()

	checkpoint, err := r.checkpoints.Find(ctx, checkpointdao.NewID(r.env, spec.Qualified()))
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	startDate := input.StartDate
	if startDate.IsZero() && checkpoint != nil {
		startDate = checkpoint.LastModifiedTime()
		logger.Info().Time("start_date", startDate).Str("last_key", checkpoint.LastKey).Msg("Resuming from checkpoint")
	}

	files, err := r.scanner.ListParquetFiles(ctx, models.LoadPayload{
		Bucket:       input.Bucket,
		Prefix:       input.Prefix,
		Spec:         spec,
		StartDate:    startDate,
		StopDate:     input.StopDate,
		AbsolutePath: input.AbsolutePath,
	})
	if err != nil {
		return nil, err
	}

	result.Files = len(files)
	for _, f := range files {
		result.Keys = append(result.Keys, f.Key)
	}

	if input.DryRun {
		logger.Info().Int("files", len(files)).Msg("Dry run, nothing applied")
		return result, nil
	}

	var (
		primaryKeys   []string
		checkpointPos time.Time
		ensured       bool
	)
	if checkpoint != nil {
		checkpointPos = checkpoint.LastModifiedTime()
	}

	for _, object := range files {
		kind := models.KindOfKey(object.Key)

		if kind == models.KindCDC && spec.Mode == models.FullLoadOnly {
			result.SkippedFiles++
			continue
		}

		body, err := r.scanner.FetchObject(ctx, input.Bucket, object.Key)
		if err != nil {
			return nil, err
		}

		batch, err := r.decode(object.Key, body)
		if err != nil {
			return nil, err
		}

		if !ensured {
			created, err := r.ensureTarget(ctx, spec, batch)
			if err != nil {
				return nil, err
			}
			result.Created = created
			ensured = true
		}

		switch kind {
		case models.KindLoad:
			if err := r.tables.InsertBatch(ctx, spec.Schema, spec.Table, batch); err != nil {
				return nil, err
			}
			result.LoadFiles++
		default:
			if primaryKeys == nil {
				primaryKeys, err = r.tables.GetPrimaryKey(ctx, spec.Schema, spec.Table)
				if err != nil {
					return nil, err
				}
			}
			if err := r.tables.UpsertBatch(ctx, spec.Schema, spec.Table, primaryKeys, batch); err != nil {
				return nil, err
			}
			result.CDCFiles++
		}
		result.Rows += len(batch.Rows)

		// LOAD files can predate the stored checkpoint; never move it back.
		// One-off absolute-path applies leave the resume position alone:
		// replaying a historical file must not skip the CDC files behind it.
		if input.AbsolutePath == "" && object.LastModified.After(checkpointPos) {
			if _, err := r.checkpoints.Put(ctx, checkpointdao.PutInput{
				Env:            r.env,
				QualifiedTable: spec.Qualified(),
				LastKey:        object.Key,
				LastModified:   object.LastModified,
				RunID:          runID,
			}); err != nil {
				return nil, err
			}
			checkpointPos = object.LastModified
		}
	}

	if spec.Mode == models.FullLoadOnly && result.LoadFiles > 0 {
		if err := r.tables.DropDmsColumns(ctx, spec.Schema, spec.Table); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Int("files", result.Files).
		Int("load_files", result.LoadFiles).
		Int("cdc_files", result.CDCFiles).
		Int("skipped", result.SkippedFiles).
		Int("rows", result.Rows).
		Msg("Table replicated")
	return result, nil
}

// ensureTarget creates the schema and table on first contact. An existing
// table (non-empty column listing) is left untouched.
func (r *Replicator) ensureTarget(ctx context.Context, spec models.TableSpec, batch *models.RowBatch) (bool, error) {
	columns, err := r.tables.GetTableColumns(ctx, spec.Schema, spec.Table)
	if err != nil {
		return false, err
	}
	if len(columns) > 0 {
		return false, nil
	}

	if len(spec.PrimaryKey) == 0 {
		return false, fmt.Errorf("%w: cannot create %s without configured primary key", apperrors.ErrPrimaryKeyNotFound, spec.Qualified())
	}

	defs := make([]tabledao.ColumnDef, 0, len(batch.Columns))
	for _, name := range batch.DataColumns() {
		defs = append(defs, tabledao.ColumnDef{
			Name:     name,
			DataType: batch.ColumnTypes[name],
		})
	}

	if err := r.tables.CreateSchema(ctx, spec.Schema); err != nil {
		return false, err
	}
	if err := r.tables.CreateTable(ctx, spec.Schema, spec.Table, defs, spec.PrimaryKey); err != nil {
		return false, err
	}

	zerolog.Ctx(ctx).Info().Str("table", spec.Qualified()).Msg("Created target table")
	return true, nil
}
