package replicator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdcops/dms-replicator/internal/dao/checkpointdao"
	"github.com/cdcops/dms-replicator/internal/dao/lockdao"
	"github.com/cdcops/dms-replicator/internal/dao/tabledao"
	apperrors "github.com/cdcops/dms-replicator/internal/errors"
	"github.com/cdcops/dms-replicator/internal/models"
)

// fakeScanner serves canned listings and object bodies per table prefix.
type fakeScanner struct {
	mu      sync.Mutex
	objects map[string][]models.S3Object // table prefix -> listing
	bodies  map[string][]byte
	fetched []string
}

func (f *fakeScanner) ListParquetFiles(_ context.Context, payload models.LoadPayload) ([]models.S3Object, error) {
	if payload.AbsolutePath != "" {
		for _, objects := range f.objects {
			for _, object := range objects {
				if object.Key == payload.AbsolutePath {
					return []models.S3Object{object}, nil
				}
			}
		}
		return nil, fmt.Errorf("no such object: %s", payload.AbsolutePath)
	}
	return f.objects[payload.Spec.PrefixPath(payload.Prefix)], nil
}

func (f *fakeScanner) FetchObject(_ context.Context, _, key string) ([]byte, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, key)
	f.mu.Unlock()
	body, ok := f.bodies[key]
	if !ok {
		return nil, fmt.Errorf("no such object: %s", key)
	}
	return body, nil
}

// memLocks is an in-memory LockStore with lockdao semantics.
type memLocks struct {
	mu    sync.Mutex
	held  map[lockdao.ID]string
	fails bool
}

func newMemLocks() *memLocks {
	return &memLocks{held: make(map[lockdao.ID]string)}
}

func (m *memLocks) Acquire(_ context.Context, input lockdao.AcquireInput) (*lockdao.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails {
		return nil, false, errors.New("dynamo unavailable")
	}
	id := lockdao.NewID(input.Env, input.QualifiedTable)
	if holder, ok := m.held[id]; ok && holder != input.RunID {
		return nil, false, nil
	}
	m.held[id] = input.RunID
	return &lockdao.Record{RunID: input.RunID}, true, nil
}

func (m *memLocks) Release(_ context.Context, input lockdao.ReleaseInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, input.ID)
	return nil
}

// memCheckpoints is an in-memory CheckpointStore with monotonic Put.
type memCheckpoints struct {
	mu      sync.Mutex
	records map[checkpointdao.ID]*checkpointdao.Record
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{records: make(map[checkpointdao.ID]*checkpointdao.Record)}
}

func (m *memCheckpoints) Put(_ context.Context, input checkpointdao.PutInput) (*checkpointdao.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := checkpointdao.NewID(input.Env, input.QualifiedTable)
	if existing, ok := m.records[id]; ok && existing.LastModified > input.LastModified.Unix() {
		return nil, apperrors.ErrCheckpointRegression
	}
	record := &checkpointdao.Record{
		PK:           checkpointdao.NewPK(input.Env),
		SK:           input.QualifiedTable,
		LastKey:      input.LastKey,
		LastModified: input.LastModified.Unix(),
		RunID:        input.RunID,
	}
	m.records[id] = record
	return record, nil
}

func (m *memCheckpoints) Find(_ context.Context, id checkpointdao.ID) (*checkpointdao.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id], nil
}

// passthroughDecode maps known keys to prepared batches.
func passthroughDecode(batches map[string]*models.RowBatch) Decoder {
	return func(key string, _ []byte) (*models.RowBatch, error) {
		batch, ok := batches[key]
		if !ok {
			return nil, fmt.Errorf("no batch for key %s", key)
		}
		return batch, nil
	}
}

func userSpec(mode models.TableMode) models.TableSpec {
	return models.TableSpec{
		Database:   "appdb",
		Schema:     "public",
		Table:      "users",
		Mode:       mode,
		PrimaryKey: []string{"id"},
	}
}

func loadBatch(key string, ids ...int64) *models.RowBatch {
	batch := &models.RowBatch{
		Key:     key,
		Kind:    models.KindLoad,
		Columns: []string{models.OpColumn, models.TimestampColumn, "id", "name"},
		ColumnTypes: map[string]string{
			models.OpColumn: "text", models.TimestampColumn: "text",
			"id": "bigint", "name": "text",
		},
	}
	for _, id := range ids {
		batch.Rows = append(batch.Rows, []any{nil, "2024-03-01 00:00:00", id, fmt.Sprintf("user-%d", id)})
	}
	return batch
}

func cdcBatch(key string, ops ...string) *models.RowBatch {
	batch := &models.RowBatch{
		Key:     key,
		Kind:    models.KindCDC,
		Columns: []string{models.OpColumn, models.TimestampColumn, "id", "name"},
		ColumnTypes: map[string]string{
			models.OpColumn: "text", models.TimestampColumn: "text",
			"id": "bigint", "name": "text",
		},
	}
	for i, op := range ops {
		batch.Rows = append(batch.Rows, []any{op, "2024-03-01 01:00:00", int64(i + 1), "changed"})
	}
	return batch
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	loadKey := "data/appdb/public/users/2024/02/28/LOAD00000001.parquet"
	cdcKey := "data/appdb/public/users/2024/03/01/20240301-010000000.parquet"

	newScanner := func() *fakeScanner {
		return &fakeScanner{
			objects: map[string][]models.S3Object{
				"data/appdb/public/users": {
					{Key: loadKey, LastModified: base.Add(-time.Hour)},
					{Key: cdcKey, LastModified: base.Add(time.Hour)},
				},
			},
			bodies: map[string][]byte{loadKey: {0x1}, cdcKey: {0x2}},
		}
	}
	batches := map[string]*models.RowBatch{
		loadKey: loadBatch(loadKey, 1, 2, 3),
		cdcKey:  cdcBatch(cdcKey, "U", "D"),
	}

	t.Run("FullLoadAndCDC", func(t *testing.T) {
		operator := &tabledao.MockTableOperator{}
		checkpoints := newMemCheckpoints()
		locks := newMemLocks()

		rep := New("dev", newScanner(), operator, locks, checkpoints, passthroughDecode(batches))
		report, err := rep.Run(ctx, RunInput{
			Bucket: "exports",
			Prefix: "data",
			Tables: []models.TableSpec{userSpec(models.FullLoadAndCDC)},
		})
		require.NoError(t, err)
		require.Len(t, report.Tables, 1)

		result := report.Tables[0]
		assert.Equal(t, 2, result.Files)
		assert.Equal(t, 1, result.LoadFiles)
		assert.Equal(t, 1, result.CDCFiles)
		assert.Equal(t, 0, result.SkippedFiles)
		assert.Equal(t, 5, result.Rows)
		assert.True(t, result.Created) // mock reports no existing columns

		// LOAD applied as insert, CDC as upsert, table created first
		assert.Contains(t, operator.Calls, "CreateSchema")
		assert.Contains(t, operator.Calls, "CreateTable")
		assert.Contains(t, operator.Calls, "InsertBatch")
		assert.Contains(t, operator.Calls, "UpsertBatch")
		assert.NotContains(t, operator.Calls, "DropDmsColumns")

		// Checkpoint advanced to the CDC file
		record, err := checkpoints.Find(ctx, checkpointdao.NewID("dev", "public.users"))
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, cdcKey, record.LastKey)

		// Lock released
		assert.Empty(t, locks.held)
	})

	t.Run("FullLoadOnlySkipsCDCAndDropsColumns", func(t *testing.T) {
		operator := &tabledao.MockTableOperator{}
		rep := New("dev", newScanner(), operator, newMemLocks(), newMemCheckpoints(), passthroughDecode(batches))

		report, err := rep.Run(ctx, RunInput{
			Bucket: "exports",
			Prefix: "data",
			Tables: []models.TableSpec{userSpec(models.FullLoadOnly)},
		})
		require.NoError(t, err)

		result := report.Tables[0]
		assert.Equal(t, 1, result.LoadFiles)
		assert.Equal(t, 0, result.CDCFiles)
		assert.Equal(t, 1, result.SkippedFiles)
		assert.NotContains(t, operator.Calls, "UpsertBatch")
		assert.Contains(t, operator.Calls, "DropDmsColumns")
	})

	t.Run("ExistingTableNotRecreated", func(t *testing.T) {
		operator := &tabledao.MockTableOperator{
			GetTableColumnsFunc: func(context.Context, string, string) ([]tabledao.ColumnDef, error) {
				return []tabledao.ColumnDef{{Name: "id", DataType: "bigint"}}, nil
			},
		}
		rep := New("dev", newScanner(), operator, newMemLocks(), newMemCheckpoints(), passthroughDecode(batches))

		report, err := rep.Run(ctx, RunInput{
			Bucket: "exports",
			Prefix: "data",
			Tables: []models.TableSpec{userSpec(models.FullLoadAndCDC)},
		})
		require.NoError(t, err)
		assert.False(t, report.Tables[0].Created)
		assert.NotContains(t, operator.Calls, "CreateTable")
	})

	t.Run("DryRunTouchesNothing", func(t *testing.T) {
		operator := &tabledao.MockTableOperator{}
		scanner := newScanner()
		rep := New("dev", scanner, operator, newMemLocks(), newMemCheckpoints(), passthroughDecode(batches))

		report, err := rep.Run(ctx, RunInput{
			Bucket: "exports",
			Prefix: "data",
			Tables: []models.TableSpec{userSpec(models.FullLoadAndCDC)},
			DryRun: true,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{loadKey, cdcKey}, report.Tables[0].Keys)
		assert.Empty(t, scanner.fetched)
		assert.Empty(t, operator.Calls)
	})

	t.Run("ResumesFromCheckpoint", func(t *testing.T) {
		checkpoints := newMemCheckpoints()
		_, err := checkpoints.Put(ctx, checkpointdao.PutInput{
			Env:            "dev",
			QualifiedTable: "public.users",
			LastKey:        cdcKey,
			LastModified:   base.Add(time.Hour),
			RunID:          "previous",
		})
		require.NoError(t, err)

		var gotStart time.Time
		scanner := newScanner()
		rep := New("dev",
			scannerFunc(func(_ context.Context, payload models.LoadPayload) ([]models.S3Object, error) {
				gotStart = payload.StartDate
				return nil, nil
			}, scanner),
			&tabledao.MockTableOperator{}, newMemLocks(), checkpoints, passthroughDecode(batches))

		_, err = rep.Run(ctx, RunInput{
			Bucket: "exports",
			Prefix: "data",
			Tables: []models.TableSpec{userSpec(models.FullLoadAndCDC)},
		})
		require.NoError(t, err)
		assert.Equal(t, base.Add(time.Hour), gotStart)
	})

	t.Run("AbsolutePathLeavesCheckpointAlone", func(t *testing.T) {
		checkpoints := newMemCheckpoints()
		_, err := checkpoints.Put(ctx, checkpointdao.PutInput{
			Env:            "dev",
			QualifiedTable: "public.users",
			LastKey:        cdcKey,
			LastModified:   base.Add(time.Hour),
			RunID:          "previous",
		})
		require.NoError(t, err)

		operator := &tabledao.MockTableOperator{}
		rep := New("dev", newScanner(), operator, newMemLocks(), checkpoints, passthroughDecode(batches))

		// Replaying a historical LOAD file must apply it without moving the
		// resume position, otherwise the next run would skip every CDC file
		// between that file and now.
		report, err := rep.Run(ctx, RunInput{
			Bucket:       "exports",
			Prefix:       "data",
			Tables:       []models.TableSpec{userSpec(models.FullLoadAndCDC)},
			AbsolutePath: loadKey,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Tables[0].LoadFiles)
		assert.Contains(t, operator.Calls, "InsertBatch")

		record, err := checkpoints.Find(ctx, checkpointdao.NewID("dev", "public.users"))
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, cdcKey, record.LastKey)
		assert.Equal(t, base.Add(time.Hour).Unix(), record.LastModified)
	})

	t.Run("AbsolutePathWritesNoCheckpoint", func(t *testing.T) {
		checkpoints := newMemCheckpoints()
		rep := New("dev", newScanner(), &tabledao.MockTableOperator{}, newMemLocks(), checkpoints, passthroughDecode(batches))

		_, err := rep.Run(ctx, RunInput{
			Bucket:       "exports",
			Prefix:       "data",
			Tables:       []models.TableSpec{userSpec(models.FullLoadAndCDC)},
			AbsolutePath: cdcKey,
		})
		require.NoError(t, err)
		assert.Empty(t, checkpoints.records)
	})

	t.Run("LockHeldFailsTable", func(t *testing.T) {
		locks := newMemLocks()
		locks.held[lockdao.NewID("dev", "public.users")] = "someone-else"

		rep := New("dev", newScanner(), &tabledao.MockTableOperator{}, locks, newMemCheckpoints(), passthroughDecode(batches))
		_, err := rep.Run(ctx, RunInput{
			Bucket: "exports",
			Prefix: "data",
			Tables: []models.TableSpec{userSpec(models.FullLoadAndCDC)},
		})
		assert.ErrorIs(t, err, apperrors.ErrLockHeld)
	})

	t.Run("InputValidation", func(t *testing.T) {
		rep := New("dev", newScanner(), &tabledao.MockTableOperator{}, newMemLocks(), newMemCheckpoints(), passthroughDecode(batches))

		_, err := rep.Run(ctx, RunInput{Tables: []models.TableSpec{userSpec(models.FullLoadAndCDC)}})
		assert.ErrorIs(t, err, apperrors.ErrBucketRequired)

		_, err = rep.Run(ctx, RunInput{Bucket: "exports"})
		assert.ErrorIs(t, err, apperrors.ErrNoTablesConfigured)

		_, err = rep.Run(ctx, RunInput{
			Bucket:       "exports",
			AbsolutePath: "some/key.parquet",
			Tables: []models.TableSpec{
				userSpec(models.FullLoadAndCDC),
				{Database: "appdb", Schema: "public", Table: "orders"},
			},
		})
		assert.Error(t, err)
	})

	t.Run("ApplyErrorReleasesLock", func(t *testing.T) {
		locks := newMemLocks()
		operator := &tabledao.MockTableOperator{
			InsertBatchFunc: func(context.Context, string, string, *models.RowBatch) error {
				return errors.New("copy failed")
			},
		}

		rep := New("dev", newScanner(), operator, locks, newMemCheckpoints(), passthroughDecode(batches))
		_, err := rep.Run(ctx, RunInput{
			Bucket: "exports",
			Prefix: "data",
			Tables: []models.TableSpec{userSpec(models.FullLoadAndCDC)},
		})
		assert.Error(t, err)
		assert.Empty(t, locks.held)
	})
}

// scannerFunc overrides ListParquetFiles while delegating FetchObject.
type scannerOverride struct {
	list  func(ctx context.Context, payload models.LoadPayload) ([]models.S3Object, error)
	inner *fakeScanner
}

func scannerFunc(list func(ctx context.Context, payload models.LoadPayload) ([]models.S3Object, error), inner *fakeScanner) *scannerOverride {
	return &scannerOverride{list: list, inner: inner}
}

func (s *scannerOverride) ListParquetFiles(ctx context.Context, payload models.LoadPayload) ([]models.S3Object, error) {
	return s.list(ctx, payload)
}

func (s *scannerOverride) FetchObject(ctx context.Context, bucket, key string) ([]byte, error) {
	return s.inner.FetchObject(ctx, bucket, key)
}
