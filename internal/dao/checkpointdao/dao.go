// Package checkpointdao tracks replication progress per table: the last
// applied S3 key and its modification time. The replicate command resumes
// from here, and the S3 trigger Lambda marks tables pending here.
package checkpointdao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"

	apperrors "github.com/cdcops/dms-replicator/internal/errors"
)

// TableName returns the checkpoint table for an environment
func TableName(env string) string {
	return fmt.Sprintf("%s-dms-replicator-checkpoints", env)
}

// PK represents the partition key: the environment name
type PK string

func NewPK(env string) PK {
	return PK(env)
}

func (pk PK) String() string {
	return string(pk)
}

// ID represents a checkpoint ID in format {env}:{schema}.{table}
type ID string

func NewID(env, qualifiedTable string) ID {
	return ID(fmt.Sprintf("%s:%s", env, qualifiedTable))
}

// ParseID parses an ID into env and qualified table components
func ParseID(id ID) (env, qualifiedTable string, err error) {
	parts := strings.SplitN(string(id), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid ID format: %s, expected {env}:{schema}.{table}", id)
	}
	return parts[0], parts[1], nil
}

func (id ID) String() string {
	return string(id)
}

// Record represents one table's replication checkpoint
type Record struct {
	PK           PK     `ddb:"hash" dynamodbav:"pk"`  // environment
	SK           string `ddb:"range" dynamodbav:"sk"` // {schema}.{table}
	LastKey      string `dynamodbav:"last_key"`       // last applied S3 key
	LastModified int64  `dynamodbav:"last_modified"`  // unix timestamp of last applied object
	RunID        string `dynamodbav:"run_id"`         // run that wrote the checkpoint
	Pending      bool   `dynamodbav:"pending"`        // new files arrived since last run
	UpdatedAt    int64  `dynamodbav:"updated_at"`
}

// GetID returns the ID for this record
func (r *Record) GetID() ID {
	return NewID(r.PK.String(), r.SK)
}

// LastModifiedTime returns the checkpoint position as a time.Time
func (r *Record) LastModifiedTime() time.Time {
	if r.LastModified == 0 {
		return time.Time{}
	}
	return time.Unix(r.LastModified, 0).UTC()
}

// PutInput contains fields for advancing a checkpoint
type PutInput struct {
	Env            string
	QualifiedTable string
	LastKey        string
	LastModified   time.Time
	RunID          string
}

// DAO provides data access operations for replication checkpoints
type DAO struct {
	db    *ddb.DDB
	table *ddb.Table
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		db:    db,
		table: table,
	}
}

// Put advances a table's checkpoint. Checkpoints are monotonic: writing a
// position older than the stored one fails with ErrCheckpointRegression.
func (d *DAO) Put(ctx context.Context, input PutInput) (*Record, error) {
	id := NewID(input.Env, input.QualifiedTable)

	existing, err := d.Find(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing checkpoint: %w", err)
	}
	if existing != nil && existing.LastModified > input.LastModified.Unix() {
		return nil, fmt.Errorf("%w: %s at %d, attempted %d",
			apperrors.ErrCheckpointRegression, id, existing.LastModified, input.LastModified.Unix())
	}

	record := &Record{
		PK:           NewPK(input.Env),
		SK:           input.QualifiedTable,
		LastKey:      input.LastKey,
		LastModified: input.LastModified.Unix(),
		RunID:        input.RunID,
		Pending:      false,
		UpdatedAt:    time.Now().Unix(),
	}

	if err := d.table.Put(record).RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to put checkpoint: %w", err)
	}

	return record, nil
}

// MarkPending flags a table as having unapplied files. The checkpoint
// position is preserved when a record already exists.
func (d *DAO) MarkPending(ctx context.Context, env, qualifiedTable string) (*Record, error) {
	id := NewID(env, qualifiedTable)

	record, err := d.Find(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing checkpoint: %w", err)
	}
	if record == nil {
		record = &Record{
			PK: NewPK(env),
			SK: qualifiedTable,
		}
	}
	record.Pending = true
	record.UpdatedAt = time.Now().Unix()

	if err := d.table.Put(record).RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to mark checkpoint pending: %w", err)
	}

	return record, nil
}

// Find retrieves a checkpoint record by ID.
// Returns nil if not found
func (d *DAO) Find(ctx context.Context, id ID) (*Record, error) {
	env, qualified, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	var record Record
	err = d.table.Get(env).
		Range(qualified).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return nil, nil
	}

	return &record, nil
}

// Query returns all checkpoints for an environment
func (d *DAO) Query(ctx context.Context, env string) ([]Record, error) {
	var records []Record
	err := d.table.Query("#PK = ?", env).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints for %s: %w", env, err)
	}
	return records, nil
}

// Delete removes a checkpoint record
func (d *DAO) Delete(ctx context.Context, id ID) error {
	env, qualified, err := ParseID(id)
	if err != nil {
		return err
	}

	if err := d.table.Delete(env).Range(qualified).RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
