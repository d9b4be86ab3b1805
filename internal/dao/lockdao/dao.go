package lockdao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
)

const (
	lockSK       = "LOCK"
	lockTTLHours = 4 // Auto-expire locks after 4 hours
)

// TableName returns the replication lock table for an environment
func TableName(env string) string {
	return fmt.Sprintf("%s-dms-replicator-locks", env)
}

// PK represents the partition key: {Env}/{Schema}.{Table}
type PK string

// NewPK creates a partition key from env and the qualified table name
func NewPK(env, qualifiedTable string) PK {
	return PK(fmt.Sprintf("%s/%s", env, qualifiedTable))
}

// ParsePK parses a partition key into env and qualified table components
func ParsePK(pk PK) (env, qualifiedTable string, err error) {
	s := string(pk)
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid PK format: %s, expected {env}/{schema}.{table}", s)
	}
	return parts[0], parts[1], nil
}

// String returns the string representation
func (pk PK) String() string {
	return string(pk)
}

// ID represents a lock ID in format {env}/{schema}.{table}:LOCK
type ID string

// NewID creates an ID from env and the qualified table name
func NewID(env, qualifiedTable string) ID {
	pk := NewPK(env, qualifiedTable)
	return ID(fmt.Sprintf("%s:%s", pk, lockSK))
}

// ParseID parses an ID into env and qualified table components
func ParseID(id ID) (env, qualifiedTable string, err error) {
	s := string(id)
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] != lockSK {
		return "", "", fmt.Errorf("invalid ID format: %s, expected {env}/{schema}.{table}:LOCK", s)
	}
	return ParsePK(PK(parts[0]))
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// Record represents a replication lock held by one run for one table
type Record struct {
	PK         PK     `ddb:"hash" dynamodbav:"pk"`  // {Env}/{Schema}.{Table}
	SK         string `ddb:"range" dynamodbav:"sk"` // Always "LOCK"
	RunID      string `dynamodbav:"run_id"`         // KSUID of the run holding the lock
	AcquiredAt int64  `dynamodbav:"acquired_at"`    // Unix timestamp when lock was acquired
	TTL        int64  `dynamodbav:"ttl"`            // Unix timestamp for DynamoDB TTL expiry
}

// GetID returns the ID for this record
func (r *Record) GetID() ID {
	env, qualified, _ := ParsePK(r.PK)
	return NewID(env, qualified)
}

// AcquireInput contains fields for acquiring a replication lock
type AcquireInput struct {
	Env            string
	QualifiedTable string // {schema}.{table}
	RunID          string // Run KSUID
}

// ReleaseInput contains fields for releasing a replication lock
type ReleaseInput struct {
	ID    ID
	RunID string // Must match lock holder
}

// DAO provides data access operations for replication locks
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

// Acquire attempts to acquire a replication lock for a table.
// Returns the lock record if acquired, acquired=false if held by another run.
// Re-acquiring with the same run ID succeeds (retry scenario).
func (d *DAO) Acquire(ctx context.Context, input AcquireInput) (*Record, bool, error) {
	id := NewID(input.Env, input.QualifiedTable)

	existing, err := d.Find(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check existing lock: %w", err)
	}

	if existing != nil {
		if existing.RunID == input.RunID {
			return existing, true, nil
		}
		return nil, false, nil
	}

	now := time.Now().Unix()
	record := &Record{
		PK:         NewPK(input.Env, input.QualifiedTable),
		SK:         lockSK,
		RunID:      input.RunID,
		AcquiredAt: now,
		TTL:        now + (lockTTLHours * 3600),
	}

	if err := d.table.Put(record).RunWithContext(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to create lock: %w", err)
	}

	return record, true, nil
}

// Find retrieves a lock record by ID.
// Returns nil if not found
func (d *DAO) Find(ctx context.Context, id ID) (*Record, error) {
	env, qualified, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	pk := NewPK(env, qualified)
	var record Record

	err = d.table.Get(pk.String()).
		Range(lockSK).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "item not found") || strings.Contains(errStr, "ItemNotFound") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return nil, nil
	}

	return &record, nil
}

// Release releases a replication lock.
// Only succeeds if the lock is held by the specified run (no-op when absent)
func (d *DAO) Release(ctx context.Context, input ReleaseInput) error {
	env, qualified, err := ParseID(input.ID)
	if err != nil {
		return err
	}

	existing, err := d.Find(ctx, input.ID)
	if err != nil {
		return fmt.Errorf("failed to check lock: %w", err)
	}

	if existing == nil {
		// Already released or expired
		return nil
	}

	if existing.RunID != input.RunID {
		return fmt.Errorf("lock not held by run %s (held by %s)", input.RunID, existing.RunID)
	}

	pk := NewPK(env, qualified)
	if err := d.table.Delete(pk.String()).Range(lockSK).RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}

	return nil
}

// Delete removes a lock record regardless of holder.
// Use with caution - only for cleanup/recovery scenarios
func (d *DAO) Delete(ctx context.Context, id ID) error {
	env, qualified, err := ParseID(id)
	if err != nil {
		return err
	}

	pk := NewPK(env, qualified)
	if err := d.table.Delete(pk.String()).Range(lockSK).RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}

	return nil
}
