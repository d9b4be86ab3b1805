package errors

import "errors"

var (
	ErrInvalidS3KeyFormat   = errors.New("invalid S3 key format")
	ErrInvalidDateFormat    = errors.New("invalid date format")
	ErrPrimaryKeyNotFound   = errors.New("no primary key defined on target table")
	ErrLockHeld             = errors.New("replication lock held by another run")
	ErrColumnCountMismatch  = errors.New("row width does not match column count")
	ErrBucketRequired       = errors.New("S3 bucket is required")
	ErrNoTablesConfigured   = errors.New("no tables configured for replication")
	ErrValidationFailed     = errors.New("source and target are out of sync")
	ErrCheckpointRegression = errors.New("checkpoint would move backwards")
)
