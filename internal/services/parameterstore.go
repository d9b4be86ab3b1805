package services

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Config holds deployment-level settings for the replicator
type Config struct {
	S3Bucket          string // bucket DMS exports into
	S3Prefix          string // key prefix ahead of {database}/{schema}/{table}
	SourceDatabase    string // database name as it appears in the S3 layout
	TargetDatabaseURL string // postgres connection string
	Workers           int    // concurrent table pipelines
}

// ParameterStore defines the interface for accessing configuration parameters
type ParameterStore interface {
	// GetParameter retrieves a single parameter by name
	GetParameter(ctx context.Context, name string) (string, error)

	// GetConfig loads all replicator configuration from Parameter Store
	GetConfig(ctx context.Context) (*Config, error)
}

// SSMParameterStore implements ParameterStore using AWS Systems Manager Parameter Store
type SSMParameterStore struct {
	client *ssm.Client
	env    string
	mu     sync.RWMutex
	cache  map[string]string
}

// NewSSMParameterStore creates a new SSM-backed parameter store
func NewSSMParameterStore(client *ssm.Client, env string) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		env:    env,
		cache:  make(map[string]string),
	}
}

// GetParameter retrieves a single parameter from SSM Parameter Store
func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	// Check cache first
	s.mu.RLock()
	if value, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	// Fetch from SSM
	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s not found", name)
	}

	value := *result.Parameter.Value

	// Cache the value
	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

// GetConfig loads all replicator configuration from Parameter Store
func (s *SSMParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	path := fmt.Sprintf("/%s/dms-replicator", s.env)

	// Use GetParametersByPath for efficient batch retrieval
	result, err := s.client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
		Path:           &path,
		Recursive:      boolPtr(true),
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get parameters by path %s: %w", path, err)
	}

	params := make(map[string]string)
	for _, param := range result.Parameters {
		if param.Name != nil && param.Value != nil {
			params[*param.Name] = *param.Value
		}
	}

	// Cache all retrieved parameters
	s.mu.Lock()
	for k, v := range params {
		s.cache[k] = v
	}
	s.mu.Unlock()

	config := &Config{
		S3Bucket:          params[fmt.Sprintf("/%s/dms-replicator/s3-bucket", s.env)],
		S3Prefix:          params[fmt.Sprintf("/%s/dms-replicator/s3-prefix", s.env)],
		SourceDatabase:    params[fmt.Sprintf("/%s/dms-replicator/source-database", s.env)],
		TargetDatabaseURL: params[fmt.Sprintf("/%s/dms-replicator/target-database-url", s.env)],
		Workers:           parseWorkers(params[fmt.Sprintf("/%s/dms-replicator/workers", s.env)]),
	}

	return config, nil
}

// EnvParameterStore implements ParameterStore using environment variables
// This is a NoOp implementation for local development without AWS connection
type EnvParameterStore struct {
	env string
}

// NewEnvParameterStore creates a new environment variable-backed parameter store
func NewEnvParameterStore(env string) *EnvParameterStore {
	return &EnvParameterStore{
		env: env,
	}
}

// GetParameter retrieves a parameter from environment variables
func (e *EnvParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	return os.Getenv(name), nil
}

// GetConfig loads all replicator configuration from environment variables
func (e *EnvParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	config := &Config{
		S3Bucket:          os.Getenv("S3_BUCKET_NAME"),
		S3Prefix:          os.Getenv("S3_PREFIX"),
		SourceDatabase:    os.Getenv("SOURCE_DATABASE"),
		TargetDatabaseURL: os.Getenv("TARGET_DATABASE_URL"),
		Workers:           parseWorkers(os.Getenv("REPLICATOR_WORKERS")),
	}

	return config, nil
}

// parseWorkers applies the default worker count when unset or malformed
func parseWorkers(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 4
	}
	return n
}

func boolPtr(b bool) *bool {
	return &b
}
