package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/cdcops/dms-replicator/internal/dao/checkpointdao"
	"github.com/cdcops/dms-replicator/internal/di"
	apperrors "github.com/cdcops/dms-replicator/internal/errors"
)

// parsedKey is one DMS export object, located by its S3 key.
type parsedKey struct {
	Database string
	Schema   string
	Table    string
	File     string
}

// Qualified returns the schema-qualified table name.
func (p parsedKey) Qualified() string {
	return fmt.Sprintf("%s.%s", p.Schema, p.Table)
}

// parseKey splits a DMS export key, relative to the configured prefix, into
// its components: {database}/{schema}/{table}/{year}/{month}/{day}/{file}.parquet
func parseKey(prefix, key string) (*parsedKey, error) {
	rel := key
	if prefix != "" {
		trimmed := strings.TrimPrefix(key, prefix+"/")
		if trimmed == key {
			return nil, fmt.Errorf("%w: %s is outside prefix %s", apperrors.ErrInvalidS3KeyFormat, key, prefix)
		}
		rel = trimmed
	}

	parts := strings.Split(rel, "/")
	if len(parts) != 7 {
		return nil, fmt.Errorf("%w: %s, expected format: {database}/{schema}/{table}/{year}/{month}/{day}/{file}.parquet",
			apperrors.ErrInvalidS3KeyFormat, key)
	}

	for _, datePart := range parts[3:6] {
		if _, err := strconv.Atoi(datePart); err != nil {
			return nil, fmt.Errorf("%w: %s, date segment %q is not numeric",
				apperrors.ErrInvalidDateFormat, key, datePart)
		}
	}

	return &parsedKey{
		Database: parts[0],
		Schema:   parts[1],
		Table:    parts[2],
		File:     parts[6],
	}, nil
}

type Handler struct {
	env           string
	prefix        string
	checkpointDAO *checkpointdao.DAO
}

func NewHandler(env, prefix string, checkpointDAO *checkpointdao.DAO) *Handler {
	return &Handler{
		env:           env,
		prefix:        prefix,
		checkpointDAO: checkpointDAO,
	}
}

func (h *Handler) HandleS3Event(ctx context.Context, event events.S3Event) error {
	logger := zerolog.Ctx(ctx)

	for i := range event.Records {
		if err := h.processS3Record(ctx, &event.Records[i]); err != nil {
			logger.Error().Err(err).Msg("Error processing S3 record")
			return err
		}
	}
	return nil
}

func (h *Handler) processS3Record(ctx context.Context, record *events.S3EventRecord) error {
	logger := zerolog.Ctx(ctx)
	key := record.S3.Object.Key

	// DMS also writes manifest and status objects; only Parquet matters here
	if !strings.HasSuffix(key, ".parquet") {
		return nil
	}

	parsed, err := parseKey(h.prefix, key)
	if err != nil {
		return err
	}

	if _, err := h.checkpointDAO.MarkPending(ctx, h.env, parsed.Qualified()); err != nil {
		return fmt.Errorf("failed to mark table pending: %w", err)
	}

	logger.Info().
		Str("database", parsed.Database).
		Str("table", parsed.Qualified()).
		Str("file", parsed.File).
		Msg("Marked table pending")
	return nil
}

func main() {
	logger := di.ProvideLogger().With().Str("lambda", "s3-trigger").Logger()

	env := os.Getenv("ENV")
	if env == "" {
		env = "dev"
	}
	prefix := os.Getenv("S3_PREFIX")

	container, err := di.New(env,
		di.WithProviders(
			di.ProvideCheckpointDAO,
		),
	)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create DI container")
		os.Exit(1)
	}

	checkpointDAO := di.MustGet[*checkpointdao.DAO](container)
	handler := NewHandler(env, prefix, checkpointDAO)

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		// Wrap handler to inject logger into context
		wrappedHandler := func(ctx context.Context, event events.S3Event) error {
			ctx = logger.WithContext(ctx)
			return handler.HandleS3Event(ctx, event)
		}
		lambda.Start(wrappedHandler)
		return
	}

	app := &cli.App{
		Name:  "s3-trigger",
		Usage: "Simulate a DMS S3 event to mark a table pending",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "bucket",
				Usage:    "S3 bucket name",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "key",
				Usage:    "S3 object key (e.g., data/appdb/public/users/2024/03/01/LOAD00000001.parquet)",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			event := events.S3Event{
				Records: []events.S3EventRecord{
					{
						S3: events.S3Entity{
							Bucket: events.S3Bucket{
								Name: c.String("bucket"),
							},
							Object: events.S3Object{
								Key: c.String("key"),
							},
						},
					},
				},
			}

			ctx := logger.WithContext(context.Background())
			return handler.HandleS3Event(ctx, event)
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
